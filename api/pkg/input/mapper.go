// Package input maps client-space pointer and keyboard events to the
// browser-space events dispatched over the debug channel.
package input

import (
	"math"

	"github.com/go-rod/rod/lib/proto"

	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/types"
)

// Modifier bit values in debug-channel order.
const (
	ModifierAlt   = 1
	ModifierCtrl  = 2
	ModifierMeta  = 4
	ModifierShift = 8
)

// MapCoordinate scales a client-viewport point into the browser viewport and
// clamps it to [0, w-1] x [0, h-1]. A non-positive source dimension yields
// (0, 0). The mapping is the identity when both viewports match.
func MapCoordinate(x, y float64, client, browser types.Viewport) (int, int) {
	if client.Width <= 0 || client.Height <= 0 {
		return 0, 0
	}
	bx := clamp(int(math.Round(x*float64(browser.Width)/float64(client.Width))), 0, browser.Width-1)
	by := clamp(int(math.Round(y*float64(browser.Height)/float64(client.Height))), 0, browser.Height-1)
	return bx, by
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ModifierBits packs a modifier set into the debug-channel bitmask.
func ModifierBits(m protocol.ModifierSet) int {
	bits := 0
	if m.Alt {
		bits |= ModifierAlt
	}
	if m.Ctrl {
		bits |= ModifierCtrl
	}
	if m.Meta {
		bits |= ModifierMeta
	}
	if m.Shift {
		bits |= ModifierShift
	}
	return bits
}

// ModifiersFromBits unpacks a debug-channel bitmask back into a modifier set.
func ModifiersFromBits(bits int) protocol.ModifierSet {
	return protocol.ModifierSet{
		Alt:   bits&ModifierAlt != 0,
		Ctrl:  bits&ModifierCtrl != 0,
		Meta:  bits&ModifierMeta != 0,
		Shift: bits&ModifierShift != 0,
	}
}

// MouseButton maps a wire button name to the debug-channel button. Anything
// other than left/middle/right becomes "none".
func MouseButton(name string) proto.InputMouseButton {
	switch name {
	case "left":
		return proto.InputMouseButtonLeft
	case "middle":
		return proto.InputMouseButtonMiddle
	case "right":
		return proto.InputMouseButtonRight
	default:
		return proto.InputMouseButtonNone
	}
}

// MouseEventType maps a wire mouse action to the debug-channel event type.
// Click and dblclick are decomposed by the dispatcher and have no single
// event type; they return an empty type.
func MouseEventType(action string) proto.InputDispatchMouseEventType {
	switch action {
	case protocol.MouseMove:
		return proto.InputDispatchMouseEventTypeMouseMoved
	case protocol.MouseDown:
		return proto.InputDispatchMouseEventTypeMousePressed
	case protocol.MouseUp:
		return proto.InputDispatchMouseEventTypeMouseReleased
	case protocol.MouseWheel:
		return proto.InputDispatchMouseEventTypeMouseWheel
	default:
		return ""
	}
}

// KeyEventType maps a wire key action to the debug-channel event type. The
// press action is decomposed (keyDown, optional char, keyUp) by the
// dispatcher.
func KeyEventType(action string) proto.InputDispatchKeyEventType {
	switch action {
	case protocol.KeyDown:
		return proto.InputDispatchKeyEventTypeKeyDown
	case protocol.KeyUp:
		return proto.InputDispatchKeyEventTypeKeyUp
	default:
		return ""
	}
}
