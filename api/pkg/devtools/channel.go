// Package devtools owns the remote-debugging channel of one page: the
// screencast lifecycle, frame acknowledgement and raw input dispatch.
package devtools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/periscopehq/periscope/api/pkg/input"
	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/types"
)

const dblClickGap = 50 * time.Millisecond

// FrameSink receives every captured frame, in capture order.
type FrameSink func(types.Frame)

// Channel drives one page's debug channel. All RPCs issued through it are
// serialized: one in-flight call at a time. Incoming screencast frames are
// processed on the channel's own delivery order.
type Channel struct {
	page    *rod.Page
	sink    FrameSink
	quality int
	nth     int

	rpcMu sync.Mutex

	mu       sync.Mutex
	viewport types.Viewport
	active   bool
	closed   bool
	cancel   context.CancelFunc
}

// NewChannel attaches to a page. The sink receives frames once the
// screencast starts.
func NewChannel(page *rod.Page, viewport types.Viewport, quality, everyNthFrame int, sink FrameSink) *Channel {
	if quality <= 0 {
		quality = 60
	}
	if everyNthFrame <= 0 {
		everyNthFrame = 1
	}
	return &Channel{
		page:     page,
		sink:     sink,
		quality:  quality,
		nth:      everyNthFrame,
		viewport: viewport,
	}
}

// Viewport returns the browser viewport as last reported by screencast
// metadata, or the initial viewport before the first frame.
func (c *Channel) Viewport() types.Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport
}

// call serializes a debug-channel RPC.
func (c *Channel) call(fn func() error) error {
	c.rpcMu.Lock()
	defer c.rpcMu.Unlock()
	return fn()
}

// StartScreencast begins frame capture. Failures are raised to the caller;
// a session without a screencast is not usable by viewers.
func (c *Channel) StartScreencast() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("debug channel is closed")
	}
	if c.active {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.active = true
	vp := c.viewport
	c.mu.Unlock()

	events := c.page.Context(ctx)
	go events.EachEvent(func(e *proto.PageScreencastFrame) {
		c.handleFrame(e)
	})()

	err := c.call(func() error {
		return proto.PageStartScreencast{
			Format:        proto.PageStartScreencastFormatJpeg,
			Quality:       gson.Int(c.quality),
			MaxWidth:      gson.Int(vp.Width),
			MaxHeight:     gson.Int(vp.Height),
			EveryNthFrame: gson.Int(c.nth),
		}.Call(c.page)
	})
	if err != nil {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("failed to start screencast: %w", err)
	}
	return nil
}

// RestartScreencast stops and starts the screencast with new maximum
// dimensions, keeping the active flag. Called after a viewport change.
func (c *Channel) RestartScreencast(width, height int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("debug channel is closed")
	}
	wasActive := c.active
	c.viewport.Width = width
	c.viewport.Height = height
	c.mu.Unlock()

	if !wasActive {
		return nil
	}
	_ = c.call(func() error {
		return proto.PageStopScreencast{}.Call(c.page)
	})
	return c.call(func() error {
		return proto.PageStartScreencast{
			Format:        proto.PageStartScreencastFormatJpeg,
			Quality:       gson.Int(c.quality),
			MaxWidth:      gson.Int(width),
			MaxHeight:     gson.Int(height),
			EveryNthFrame: gson.Int(c.nth),
		}.Call(c.page)
	})
}

// handleFrame converts one screencast event into a Frame, hands it to the
// sink and acknowledges it. Ack errors are swallowed: acknowledging an
// already-acked or stale frame id is harmless.
func (c *Channel) handleFrame(e *proto.PageScreencastFrame) {
	vp := c.Viewport()
	if e.Metadata != nil {
		vp = types.Viewport{
			Width:            int(e.Metadata.DeviceWidth),
			Height:           int(e.Metadata.DeviceHeight),
			DevicePixelRatio: e.Metadata.PageScaleFactor,
		}
		c.mu.Lock()
		c.viewport = vp
		c.mu.Unlock()
	}

	if c.sink != nil {
		c.sink(types.Frame{
			Format:    "jpeg",
			Data:      e.Data,
			Viewport:  vp,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	err := c.call(func() error {
		return proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(c.page)
	})
	if err != nil {
		log.Trace().Err(err).Int("frame", e.SessionID).Msg("screencast frame ack failed")
	}
}

// DispatchInput synthesizes the debug-channel events for one raw input
// message. Input is best-effort: RPC failures are logged and swallowed.
func (c *Channel) DispatchInput(in *protocol.Input) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	browser := c.viewport
	c.mu.Unlock()

	var err error
	switch in.Device {
	case protocol.DeviceMouse:
		err = c.dispatchMouse(in, browser)
	case protocol.DeviceKey:
		err = c.dispatchKey(in)
	}
	if err != nil {
		log.Debug().Err(err).
			Str("device", in.Device).
			Str("action", in.Action).
			Msg("input dispatch failed")
	}
}

func (c *Channel) dispatchMouse(in *protocol.Input, browser types.Viewport) error {
	client := browser
	if in.Viewport != nil {
		client = *in.Viewport
	}
	x, y := input.MapCoordinate(in.X, in.Y, client, browser)
	mods := input.ModifierBits(in.Modifiers)
	button := input.MouseButton(in.Button)

	press := input.MouseEventType(protocol.MouseDown)
	release := input.MouseEventType(protocol.MouseUp)

	switch in.Action {
	case protocol.MouseMove:
		return c.mouseEvent(input.MouseEventType(in.Action), x, y, button, mods, 0, 0, 0)
	case protocol.MouseDown, protocol.MouseUp:
		return c.mouseEvent(input.MouseEventType(in.Action), x, y, button, mods, 1, 0, 0)
	case protocol.MouseClick:
		if err := c.mouseEvent(press, x, y, button, mods, 1, 0, 0); err != nil {
			return err
		}
		return c.mouseEvent(release, x, y, button, mods, 1, 0, 0)
	case protocol.MouseDblClick:
		if err := c.mouseEvent(press, x, y, button, mods, 1, 0, 0); err != nil {
			return err
		}
		if err := c.mouseEvent(release, x, y, button, mods, 1, 0, 0); err != nil {
			return err
		}
		time.Sleep(dblClickGap)
		if err := c.mouseEvent(press, x, y, button, mods, 2, 0, 0); err != nil {
			return err
		}
		return c.mouseEvent(release, x, y, button, mods, 2, 0, 0)
	case protocol.MouseWheel:
		return c.mouseEvent(input.MouseEventType(in.Action), x, y, button, mods, 0, in.DeltaX, in.DeltaY)
	default:
		return nil
	}
}

func (c *Channel) mouseEvent(
	typ proto.InputDispatchMouseEventType,
	x, y int,
	button proto.InputMouseButton,
	modifiers, clickCount int,
	deltaX, deltaY float64,
) error {
	return c.call(func() error {
		return proto.InputDispatchMouseEvent{
			Type:       typ,
			X:          float64(x),
			Y:          float64(y),
			Button:     button,
			Modifiers:  modifiers,
			ClickCount: clickCount,
			DeltaX:     deltaX,
			DeltaY:     deltaY,
		}.Call(c.page)
	})
}

func (c *Channel) dispatchKey(in *protocol.Input) error {
	mods := input.ModifierBits(in.Modifiers)
	def, known := input.KeyDefinitionFor(in.Key)
	text := in.Text
	if text == "" && known {
		text = def.Text
	}

	switch in.Action {
	case protocol.KeyDown:
		return c.keyEvent(input.KeyEventType(in.Action), in.Key, def, known, text, mods)
	case protocol.KeyUp:
		return c.keyEvent(input.KeyEventType(in.Action), in.Key, def, known, "", mods)
	case protocol.KeyPress:
		if err := c.keyEvent(input.KeyEventType(protocol.KeyDown), in.Key, def, known, "", mods); err != nil {
			return err
		}
		if text != "" {
			if err := c.call(func() error {
				return proto.InputDispatchKeyEvent{
					Type: proto.InputDispatchKeyEventTypeChar,
					Text: text,
				}.Call(c.page)
			}); err != nil {
				return err
			}
		}
		return c.keyEvent(input.KeyEventType(protocol.KeyUp), in.Key, def, known, "", mods)
	default:
		return nil
	}
}

func (c *Channel) keyEvent(
	typ proto.InputDispatchKeyEventType,
	key string,
	def input.KeyDefinition,
	known bool,
	text string,
	modifiers int,
) error {
	ev := proto.InputDispatchKeyEvent{
		Type:      typ,
		Key:       key,
		Text:      text,
		Modifiers: modifiers,
	}
	if known {
		ev.Code = def.Code
		ev.WindowsVirtualKeyCode = def.VKCode
		ev.NativeVirtualKeyCode = def.VKCode
	}
	return c.call(func() error {
		return ev.Call(c.page)
	})
}

// Close stops the screencast and detaches from the page. Idempotent; stop
// errors are swallowed because the page may already be gone.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	wasActive := c.active
	c.active = false
	cancel := c.cancel
	c.mu.Unlock()

	if wasActive {
		_ = c.call(func() error {
			return proto.PageStopScreencast{}.Call(c.page)
		})
	}
	if cancel != nil {
		cancel()
	}
}
