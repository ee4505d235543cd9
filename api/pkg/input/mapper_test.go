package input

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"

	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/types"
)

func TestMapCoordinate(t *testing.T) {
	browser := types.Viewport{Width: 1280, Height: 720}

	tests := []struct {
		name   string
		x, y   float64
		client types.Viewport
		wantX  int
		wantY  int
	}{
		{"identity origin", 0, 0, browser, 0, 0},
		{"identity max clamps to w-1 h-1", 1280, 720, browser, 1279, 719},
		{"identity interior", 640, 360, browser, 640, 360},
		{"upscale from half-size client", 320, 180, types.Viewport{Width: 640, Height: 360}, 640, 360},
		{"downscale from double-size client", 2560, 1440, types.Viewport{Width: 2560, Height: 1440}, 1279, 719},
		{"negative clamps to zero", -5, -100, browser, 0, 0},
		{"beyond client clamps to edge", 99999, 99999, browser, 1279, 719},
		{"zero client width", 100, 100, types.Viewport{Width: 0, Height: 360}, 0, 0},
		{"zero client height", 100, 100, types.Viewport{Width: 640, Height: 0}, 0, 0},
		{"rounding", 1, 1, types.Viewport{Width: 3, Height: 3}, 427, 240},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := MapCoordinate(tt.x, tt.y, tt.client, browser)
			assert.Equal(t, tt.wantX, x)
			assert.Equal(t, tt.wantY, y)
		})
	}
}

func TestModifierBits(t *testing.T) {
	tests := []struct {
		name string
		mods protocol.ModifierSet
		want int
	}{
		{"none", protocol.ModifierSet{}, 0},
		{"alt", protocol.ModifierSet{Alt: true}, 1},
		{"ctrl", protocol.ModifierSet{Ctrl: true}, 2},
		{"meta", protocol.ModifierSet{Meta: true}, 4},
		{"shift", protocol.ModifierSet{Shift: true}, 8},
		{"ctrl+shift", protocol.ModifierSet{Ctrl: true, Shift: true}, 10},
		{"all", protocol.ModifierSet{Alt: true, Ctrl: true, Meta: true, Shift: true}, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ModifierBits(tt.mods))
			assert.Equal(t, tt.mods, ModifiersFromBits(tt.want))
		})
	}
}

func TestMouseButton(t *testing.T) {
	assert.Equal(t, proto.InputMouseButtonLeft, MouseButton("left"))
	assert.Equal(t, proto.InputMouseButtonMiddle, MouseButton("middle"))
	assert.Equal(t, proto.InputMouseButtonRight, MouseButton("right"))
	assert.Equal(t, proto.InputMouseButtonNone, MouseButton(""))
	assert.Equal(t, proto.InputMouseButtonNone, MouseButton("x1"))
}

func TestMouseEventType(t *testing.T) {
	assert.Equal(t, proto.InputDispatchMouseEventTypeMouseMoved, MouseEventType(protocol.MouseMove))
	assert.Equal(t, proto.InputDispatchMouseEventTypeMousePressed, MouseEventType(protocol.MouseDown))
	assert.Equal(t, proto.InputDispatchMouseEventTypeMouseReleased, MouseEventType(protocol.MouseUp))
	assert.Equal(t, proto.InputDispatchMouseEventTypeMouseWheel, MouseEventType(protocol.MouseWheel))
	// Composite actions are decomposed by the dispatcher.
	assert.Empty(t, MouseEventType(protocol.MouseClick))
	assert.Empty(t, MouseEventType(protocol.MouseDblClick))
}

func TestKeyDefinitionFor(t *testing.T) {
	tests := []struct {
		key      string
		wantCode string
		wantVK   int
		wantText string
	}{
		{"Enter", "Enter", 13, "\r"},
		{"Backspace", "Backspace", 8, ""},
		{"Tab", "Tab", 9, ""},
		{"Escape", "Escape", 27, ""},
		{"ArrowLeft", "ArrowLeft", 37, ""},
		{"ArrowDown", "ArrowDown", 40, ""},
		{"F1", "F1", 112, ""},
		{"F12", "F12", 123, ""},
		{"Meta", "MetaLeft", 91, ""},
		{"a", "KeyA", 65, "a"},
		{"Z", "KeyZ", 90, "Z"},
		{"7", "Digit7", 55, "7"},
		{" ", "Space", 32, " "},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			def, ok := KeyDefinitionFor(tt.key)
			assert.True(t, ok)
			assert.Equal(t, tt.wantCode, def.Code)
			assert.Equal(t, tt.wantVK, def.VKCode)
			assert.Equal(t, tt.wantText, def.Text)
		})
	}

	_, ok := KeyDefinitionFor("NoSuchKey")
	assert.False(t, ok)
	_, ok = KeyDefinitionFor("ä")
	assert.False(t, ok)
}
