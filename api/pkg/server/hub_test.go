package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscopehq/periscope/api/pkg/types"
)

func TestHub_FramesDropWhenClientIsSlow(t *testing.T) {
	h := NewHub()
	c := h.register("ses_1")
	defer h.unregister(c)

	// Nobody drains the client; only frameBuffer frames stick.
	total := frameBuffer * 3
	for i := 0; i < total; i++ {
		h.PublishFrame("ses_1", types.Frame{Format: "jpeg", Data: []byte{byte(i)}})
	}
	assert.Len(t, c.frames, frameBuffer)

	// The retained frames are the newest; the stale backlog was evicted.
	first := <-c.frames
	var msg struct {
		Data []byte `json:"data"`
	}
	require.NoError(t, json.Unmarshal(first, &msg))
	assert.Equal(t, []byte{byte(total - frameBuffer)}, msg.Data)
}

func TestHub_ControlMessagesAreNotDropped(t *testing.T) {
	h := NewHub()
	c := h.register("ses_1")
	defer h.unregister(c)

	for i := 0; i < 10; i++ {
		h.PublishEvent("ses_1", "navigated", map[string]any{"seq": i})
	}
	assert.Len(t, c.control, 10)
}

func TestHub_ControlOverflowDisconnects(t *testing.T) {
	h := NewHub()
	c := h.register("ses_1")
	defer h.unregister(c)

	for i := 0; i < controlBuffer+1; i++ {
		h.PublishEvent("ses_1", "navigated", nil)
	}

	select {
	case <-c.closed:
	default:
		t.Fatal("overflowing client was not disconnected")
	}
}

func TestHub_FanOutReachesAllClients(t *testing.T) {
	h := NewHub()
	a := h.register("ses_1")
	b := h.register("ses_1")
	other := h.register("ses_2")
	defer h.unregister(a)
	defer h.unregister(b)
	defer h.unregister(other)

	h.PublishFrame("ses_1", types.Frame{Format: "jpeg"})
	assert.Len(t, a.frames, 1)
	assert.Len(t, b.frames, 1)
	assert.Len(t, other.frames, 0)
}

func TestHub_SessionClosedDisconnectsClients(t *testing.T) {
	h := NewHub()
	a := h.register("ses_1")
	b := h.register("ses_1")

	h.SessionClosed("ses_1")

	for _, c := range []*client{a, b} {
		select {
		case <-c.closed:
		default:
			t.Fatal("client still open after session close")
		}
	}

	// Publishing after close reaches nobody and does not panic.
	h.PublishFrame("ses_1", types.Frame{})
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	h := NewHub()
	c := h.register("ses_1")
	h.unregister(c)
	h.unregister(c)
}
