package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/types"
)

func newTestSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		state:        types.SessionStateReady,
		clients:      make(map[string]struct{}),
		viewport:     types.Viewport{Width: 1280, Height: 720, DevicePixelRatio: 1},
		createdAt:    now,
		lastActivity: now,
	}
}

func TestSession_StateTransitions(t *testing.T) {
	s := newTestSession("ses_a")
	assert.True(t, s.Ready())

	s.setState(types.SessionStateClosing)
	assert.False(t, s.Ready())
	assert.Equal(t, types.SessionStateClosing, s.State())
}

func TestSession_NotReadyError(t *testing.T) {
	s := newTestSession("ses_a")
	s.setState(types.SessionStateCreating)

	err := s.NotReadyError()
	require.NotNil(t, err)
	assert.Equal(t, protocol.ErrCodeCommandFailed, err.Code)
	assert.Contains(t, err.Message, "ses_a")
	assert.Contains(t, err.Message, "creating")
}

func TestSession_ClientTracking(t *testing.T) {
	s := newTestSession("ses_a")
	assert.Equal(t, 0, s.ClientCount())

	s.addClient("cli_1")
	s.addClient("cli_2")
	assert.Equal(t, 2, s.ClientCount())

	s.removeClient("cli_1")
	assert.Equal(t, 1, s.ClientCount())
	s.removeClient("cli_1") // already gone
	assert.Equal(t, 1, s.ClientCount())
}

func TestSession_TouchIsMonotonic(t *testing.T) {
	s := newTestSession("ses_a")
	first := s.LastActivity()
	time.Sleep(2 * time.Millisecond)
	s.Touch()
	second := s.LastActivity()
	assert.True(t, second.After(first))
}

func TestSession_LastFrame(t *testing.T) {
	s := newTestSession("ses_a")
	assert.Nil(t, s.LastFrame())

	s.storeFrame(types.Frame{Format: "jpeg", Data: []byte{1}, Timestamp: 1})
	s.storeFrame(types.Frame{Format: "jpeg", Data: []byte{2}, Timestamp: 2})

	f := s.LastFrame()
	require.NotNil(t, f)
	assert.Equal(t, []byte{2}, f.Data)
}

func TestSession_ViewportFallsBackWithoutChannel(t *testing.T) {
	s := newTestSession("ses_a")
	assert.Equal(t, 1280, s.Viewport().Width)

	s.setViewport(types.Viewport{Width: 800, Height: 600})
	assert.Equal(t, 800, s.Viewport().Width)
}

func TestEvictionBudget(t *testing.T) {
	tests := []struct {
		idle int
		want int
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 2},
		{4, 2},
		{5, 3},
		{6, 3},
		{7, 3},
		{100, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, evictionBudget(tt.idle), "idle=%d", tt.idle)
	}
}

func TestShouldCollect(t *testing.T) {
	const (
		maxLifetime = time.Hour
		idleTimeout = 5 * time.Minute
	)

	tests := []struct {
		name    string
		age     time.Duration
		idle    time.Duration
		clients int
		want    bool
	}{
		{"fresh with clients", time.Minute, time.Second, 2, false},
		{"fresh without clients", time.Minute, time.Second, 0, false},
		{"idle without clients", time.Minute, 6 * time.Minute, 0, true},
		{"idle but watched", time.Minute, 6 * time.Minute, 1, false},
		{"over lifetime with clients", 2 * time.Hour, time.Second, 3, true},
		{"over lifetime without clients", 2 * time.Hour, time.Second, 0, true},
		{"at boundary", time.Hour, 5 * time.Minute, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shouldCollect(tt.age, tt.idle, tt.clients, maxLifetime, idleTimeout)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldCollect_DisabledTimers(t *testing.T) {
	assert.False(t, shouldCollect(100*time.Hour, time.Second, 0, 0, time.Minute))
	assert.False(t, shouldCollect(time.Minute, 100*time.Hour, 0, time.Hour, 0))
}
