package intervention

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/types"
)

// recordingSender captures broadcast envelopes per session.
type recordingSender struct {
	mu   sync.Mutex
	sent []any
}

func (r *recordingSender) SendToSession(_ string, message any) {
	r.mu.Lock()
	r.sent = append(r.sent, message)
	r.mu.Unlock()
}

func (r *recordingSender) messages() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.sent...)
}

func newTestCoordinator() (*Coordinator, *recordingSender) {
	c := NewCoordinator("http://localhost:3000")
	sender := &recordingSender{}
	c.SetSender(sender)
	return c, sender
}

func TestCoordinator_CreateAnnounces(t *testing.T) {
	c, sender := newTestCoordinator()

	iv, err := c.Create("ses_1", "cmd_1", "captcha", "please solve the captcha")
	require.NoError(t, err)
	assert.Equal(t, types.InterventionPending, iv.Status)
	assert.Equal(t, "ses_1", iv.SessionID)
	assert.Contains(t, iv.ViewerURL, "/sessions/ses_1/viewer?intervention="+iv.ID)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	created, ok := msgs[0].(*protocol.InterventionCreated)
	require.True(t, ok)
	assert.Equal(t, "cmd_1", created.ID)
	assert.Equal(t, iv.ID, created.InterventionID)
	assert.Equal(t, iv.ViewerURL, created.ViewerURL)
}

func TestCoordinator_SecondPendingOnSameSessionRejected(t *testing.T) {
	c, _ := newTestCoordinator()

	first, err := c.Create("ses_1", "cmd_1", "", "")
	require.NoError(t, err)

	_, err = c.Create("ses_1", "cmd_2", "", "")
	require.Error(t, err)

	// A different session is unaffected.
	_, err = c.Create("ses_2", "cmd_3", "", "")
	require.NoError(t, err)

	// Resolving frees the slot.
	require.NoError(t, c.Complete(first.ID))
	_, err = c.Create("ses_1", "cmd_4", "", "")
	require.NoError(t, err)
}

func TestCoordinator_CompleteUnblocksAwait(t *testing.T) {
	c, sender := newTestCoordinator()
	iv, err := c.Create("ses_1", "cmd_1", "", "")
	require.NoError(t, err)

	done := make(chan types.InterventionStatus, 1)
	go func() {
		status, _ := c.Await(context.Background(), iv.ID)
		done <- status
	}()

	require.NoError(t, c.Complete(iv.ID))

	select {
	case status := <-done:
		assert.Equal(t, types.InterventionCompleted, status)
	case <-time.After(time.Second):
		t.Fatal("await did not unblock")
	}

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	completed, ok := msgs[1].(*protocol.InterventionCompleted)
	require.True(t, ok)
	assert.Equal(t, "cmd_1", completed.ID)
	assert.NotZero(t, completed.ResolvedAt)
}

// laggingSender delays every broadcast, exposing any path that releases a
// waiter before the completion envelope is handed to the fan-out.
type laggingSender struct {
	recordingSender
	delay time.Duration
}

func (l *laggingSender) SendToSession(sessionID string, message any) {
	time.Sleep(l.delay)
	l.recordingSender.SendToSession(sessionID, message)
}

func TestCoordinator_CompletedBroadcastPrecedesAwaitReturn(t *testing.T) {
	c := NewCoordinator("http://localhost:3000")
	sender := &laggingSender{delay: 20 * time.Millisecond}
	c.SetSender(sender)

	iv, err := c.Create("ses_1", "cmd_1", "", "")
	require.NoError(t, err)

	type outcome struct {
		status types.InterventionStatus
		sent   int
	}
	done := make(chan outcome, 1)
	go func() {
		status, _ := c.Await(context.Background(), iv.ID)
		done <- outcome{status: status, sent: len(sender.messages())}
	}()

	require.NoError(t, c.Complete(iv.ID))

	select {
	case got := <-done:
		assert.Equal(t, types.InterventionCompleted, got.status)
		// By the time the waiter wakes, both the creation and the completion
		// envelopes must already be with the fan-out: the waiter's result
		// envelope queues behind them on the FIFO control channel.
		assert.Equal(t, 2, got.sent,
			"waiter released before intervention_completed was broadcast")
	case <-time.After(time.Second):
		t.Fatal("await did not unblock")
	}
}

func TestCoordinator_CancelDoesNotAnnounceCompletion(t *testing.T) {
	c, sender := newTestCoordinator()
	iv, err := c.Create("ses_1", "cmd_1", "", "")
	require.NoError(t, err)

	require.NoError(t, c.Cancel(iv.ID))

	status, err := c.Await(context.Background(), iv.ID)
	require.NoError(t, err)
	assert.Equal(t, types.InterventionCancelled, status)

	// Only the creation envelope went out.
	assert.Len(t, sender.messages(), 1)
}

func TestCoordinator_ResolveTwiceFails(t *testing.T) {
	c, _ := newTestCoordinator()
	iv, err := c.Create("ses_1", "cmd_1", "", "")
	require.NoError(t, err)

	require.NoError(t, c.Complete(iv.ID))
	assert.Error(t, c.Complete(iv.ID))
	assert.Error(t, c.Cancel(iv.ID))
}

func TestCoordinator_CancelBySession(t *testing.T) {
	c, _ := newTestCoordinator()
	iv, err := c.Create("ses_1", "cmd_1", "", "")
	require.NoError(t, err)

	c.CancelBySession("ses_1")
	c.CancelBySession("ses_1") // nothing pending, no-op
	c.CancelBySession("ses_other")

	got, ok := c.Get(iv.ID)
	require.True(t, ok)
	assert.Equal(t, types.InterventionCancelled, got.Status)
}

func TestCoordinator_AwaitContextCancellation(t *testing.T) {
	c, _ := newTestCoordinator()
	iv, err := c.Create("ses_1", "cmd_1", "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	status, err := c.Await(ctx, iv.ID)
	require.Error(t, err)
	assert.Equal(t, types.InterventionPending, status)
}

func TestCoordinator_ListPending(t *testing.T) {
	c, _ := newTestCoordinator()
	assert.Empty(t, c.ListPending())

	a, _ := c.Create("ses_1", "cmd_1", "", "")
	b, _ := c.Create("ses_2", "cmd_2", "", "")
	assert.Len(t, c.ListPending(), 2)

	require.NoError(t, c.Complete(a.ID))
	pending := c.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
}

func TestCoordinator_CleanupOld(t *testing.T) {
	c, _ := newTestCoordinator()

	resolved, _ := c.Create("ses_1", "cmd_1", "", "")
	require.NoError(t, c.Complete(resolved.ID))
	stale, _ := c.Create("ses_2", "cmd_2", "", "")

	// Backdate both past the cutoff.
	c.mu.Lock()
	for _, iv := range c.byID {
		iv.CreatedAt = time.Now().Add(-2 * time.Hour)
	}
	c.mu.Unlock()

	fresh, _ := c.Create("ses_3", "cmd_3", "", "")

	c.CleanupOld(time.Hour)

	_, ok := c.Get(resolved.ID)
	assert.False(t, ok, "resolved intervention should be dropped")

	got, ok := c.Get(stale.ID)
	require.True(t, ok)
	assert.Equal(t, types.InterventionCancelled, got.Status)

	got, ok = c.Get(fresh.ID)
	require.True(t, ok)
	assert.Equal(t, types.InterventionPending, got.Status)
}
