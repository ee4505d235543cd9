package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscopehq/periscope/api/pkg/protocol"
)

// fakeExecutor records execution order and lets each method be scripted.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	handlers map[string]func(ctx context.Context, params map[string]any) (any, error)
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{handlers: make(map[string]func(ctx context.Context, params map[string]any) (any, error))}
}

func (f *fakeExecutor) on(method string, fn func(ctx context.Context, params map[string]any) (any, error)) {
	f.handlers[method] = fn
}

func (f *fakeExecutor) Execute(ctx context.Context, method string, params map[string]any) (any, error) {
	f.mu.Lock()
	f.executed = append(f.executed, method)
	fn := f.handlers[method]
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	return fn(ctx, params)
}

func (f *fakeExecutor) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func waitOutcome(t *testing.T, p *Pending) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Wait(ctx)
}

func TestQueue_FIFO(t *testing.T) {
	exec := newFakeExecutor()
	started := make(chan struct{})
	release := make(chan struct{})
	exec.on("first", func(context.Context, map[string]any) (any, error) {
		close(started)
		<-release
		return "one", nil
	})
	exec.on("second", func(context.Context, map[string]any) (any, error) { return "two", nil })
	exec.on("third", func(context.Context, map[string]any) (any, error) { return "three", nil })

	q := NewQueue(exec, time.Second, nil)
	defer q.Close()

	p1 := q.Enqueue("first", nil)
	<-started
	p2 := q.Enqueue("second", nil)
	p3 := q.Enqueue("third", nil)
	close(release)

	require.Nil(t, waitOutcome(t, p1).Err)
	require.Nil(t, waitOutcome(t, p2).Err)
	require.Nil(t, waitOutcome(t, p3).Err)
	assert.Equal(t, []string{"first", "second", "third"}, exec.order())
}

func TestQueue_FailureDoesNotStallSuccessors(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("boom", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("selector resolved to nothing")
	})
	exec.on("ok", func(context.Context, map[string]any) (any, error) { return "fine", nil })

	q := NewQueue(exec, time.Second, nil)
	defer q.Close()

	bad := waitOutcome(t, q.Enqueue("boom", nil))
	require.NotNil(t, bad.Err)
	assert.Equal(t, protocol.ErrCodeSelectorError, bad.Err.Code)

	good := waitOutcome(t, q.Enqueue("ok", nil))
	require.Nil(t, good.Err)
	assert.Equal(t, "fine", good.Result)
}

func TestQueue_Timeout(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("slow", func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	q := NewQueue(exec, 20*time.Millisecond, nil)
	defer q.Close()

	out := waitOutcome(t, q.Enqueue("slow", nil))
	require.NotNil(t, out.Err)
	assert.Equal(t, protocol.ErrCodeTimeout, out.Err.Code)
}

func TestQueue_PerCommandTimeoutOverride(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("slow", func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	q := NewQueue(exec, time.Hour, nil)
	defer q.Close()

	out := waitOutcome(t, q.Enqueue("slow", map[string]any{"timeout": float64(20)}))
	require.NotNil(t, out.Err)
	assert.Equal(t, protocol.ErrCodeTimeout, out.Err.Code)
}

func TestQueue_UnknownMethod(t *testing.T) {
	q := NewQueue(newFakeExecutor(), time.Second, nil)
	defer q.Close()

	out := waitOutcome(t, q.Enqueue("teleport", nil))
	require.NotNil(t, out.Err)
	assert.Equal(t, protocol.ErrCodeUnknownMethod, out.Err.Code)
}

func TestQueue_ClearEvictsQueuedOnly(t *testing.T) {
	exec := newFakeExecutor()
	started := make(chan struct{})
	release := make(chan struct{})
	exec.on("running", func(context.Context, map[string]any) (any, error) {
		close(started)
		<-release
		return "done", nil
	})
	exec.on("queued", func(context.Context, map[string]any) (any, error) { return "never", nil })

	q := NewQueue(exec, time.Second, nil)
	defer q.Close()

	running := q.Enqueue("running", nil)
	<-started
	queued := q.Enqueue("queued", nil)

	q.Clear()
	close(release)

	out := waitOutcome(t, queued)
	require.NotNil(t, out.Err)
	assert.Equal(t, protocol.ErrCodeCancelled, out.Err.Code)

	// The in-flight command still completes normally.
	ranOut := waitOutcome(t, running)
	require.Nil(t, ranOut.Err)
	assert.Equal(t, "done", ranOut.Result)
	assert.Equal(t, []string{"running"}, exec.order())
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := NewQueue(newFakeExecutor(), time.Second, nil)
	q.Close()
	q.Close() // idempotent

	out := waitOutcome(t, q.Enqueue("anything", nil))
	require.NotNil(t, out.Err)
	assert.Equal(t, protocol.ErrCodeCancelled, out.Err.Code)
}

func TestQueue_PanicConfinedToCommand(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("panics", func(context.Context, map[string]any) (any, error) {
		panic("page torn down")
	})
	exec.on("ok", func(context.Context, map[string]any) (any, error) { return "alive", nil })

	q := NewQueue(exec, time.Second, nil)
	defer q.Close()

	out := waitOutcome(t, q.Enqueue("panics", nil))
	require.NotNil(t, out.Err)
	assert.Contains(t, out.Err.Message, "engine failure")

	good := waitOutcome(t, q.Enqueue("ok", nil))
	require.Nil(t, good.Err)
	assert.Equal(t, "alive", good.Result)
}

func TestDelays_OffModeDoesNotSleep(t *testing.T) {
	d := NewDelays(DelayOff)
	start := time.Now()
	for i := 0; i < 100; i++ {
		d.Before()
		d.After()
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestDelays_NilSafe(t *testing.T) {
	var d *Delays
	d.Before()
	d.After()
}

func TestDelays_NaturalModeSleeps(t *testing.T) {
	d := NewDelays(DelayNatural)
	start := time.Now()
	d.Before()
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}
