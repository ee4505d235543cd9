// Package command serializes high-level commands against one page: a FIFO
// queue with a single worker, per-command timeouts, failure classification
// and optional humanized inter-operation delays.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/periscopehq/periscope/api/pkg/protocol"
)

// Outcome is the terminal state of one command.
type Outcome struct {
	Result any
	Err    *protocol.CommandError
}

// Pending is the caller's handle on an enqueued command.
type Pending struct {
	Method string
	done   chan Outcome
}

// Wait blocks until the command resolves or the context ends.
func (p *Pending) Wait(ctx context.Context) Outcome {
	select {
	case out := <-p.done:
		return out
	case <-ctx.Done():
		return Outcome{Err: protocol.NewCommandError(protocol.ErrCodeTimeout, "timed out waiting for command result")}
	}
}

type job struct {
	method  string
	params  map[string]any
	timeout time.Duration
	pending *Pending
}

// Queue drains commands in FIFO order, one at a time. Serial per session,
// parallel across sessions.
type Queue struct {
	exec           Executor
	defaultTimeout time.Duration
	delays         *Delays

	mu     sync.Mutex
	queued []*job
	closed bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewQueue starts the worker immediately.
func NewQueue(exec Executor, defaultTimeout time.Duration, delays *Delays) *Queue {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	q := &Queue{
		exec:           exec,
		defaultTimeout: defaultTimeout,
		delays:         delays,
		wake:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Enqueue appends a command. The per-command timeout can be overridden with
// a "timeout" param in milliseconds.
func (q *Queue) Enqueue(method string, params map[string]any) *Pending {
	pending := &Pending{Method: method, done: make(chan Outcome, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		pending.done <- Outcome{Err: protocol.NewCommandError(protocol.ErrCodeCancelled, "command queue is closed")}
		return pending
	}
	timeout := q.defaultTimeout
	if ms := intParamOr(params, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	q.queued = append(q.queued, &job{
		method:  method,
		params:  params,
		timeout: timeout,
		pending: pending,
	})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return pending
}

// Clear evicts every queued-but-not-running command with CANCELLED. The
// running command finishes or times out on its own.
func (q *Queue) Clear() {
	q.mu.Lock()
	evicted := q.queued
	q.queued = nil
	q.mu.Unlock()

	for _, j := range evicted {
		j.pending.done <- Outcome{Err: protocol.NewCommandError(protocol.ErrCodeCancelled, "command evicted by queue clear")}
	}
}

// Close clears the queue and stops the worker. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Clear()
	close(q.stop)
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		j := q.pop()
		if j == nil {
			select {
			case <-q.wake:
				continue
			case <-q.stop:
				return
			}
		}
		q.run(j)
	}
}

func (q *Queue) pop() *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queued) == 0 {
		return nil
	}
	j := q.queued[0]
	q.queued = q.queued[1:]
	return j
}

func (q *Queue) run(j *job) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	q.delays.Before()
	result, err := q.executeSafe(ctx, j)
	q.delays.After()

	if err != nil {
		cmdErr := Classify(err)
		log.Debug().
			Str("method", j.method).
			Str("code", cmdErr.Code).
			Str("error", cmdErr.Message).
			Msg("command failed")
		j.pending.done <- Outcome{Err: cmdErr}
		return
	}
	j.pending.done <- Outcome{Result: result}
}

// executeSafe confines engine panics to the failing command. The engine
// bindings panic on a torn-down page; the queue must survive that.
func (q *Queue) executeSafe(ctx context.Context, j *job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine failure: %v", r)
		}
	}()
	return q.exec.Execute(ctx, j.method, j.params)
}
