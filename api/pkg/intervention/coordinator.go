// Package intervention implements the human-intervention rendezvous: a
// command pauses, a human resolves the page state through the viewer, and
// the original caller gets its result only after the resolution.
package intervention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/system"
	"github.com/periscopehq/periscope/api/pkg/types"
)

// Intervention is one rendezvous between an automated caller and a human.
type Intervention struct {
	ID           string                   `json:"id"`
	SessionID    string                   `json:"sessionId"`
	CommandID    string                   `json:"commandId"`
	Reason       string                   `json:"reason,omitempty"`
	Instructions string                   `json:"instructions,omitempty"`
	Status       types.InterventionStatus `json:"status"`
	ViewerURL    string                   `json:"viewerUrl"`
	CreatedAt    time.Time                `json:"createdAt"`
	ResolvedAt   time.Time                `json:"resolvedAt,omitempty"`

	done chan struct{}
}

// Sender broadcasts a protocol envelope to every client of a session.
type Sender interface {
	SendToSession(sessionID string, message any)
}

// Coordinator tracks interventions across sessions. A session holds at most
// one pending intervention at a time.
type Coordinator struct {
	baseURL string
	sender  Sender

	mu        sync.Mutex
	byID      map[string]*Intervention
	bySession map[string]string
}

func NewCoordinator(baseURL string) *Coordinator {
	return &Coordinator{
		baseURL:   baseURL,
		byID:      make(map[string]*Intervention),
		bySession: make(map[string]string),
	}
}

// SetSender must be called before the first Create.
func (c *Coordinator) SetSender(sender Sender) {
	c.sender = sender
}

// Create opens an intervention for a command and announces it to the
// session's clients. A second pending intervention on the same session is
// rejected.
func (c *Coordinator) Create(sessionID, commandID, reason, instructions string) (*Intervention, error) {
	c.mu.Lock()
	if pendingID, ok := c.bySession[sessionID]; ok {
		c.mu.Unlock()
		return nil, protocol.NewCommandError(protocol.ErrCodeCommandFailed,
			fmt.Sprintf("session %s already has a pending intervention (%s)", sessionID, pendingID))
	}
	iv := &Intervention{
		ID:           system.GenerateInterventionID(),
		SessionID:    sessionID,
		CommandID:    commandID,
		Reason:       reason,
		Instructions: instructions,
		Status:       types.InterventionPending,
		CreatedAt:    time.Now(),
		done:         make(chan struct{}),
	}
	iv.ViewerURL = fmt.Sprintf("%s/sessions/%s/viewer?intervention=%s", c.baseURL, sessionID, iv.ID)
	c.byID[iv.ID] = iv
	c.bySession[sessionID] = iv.ID
	c.mu.Unlock()

	log.Info().
		Str("intervention_id", iv.ID).
		Str("session_id", sessionID).
		Str("command_id", commandID).
		Msg("intervention created")

	if c.sender != nil {
		c.sender.SendToSession(sessionID, &protocol.InterventionCreated{
			Type:           protocol.TypeInterventionCreated,
			ID:             commandID,
			InterventionID: iv.ID,
			ViewerURL:      iv.ViewerURL,
		})
	}
	return iv, nil
}

// Await blocks until the intervention resolves or the context ends, and
// returns its terminal status.
func (c *Coordinator) Await(ctx context.Context, id string) (types.InterventionStatus, error) {
	c.mu.Lock()
	iv, ok := c.byID[id]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("intervention %s not found", id)
	}
	select {
	case <-iv.done:
		c.mu.Lock()
		status := iv.Status
		c.mu.Unlock()
		return status, nil
	case <-ctx.Done():
		return types.InterventionPending, ctx.Err()
	}
}

// Complete marks the intervention resolved by a human and announces the
// resolution to the session's clients.
func (c *Coordinator) Complete(id string) error {
	return c.resolve(id, types.InterventionCompleted)
}

// Cancel resolves the intervention without human completion; the awaiting
// command fails with CANCELLED.
func (c *Coordinator) Cancel(id string) error {
	return c.resolve(id, types.InterventionCancelled)
}

func (c *Coordinator) resolve(id string, status types.InterventionStatus) error {
	c.mu.Lock()
	iv, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("intervention %s not found", id)
	}
	if iv.Status != types.InterventionPending {
		c.mu.Unlock()
		return fmt.Errorf("intervention %s is already %s", id, iv.Status)
	}
	iv.Status = status
	iv.ResolvedAt = time.Now()
	delete(c.bySession, iv.SessionID)
	c.mu.Unlock()

	log.Info().
		Str("intervention_id", id).
		Str("session_id", iv.SessionID).
		Str("status", string(status)).
		Msg("intervention resolved")

	// The completion envelope goes out before any waiter is released. The
	// per-client control channel is FIFO, so broadcasting first keeps
	// intervention_completed ahead of the withheld result.
	if status == types.InterventionCompleted && c.sender != nil {
		c.sender.SendToSession(iv.SessionID, &protocol.InterventionCompleted{
			Type:           protocol.TypeInterventionCompleted,
			ID:             iv.CommandID,
			InterventionID: iv.ID,
			ResolvedAt:     iv.ResolvedAt.UnixMilli(),
		})
	}
	close(iv.done)
	return nil
}

// CancelBySession cancels the session's pending intervention, if any.
// Invoked on session destruction so waiters never leak.
func (c *Coordinator) CancelBySession(sessionID string) {
	c.mu.Lock()
	id, ok := c.bySession[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.Cancel(id); err != nil {
		log.Debug().Err(err).Str("intervention_id", id).Msg("cancel by session failed")
	}
}

// Get returns one intervention by id.
func (c *Coordinator) Get(id string) (*Intervention, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	iv, ok := c.byID[id]
	return iv, ok
}

// ListPending returns every unresolved intervention.
func (c *Coordinator) ListPending() []*Intervention {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Intervention, 0)
	for _, iv := range c.byID {
		if iv.Status == types.InterventionPending {
			out = append(out, iv)
		}
	}
	return out
}

// CleanupOld drops resolved interventions older than maxAge and cancels
// pending ones nobody resolved within that window.
func (c *Coordinator) CleanupOld(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	var stale []string
	for id, iv := range c.byID {
		if !iv.CreatedAt.Before(cutoff) {
			continue
		}
		if iv.Status == types.InterventionPending {
			stale = append(stale, id)
			continue
		}
		delete(c.byID, id)
	}
	c.mu.Unlock()

	for _, id := range stale {
		log.Warn().Str("intervention_id", id).Msg("cancelling stale intervention")
		if err := c.Cancel(id); err != nil {
			log.Debug().Err(err).Str("intervention_id", id).Msg("stale cancel failed")
		}
	}
}
