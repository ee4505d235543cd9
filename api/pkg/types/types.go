// Package types holds the shared data model: viewports, frames, session
// lifecycle states and the descriptors returned by the REST surface.
package types

import (
	"time"
)

// Viewport is the logical rendering rectangle of a page, or the display
// rectangle of a remote viewer. Width and height are CSS pixels.
type Viewport struct {
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	DevicePixelRatio float64 `json:"dpr,omitempty"`
}

// Frame is one compressed screencast image. Data is the raw JPEG payload;
// JSON marshalling base64-encodes it for text transports. A frame is
// immutable once constructed and superseded by the next frame on the same
// session.
type Frame struct {
	Format    string   `json:"format"`
	Data      []byte   `json:"data"`
	Viewport  Viewport `json:"viewport"`
	Timestamp int64    `json:"timestamp"`
}

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	SessionStateCreating SessionState = "creating"
	SessionStateReady    SessionState = "ready"
	SessionStateClosing  SessionState = "closing"
	SessionStateClosed   SessionState = "closed"
)

// SessionDescriptor is the REST representation of a session.
type SessionDescriptor struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	WSURL        string    `json:"wsUrl"`
	StreamURL    string    `json:"streamUrl"`
	InputURL     string    `json:"inputUrl"`
	ViewerURL    string    `json:"viewerUrl"`
	Viewport     Viewport  `json:"viewport"`
	CreatedAt    time.Time `json:"createdAt"`
	ClientCount  int       `json:"clientCount"`
	LastActivity time.Time `json:"lastActivity"`
	URL          string    `json:"url,omitempty"`
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	Viewport   *Viewport `json:"viewport,omitempty"`
	Profile    string    `json:"profile,omitempty"`
	InitialURL string    `json:"initialUrl,omitempty"`
}

// InterventionStatus is the lifecycle status of a human intervention.
type InterventionStatus string

const (
	InterventionPending   InterventionStatus = "pending"
	InterventionCompleted InterventionStatus = "completed"
	InterventionCancelled InterventionStatus = "cancelled"
)
