// Package protocol defines the tagged JSON messages exchanged with remote
// clients over both transports, and the parse/serialize boundary for them.
//
// Each message carries a fixed "type" field so the consumer always knows
// which fields will be present. Field sets are open to new optional fields
// but existing fields never change meaning.
package protocol

import (
	"github.com/periscopehq/periscope/api/pkg/types"
)

// Message type tags.
const (
	TypeCmd   = "cmd"
	TypeInput = "input"
	TypePing  = "ping"

	TypeFrame                 = "frame"
	TypeResult                = "result"
	TypeEvent                 = "event"
	TypePong                  = "pong"
	TypeInterventionCreated   = "intervention_created"
	TypeInterventionCompleted = "intervention_completed"
)

// Input devices and actions.
const (
	DeviceMouse = "mouse"
	DeviceKey   = "key"

	MouseMove     = "move"
	MouseDown     = "down"
	MouseUp       = "up"
	MouseClick    = "click"
	MouseDblClick = "dblclick"
	MouseWheel    = "wheel"

	KeyDown  = "down"
	KeyUp    = "up"
	KeyPress = "press"
)

// Event names emitted by the server.
const (
	EventReady     = "ready"
	EventNavigated = "navigated"
	EventConsole   = "console"
	EventError     = "error"
)

// ModifierSet is the set of keyboard modifiers attached to an input event.
type ModifierSet struct {
	Ctrl  bool `json:"ctrl,omitempty"`
	Shift bool `json:"shift,omitempty"`
	Alt   bool `json:"alt,omitempty"`
	Meta  bool `json:"meta,omitempty"`
}

// Command is a high-level remote command destined for a session's command
// queue. Unknown methods parse fine and are rejected by the executor, so
// the client always receives a normal result envelope.
type Command struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Input is a raw mouse or keyboard event. X/Y are in client-viewport space;
// Viewport, when present, is the client's display rectangle used for
// coordinate scaling.
type Input struct {
	Type      string          `json:"type"`
	Device    string          `json:"device"`
	Action    string          `json:"action"`
	X         float64         `json:"x,omitempty"`
	Y         float64         `json:"y,omitempty"`
	Button    string          `json:"button,omitempty"`
	DeltaX    float64         `json:"deltaX,omitempty"`
	DeltaY    float64         `json:"deltaY,omitempty"`
	Key       string          `json:"key,omitempty"`
	Text      string          `json:"text,omitempty"`
	Modifiers ModifierSet     `json:"modifiers,omitempty"`
	Viewport  *types.Viewport `json:"viewport,omitempty"`
}

// Ping is a client liveness probe; the server echoes T back in a Pong.
type Ping struct {
	Type string `json:"type"`
	T    int64  `json:"t"`
}

// Pong answers a Ping.
type Pong struct {
	Type string `json:"type"`
	T    int64  `json:"t"`
}

// FrameMessage carries one screencast frame to a client.
type FrameMessage struct {
	Type      string         `json:"type"`
	Format    string         `json:"format"`
	Data      []byte         `json:"data"`
	Viewport  types.Viewport `json:"viewport"`
	Timestamp int64          `json:"timestamp"`
}

// Result is the single envelope produced for every command.
type Result struct {
	Type   string        `json:"type"`
	ID     string        `json:"id"`
	OK     bool          `json:"ok"`
	Result any           `json:"result,omitempty"`
	Error  *CommandError `json:"error,omitempty"`
}

// Event is a server-initiated notification (ready, navigated, console, error).
type Event struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

// InterventionCreated tells the originating client that a human intervention
// has been opened for its command. The command's result envelope is withheld
// until the intervention resolves.
type InterventionCreated struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	InterventionID string `json:"interventionId"`
	ViewerURL      string `json:"viewerUrl"`
}

// InterventionCompleted brackets the eventual result of an intervention
// command; ResolvedAt is unix milliseconds.
type InterventionCompleted struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	InterventionID string `json:"interventionId"`
	ResolvedAt     int64  `json:"resolvedAt"`
}

// NewFrameMessage wraps a captured frame for the wire.
func NewFrameMessage(f types.Frame) *FrameMessage {
	return &FrameMessage{
		Type:      TypeFrame,
		Format:    f.Format,
		Data:      f.Data,
		Viewport:  f.Viewport,
		Timestamp: f.Timestamp,
	}
}

// NewResult builds a success envelope.
func NewResult(id string, result any) *Result {
	return &Result{Type: TypeResult, ID: id, OK: true, Result: result}
}

// NewErrorResult builds a failure envelope.
func NewErrorResult(id string, err *CommandError) *Result {
	return &Result{Type: TypeResult, ID: id, Error: err}
}

// NewEvent builds an event message.
func NewEvent(name string, data any) *Event {
	return &Event{Type: TypeEvent, Name: name, Data: data}
}
