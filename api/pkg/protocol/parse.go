package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ParseError reports a structurally invalid message: missing required
// fields, wrong scalar types, or unknown enum values for device/action.
// Unknown command methods are NOT a parse error.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid message: %s (%s)", e.Reason, e.Field)
}

func parseErr(field, reason string) error {
	return &ParseError{Field: field, Reason: reason}
}

var validMouseActions = map[string]bool{
	MouseMove:     true,
	MouseDown:     true,
	MouseUp:       true,
	MouseClick:    true,
	MouseDblClick: true,
	MouseWheel:    true,
}

var validKeyActions = map[string]bool{
	KeyDown:  true,
	KeyUp:    true,
	KeyPress: true,
}

// ParseClient parses one client-to-server message. The returned value is a
// *Command, *Input or *Ping.
func ParseClient(data []byte) (any, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, parseErr("type", "not a JSON object")
	}

	switch probe.Type {
	case TypeCmd:
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, parseErr("cmd", err.Error())
		}
		if cmd.ID == "" {
			return nil, parseErr("id", "missing required field")
		}
		if cmd.Method == "" {
			return nil, parseErr("method", "missing required field")
		}
		return &cmd, nil

	case TypeInput:
		var in Input
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, parseErr("input", err.Error())
		}
		switch in.Device {
		case DeviceMouse:
			if !validMouseActions[in.Action] {
				return nil, parseErr("action", "unknown mouse action "+in.Action)
			}
		case DeviceKey:
			if !validKeyActions[in.Action] {
				return nil, parseErr("action", "unknown key action "+in.Action)
			}
		default:
			return nil, parseErr("device", "unknown device "+in.Device)
		}
		return &in, nil

	case TypePing:
		var ping Ping
		if err := json.Unmarshal(data, &ping); err != nil {
			return nil, parseErr("ping", err.Error())
		}
		return &ping, nil

	case "":
		return nil, parseErr("type", "missing required field")
	default:
		return nil, parseErr("type", "unknown message type "+probe.Type)
	}
}

// ParseServer parses one server-to-client message. Used by tests and by
// clients of the wire protocol; the server itself only serializes these.
func ParseServer(data []byte) (any, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, parseErr("type", "not a JSON object")
	}

	var msg any
	switch probe.Type {
	case TypeFrame:
		msg = &FrameMessage{}
	case TypeResult:
		msg = &Result{}
	case TypeEvent:
		msg = &Event{}
	case TypePong:
		msg = &Pong{}
	case TypeInterventionCreated:
		msg = &InterventionCreated{}
	case TypeInterventionCompleted:
		msg = &InterventionCompleted{}
	case "":
		return nil, parseErr("type", "missing required field")
	default:
		return nil, parseErr("type", "unknown message type "+probe.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, parseErr(probe.Type, err.Error())
	}
	return msg, nil
}

// Serialize renders any protocol message as a single JSON text frame. It is
// total: values that cannot be marshalled are replaced by an error event so
// the caller always gets a frame to send.
func Serialize(msg any) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to serialize protocol message")
		fallback, _ := json.Marshal(NewEvent(EventError, map[string]any{
			"code":    ErrCodeExecutionError,
			"message": "unserializable server message",
		}))
		return fallback
	}
	return data
}
