package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscopehq/periscope/api/pkg/protocol"
)

func TestKnownMethods(t *testing.T) {
	for _, method := range []string{
		"navigate", "click", "dblclick", "hover", "type", "press", "fill",
		"waitForSelector", "setViewport", "evaluate", "screenshot",
		"goBack", "goForward", "reload",
	} {
		assert.Contains(t, knownMethods, method)
	}
	assert.NotContains(t, knownMethods, "requestHumanIntervention",
		"intervention commands never reach the queue executor")
	assert.NotContains(t, knownMethods, "teleport")
}

func TestExecute_UnknownMethodRejectedBeforePageUse(t *testing.T) {
	// The page is nil on purpose: an unknown verb must be rejected by the
	// handler lookup, never reach the engine.
	e := NewPageExecutor(nil)
	_, err := e.Execute(context.Background(), "teleport", nil)
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func TestWrapExpression(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want string
	}{
		{"bare expression", "document.title", "() => (document.title)"},
		{"arithmetic", "1 + 2", "() => (1 + 2)"},
		{"already arrow", "() => document.title", "() => document.title"},
		{"already function", "function() { return 1 }", "function() { return 1 }"},
		{"async function", "async () => fetch('/x')", "async () => fetch('/x')"},
		{"whitespace trimmed", "  document.title  ", "() => (document.title)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, wrapExpression(tt.expr))
		})
	}
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{
		"url":   "https://example.com",
		"count": float64(3), // JSON numbers decode as float64
		"ratio": 1.5,
		"full":  true,
	}

	s, err := stringParam(params, "url")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", s)

	_, err = stringParam(params, "missing")
	require.Error(t, err)
	var cmdErr *protocol.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, protocol.ErrCodeInvalidParams, cmdErr.Code)

	_, err = stringParam(params, "count")
	require.Error(t, err)

	n, err := intParam(params, "count")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = intParam(params, "url")
	require.Error(t, err)

	assert.Equal(t, 7, intParamOr(params, "missing", 7))
	assert.Equal(t, 3, intParamOr(params, "count", 7))
	assert.Equal(t, 1.5, floatParamOr(params, "ratio", 0))
	assert.Equal(t, 2.0, floatParamOr(params, "missing", 2.0))
	assert.True(t, boolParamOr(params, "full", false))
	assert.False(t, boolParamOr(params, "missing", false))
	assert.Equal(t, "x", stringParamOr(params, "missing", "x"))
}

func TestLifecycleEvent(t *testing.T) {
	assert.Equal(t, "DOMContentLoaded", string(lifecycleEvent(nil)))
	assert.Equal(t, "load", string(lifecycleEvent(map[string]any{"waitUntil": "load"})))
	assert.Equal(t, "networkIdle", string(lifecycleEvent(map[string]any{"waitUntil": "networkidle"})))
	assert.Equal(t, "DOMContentLoaded", string(lifecycleEvent(map[string]any{"waitUntil": "bogus"})))
}
