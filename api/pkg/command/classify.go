package command

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/periscopehq/periscope/api/pkg/protocol"
)

// Sentinel errors recognized before message matching.
var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrCancelled     = errors.New("command cancelled")
)

// classifyRule matches an engine failure message to a stable wire code. The
// rules are ordered; the first match wins.
type classifyRule struct {
	code    string
	markers []string
}

var classifyRules = []classifyRule{
	{protocol.ErrCodeTimeout, []string{
		"timeout", "timed out", "exceeded", "waiting for", "strict mode violation",
	}},
	{protocol.ErrCodeNavigationError, []string{
		"navigation", "net::err", "invalid url", "cannot navigate",
		"chrome-error://", "goto",
	}},
	{protocol.ErrCodeSelectorError, []string{
		"selector", "locator", "element", "no node",
	}},
}

// A selector-flavored message carrying an explicit millisecond duration is
// really a timed-out locator call.
var msDurationRe = regexp.MustCompile(`\d+\s*ms`)

// Classify maps any command failure to a CommandError with a stable code.
// CommandErrors pass through unchanged so executors can emit precise codes
// (e.g. INVALID_PARAMS) directly.
func Classify(err error) *protocol.CommandError {
	var cmdErr *protocol.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr
	}
	if errors.Is(err, ErrUnknownMethod) {
		return protocol.NewCommandError(protocol.ErrCodeUnknownMethod, err.Error())
	}
	if errors.Is(err, ErrCancelled) {
		return protocol.NewCommandError(protocol.ErrCodeCancelled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.NewCommandError(protocol.ErrCodeTimeout, "command timed out")
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, marker := range rule.markers {
			if !strings.Contains(msg, marker) {
				continue
			}
			code := rule.code
			if code == protocol.ErrCodeSelectorError && msDurationRe.MatchString(msg) {
				code = protocol.ErrCodeTimeout
			}
			return protocol.NewCommandError(code, err.Error())
		}
	}
	return protocol.NewCommandError(protocol.ErrCodeExecutionError, err.Error())
}
