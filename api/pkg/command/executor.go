package command

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/periscopehq/periscope/api/pkg/input"
	"github.com/periscopehq/periscope/api/pkg/protocol"
)

// Executor runs one command against a page and returns its result payload.
type Executor interface {
	Execute(ctx context.Context, method string, params map[string]any) (any, error)
}

// knownMethods binds each queue verb to its implementation, so the accepted
// method set and the dispatch cannot drift apart. requestHumanIntervention
// is routed by the transport layer before it reaches the queue.
var knownMethods = map[string]func(e *PageExecutor, ctx context.Context, page *rod.Page, params map[string]any) (any, error){
	"navigate":        (*PageExecutor).navigate,
	"click":           (*PageExecutor).click,
	"dblclick":        (*PageExecutor).dblclick,
	"hover":           (*PageExecutor).hover,
	"type":            (*PageExecutor).typeText,
	"press":           (*PageExecutor).press,
	"fill":            (*PageExecutor).fill,
	"waitForSelector": (*PageExecutor).waitForSelector,
	"setViewport":     (*PageExecutor).setViewport,
	"evaluate":        (*PageExecutor).evaluate,
	"screenshot":      (*PageExecutor).screenshot,
	"goBack":          (*PageExecutor).goBack,
	"goForward":       (*PageExecutor).goForward,
	"reload":          (*PageExecutor).reload,
}

// PageExecutor implements Executor on a live page. All operations are
// expressed against the page's main document; selectors are whatever the
// engine's locator accepts.
type PageExecutor struct {
	page *rod.Page
}

func NewPageExecutor(page *rod.Page) *PageExecutor {
	return &PageExecutor{page: page}
}

func (e *PageExecutor) Execute(ctx context.Context, method string, params map[string]any) (any, error) {
	handler, ok := knownMethods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	return handler(e, ctx, e.page.Context(ctx), params)
}

func lifecycleEvent(params map[string]any) proto.PageLifecycleEventName {
	switch stringParamOr(params, "waitUntil", "domcontentloaded") {
	case "load":
		return proto.PageLifecycleEventNameLoad
	case "networkidle":
		return proto.PageLifecycleEventNameNetworkIdle
	default:
		return proto.PageLifecycleEventNameDOMContentLoaded
	}
}

func (e *PageExecutor) navigate(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	url, err := stringParam(params, "url")
	if err != nil {
		return nil, err
	}
	wait := page.WaitNavigation(lifecycleEvent(params))
	if err := page.Navigate(url); err != nil {
		return nil, err
	}
	wait()
	return map[string]any{"url": e.currentURL(page, url)}, nil
}

func (e *PageExecutor) click(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	return e.clickElement(page, params, 1)
}

func (e *PageExecutor) dblclick(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	return e.clickElement(page, params, 2)
}

func (e *PageExecutor) clickElement(page *rod.Page, params map[string]any, count int) (any, error) {
	selector, err := stringParam(params, "selector")
	if err != nil {
		return nil, err
	}
	el, err := page.Element(selector)
	if err != nil {
		return nil, err
	}
	if err := el.Click(proto.InputMouseButtonLeft, count); err != nil {
		return nil, err
	}
	if count == 2 {
		return map[string]any{"dblclicked": selector}, nil
	}
	return map[string]any{"clicked": selector}, nil
}

func (e *PageExecutor) hover(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	selector, err := stringParam(params, "selector")
	if err != nil {
		return nil, err
	}
	el, err := page.Element(selector)
	if err != nil {
		return nil, err
	}
	if err := el.Hover(); err != nil {
		return nil, err
	}
	return map[string]any{"hovered": selector}, nil
}

func (e *PageExecutor) typeText(ctx context.Context, page *rod.Page, params map[string]any) (any, error) {
	selector, err := stringParam(params, "selector")
	if err != nil {
		return nil, err
	}
	text, err := stringParam(params, "text")
	if err != nil {
		return nil, err
	}
	delay := time.Duration(intParamOr(params, "delay", 0)) * time.Millisecond

	el, err := page.Element(selector)
	if err != nil {
		return nil, err
	}
	if err := el.Focus(); err != nil {
		return nil, err
	}
	for _, r := range text {
		if err := (proto.InputInsertText{Text: string(r)}).Call(page); err != nil {
			return nil, err
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return map[string]any{"typed": text, "into": selector}, nil
}

func (e *PageExecutor) press(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	key, err := stringParam(params, "key")
	if err != nil {
		return nil, err
	}
	if selector := stringParamOr(params, "selector", ""); selector != "" {
		el, elErr := page.Element(selector)
		if elErr != nil {
			return nil, elErr
		}
		if err := el.Focus(); err != nil {
			return nil, err
		}
	}
	if err := pressKey(page, key); err != nil {
		return nil, err
	}
	return map[string]any{"pressed": key}, nil
}

func (e *PageExecutor) fill(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	selector, err := stringParam(params, "selector")
	if err != nil {
		return nil, err
	}
	value, err := stringParam(params, "value")
	if err != nil {
		return nil, err
	}
	el, err := page.Element(selector)
	if err != nil {
		return nil, err
	}
	// Clear the prior value before typing the new one.
	if err := el.SelectAllText(); err != nil {
		return nil, err
	}
	if err := el.Input(value); err != nil {
		return nil, err
	}
	return map[string]any{"filled": selector, "with": value}, nil
}

func (e *PageExecutor) waitForSelector(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	selector, err := stringParam(params, "selector")
	if err != nil {
		return nil, err
	}
	el, err := page.Element(selector)
	if err != nil {
		return nil, err
	}
	if stringParamOr(params, "state", "visible") == "visible" {
		if err := el.WaitVisible(); err != nil {
			return nil, err
		}
	}
	return map[string]any{"found": selector}, nil
}

func (e *PageExecutor) setViewport(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	width, err := intParam(params, "width")
	if err != nil {
		return nil, err
	}
	height, err := intParam(params, "height")
	if err != nil {
		return nil, err
	}
	dpr := floatParamOr(params, "deviceScaleFactor", 1.0)
	err = proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: dpr,
		Mobile:            false,
	}.Call(page)
	if err != nil {
		return nil, err
	}
	return map[string]any{"viewport": map[string]any{"width": width, "height": height}}, nil
}

func (e *PageExecutor) evaluate(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	expr, err := stringParam(params, "expression")
	if err != nil {
		return nil, err
	}
	res, evalErr := page.Eval(wrapExpression(expr))
	if evalErr != nil && strings.Contains(evalErr.Error(), "SyntaxError") {
		// Multi-statement expressions need a body wrapper instead.
		res, evalErr = page.Eval(fmt.Sprintf("() => { %s }", expr))
	}
	if evalErr != nil {
		return nil, evalErr
	}
	return map[string]any{"result": res.Value.Val()}, nil
}

// wrapExpression turns a bare expression into the function form the engine
// evaluates. Already-function-shaped input passes through.
func wrapExpression(expr string) string {
	trimmed := strings.TrimSpace(expr)
	if strings.HasPrefix(trimmed, "function") || strings.HasPrefix(trimmed, "(") || strings.HasPrefix(trimmed, "async ") {
		return trimmed
	}
	return fmt.Sprintf("() => (%s)", trimmed)
}

func (e *PageExecutor) screenshot(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	fullPage := boolParamOr(params, "fullPage", false)
	data, err := page.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: gson.Int(80),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"data":   base64.StdEncoding.EncodeToString(data),
		"format": "jpeg",
	}, nil
}

func (e *PageExecutor) goBack(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	return e.history(page, params, "goBack")
}

func (e *PageExecutor) goForward(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	return e.history(page, params, "goForward")
}

func (e *PageExecutor) reload(_ context.Context, page *rod.Page, params map[string]any) (any, error) {
	return e.history(page, params, "reload")
}

func (e *PageExecutor) history(page *rod.Page, params map[string]any, direction string) (any, error) {
	wait := page.WaitNavigation(lifecycleEvent(params))
	var err error
	switch direction {
	case "goBack":
		err = page.NavigateBack()
	case "goForward":
		err = page.NavigateForward()
	default:
		err = page.Reload()
	}
	if err != nil {
		return nil, err
	}
	wait()
	return map[string]any{"url": e.currentURL(page, "")}, nil
}

func (e *PageExecutor) currentURL(page *rod.Page, fallback string) string {
	info, err := page.Info()
	if err != nil || info == nil {
		return fallback
	}
	return info.URL
}

// pressKey dispatches keyDown, optional char and keyUp for one logical key.
func pressKey(page *rod.Page, key string) error {
	down := proto.InputDispatchKeyEvent{
		Type: proto.InputDispatchKeyEventTypeKeyDown,
		Key:  key,
	}
	up := proto.InputDispatchKeyEvent{
		Type: proto.InputDispatchKeyEventTypeKeyUp,
		Key:  key,
	}
	var text string
	if def, ok := input.KeyDefinitionFor(key); ok {
		down.Code, up.Code = def.Code, def.Code
		down.WindowsVirtualKeyCode, up.WindowsVirtualKeyCode = def.VKCode, def.VKCode
		down.NativeVirtualKeyCode, up.NativeVirtualKeyCode = def.VKCode, def.VKCode
		text = def.Text
	}
	if err := down.Call(page); err != nil {
		return err
	}
	if text != "" {
		if err := (proto.InputDispatchKeyEvent{
			Type: proto.InputDispatchKeyEventTypeChar,
			Text: text,
		}).Call(page); err != nil {
			return err
		}
	}
	return up.Call(page)
}

// Param extraction. Missing or mistyped required params produce
// INVALID_PARAMS directly rather than going through message classification.

func stringParam(params map[string]any, name string) (string, error) {
	v, ok := params[name]
	if !ok {
		return "", protocol.NewCommandError(protocol.ErrCodeInvalidParams, "missing required param: "+name)
	}
	s, ok := v.(string)
	if !ok {
		return "", protocol.NewCommandError(protocol.ErrCodeInvalidParams, "param must be a string: "+name)
	}
	return s, nil
}

func stringParamOr(params map[string]any, name, fallback string) string {
	if s, ok := params[name].(string); ok {
		return s
	}
	return fallback
}

func intParam(params map[string]any, name string) (int, error) {
	v, ok := params[name]
	if !ok {
		return 0, protocol.NewCommandError(protocol.ErrCodeInvalidParams, "missing required param: "+name)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, protocol.NewCommandError(protocol.ErrCodeInvalidParams, "param must be a number: "+name)
	}
}

func intParamOr(params map[string]any, name string, fallback int) int {
	if n, err := intParam(params, name); err == nil {
		return n
	}
	return fallback
}

func floatParamOr(params map[string]any, name string, fallback float64) float64 {
	switch n := params[name].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return fallback
	}
}

func boolParamOr(params map[string]any, name string, fallback bool) bool {
	if b, ok := params[name].(bool); ok {
		return b
	}
	return fallback
}
