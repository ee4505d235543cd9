package system

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// HTTPError carries a status code alongside the message so handlers can
// return one value and let the writer pick the right status.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func NewHTTPError404(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusNotFound, Message: message}
}

func NewHTTPError429(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusTooManyRequests, Message: message}
}

func NewHTTPError500(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusInternalServerError, Message: message}
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// WriteError writes a JSON error body {error, code?} with the status carried
// by the error, defaulting to 500.
func WriteError(w http.ResponseWriter, err error, code string) {
	status := http.StatusInternalServerError
	var httpErr *HTTPError
	if ok := asHTTPError(err, &httpErr); ok {
		status = httpErr.StatusCode
	}
	body := map[string]any{"error": err.Error()}
	if code != "" {
		body["code"] = code
	}
	WriteJSON(w, status, body)
}

func asHTTPError(err error, target **HTTPError) bool {
	he, ok := err.(*HTTPError)
	if ok {
		*target = he
	}
	return ok
}

// BaseURL composes the externally visible service URL from the configured
// scheme and listen address.
func BaseURL(useHTTPS bool, host string, port int) string {
	scheme := "http"
	if useHTTPS {
		scheme = "https"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// WSURL converts an http(s) URL into its ws(s) twin.
func WSURL(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss" + url[5:]
	}
	if strings.HasPrefix(url, "http://") {
		return "ws" + url[4:]
	}
	return url
}
