package system

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		useHTTPS bool
		host     string
		port     int
		want     string
	}{
		{"wildcard host becomes localhost", false, "0.0.0.0", 3000, "http://localhost:3000"},
		{"ipv6 wildcard becomes localhost", false, "::", 3000, "http://localhost:3000"},
		{"empty host becomes localhost", false, "", 8080, "http://localhost:8080"},
		{"explicit host kept", false, "browser.internal", 3000, "http://browser.internal:3000"},
		{"https scheme", true, "browser.internal", 443, "https://browser.internal:443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseURL(tt.useHTTPS, tt.host, tt.port))
		})
	}
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:3000", WSURL("http://localhost:3000"))
	assert.Equal(t, "wss://browser.internal:443", WSURL("https://browser.internal:443"))
	assert.Equal(t, "ftp://x", WSURL("ftp://x"))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NewHTTPError404("session not found: ses_x"), "SESSION_NOT_FOUND")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "session not found: ses_x", body["error"])
	assert.Equal(t, "SESSION_NOT_FOUND", body["code"])
}

func TestWriteError_PlainErrorIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, assert.AnError, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGenerateIDs(t *testing.T) {
	sid := GenerateSessionID()
	assert.Regexp(t, `^ses_[0-9a-z]{16}$`, sid)
	assert.NotEqual(t, sid, GenerateSessionID())

	assert.Regexp(t, `^cli_`, GenerateClientID())
	assert.Regexp(t, `^int_`, GenerateInterventionID())
}
