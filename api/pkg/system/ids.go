// Package system holds small cross-cutting helpers: id generation, URL
// building and JSON HTTP responses.
package system

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

const sessionIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateSessionID returns a short opaque session id. The alphabet excludes
// '/' and every other URL-significant character.
func GenerateSessionID() string {
	id, err := gonanoid.Generate(sessionIDAlphabet, 16)
	if err != nil {
		// gonanoid only fails when the platform RNG is broken.
		log.Error().Err(err).Msg("nanoid generation failed, falling back to uuid")
		return "ses_" + uuid.NewString()
	}
	return "ses_" + id
}

// GenerateClientID returns a unique id for one transport connection.
func GenerateClientID() string {
	return "cli_" + uuid.NewString()
}

// GenerateInterventionID returns a unique id for an intervention record.
func GenerateInterventionID() string {
	return "int_" + uuid.NewString()
}
