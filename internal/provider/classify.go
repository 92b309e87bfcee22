package provider

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	defaultPrivateMessage  = "stats are private for this API key"
	defaultNotFoundMessage = "user not found"
	defaultErrorMessage    = "provider request failed"

	// maxPlainTextMessage bounds how much of a non-JSON body is kept as
	// an error message.
	maxPlainTextMessage = 200
)

// privateMarkers are substrings that mark a 404 body as a privacy or
// authorization refusal rather than a genuinely unknown user.
var privateMarkers = []string{
	"private",
	"privacy",
	"authoriz",
	"permission",
	"forbidden",
}

// classify maps a completed HTTP exchange onto a Status plus a
// human-readable message. It never fails: malformed payloads degrade to
// default messages.
func classify(statusCode int, body []byte) (Status, string) {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusOK, ""
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return StatusPrivate, extractErrorMessage(body, defaultPrivateMessage)
	case statusCode == http.StatusNotFound:
		msg := extractErrorMessage(body, defaultNotFoundMessage)
		if looksPrivate(msg) {
			return StatusPrivate, msg
		}
		return StatusNotFound, msg
	default:
		return StatusError, extractErrorMessage(body, defaultErrorMessage)
	}
}

// extractErrorMessage pulls a human-readable error out of a JSON or
// plain-text payload, falling back to def when nothing usable is there.
func extractErrorMessage(body []byte, def string) string {
	if len(body) == 0 {
		return def
	}

	if gjson.ValidBytes(body) {
		for _, path := range []string{"error", "errors.0", "message", "data.error"} {
			if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
		return def
	}

	// Plain text: keep a trimmed, bounded prefix if it is printable.
	text := strings.TrimSpace(string(body))
	if text == "" || !utf8.ValidString(text) {
		return def
	}
	if len(text) > maxPlainTextMessage {
		text = text[:maxPlainTextMessage]
	}
	return text
}

func looksPrivate(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range privateMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
