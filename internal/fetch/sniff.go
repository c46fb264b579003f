// SPDX-License-Identifier: MIT
package fetch

import (
	"bytes"
	"encoding/json"
	"strings"
)

// validBoxTypes are the box types a fragmented MP4 response may legally
// start with.
var validBoxTypes = map[string]struct{}{
	"ftyp": {},
	"styp": {},
	"moof": {},
	"mdat": {},
	"sidx": {},
	"free": {},
}

// looksLikeFragmentedMP4 reports whether the first eight bytes of body form
// a box header whose type is acceptable for a media segment. The box type
// occupies bytes four through seven, after the 32-bit size field.
func looksLikeFragmentedMP4(body []byte) bool {
	if len(body) < 8 {
		return false
	}
	_, ok := validBoxTypes[string(body[4:8])]
	return ok
}

// looksLikeJSON reports whether the body starts with a JSON value. The
// upstream transcoder returns placeholder JSON errors for segments it has
// not produced yet, sometimes under a media content type.
func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// jsonMessage extracts the message or error field from a JSON error body.
// The second return is false when the body is not JSON at all.
func jsonMessage(body []byte) (string, bool) {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}
	if payload.Message != "" {
		return payload.Message, true
	}
	if payload.Error != "" {
		return payload.Error, true
	}
	return strings.TrimSpace(truncate(string(body), 200)), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// isTextLike reports whether a content type indicates JSON or text rather
// than media.
func isTextLike(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "json") || strings.HasPrefix(ct, "text/")
}
