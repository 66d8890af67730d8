package model

import (
	"strings"
	"unicode/utf8"
)

// AppError is the diagnostic payload shared by every pipeline stage.
// It is what ends up on stderr when a run is aborted.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`

	URL     string `json:"url,omitempty"`
	Line    int    `json:"line,omitempty"`    // 1-based; 0 means "not set"
	Snippet string `json:"snippet,omitempty"` // cut to 200 bytes by TruncateSnippet
	Hint    string `json:"hint,omitempty"`
}

// TruncateSnippet flattens s onto one line and cuts it to at most max bytes
// without splitting a UTF-8 sequence.
func TruncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
