package utils

import (
	"io"
	"strings"
)

// DrainAndClose closes the given ReadCloser.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	// Drain to let the transport reuse the connection.
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}

// BodySnippet reads at most limit bytes of an error response for logging, then drains and
// closes the body.
func BodySnippet(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(rc, limit))
	_ = DrainAndClose(rc)
	return strings.TrimSpace(string(b))
}
