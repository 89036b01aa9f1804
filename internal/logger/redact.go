package logger

import (
	"io"
	"regexp"
)

// RedactionMarker replaces any value that looks like credential material
// before a log line is written or displayed.
const RedactionMarker = "[REDACTED]"

var (
	// Values of JSON fields whose key names suggest credentials. Matches
	// both `"oauth_token":"..."` and `token=...` shapes.
	secretKeyRe = regexp.MustCompile(`(?i)("?[\w-]*(?:token|secret|password|oauth|api[_-]?key)[\w-]*"?\s*[:=]\s*)("[^"]*"|[^\s",}\]]+)`)

	// Bare values matching known secret-prefix shapes, wherever they appear.
	secretValueRe = regexp.MustCompile(`\b(?:sk-ant-[A-Za-z0-9_-]{8,}|sk-[A-Za-z0-9-]{20,}|ghp_[A-Za-z0-9]{20,})\b`)
)

// redactWriter masks secrets in every write before passing it downstream.
type redactWriter struct {
	out io.Writer
}

func newRedactWriter(out io.Writer) io.Writer {
	return &redactWriter{out: out}
}

func (w *redactWriter) Write(p []byte) (int, error) {
	redacted := Redact(p)
	if _, err := w.out.Write(redacted); err != nil {
		return 0, err
	}
	// Report the caller's length; the rewrite may have changed ours.
	return len(p), nil
}

// Redact replaces credential-looking fields and values in a log line with
// the redaction marker.
func Redact(line []byte) []byte {
	line = secretKeyRe.ReplaceAll(line, []byte(`${1}"`+RedactionMarker+`"`))
	line = secretValueRe.ReplaceAll(line, []byte(RedactionMarker))
	return line
}
