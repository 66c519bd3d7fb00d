package parse

import (
	"regexp"
	"strings"
)

// Terminal control sequences that must not survive into stored text:
// OSC (BEL or ST terminated), CSI with parameters and intermediates,
// bare Fe escapes, and the BEL byte itself.
var escapePattern = regexp.MustCompile(
	`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)` +
		`|\x1b\[[0-9;?]*[ -/]*[@-~]` +
		`|\x1b[@-_]` +
		`|\x07`,
)

// StripEscapes removes ANSI escape sequences from s.
func StripEscapes(s string) string {
	return escapePattern.ReplaceAllString(s, "")
}

// NormalizeNewlines rewrites CRLF pairs to LF and drops stray carriage
// returns, which shells emit freely on a tty.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}
