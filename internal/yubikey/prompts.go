package yubikey

import (
	"regexp"
	"strconv"
	"strings"
)

// Prompt detection patterns for age, age-plugin-yubikey, and the device
// manager. Centralized here so every PTY operation behaves identically across
// platforms.

// IsPinPrompt reports whether output contains a PIN prompt in any of the
// formats the tools print.
func IsPinPrompt(output string) bool {
	return strings.Contains(output, "Enter PIN") ||
		strings.Contains(output, "PIN:") ||
		strings.Contains(output, "PIN for")
}

// IsTouchPrompt reports whether output asks for a touch confirmation.
// Windows age prints "waiting on yubikey plugin" instead of a touch message.
func IsTouchPrompt(output string) bool {
	return strings.Contains(output, "Please touch") ||
		strings.Contains(output, "Touch your") ||
		strings.Contains(output, "touch") ||
		strings.Contains(output, "waiting on")
}

// IsErrorOutput reports whether output contains an error indication from any
// of the external tools.
func IsErrorOutput(output string) bool {
	return strings.Contains(output, "error") ||
		strings.Contains(output, "failed") ||
		strings.Contains(output, "Error") ||
		strings.Contains(output, "Failed")
}

// attemptsPattern matches the attempts-remaining banner some firmware prints
// before a PIN prompt, e.g. "WARNING: 2 retries left" or "3 tries remaining".
var attemptsPattern = regexp.MustCompile(`(\d+)\s+(?:retries|retry|tries|attempts?)\s+(?:left|remaining)`)

// ParsePinAttempts extracts the attempts-remaining count from a banner.
// Returns -1 when no banner is present.
func ParsePinAttempts(output string) int {
	m := attemptsPattern.FindStringSubmatch(output)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// ansiPattern matches CSI and OSC escape sequences as emitted by Windows
// ConPTY and Unix terminals alike.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[()][A-Za-z0-9]|\x1b[=>]`)

// StripANSI removes terminal escape sequences and carriage returns from one
// raw chunk. Stripping is not length-preserving, so callers must strip each
// chunk and APPEND to their accumulator; re-stripping a previously stripped
// accumulator can truncate prefix content.
func StripANSI(chunk []byte) string {
	cleaned := ansiPattern.ReplaceAllString(string(chunk), "")
	return strings.ReplaceAll(cleaned, "\r", "")
}
