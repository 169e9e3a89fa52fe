package util

import (
	"fmt"
	"strings"
)

// maxErrorLength bounds error messages surfaced in status responses.
const maxErrorLength = 200

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// ErrorText returns a single-line, length-limited message for err.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength] + "..."
	}
	return msg
}
