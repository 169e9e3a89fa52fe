package util

import (
	"io"
	"log/slog"
)

// SafeCloseFunc returns a func that closes c and logs a failure, for use with defer.
func SafeCloseFunc(c io.Closer, what string) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close", "what", what, "error", err)
		}
	}
}
