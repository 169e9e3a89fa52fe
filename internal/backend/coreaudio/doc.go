// Package coreaudio captures the default output device on macOS through an
// AUHAL audio unit with input enabled. It requires cgo.
package coreaudio
