// Package miniaudio captures system audio through miniaudio: WASAPI
// loopback on Windows and a monitor source (such as a PulseAudio
// "Monitor of" device) elsewhere. It requires cgo.
package miniaudio
