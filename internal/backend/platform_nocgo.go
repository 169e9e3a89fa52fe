//go:build !cgo

package backend

// Without cgo no hardware backend is compiled in.
const defaultBackend = ""
