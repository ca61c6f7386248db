package engine

import "errors"

// Engine-specific sentinels, in the teacher's package-level errors.New(...)
// style (engine/engine.go:29-32).
var (
	ErrInvalidState = errors.New("invalid state transition")
)
