package frame

import "errors"

var (
	ErrCorruptFrame   = errors.New("corrupt frame")
	ErrLengthMismatch = errors.New("frame length mismatch")
)
