package i2s

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
	ErrNotSupported    = errors.New("not supported")
	// ErrNotReady is returned by Read and Write on a stream that was
	// never configured.
	ErrNotReady = errors.New("stream not configured")
	// ErrFault is returned by Read and Write on a stream in the Error
	// state. Recover with the Prepare or Drop trigger.
	ErrFault      = errors.New("stream fault")
	ErrTimeout    = errors.New("timeout")
	ErrQueueFull  = errors.New("queue full")
	ErrQueueEmpty = errors.New("queue empty")
	ErrNoMemory   = errors.New("no free block")
)
