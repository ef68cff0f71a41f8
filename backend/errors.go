// SPDX-License-Identifier: EPL-2.0

package backend

import "errors"

var (
	ErrNotConfigured     = errors.New("initial configuration not received")
	ErrAlreadyConfigured = errors.New("initial configuration already received")
	ErrInvalidConfig     = errors.New("invalid audio configuration")
	ErrUnknownMessage    = errors.New("unknown message type")
	ErrClosed            = errors.New("backend closed")
)

// OperationError is a failed load, seek or preload. Its message is what
// the host receives in an error result.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *OperationError) Unwrap() error { return e.Err }
