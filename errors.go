package blkchan

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured channel error with context and errno mapping
type Error struct {
	Op     string        // Operation that failed (e.g., "SUBMIT", "READ", "WRITE")
	Unique uint64        // Request identifier (0 if not applicable)
	Code   ErrorCode     // High-level error category
	Errno  syscall.Errno // Errno equivalent (0 if not applicable)
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Unique != 0 {
		parts = append(parts, fmt.Sprintf("unique=%d", e.Unique))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("blkchan: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("blkchan: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches two structured errors by their code, so sentinel comparisons
// like errors.Is(err, ErrNotConnected) work regardless of op context
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeNotConnected   ErrorCode = "not connected"
	ErrCodeChannelDown    ErrorCode = "channel down"
	ErrCodeInterrupted    ErrorCode = "interrupted"
	ErrCodeWouldBlock     ErrorCode = "would block"
	ErrCodeInvalidMessage ErrorCode = "invalid message"
	ErrCodeNotFound       ErrorCode = "request not found"
	ErrCodeCopyFault      ErrorCode = "copy fault"
	ErrCodeAborted        ErrorCode = "connection aborted"
	ErrCodeIOError        ErrorCode = "I/O error"
	ErrCodeNotSupported   ErrorCode = "not supported"
)

// Sentinel errors for errors.Is comparisons
var (
	ErrNotConnected   = &Error{Code: ErrCodeNotConnected, Errno: syscall.ENOTCONN}
	ErrChannelDown    = &Error{Code: ErrCodeChannelDown, Errno: syscall.ENODEV}
	ErrInterrupted    = &Error{Code: ErrCodeInterrupted, Errno: syscall.EINTR}
	ErrWouldBlock     = &Error{Code: ErrCodeWouldBlock, Errno: syscall.EAGAIN}
	ErrInvalidMessage = &Error{Code: ErrCodeInvalidMessage, Errno: syscall.EINVAL}
	ErrNotFound       = &Error{Code: ErrCodeNotFound, Errno: syscall.ENOENT}
	ErrCopyFault      = &Error{Code: ErrCodeCopyFault, Errno: syscall.EFAULT}
	ErrAborted        = &Error{Code: ErrCodeAborted, Errno: syscall.ECONNABORTED}
)

// Completion status values carried on finalized requests
const (
	StatusOK           = int32(0)
	StatusIOError      = -int32(syscall.EIO)
	StatusAborted      = -int32(syscall.ECONNABORTED)
	StatusNotConnected = -int32(syscall.ENOTCONN)
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Code:  code,
		Errno: errnoForCode(code),
		Msg:   msg,
	}
}

// NewRequestError creates a new request-specific error
func NewRequestError(op string, unique uint64, code ErrorCode, msg string) *Error {
	return &Error{
		Op:     op,
		Unique: unique,
		Code:   code,
		Errno:  errnoForCode(code),
		Msg:    msg,
	}
}

// WrapError wraps an existing error with channel context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	if ce, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			Unique: ce.Unique,
			Code:   ce.Code,
			Errno:  ce.Errno,
			Msg:    ce.Msg,
			Inner:  ce.Inner,
		}
	}

	code := ErrCodeIOError
	if errno, ok := inner.(syscall.Errno); ok {
		code = mapErrnoToCode(errno)
		return &Error{
			Op:    op,
			Code:  code,
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// errnoForCode maps error codes to their errno equivalents
func errnoForCode(code ErrorCode) syscall.Errno {
	switch code {
	case ErrCodeNotConnected:
		return syscall.ENOTCONN
	case ErrCodeChannelDown:
		return syscall.ENODEV
	case ErrCodeInterrupted:
		return syscall.EINTR
	case ErrCodeWouldBlock:
		return syscall.EAGAIN
	case ErrCodeInvalidMessage:
		return syscall.EINVAL
	case ErrCodeNotFound:
		return syscall.ENOENT
	case ErrCodeCopyFault:
		return syscall.EFAULT
	case ErrCodeAborted:
		return syscall.ECONNABORTED
	case ErrCodeNotSupported:
		return syscall.EOPNOTSUPP
	case ErrCodeIOError:
		return syscall.EIO
	default:
		return 0
	}
}

// mapErrnoToCode maps an errno to a channel error code
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOTCONN:
		return ErrCodeNotConnected
	case syscall.ENODEV:
		return ErrCodeChannelDown
	case syscall.EINTR:
		return ErrCodeInterrupted
	case syscall.EAGAIN:
		return ErrCodeWouldBlock
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidMessage
	case syscall.ENOENT:
		return ErrCodeNotFound
	case syscall.EFAULT:
		return ErrCodeCopyFault
	case syscall.ECONNABORTED:
		return ErrCodeAborted
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeNotSupported
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Errno == errno
	}
	return false
}
