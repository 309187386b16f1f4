// Package defs holds the types shared across the kernel core: process and
// thread identifiers, the message and result tagged unions, the syscall
// request shape, and the small integer error codes every fallible entry
// point returns.
package defs

// Err_t is a kernel error code. The zero value, ErrNone, means success —
// the same convention the rest of the core's ambient error handling uses
// (a fallible call returns (value, Err_t) and checks against ErrNone).
type Err_t int

const (
	ErrNone Err_t = iota
	ErrServerNotFound
	ErrServerQueueFull
	ErrProcessNotFound
	ErrThreadNotAvailable
	ErrOutOfMemory
	ErrBadAddress
	ErrBadAlignment
	ErrInternal
	ErrUnhandledSyscall
)

func (e Err_t) String() string {
	switch e {
	case ErrNone:
		return "Ok"
	case ErrServerNotFound:
		return "ServerNotFound"
	case ErrServerQueueFull:
		return "ServerQueueFull"
	case ErrProcessNotFound:
		return "ProcessNotFound"
	case ErrThreadNotAvailable:
		return "ThreadNotAvailable"
	case ErrOutOfMemory:
		return "OutOfMemory"
	case ErrBadAddress:
		return "BadAddress"
	case ErrBadAlignment:
		return "BadAlignment"
	case ErrInternal:
		return "InternalError"
	case ErrUnhandledSyscall:
		return "UnhandledSyscall"
	default:
		return "UnknownErr"
	}
}

// Error lets Err_t satisfy the error interface so it can be returned
// through ordinary Go error-handling paths when convenient, without
// forcing every kernel-internal call site to wrap it.
func (e Err_t) Error() string { return e.String() }
