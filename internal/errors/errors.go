package errors

import (
	"errors"
	"fmt"
	"syscall"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
)

type ErrorCategory string

const (
	CategoryIO       ErrorCategory = "IO"       // File system issues
	CategoryProtocol ErrorCategory = "PROTOCOL" // Malformed input from a peer or a file
	CategoryData     ErrorCategory = "DATA"     // Checksum mismatch, unusable metadata
	CategoryUnknown  ErrorCategory = "UNKNOWN"  // Unclassified errors
)

// TorrentError represents an error that occurred while touching a torrent's
// data or metadata.
type TorrentError struct {
	Err       error         // Original error
	Category  ErrorCategory // General category
	Op        string        // Operation, e.g. "read", "write", "checkout"
	Retryable bool          // Whether retry is recommended
	Timestamp time.Time     // When the error occurred
	Resource  string        // What resource was being accessed
}

// Error implements the error interface
func (e *TorrentError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("[%s] %s: %v", e.Category, e.Resource, e.Err)
	}
	return fmt.Sprintf("[%s] %s %s: %v", e.Category, e.Op, e.Resource, e.Err)
}

// Unwrap provides the underlying cause for error unwrapping (compatible with errors.As)
func (e *TorrentError) Unwrap() error {
	return e.Err
}

// Common sentinel errors
var (
	ErrInvalidArgument = fmt.Errorf("invalid argument: %w", syscall.EINVAL)
	ErrNotFound        = fmt.Errorf("no such file or directory: %w", syscall.ENOENT)
)

// NewIOError creates an I/O related error. Transient conditions such as
// descriptor exhaustion or interrupted calls are marked retryable; the
// decision to retry stays with the caller.
func NewIOError(err error, op, resource string) *TorrentError {
	return &TorrentError{
		Err:       err,
		Category:  CategoryIO,
		Op:        op,
		Retryable: isTransient(err),
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewProtocolError creates an error for malformed input.
func NewProtocolError(err error, resource string) *TorrentError {
	return &TorrentError{
		Err:       err,
		Category:  CategoryProtocol,
		Retryable: false,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewDataError creates an error for data that arrived intact but failed
// validation. These are retryable: another peer may send good bytes.
func NewDataError(err error, resource string) *TorrentError {
	return &TorrentError{
		Err:       err,
		Category:  CategoryData,
		Retryable: true,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

func isTransient(err error) bool {
	switch Errno(err) {
	case syscall.EAGAIN, syscall.EINTR, syscall.EMFILE, syscall.ENFILE, syscall.EBUSY:
		return true
	default:
		return false
	}
}

// Errno extracts the platform error code from err, or 0 when err carries
// none. A nil error yields 0.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if As(err, &errno) {
		return errno
	}

	return 0
}

// Reason returns the short human readable reason for err, preferring the
// platform's strerror text when an errno is present.
func Reason(err error) string {
	if errno := Errno(err); errno != 0 {
		return errno.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsRetryable determines if an error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var torrentErr *TorrentError
	if As(err, &torrentErr) {
		return torrentErr.Retryable
	}

	return false
}

// IsIOError determines if the error is I/O related
func IsIOError(err error) bool {
	var torrentErr *TorrentError
	return As(err, &torrentErr) && torrentErr.Category == CategoryIO
}

// IsDataError determines if the error is a validation failure of received data
func IsDataError(err error) bool {
	var torrentErr *TorrentError
	return As(err, &torrentErr) && torrentErr.Category == CategoryData
}

// IsProtocolError determines if the error is caused by malformed input
func IsProtocolError(err error) bool {
	var torrentErr *TorrentError
	return As(err, &torrentErr) && torrentErr.Category == CategoryProtocol
}
