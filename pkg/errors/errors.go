// Package errors implements the AudioFS error taxonomy:
// SourceUnavailable, DriverFailure, CacheIoFailure, Budget, Cancelled,
// NotFound, and NotPermitted. Source, driver, cache, cancellation and
// validation failures each get their own error struct embedding
// baseError, so callers can recover structured context (fingerprint,
// path, exit code,...) via errors.As while still treating every AudioFS
// error as a plain error for propagation. Budget failures are
// CacheErrors with ErrorCodeDiskFull; NotFound and NotPermitted have no
// struct of their own.
//
// The filesystem adapter is the one place these types get collapsed into
// POSIX errno values; see ToErrno.
package errors

import (
	stdErrors "errors"
	"os"
	"syscall"
)

// IsValidationError checks if err is a ValidationError or wraps one.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return stdErrors.As(err, &ve)
}

// IsCacheError checks if err is a CacheError or wraps one.
func IsCacheError(err error) bool {
	var ce *CacheError
	return stdErrors.As(err, &ce)
}

// IsSourceError checks if err is a SourceError or wraps one.
func IsSourceError(err error) bool {
	var se *SourceError
	return stdErrors.As(err, &se)
}

// IsDriverError checks if err is a DriverError or wraps one.
func IsDriverError(err error) bool {
	var de *DriverError
	return stdErrors.As(err, &de)
}

// IsCancelledError checks if err is a CancelledError or wraps one.
func IsCancelledError(err error) bool {
	var ce *CancelledError
	return stdErrors.As(err, &ce)
}

// AsValidationError extracts a ValidationError from an error chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stdErrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AsCacheError extracts a CacheError from an error chain.
func AsCacheError(err error) (*CacheError, bool) {
	var ce *CacheError
	if stdErrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AsSourceError extracts a SourceError from an error chain.
func AsSourceError(err error) (*SourceError, bool) {
	var se *SourceError
	if stdErrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsDriverError extracts a DriverError from an error chain.
func AsDriverError(err error) (*DriverError, bool) {
	var de *DriverError
	if stdErrors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from any error that supports it,
// or returns ErrorCodeInternal for errors that don't.
func GetErrorCode(err error) ErrorCode {
	if ve, ok := AsValidationError(err); ok {
		return ve.Code()
	}
	if ce, ok := AsCacheError(err); ok {
		return ce.Code()
	}
	if se, ok := AsSourceError(err); ok {
		return se.Code()
	}
	if de, ok := AsDriverError(err); ok {
		return de.Code()
	}
	if IsCancelledError(err) {
		return ErrorCodeCancelled
	}
	return ErrorCodeInternal
}

// GetErrorDetails extracts structured details from any error that
// supports them, returning an empty map otherwise.
func GetErrorDetails(err error) map[string]any {
	if ve, ok := AsValidationError(err); ok && ve.Details() != nil {
		return ve.Details()
	}
	if ce, ok := AsCacheError(err); ok && ce.Details() != nil {
		return ce.Details()
	}
	if se, ok := AsSourceError(err); ok && se.Details() != nil {
		return se.Details()
	}
	if de, ok := AsDriverError(err); ok && de.Details() != nil {
		return de.Details()
	}
	return make(map[string]any)
}

// ToErrno maps an AudioFS error onto the POSIX errno the filesystem
// adapter should return to the kernel.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch {
	case IsCancelledError(err):
		return syscall.EINTR
	case IsSourceError(err):
		if se, _ := AsSourceError(err); se != nil && se.Code() == ErrorCodeSourceMissing {
			return syscall.ENOENT
		}
		return syscall.EIO
	case IsDriverError(err), IsCacheError(err):
		return syscall.EIO
	case stdErrors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case stdErrors.Is(err, os.ErrPermission):
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}

// ClassifyDirectoryCreationError analyzes cache/source directory creation
// failures and returns a CacheError with the appropriate code.
func ClassifyDirectoryCreationError(err error, path string) error {
	if os.IsPermission(err) {
		return NewCacheError(
			err, ErrorCodePermissionDenied,
			"insufficient permissions to create directory",
		).WithPath(path).WithDetail("operation", "directory_creation")
	}

	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewCacheError(
					err, ErrorCodeDiskFull, "insufficient disk space to create directory",
				).WithPath(path).WithDetail("operation", "directory_creation")
			case syscall.EROFS:
				return NewCacheError(
					err, ErrorCodeFilesystemReadonly, "cannot create directory on read-only filesystem",
				).WithPath(path).WithDetail("operation", "directory_creation")
			}
		}
	}

	return NewCacheError(err, ErrorCodeIO, "failed to create directory").
		WithPath(path).WithDetail("operation", "directory_creation")
}

// ClassifyFileOpenError analyzes cache file open/reserve failures and
// returns a CacheError with the appropriate code.
func ClassifyFileOpenError(err error, filePath, fileName string) error {
	if os.IsPermission(err) {
		return NewCacheError(
			err, ErrorCodePermissionDenied, "insufficient permissions to open cache file",
		).WithPath(filePath).WithFileName(fileName).WithDetail("operation", "file_open")
	}

	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewCacheError(
					err, ErrorCodeDiskFull, "insufficient disk space to create cache file",
				).WithPath(filePath).WithFileName(fileName).WithDetail("operation", "file_open")
			case syscall.EROFS:
				return NewCacheError(
					err, ErrorCodeFilesystemReadonly, "cannot create cache file on read-only filesystem",
				).WithPath(filePath).WithFileName(fileName).WithDetail("operation", "file_open")
			}
		}
	}

	return NewCacheError(err, ErrorCodeIO, "failed to open cache file").
		WithPath(filePath).WithFileName(fileName).WithDetail("operation", "file_open")
}

// ClassifyRenameError analyzes the atomic publish rename (reserve ->
// promote) and returns a CacheError with the appropriate code.
func ClassifyRenameError(err error, from, to string) error {
	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewCacheError(err, ErrorCodeDiskFull, "insufficient disk space to publish cache entry").
					WithDetail("from", from).WithDetail("to", to)
			case syscall.EROFS:
				return NewCacheError(err, ErrorCodeFilesystemReadonly, "cannot publish cache entry on read-only filesystem").
					WithDetail("from", from).WithDetail("to", to)
			}
		}
	}
	return NewCacheError(err, ErrorCodeRenameFailed, "failed to publish cache entry").
		WithDetail("from", from).WithDetail("to", to)
}
