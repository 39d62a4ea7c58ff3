package errors

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes represent the fundamental categories of failures that
// can occur across any component.
const (
	// ErrorCodeIO represents failures in input/output operations across
	// any system boundary: reading/writing cache files, source files, or
	// temp files.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents configuration or request data that
	// doesn't meet the system's requirements.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected failures that don't fit any
	// other category: bugs, assertion failures, invariant violations.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Cache-store-specific error codes.
const (
	// ErrorCodeCacheCorrupted indicates an on-disk cache entry's state is
	// inconsistent with the in-memory index (e.g. stat failed for a
	// supposedly-ready entry).
	ErrorCodeCacheCorrupted ErrorCode = "CACHE_CORRUPTED"

	// ErrorCodeRenameFailed indicates the atomic publish rename (reserve
	// -> promote) failed.
	ErrorCodeRenameFailed ErrorCode = "CACHE_RENAME_FAILED"

	// ErrorCodePermissionDenied indicates insufficient permissions to
	// access the cache directory or a cache file.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates ENOSPC while reserving or writing a
	// partial cache file.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"

	// ErrorCodeFilesystemReadonly indicates the cache directory's
	// filesystem is mounted read-only.
	ErrorCodeFilesystemReadonly ErrorCode = "FILESYSTEM_READONLY"
)

// Source-tree error codes.
const (
	// ErrorCodeSourceMissing indicates the source file referenced by a
	// virtual entry no longer exists.
	ErrorCodeSourceMissing ErrorCode = "SOURCE_MISSING"

	// ErrorCodeSourceUnreadable indicates the source file exists but
	// could not be opened or read.
	ErrorCodeSourceUnreadable ErrorCode = "SOURCE_UNREADABLE"

	// ErrorCodeSourceChanged indicates the source file's (device, inode,
	// mtime, size) identity changed since it was fingerprinted.
	ErrorCodeSourceChanged ErrorCode = "SOURCE_CHANGED"
)

// Driver error codes.
const (
	// ErrorCodeDriverExitNonZero indicates the external encoder process
	// exited with a non-zero status.
	ErrorCodeDriverExitNonZero ErrorCode = "DRIVER_EXIT_NONZERO"

	// ErrorCodeDriverTruncatedOutput indicates the encoder's output is
	// unusable: it could not be opened, parsed, or saved again when a
	// driver post-processes it (e.g. writing tags).
	ErrorCodeDriverTruncatedOutput ErrorCode = "DRIVER_TRUNCATED_OUTPUT"

	// ErrorCodeDriverNotFound indicates the external encoder binary could
	// not be located on PATH.
	ErrorCodeDriverNotFound ErrorCode = "DRIVER_NOT_FOUND"
)

// Cancellation error code.
const (
	// ErrorCodeCancelled indicates the caller's context was cancelled
	// while waiting on or performing a build.
	ErrorCodeCancelled ErrorCode = "CANCELLED"
)
