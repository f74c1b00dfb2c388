package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

type ErrorCategory string

const (
	CategoryResolution ErrorCategory = "RESOLUTION" // Manifest unreachable or unparsable
	CategoryValidation ErrorCategory = "VALIDATION" // Size or free space limits
	CategorySegment    ErrorCategory = "SEGMENT"    // One segment out of retries
	CategoryIncomplete ErrorCategory = "INCOMPLETE" // Success ratio below the minimum
	CategoryAssembly   ErrorCategory = "ASSEMBLY"   // Artifact write or post-hoc size failure
	CategoryCancelled  ErrorCategory = "CANCELLED"  // User cancellation
	CategoryUnknown    ErrorCategory = "UNKNOWN"
)

// DownloadError carries the category used to decide a job's terminal state.
type DownloadError struct {
	Err       error
	Category  ErrorCategory
	Resource  string
	Timestamp time.Time
	Details   map[string]any
}

func (e *DownloadError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("[%s] %v", e.Category, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Resource, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

var (
	ErrNoSegments        = New("manifest contains no segments")
	ErrEncryptedStream   = New("encrypted streams are not supported")
	ErrVariantDepth      = New("too many nested variant manifests")
	ErrSizeLimitExceeded = New("artifact exceeds maximum size")
	ErrInsufficientSpace = New("insufficient free space")
	ErrLowSuccessRatio   = New("too many segments failed")
	ErrSegmentFailed     = New("segment failed after max attempts")
	ErrCancelled         = New("cancelled by user")

	ErrJobNotFound    = New("job not found")
	ErrJobNotTerminal = New("job has not finished")
	ErrInvalidURL     = New("invalid manifest URL")
)

func newError(err error, category ErrorCategory, resource string) *DownloadError {
	return &DownloadError{
		Err:       err,
		Category:  category,
		Resource:  resource,
		Timestamp: time.Now(),
	}
}

func NewResolutionError(err error, resource string) *DownloadError {
	return newError(err, CategoryResolution, resource)
}

func NewValidationError(err error, resource string) *DownloadError {
	return newError(err, CategoryValidation, resource)
}

func NewSegmentError(err error, resource string) *DownloadError {
	return newError(err, CategorySegment, resource)
}

func NewIncompleteError(succeeded, total int) *DownloadError {
	de := newError(ErrLowSuccessRatio, CategoryIncomplete, "")
	de.Details = map[string]any{"succeeded": succeeded, "total": total}
	return de
}

func NewAssemblyError(err error, resource string) *DownloadError {
	return newError(err, CategoryAssembly, resource)
}

func NewCancelledError(resource string) *DownloadError {
	return newError(ErrCancelled, CategoryCancelled, resource)
}

// CategoryOf returns the category of the first DownloadError in err's chain.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var de *DownloadError
	if As(err, &de) {
		return de.Category
	}

	if Is(err, context.Canceled) {
		return CategoryCancelled
	}

	return CategoryUnknown
}

// IsCancelled reports whether err stems from a user cancellation.
func IsCancelled(err error) bool {
	return CategoryOf(err) == CategoryCancelled
}

// Reason renders err as the short message shown to users in terminal snapshots.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var de *DownloadError
	if !As(err, &de) {
		return err.Error()
	}

	switch de.Category {
	case CategoryResolution:
		return "could not resolve stream: " + de.Err.Error()
	case CategoryValidation:
		return "storage check failed: " + de.Err.Error()
	case CategoryIncomplete:
		if succeeded, ok := de.Details["succeeded"].(int); ok {
			if total, ok := de.Details["total"].(int); ok {
				return fmt.Sprintf("incomplete download: only %d of %d segments retrieved", succeeded, total)
			}
		}
		return "incomplete download"
	case CategoryAssembly:
		return "could not write video: " + de.Err.Error()
	case CategoryCancelled:
		return "cancelled"
	default:
		return de.Err.Error()
	}
}

// WithDetails adds additional context to a DownloadError
func WithDetails(err error, details map[string]any) error {
	var de *DownloadError
	if !As(err, &de) {
		return err
	}

	if de.Details == nil {
		de.Details = make(map[string]any)
	}

	for k, v := range details {
		de.Details[k] = v
	}

	return de
}
