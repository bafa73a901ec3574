package source

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrFileNotFound indicates the requested path does not exist at the repository head.
var ErrFileNotFound = errors.New("file not found")

// ErrNotebookUnreadable indicates the notebook could not be downloaded or decoded.
var ErrNotebookUnreadable = errors.New("notebook unreadable: make sure it is shared as \"anyone with the link\"")

// ErrContentTooLarge indicates a remote payload exceeded the grading size limit.
var ErrContentTooLarge = errors.New("content exceeds size limit")

// FetchError describes a failed remote content request.
type FetchError struct {
	URL         string
	StatusCode  int
	RateLimited bool
	Cause       error
}

func (e *FetchError) Error() string {
	switch {
	case e.RateLimited:
		return fmt.Sprintf("fetch %s: rate limit exhausted (status %d)", e.URL, e.StatusCode)
	case e.Cause != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
	default:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrFileNotFound) match 404 responses.
func (e *FetchError) Is(target error) bool {
	return target == ErrFileNotFound && e.StatusCode == http.StatusNotFound
}

// Retryable reports whether the failure is operational rather than a content signal.
func (e *FetchError) Retryable() bool {
	if e.RateLimited {
		return true
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable fetch failure.
func IsRetryable(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.Retryable()
}

// IsRateLimited reports whether err signals remote quota exhaustion.
func IsRateLimited(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.RateLimited
}
