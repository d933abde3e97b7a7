package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrInvalidURL        = errors.New("listing URL is blank or invalid")
	ErrBlankPage         = errors.New("navigation left the tab on about:blank")
	ErrContentTooShort   = errors.New("rendered content below minimum length")
	ErrExtractionTimeout = errors.New("extraction timed out")
	ErrEmptyPayload      = errors.New("hydration payload missing or incomplete")
	ErrElementNotFound   = errors.New("element not found")
	ErrPaginationStall   = errors.New("pagination did not advance")
	ErrNoNextPage        = errors.New("next page control absent or disabled")
	ErrDuplicatePage     = errors.New("page content already seen this run")
	ErrPageCapExceeded   = errors.New("page cap exceeded")
	ErrUnknownModel      = errors.New("unknown target model")
	ErrRetriesExhausted  = errors.New("max retries exceeded")
	ErrSessionClosed     = errors.New("browser context closed")
)

// NavigationError is returned when a detail page could not be loaded within
// the bounded number of attempts.
type NavigationError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ExtractionError wraps a failure to read a vehicle record from a loaded
// detail page. Err is usually ErrExtractionTimeout or ErrEmptyPayload.
type ExtractionError struct {
	VehicleID string
	URL       string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction of %s (%s): %v", e.VehicleID, e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ConfigError reports a missing or unusable piece of per-model configuration.
// It is fatal: retrying cannot fix it.
type ConfigError struct {
	Model string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error for model %q: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("config error for model %q (%s): %v", e.Model, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur while persisting run state.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort a run without retry.
func IsFatal(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// IsWedged reports whether err suggests the browser context itself is
// unusable and must be recreated rather than just the tab.
func IsWedged(err error) bool {
	return errors.Is(err, ErrExtractionTimeout) || errors.Is(err, ErrSessionClosed)
}
