package crawler

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the ingestion pipeline.
var (
	ErrTransientNetwork = errors.New("transient network error")
	ErrExtraction       = errors.New("extraction error")
	ErrPersistence      = errors.New("persistence error")
	ErrConfiguration    = errors.New("configuration error")
)

// FetchError is returned once the retry policy gives up on a URL.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransientNetwork) match.
func (e *FetchError) Is(target error) bool { return target == ErrTransientNetwork }

// ExtractionError identifies the field that could not be located or parsed.
type ExtractionError struct {
	URL   string
	Field string
	// Value holds the raw text that failed coercion, if any.
	Value string
	Err   error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extract %q from %s", e.Field, e.URL)
	if e.Value != "" {
		msg += fmt.Sprintf(" (value %q)", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrExtraction) match.
func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
