package domain

import "fmt"

// InputError rejects a request before any network call is made:
// unsupported format, oversized file, empty or overlong query. Never retried.
type InputError struct {
	Op     string
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Op, e.Field, e.Reason)
}

// ValidationError reports configuration outside its allowed range. It is
// raised at startup or on the first call using the bad value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// ServiceError wraps the last failure from the embedding or generation
// endpoint after the retry budget is exhausted.
type ServiceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// DataError wraps a storage read or write failure. During ingest the
// owning document is flipped to ERROR before this propagates.
type DataError struct {
	Op  string
	Err error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }
