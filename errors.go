package fetchkit

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateIdentifier is returned by Start when a running connection already uses the identifier.
	ErrDuplicateIdentifier = errors.New("duplicate connection identifier")
	// ErrCancelled is returned by RunSynchronously when the connection was cancelled.
	ErrCancelled = errors.New("connection cancelled")
)

// TransportError is a network-level failure: DNS, refused connection, timeout, broken body.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a timeout.
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// HTTPStatusError reports a response status of 400 or above.
// It is only returned for connections started with TreatHTTPErrorsAsFailures.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP status %d for %s", e.StatusCode, e.URL)
}

// IntegrityError reports a body whose length differs from the declared Content-Length.
type IntegrityError struct {
	URL      string
	Expected int64
	Received int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("received %d bytes of %d declared for %s", e.Received, e.Expected, e.URL)
}
