package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredentials is returned by authenticated operations when no bearer credential is available.
	ErrNoCredentials = errors.New("no credentials available")
	// ErrMalformedBody marks a response whose body is empty or not a JSON object.
	ErrMalformedBody = errors.New("response body is not a JSON object")
)

// TransportError is returned when no HTTP response was received at all.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport returns true if err (or any error it wraps) is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
