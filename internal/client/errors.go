package client

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode reports input image or mask bytes that cannot be decoded.
	ErrDecode = errors.New("decode error")

	ErrMissingProject = errors.New("a GCP project id is required for managed endpoints")
)

// TransportError is a connection or transport level failure. These are the
// only failures the direct HTTP transport retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a well-formed, non-2xx response from the endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// UnexpectedResponseError is a success-shaped response that does not carry
// an artifact.
type UnexpectedResponseError struct {
	Detail string
	Err    error
}

func (e *UnexpectedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected response: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("unexpected response: %s", e.Detail)
}

func (e *UnexpectedResponseError) Unwrap() error { return e.Err }

type EndpointNotFoundError struct {
	Name    string
	Project string
	Region  string
}

func (e *EndpointNotFoundError) Error() string {
	return fmt.Sprintf("endpoint %q not found in project %q (%s); deploy the model first", e.Name, e.Project, e.Region)
}

// RequestExhaustedError is returned once every allowed attempt failed.
type RequestExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RequestExhaustedError) Error() string {
	return fmt.Sprintf("API request failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RequestExhaustedError) Unwrap() error { return e.Last }

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
