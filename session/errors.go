package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned when a closed session is used
	ErrSessionClosed = errors.New("session is closed")

	// ErrUnknownHost is returned when no connection is configured for a host
	ErrUnknownHost = errors.New("unknown host")
)

// RequestError reports that the store evaluated a request and rejected it.
// The session remains usable.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return "request rejected: " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// QueryError is the evaluation error a store reports for a rejected request
type QueryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *QueryError) Error() string {
	return e.FormatString()
}

// FormatString renders the error the way the store reports it
func (e *QueryError) FormatString() string {
	s := e.Code + ": " + e.Message
	if e.Detail != "" {
		s += " (" + e.Detail + ")"
	}
	return s
}

// TransportError reports that the session or its connection failed
type TransportError struct {
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure on %s: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRequestError reports whether err is a request-level failure
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

// IsTransportError reports whether err is a transport-level failure
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
