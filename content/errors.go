package content

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned when a content category name is not recognized
	ErrUnknownType = errors.New("unknown content type")

	// ErrPayloadMismatch is returned when a payload kind cannot carry the
	// resolved content category
	ErrPayloadMismatch = errors.New("payload kind does not match content type")

	// ErrMalformedOptions is returned when encoded options cannot be decoded
	ErrMalformedOptions = errors.New("malformed insert options")
)

// EncodingError reports a content category the encoder cannot handle. It is a
// programming error and must not be retried.
type EncodingError struct {
	URI  string
	Type Type
	Err  error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encode %s as %s: %v", e.URI, e.Type, e.Err)
	}
	return fmt.Sprintf("encode %s: unexpected content type %s", e.URI, e.Type)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
