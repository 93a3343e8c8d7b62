package message

import (
	"errors"
	"fmt"
)

// ErrInvalidData marks a payload that was framed correctly but could not be
// used: malformed JSON, a descriptor that breaks the protocol, or an envelope
// of the wrong variant.
var ErrInvalidData = errors.New("message: invalid data")

// UnexpectedResponseError is returned when a well-framed envelope arrives with
// a variant the call does not accept. It is not a framing failure, so no reset
// is needed before the next exchange.
type UnexpectedResponseError struct {
	Want    ResponseType
	Got     ResponseType
	Message string // remote message when Got is ResponseError
}

func (e *UnexpectedResponseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("message: expected %s response, got %s: %s", e.Want, e.Got, e.Message)
	}
	return fmt.Sprintf("message: expected %s response, got %s", e.Want, e.Got)
}

func (e *UnexpectedResponseError) Is(target error) bool {
	return target == ErrInvalidData
}
