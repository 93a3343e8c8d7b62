package protocol

import (
	"errors"
	"fmt"
	"io"

	"hlapi-bus/message"
)

var (
	// ErrPayloadTooLarge is returned before anything is written when a framed
	// message would not fit in Limits.MaxWrite.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	// ErrUnexpectedEOF means a delimiter was missing where the frame needed
	// one. Framing is lost; Reset before the next exchange.
	ErrUnexpectedEOF = fmt.Errorf("protocol: missing delimiter: %w", io.ErrUnexpectedEOF)
	// ErrMessageTooLarge is returned when an inbound value outgrows Limits.MaxRead.
	ErrMessageTooLarge = errors.New("protocol: inbound message too large")
	ErrInvalidData     = message.ErrInvalidData
)
