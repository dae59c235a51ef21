package device

import "errors"

var (
	// Lookup errors
	ErrNotFound = errors.New("rlink: device not found")
	ErrClosed   = errors.New("rlink: device handle closed")

	// Frame construction errors
	ErrInvalidHardwareAddr   = errors.New("rlink: invalid hardware address")
	ErrPayloadLengthMismatch = errors.New("rlink: payload length does not match length field")
	ErrPayloadTooLarge       = errors.New("rlink: payload too large")
)
