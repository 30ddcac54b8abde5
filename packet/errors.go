package packet

import "errors"

// Codec failures. Parse errors are never retried; the client surfaces
// them as a parse failure.
var (
	// ErrMalformedName indicates an invalid domain name encoding:
	// oversized labels, reserved label flag bits, pointer loops or a
	// name expanding beyond 255 octets.
	ErrMalformedName = errors.New("malformed name")

	// ErrMalformedRecord indicates RDATA that does not match the
	// declared record type or length.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrMalformedMessage indicates a message whose sections cannot be
	// parsed against the header counts.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrBufferBounds indicates a read or write past the packet buffer.
	ErrBufferBounds = errors.New("end of buffer")
)
