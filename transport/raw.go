// Package transport carries framed DNS messages over UDP datagrams and
// length-prefixed TCP streams. The TCP side accepts any net.Conn, so a
// TLS-wrapped stream supplied by a caller works unchanged.
package transport

import (
	"errors"
	"net"
)

// RawPackage is a framed message together with its endpoints.
type RawPackage struct {
	Data       []byte
	RemoteAddr net.Addr
	LocalAddr  net.Addr
}

// Transport failures. On ErrTimeout and ErrConnectionClosed the client
// tries another server and reports "no response" when none answers;
// ErrCancelled is returned to the caller as is.
var (
	// ErrTimeout indicates the peer did not answer within the window.
	ErrTimeout = errors.New("transport timeout")
	// ErrConnectionClosed indicates a clean end of stream.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrCancelled indicates the caller's cancellation fired.
	ErrCancelled = errors.New("operation cancelled")
)
