package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"
)

// DefaultTimeout bounds a single send/receive pair when the caller
// does not configure one.
const DefaultTimeout = 5 * time.Second

// UDPTransport performs one-shot datagram exchanges. A TC bit in the
// response is the caller's signal to retry over TCP.
type UDPTransport struct {
	// Timeout bounds the receive; zero means DefaultTimeout.
	Timeout time.Duration
	// PayloadSize is the largest datagram accepted back; zero means 512.
	PayloadSize uint16
	Logger      *slog.Logger
}

func (t *UDPTransport) timeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTimeout
	}
	return t.Timeout
}

func (t *UDPTransport) payloadSize() int {
	if t.PayloadSize < 512 {
		return 512
	}
	if t.PayloadSize > 4096 {
		return 4096
	}
	return int(t.PayloadSize)
}

// Exchange sends one datagram and waits for one back. Cancellation is
// checked before the send and unblocks the receive.
func (t *UDPTransport) Exchange(ctx context.Context, data []byte, server string) (*RawPackage, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", server)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	stop := unblockOnCancel(ctx, conn)
	defer stop()

	deadline := time.Now().Add(t.timeout())
	_ = conn.SetWriteDeadline(deadline)
	if _, err := conn.Write(data); err != nil {
		return nil, mapNetError(ctx, err)
	}

	buf := make([]byte, t.payloadSize())
	_ = conn.SetReadDeadline(deadline)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, mapNetError(ctx, err)
	}

	return &RawPackage{
		Data:       buf[:n],
		RemoteAddr: conn.RemoteAddr(),
		LocalAddr:  conn.LocalAddr(),
	}, nil
}

// ExchangeValid behaves like Exchange but keeps the socket open and
// discards datagrams the accept callback rejects (wrong id, wrong
// question) until the deadline runs out.
func (t *UDPTransport) ExchangeValid(ctx context.Context, data []byte, server string, accept func([]byte) bool) (*RawPackage, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", server)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	stop := unblockOnCancel(ctx, conn)
	defer stop()

	deadline := time.Now().Add(t.timeout())
	_ = conn.SetWriteDeadline(deadline)
	if _, err := conn.Write(data); err != nil {
		return nil, mapNetError(ctx, err)
	}

	buf := make([]byte, t.payloadSize())
	for {
		_ = conn.SetReadDeadline(deadline)
		n, err := conn.Read(buf)
		if err != nil {
			return nil, mapNetError(ctx, err)
		}
		if accept != nil && !accept(buf[:n]) {
			continue
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return &RawPackage{
			Data:       out,
			RemoteAddr: conn.RemoteAddr(),
			LocalAddr:  conn.LocalAddr(),
		}, nil
	}
}

// UDPServer is the listening side of the datagram transport.
type UDPServer struct {
	conn net.PacketConn
}

// ListenUDP binds a datagram socket with SO_REUSEPORT where the
// platform offers it, so multiple listeners can share a port.
func ListenUDP(addr string) (*UDPServer, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = setReusePort(fd)
			})
		},
	}
	conn, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPServer{conn: conn}, nil
}

// Addr returns the bound address.
func (s *UDPServer) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Receive blocks for the next datagram. A closed socket reports a
// clean end of stream.
func (s *UDPServer) Receive() (*RawPackage, error) {
	buf := make([]byte, 4096)
	n, remote, err := s.conn.ReadFrom(buf)
	if err != nil {
		return nil, mapNetError(context.Background(), err)
	}
	return &RawPackage{
		Data:       buf[:n],
		RemoteAddr: remote,
		LocalAddr:  s.conn.LocalAddr(),
	}, nil
}

// Send answers a previously received package's remote endpoint.
func (s *UDPServer) Send(pkg *RawPackage) error {
	_, err := s.conn.WriteTo(pkg.Data, pkg.RemoteAddr)
	return err
}

// Close releases the socket.
func (s *UDPServer) Close() error {
	return s.conn.Close()
}

// unblockOnCancel closes conn when ctx fires so blocked reads return.
func unblockOnCancel(ctx context.Context, conn net.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(time.Unix(0, 0))
		case <-done:
		}
	}()
	return func() { close(done) }
}

func mapNetError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimeout
	}
	return ErrConnectionClosed
}
