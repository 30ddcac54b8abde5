package transport

import (
	"context"
	"errors"
	"bytes"
	"testing"
	"time"
)

func tcpPair(t *testing.T) (*TCPServer, *TCPConn) {
	t.Helper()
	srv, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := DialTCP(context.Background(), srv.Addr().String(), time.Second, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return srv, conn
}

func TestTCPMessageRoundTrip(t *testing.T) {
	srv, conn := tcpPair(t)

	accepted := make(chan *TCPConn, 1)
	go func() {
		c, err := srv.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	msg := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02}
	if err := conn.WriteMessage(context.Background(), msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	server := <-accepted
	defer func() { _ = server.Close() }()
	got, err := server.ReadMessage(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("Message mismatch: %x vs %x", got, msg)
	}

	// And back again, multiple messages on one stream.
	for i := 0; i < 3; i++ {
		reply := append([]byte{byte(i)}, msg...)
		if err := server.WriteMessage(context.Background(), reply); err != nil {
			t.Fatalf("write reply %d: %v", i, err)
		}
		got, err := conn.ReadMessage(context.Background())
		if err != nil {
			t.Fatalf("read reply %d: %v", i, err)
		}
		if !bytes.Equal(got, reply) {
			t.Errorf("Reply %d mismatch", i)
		}
	}
}

func TestTCPCleanEndOfStream(t *testing.T) {
	srv, conn := tcpPair(t)

	go func() {
		c, err := srv.Accept()
		if err == nil {
			_ = c.Close()
		}
	}()

	if _, err := conn.ReadMessage(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestTCPReadTimeout(t *testing.T) {
	srv, conn := tcpPair(t)
	conn.KeepAlive = 50 * time.Millisecond

	go func() {
		c, _ := srv.Accept()
		if c != nil {
			// Hold the connection open without sending anything.
			time.Sleep(500 * time.Millisecond)
			_ = c.Close()
		}
	}()

	start := time.Now()
	_, err := conn.ReadMessage(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 400*time.Millisecond {
		t.Error("KeepAlive window not honored")
	}
}

func TestTCPCancellation(t *testing.T) {
	srv, conn := tcpPair(t)
	go func() {
		c, _ := srv.Accept()
		if c != nil {
			time.Sleep(time.Second)
			_ = c.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := conn.ReadMessage(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
}

func TestTCPZeroLengthFrameClosesStream(t *testing.T) {
	srv, conn := tcpPair(t)
	go func() {
		c, _ := srv.Accept()
		if c != nil {
			_ = c.WriteMessage(context.Background(), nil)
		}
	}()
	if _, err := conn.ReadMessage(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed on zero-length frame, got %v", err)
	}
}
