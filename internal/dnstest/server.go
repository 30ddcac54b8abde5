// Package dnstest runs throwaway in-process DNS servers for tests: a
// UDP and a TCP listener sharing one port, both driven by a
// caller-supplied handler.
package dnstest

import (
	"context"
	"net"
	"sync"

	"github.com/atlasdns/atlas/packet"
	"github.com/atlasdns/atlas/transport"
)

// Handler builds the response for one request; proto is "udp" or
// "tcp". Returning nil drops the request.
type Handler func(req *packet.DNSPacket, proto string) *packet.DNSPacket

// Server is a fake authoritative server bound to 127.0.0.1.
type Server struct {
	// UDPSizeLimit truncates UDP responses through the codec's
	// size-limited encoder; zero means no limit.
	UDPSizeLimit int

	handler Handler
	udp     *transport.UDPServer
	tcp     *transport.TCPServer
	addr    string
	port    string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewServer starts listeners on an ephemeral port and serves until
// Close.
func NewServer(handler Handler) (*Server, error) {
	udp, err := transport.ListenUDP("127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	addr := udp.Addr().String()
	tcp, err := transport.ListenTCP(addr)
	if err != nil {
		_ = udp.Close()
		return nil, err
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		_ = udp.Close()
		_ = tcp.Close()
		return nil, err
	}

	s := &Server{handler: handler, udp: udp, tcp: tcp, addr: addr, port: port}
	s.wg.Add(2)
	go s.serveUDP()
	go s.serveTCP()
	return s, nil
}

// Addr returns "127.0.0.1:port".
func (s *Server) Addr() string {
	return s.addr
}

// Port returns the shared port as a string.
func (s *Server) Port() string {
	return s.port
}

// Close stops both listeners.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.udp.Close()
	_ = s.tcp.Close()
	s.wg.Wait()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) serveUDP() {
	defer s.wg.Done()
	for {
		pkg, err := s.udp.Receive()
		if err != nil {
			if s.isClosed() {
				return
			}
			continue
		}
		resp := s.respond(pkg.Data, "udp")
		if resp == nil {
			continue
		}
		limit := s.UDPSizeLimit
		if limit == 0 {
			limit = packet.MaxPacketSize
		}
		wire, err := resp.EncodeWithLimit(limit)
		if err != nil {
			continue
		}
		_ = s.udp.Send(&transport.RawPackage{Data: wire, RemoteAddr: pkg.RemoteAddr})
	}
}

func (s *Server) serveTCP() {
	defer s.wg.Done()
	for {
		conn, err := s.tcp.Accept()
		if err != nil {
			if s.isClosed() {
				return
			}
			continue
		}
		s.wg.Add(1)
		go func(conn *transport.TCPConn) {
			defer s.wg.Done()
			defer func() { _ = conn.Close() }()
			for {
				raw, err := conn.ReadMessage(context.Background())
				if err != nil {
					return
				}
				resp := s.respond(raw, "tcp")
				if resp == nil {
					return
				}
				wire, err := resp.EncodeWithLimit(packet.MaxPacketSize)
				if err != nil {
					return
				}
				if err := conn.WriteMessage(context.Background(), wire); err != nil {
					return
				}
			}
		}(conn)
	}
}

func (s *Server) respond(raw []byte, proto string) *packet.DNSPacket {
	buf := packet.NewBytePacketBuffer()
	buf.Load(raw)
	req := packet.NewDNSPacket()
	if err := req.FromBuffer(buf); err != nil {
		return nil
	}
	return s.handler(req, proto)
}

// NewResponse starts an authoritative response echoing the request's
// id and question byte-for-byte, which keeps 0x20 checks happy.
func NewResponse(req *packet.DNSPacket) *packet.DNSPacket {
	resp := packet.NewDNSPacket()
	resp.Header.ID = req.Header.ID
	resp.Header.Response = true
	resp.Header.AuthoritativeAnswer = true
	resp.Questions = append(resp.Questions, req.Questions...)
	return resp
}
