// Package client implements the single-query engine: it serializes a
// question, picks a transport, retries on truncation, validates the
// response identity and hands back a parsed message. It never
// interprets the response code; that is the resolver's job.
package client

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"net"
	"sync"
	"time"

	"github.com/dchest/siphash"

	"github.com/atlasdns/atlas/packet"
	"github.com/atlasdns/atlas/transport"
)

// Protocol failures the engine recovers from locally where it can.
var (
	// ErrNoResponse indicates no server produced an acceptable answer.
	ErrNoResponse = errors.New("no response")
	// ErrIDMismatch indicates a response with the wrong transaction id.
	ErrIDMismatch = errors.New("transaction id mismatch")
	// ErrQuestionMismatch indicates a response echoing a different question.
	ErrQuestionMismatch = errors.New("question mismatch")
)

// TsigKey is a shared secret for transaction signatures.
type TsigKey struct {
	Name      string
	Algorithm string
	Secret    []byte
}

// Options configure a single query.
type Options struct {
	// Timeout bounds one send/receive exchange; zero means 5s.
	Timeout time.Duration
	// KeepAlive bounds the idle wait on a TCP stream between messages.
	KeepAlive time.Duration

	RecursionDesired bool
	CheckingDisabled bool

	// UseEDNS attaches an OPT record advertising UDPPayloadSize.
	UseEDNS        bool
	UDPPayloadSize uint16
	// DNSSECOK sets the DO bit; implies UseEDNS.
	DNSSECOK bool
	// EDNSOptions are appended to the OPT record as given.
	EDNSOptions []packet.EdnsOption

	// Use0x20 randomizes the question-name case and requires the
	// response to echo it exactly.
	Use0x20 bool
	// ValidateIdentity rejects responses whose question section does
	// not match the query.
	ValidateIdentity bool
	// UseCookies attaches an RFC 7873 client cookie.
	UseCookies bool

	// Tsig signs the query and requires a valid signature on the answer.
	Tsig *TsigKey
}

// Response is a parsed answer plus the raw bytes it came from.
type Response struct {
	Packet *packet.DNSPacket
	Raw    []byte
	Server string
	// Proto names the transport that produced the answer, "udp" or "tcp".
	Proto string
}

// Client is a reusable single-query engine. It is safe for concurrent use.
type Client struct {
	logger *slog.Logger

	mu  sync.Mutex
	rng *mrand.Rand

	cookieK0 uint64
	cookieK1 uint64
}

// New creates a client. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	var seed [24]byte
	_, _ = rand.Read(seed[:])
	return &Client{
		logger:   logger,
		rng:      mrand.New(mrand.NewSource(int64(binary.BigEndian.Uint64(seed[:8])))), // #nosec G404 -- 0x20 case flips, not key material
		cookieK0: binary.BigEndian.Uint64(seed[8:16]),
		cookieK1: binary.BigEndian.Uint64(seed[16:24]),
	}
}

func transactionID() uint16 {
	var id uint16
	_ = binary.Read(rand.Reader, binary.BigEndian, &id)
	return id
}

// reliableSend reports whether a question must start on TCP: zone
// transfers stream, and ANY answers rarely fit a datagram.
func reliableSend(q packet.DNSQuestion) bool {
	return q.QType == packet.AXFR || q.QType == packet.IXFR || q.QType == packet.ANY
}

func (c *Client) clientCookie(server string) [8]byte {
	var out [8]byte
	sum := siphash.Hash(c.cookieK0, c.cookieK1, []byte(server))
	binary.BigEndian.PutUint64(out[:], sum)
	return out
}

// buildQuery assembles and serializes the outbound message. The
// returned packet holds the (possibly 0x20-randomized) question the
// response must echo.
func (c *Client) buildQuery(q packet.DNSQuestion, server string, opts Options) (*packet.DNSPacket, []byte, error) {
	req := packet.NewDNSPacket()
	req.Header.ID = transactionID()
	req.Header.RecursionDesired = opts.RecursionDesired
	req.Header.CheckingDisabled = opts.CheckingDisabled

	if opts.Use0x20 {
		c.mu.Lock()
		q.Name = packet.Randomize0x20(q.Name, c.rng)
		c.mu.Unlock()
	}
	req.Questions = append(req.Questions, q)

	if opts.UseEDNS || opts.DNSSECOK {
		size := opts.UDPPayloadSize
		if size == 0 {
			size = packet.MaxUDPPayloadSize
		}
		ednsOpts := opts.EDNSOptions
		if opts.UseCookies {
			ednsOpts = append(ednsOpts, packet.NewCookieOption(c.clientCookie(server), nil))
		}
		req.SetEDNS(size, opts.DNSSECOK, ednsOpts)
	}

	buf := packet.NewBytePacketBuffer()
	buf.HasNames = true
	if err := req.Write(buf); err != nil {
		return nil, nil, err
	}
	if opts.Tsig != nil {
		if err := req.SignTSIG(buf, opts.Tsig.Name, opts.Tsig.Algorithm, opts.Tsig.Secret); err != nil {
			return nil, nil, err
		}
	}
	wire := make([]byte, buf.Position())
	copy(wire, buf.Bytes())
	return req, wire, nil
}

// checkIdentity verifies that a response belongs to the query: same id
// and, when requested, the exact question echoed back. With 0x20
// enabled the name must match including case.
func checkIdentity(req, resp *packet.DNSPacket, opts Options) error {
	if resp.Header.ID != req.Header.ID {
		return ErrIDMismatch
	}
	if !opts.ValidateIdentity && !opts.Use0x20 {
		return nil
	}
	if len(resp.Questions) != len(req.Questions) {
		return ErrQuestionMismatch
	}
	for i := range req.Questions {
		want := req.Questions[i]
		got := resp.Questions[i]
		if got.QType != want.QType || got.QClass != want.QClass {
			return ErrQuestionMismatch
		}
		if opts.Use0x20 {
			if got.Name != want.Name {
				return fmt.Errorf("%w: case mismatch", ErrQuestionMismatch)
			}
		} else if !packet.EqualNames(got.Name, want.Name) {
			return ErrQuestionMismatch
		}
	}
	return nil
}

func parseResponse(raw []byte) (*packet.DNSPacket, error) {
	buf := packet.GetBuffer()
	defer packet.PutBuffer(buf)
	buf.Load(raw)
	resp := packet.NewDNSPacket()
	if err := resp.FromBuffer(buf); err != nil {
		return nil, err
	}
	return resp, nil
}

// Query sends one question to the servers in order, advancing to the
// next server once on transport failure. UDP responses with TC set are
// retried over TCP with the same message bytes (and id). Over UDP a
// response whose TSIG does not verify is discarded like one with a
// wrong id; over TCP a missing or invalid TSIG is fatal. An rcode is
// returned, never interpreted.
func (c *Client) Query(ctx context.Context, q packet.DNSQuestion, servers []string, opts Options) (*Response, error) {
	if len(servers) == 0 {
		return nil, ErrNoResponse
	}

	var lastErr error
	for attempt, server := range servers {
		if attempt > 1 {
			break // one alternate server, no more
		}
		if err := ctx.Err(); err != nil {
			return nil, transport.ErrCancelled
		}

		resp, err := c.queryOne(ctx, q, server, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, packet.ErrTsigMismatch) || errors.Is(err, transport.ErrCancelled) {
			return nil, err
		}
		c.logger.Warn("query failed, rotating server", "server", server, "error", err)
	}
	return nil, fmt.Errorf("%w: %v", ErrNoResponse, lastErr)
}

func (c *Client) queryOne(ctx context.Context, q packet.DNSQuestion, server string, opts Options) (*Response, error) {
	req, wire, err := c.buildQuery(q, server, opts)
	if err != nil {
		return nil, err
	}

	if reliableSend(q) {
		return c.queryTCP(ctx, req, wire, server, opts)
	}

	udp := &transport.UDPTransport{
		Timeout:     opts.Timeout,
		PayloadSize: opts.UDPPayloadSize,
		Logger:      c.logger,
	}
	var accepted *packet.DNSPacket
	pkg, err := udp.ExchangeValid(ctx, wire, server, func(raw []byte) bool {
		resp, perr := parseResponse(raw)
		if perr != nil {
			return false
		}
		if cerr := checkIdentity(req, resp, opts); cerr != nil {
			return false
		}
		if terr := c.verifyTsig(resp, raw, opts); terr != nil {
			return false
		}
		accepted = resp
		return true
	})
	if err != nil {
		return nil, err
	}

	if err := c.verifyTsig(accepted, pkg.Data, opts); err != nil {
		return nil, err
	}

	if accepted.Header.TruncatedMessage {
		c.logger.Debug("truncated over udp, retrying on tcp", "server", server, "id", req.Header.ID)
		return c.queryTCP(ctx, req, wire, server, opts)
	}

	return &Response{Packet: accepted, Raw: pkg.Data, Server: server, Proto: "udp"}, nil
}

func (c *Client) queryTCP(ctx context.Context, req *packet.DNSPacket, wire []byte, server string, opts Options) (*Response, error) {
	conn, err := transport.DialTCP(ctx, server, opts.KeepAlive, opts.Timeout)
	if err != nil {
		return nil, transport.ErrConnectionClosed
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteMessage(ctx, wire); err != nil {
		return nil, err
	}
	raw, err := conn.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	if err := checkIdentity(req, resp, opts); err != nil {
		return nil, err
	}
	if err := c.verifyTsig(resp, raw, opts); err != nil {
		return nil, err
	}
	return &Response{Packet: resp, Raw: raw, Server: server, Proto: "tcp"}, nil
}

func (c *Client) verifyTsig(resp *packet.DNSPacket, raw []byte, opts Options) error {
	if opts.Tsig == nil {
		return nil
	}
	if resp.Signature == nil {
		return packet.ErrTsigMismatch
	}
	return resp.VerifyTSIG(raw, opts.Tsig.Secret)
}

// Transfer runs a zone transfer (AXFR/IXFR) and returns every message
// of the stream. The stream ends when the server closes or when the
// terminal SOA repeats the serial that opened the transfer (RFC 5936).
func (c *Client) Transfer(ctx context.Context, q packet.DNSQuestion, server string, opts Options) ([]*packet.DNSPacket, error) {
	req, wire, err := c.buildQuery(q, server, opts)
	if err != nil {
		return nil, err
	}

	conn, err := transport.DialTCP(ctx, server, opts.KeepAlive, opts.Timeout)
	if err != nil {
		return nil, transport.ErrConnectionClosed
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteMessage(ctx, wire); err != nil {
		return nil, err
	}

	var messages []*packet.DNSPacket
	var openSerial uint32
	seenOpen := false
	totalAnswers := 0
	for {
		raw, err := conn.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) && len(messages) > 0 {
				return messages, nil
			}
			return nil, err
		}
		resp, err := parseResponse(raw)
		if err != nil {
			return nil, err
		}
		if cerr := checkIdentity(req, resp, opts); cerr != nil {
			return nil, cerr
		}
		if verr := c.verifyTsig(resp, raw, opts); verr != nil {
			return nil, verr
		}
		messages = append(messages, resp)
		totalAnswers += len(resp.Answers)

		if !seenOpen && len(resp.Answers) > 0 && resp.Answers[0].Type == packet.SOA {
			seenOpen = true
			openSerial = resp.Answers[0].Serial
		}
		// The transfer closes when the stream circles back to the SOA
		// that opened it, as the last answer of a message (RFC 5936).
		if seenOpen && totalAnswers > 1 && len(resp.Answers) > 0 {
			last := resp.Answers[len(resp.Answers)-1]
			if last.Type == packet.SOA && last.Serial == openSerial {
				return messages, nil
			}
		}
	}
}

// LookupSRV orders SRV answers for use, priority first then weighted
// random (RFC 2782).
func (c *Client) LookupSRV(records []packet.DNSRecord) []packet.DNSRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return packet.OrderSRV(records, c.rng)
}

// JoinHostPort formats a server address with the default DNS port when
// none is present.
func JoinHostPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "53")
}
