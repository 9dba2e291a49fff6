package nbe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Default timeouts for controller communication.
const (
	// defaultRequestTimeout bounds one request/response exchange.
	defaultRequestTimeout = 5 * time.Second

	// readBufferSize fits the largest frame the controller sends.
	readBufferSize = 4096
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Session is one open conversation with the controller. A session is used
// by a single goroutine at a time.
type Session interface {
	// Query fetches the given logical groups and returns flat
	// "key=value" strings.
	Query(ctx context.Context, groups []string) ([]string, error)

	// Write sets one key. The bool reports whether the controller
	// confirmed the write.
	Write(ctx context.Context, key, value string) (bool, error)

	Close() error
}

// Protocol opens sessions against the controller.
type Protocol interface {
	Open(ctx context.Context) (Session, error)
}

// Ensure Client implements Protocol.
var _ Protocol = (*Client)(nil)

// ClientConfig holds controller connection settings.
type ClientConfig struct {
	// Host and Port of the controller. Port is usually 8483.
	Host string
	Port int

	// Serial is the controller serial number.
	Serial string

	// Password is the controller pin code.
	Password string

	// Timeout bounds each request/response exchange.
	// Default: 5 seconds.
	Timeout time.Duration
}

// ClientStats holds operational statistics.
type ClientStats struct {
	RequestsTx   uint64
	ResponsesRx  uint64
	ErrorsTotal  uint64
	Timeouts     uint64
	LastActivity time.Time
}

// Client speaks the controller's UDP protocol.
//
// Thread Safety: Open is safe for concurrent use. Each returned session
// owns its own socket; the bridge never holds more than one at a time.
type Client struct {
	cfg   ClientConfig
	appID string
	seq   atomic.Uint32

	requestsTx   atomic.Uint64
	responsesRx  atomic.Uint64
	errorsTotal  atomic.Uint64
	timeouts     atomic.Uint64
	lastActivity atomic.Int64
}

// NewClient creates a controller client. No traffic is sent until a
// session is opened.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	return &Client{
		cfg:   cfg,
		appID: newAppID(),
	}
}

// newAppID returns a random 12-character application identifier.
func newAppID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:appIDLen]
}

// Address returns the controller address in host:port form.
func (c *Client) Address() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Open dials the controller.
func (c *Client) Open(ctx context.Context) (Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", c.Address())
	if err != nil {
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("dial controller %s: %w", c.Address(), err)
	}
	return &session{client: c, conn: conn}, nil
}

// Stats returns current operational statistics.
func (c *Client) Stats() ClientStats {
	var last time.Time
	if ts := c.lastActivity.Load(); ts > 0 {
		last = time.Unix(ts, 0)
	}
	return ClientStats{
		RequestsTx:   c.requestsTx.Load(),
		ResponsesRx:  c.responsesRx.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		Timeouts:     c.timeouts.Load(),
		LastActivity: last,
	}
}

func (c *Client) nextSeq() int {
	return int(c.seq.Add(1) % 100)
}

type session struct {
	client *Client
	conn   net.Conn
}

func (s *session) Query(ctx context.Context, groups []string) ([]string, error) {
	var items []string
	for _, group := range groups {
		fn, payload, prefix, err := groupRequest(group)
		if err != nil {
			return nil, err
		}
		resp, err := s.roundTrip(ctx, fn, payload)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", group, err)
		}
		if resp.status != statusOK {
			return nil, fmt.Errorf("query %s: controller returned status %d", group, resp.status)
		}
		items = append(items, resp.items(prefix)...)
	}
	return items, nil
}

func (s *session) Write(ctx context.Context, key, value string) (bool, error) {
	resp, err := s.roundTrip(ctx, fnSetSetup, key+"="+value)
	if err != nil {
		return false, fmt.Errorf("write %s: %w", key, err)
	}
	return resp.status == statusOK, nil
}

func (s *session) Close() error {
	return s.conn.Close()
}

// roundTrip sends one request and waits for the response carrying the
// same sequence number. Stale responses from earlier requests are skipped.
func (s *session) roundTrip(ctx context.Context, fn function, payload string) (response, error) {
	c := s.client
	req := request{
		appID:     c.appID,
		serial:    c.cfg.Serial,
		pin:       c.cfg.Password,
		function:  fn,
		seq:       c.nextSeq(),
		timestamp: time.Now(),
		payload:   payload,
	}
	frame, err := req.encode()
	if err != nil {
		return response{}, err
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return response{}, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := s.conn.Write(frame); err != nil {
		c.errorsTotal.Add(1)
		return response{}, fmt.Errorf("send: %w", err)
	}
	c.requestsTx.Add(1)

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				c.timeouts.Add(1)
				return response{}, fmt.Errorf("%w after %v", ErrTimeout, c.cfg.Timeout)
			}
			c.errorsTotal.Add(1)
			return response{}, fmt.Errorf("receive: %w", err)
		}

		resp, err := decodeResponse(buf[:n])
		if err != nil {
			c.errorsTotal.Add(1)
			return response{}, err
		}
		if resp.seq != req.seq || resp.function != req.function {
			continue
		}

		c.responsesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())
		return resp, nil
	}
}
