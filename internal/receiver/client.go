package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/radio-scanner/internal/metrics"
	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

const (
	DefaultDialTimeout          = 5 * time.Second
	DefaultReplyTimeout         = 2 * time.Second
	DefaultDrainTimeout         = time.Millisecond
	DefaultStrengthDrainTimeout = 40 * time.Millisecond

	// AckOK is the acknowledgement of a successful set command
	AckOK = "RPRT 0"

	cmdStrength = "l STRENGTH"
)

// Commander issues single-line commands to the receiver. Implementations
// must not be used from more than one goroutine at a time.
type Commander interface {
	Execute(ctx context.Context, command, expect string) (Reply, error)
	Close() error
}

// Reply is the parsed response to one command.
type Reply struct {
	Lines []string
}

func (r Reply) String() string {
	return strings.Join(r.Lines, "\n")
}

// Fields returns the whitespace separated tokens of all reply lines.
func (r Reply) Fields() []string {
	return strings.Fields(strings.Join(r.Lines, " "))
}

func (r Reply) Float() (float64, error) {
	if len(r.Lines) == 0 {
		return 0, fmt.Errorf("empty reply")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Lines[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %q as float: %w", r.Lines[0], err)
	}
	return v, nil
}

func (r Reply) Int() (int64, error) {
	if len(r.Lines) == 0 {
		return 0, fmt.Errorf("empty reply")
	}
	v, err := strconv.ParseInt(strings.TrimSpace(r.Lines[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %q as integer: %w", r.Lines[0], err)
	}
	return v, nil
}

// Display renders the reply for logs. A bare non-negative integer is shown
// with grouped digits.
func (r Reply) Display() string {
	if len(r.Lines) == 1 {
		if hz, err := strconv.ParseInt(r.Lines[0], 10, 64); err == nil && hz >= 0 {
			return spectrum.HzToDisplay(hz)
		}
	}
	return strings.Join(r.Lines, " ")
}

// WithClientLogger sets the logger for the client
func WithClientLogger(logger *slog.Logger) func(*Client) {
	return func(c *Client) {
		c.logger = logger.With(slog.String("receiver", c.address))
	}
}

// WithMetrics sets the metrics collectors for the client
func WithMetrics(m *metrics.Metrics) func(*Client) {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTimeouts sets the wait for the first reply line and the drain waits
// for any further lines of a regular and a strength reply.
func WithTimeouts(reply, drain, strengthDrain time.Duration) func(*Client) {
	return func(c *Client) {
		if reply > 0 {
			c.replyTimeout = reply
		}
		if drain > 0 {
			c.drainTimeout = drain
		}
		if strengthDrain > 0 {
			c.strengthDrainTimeout = strengthDrain
		}
	}
}

// WithDialTimeout sets the connect timeout used by Dial
func WithDialTimeout(d time.Duration) func(*Client) {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// Client is a line protocol client for a gqrx compatible receiver.
type Client struct {
	address string
	conn    net.Conn
	reader  *bufio.Reader
	pending strings.Builder

	dialTimeout          time.Duration
	replyTimeout         time.Duration
	drainTimeout         time.Duration
	strengthDrainTimeout time.Duration

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newClient(address string, options ...func(*Client)) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	c := Client{
		address:              address,
		dialTimeout:          DefaultDialTimeout,
		replyTimeout:         DefaultReplyTimeout,
		drainTimeout:         DefaultDrainTimeout,
		strengthDrainTimeout: DefaultStrengthDrainTimeout,
		logger:               logger,
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Dial connects to the receiver at address.
func Dial(ctx context.Context, address string, options ...func(*Client)) (*Client, error) {
	c := newClient(address, options...)

	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connecting to receiver at %s: %w", address, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)

	c.logger.Info("connected to receiver")
	return c, nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, options ...func(*Client)) *Client {
	c := newClient(conn.RemoteAddr().String(), options...)
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return c
}

// Address returns the receiver address.
func (c *Client) Address() string {
	return c.address
}

// Execute sends command and waits for the reply. When expect is not empty the
// joined reply must match it.
func (c *Client) Execute(ctx context.Context, command, expect string) (reply Reply, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return Reply{}, ErrClosed
	}
	if err = ctx.Err(); err != nil {
		return Reply{}, err
	}

	start := time.Now()
	defer func() {
		c.metrics.ObserveCommand(commandName(command), time.Since(start))
		if err != nil && ctx.Err() == nil {
			c.metrics.CommandError(errorKind(err))
		}
	}()

	// unblock a pending read on cancellation
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	// leftovers of a late reply to a previous command
	if n := c.reader.Buffered(); n > 0 {
		_, _ = c.reader.Discard(n)
	}
	c.pending.Reset()

	if err = c.conn.SetWriteDeadline(time.Now().Add(c.replyTimeout)); err != nil {
		return Reply{}, fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err = io.WriteString(c.conn, command+"\n"); err != nil {
		return Reply{}, fmt.Errorf("sending %q: %w", command, err)
	}

	line, err := c.readLine(ctx, c.replyTimeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Reply{}, fmt.Errorf("%w: no reply to %q within %s", ErrProtocolTimeout, command, c.replyTimeout)
		}
		return Reply{}, fmt.Errorf("reading reply to %q: %w", command, err)
	}
	reply.Lines = append(reply.Lines, line)

	drain := c.drainTimeout
	if command == cmdStrength {
		drain = c.strengthDrainTimeout
	}

	wait := drain
	for {
		if line, err = c.readLine(ctx, wait); err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				return Reply{}, fmt.Errorf("reading reply to %q: %w", command, err)
			}
			if c.pending.Len() > 0 && ctx.Err() == nil && wait != c.replyTimeout {
				wait = c.replyTimeout // a line is still in flight
				continue
			}
			break
		}
		reply.Lines = append(reply.Lines, line)
		wait = drain
	}
	if err = ctx.Err(); err != nil {
		return Reply{}, err
	}

	c.logger.Debug("command", slog.String("command", command), slog.String("reply", reply.Display()))

	if isFailure(reply.Lines[0]) {
		if isGainStage(command) {
			return reply, fmt.Errorf("%q: %w", command, ErrUnsupportedCapability)
		}
		return reply, &UnexpectedResponseError{Command: command, Expected: expect, Got: reply.String()}
	}
	if expect != "" && reply.String() != expect {
		return reply, &UnexpectedResponseError{Command: command, Expected: expect, Got: reply.String()}
	}

	return reply, nil
}

func (c *Client) readLine(ctx context.Context, wait time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", os.ErrDeadlineExceeded
	}

	for {
		chunk, err := c.reader.ReadString('\n')
		c.pending.WriteString(chunk)
		if err != nil {
			return "", err
		}

		line := strings.TrimRight(c.pending.String(), "\r\n")
		c.pending.Reset()
		if line != "" {
			return line, nil
		}
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
		c.logger.Info("disconnected from receiver")
	})
	return c.closeErr
}

func isFailure(line string) bool {
	return strings.HasPrefix(line, "RPRT ") && line != AckOK
}

func isGainStage(command string) bool {
	fields := strings.Fields(command)
	if len(fields) < 2 || (fields[0] != "L" && fields[0] != "l") {
		return false
	}
	switch fields[1] {
	case LevelRFGain, LevelIFGain, LevelBBGain:
		return true
	}
	return false
}

// commandName reduces a command to a low cardinality label, e.g. "F" or "l STRENGTH".
func commandName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case "L", "l", "U", "u":
		if len(fields) > 1 {
			return fields[0] + " " + fields[1]
		}
	}
	return fields[0]
}
