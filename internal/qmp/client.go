package qmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"aurora-vcpu-pin/internal/model"
)

const (
	CommandCapabilities  = "qmp_capabilities"
	CommandQueryCPUsFast = "query-cpus-fast"
	// CommandQueryCPUs was removed in QEMU 6.0.
	CommandQueryCPUs = "query-cpus"

	ErrorClassCommandNotFound = "CommandNotFound"
)

var ErrUnexpectedGreeting = errors.New("qmp: unexpected greeting")

type Version struct {
	QEMU struct {
		Major int `json:"major"`
		Minor int `json:"minor"`
		Micro int `json:"micro"`
	} `json:"qemu"`
	Package string `json:"package"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.QEMU.Major, v.QEMU.Minor, v.QEMU.Micro)
}

type greeting struct {
	QMP *struct {
		Version      Version  `json:"version"`
		Capabilities []string `json:"capabilities"`
	} `json:"QMP"`
}

type request struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
	ID        string `json:"id"`
}

type message struct {
	ID     string          `json:"id,omitempty"`
	Return json.RawMessage `json:"return,omitempty"`
	Error  *CommandError   `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
}

// CommandError is an error reply from the QMP server.
type CommandError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("qmp %s: %s", e.Class, e.Desc)
}

// Client speaks QMP over a single stream connection. Commands are issued
// one at a time. Messages are framed by the JSON decoder rather than by
// newlines, so monitors started with pretty=on are read correctly.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	dec     *json.Decoder
	logger  *slog.Logger
	version Version
}

// Dial connects to a QMP listener at addr (host:port) and completes the
// capabilities handshake. A zero timeout leaves the dial unbounded.
func Dial(ctx context.Context, addr string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("qmp connect %s: %w", addr, err)
	}
	c, err := NewClient(ctx, conn, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient reads the server greeting from conn and negotiates capabilities.
func NewClient(ctx context.Context, conn net.Conn, logger *slog.Logger) (*Client, error) {
	c := &Client{
		conn:   conn,
		dec:    json.NewDecoder(conn),
		logger: logger,
	}

	stop := c.watch(ctx)
	raw, err := c.next()
	stop()
	if isSyntaxError(err) {
		return nil, fmt.Errorf("qmp invalid greeting: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("qmp greeting read failed: %w", err)
	}
	var g greeting
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("qmp invalid greeting: %w", err)
	}
	if g.QMP == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedGreeting, truncate(raw))
	}
	c.version = g.QMP.Version

	if _, err := c.Execute(ctx, CommandCapabilities, nil); err != nil {
		return nil, fmt.Errorf("qmp capabilities: %w", err)
	}
	c.logger.Debug("qmp connected", "remote", conn.RemoteAddr().String(), "qemu_version", c.version.String())
	return c, nil
}

func (c *Client) Version() Version {
	return c.version
}

// Execute sends one command and waits for its reply, skipping any
// asynchronous events that arrive first.
func (c *Client) Execute(ctx context.Context, command string, args any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New().String()
	data, err := json.Marshal(request{Execute: command, Arguments: args, ID: id})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", command, err)
	}
	data = append(data, '\n')

	stop := c.watch(ctx)
	defer stop()

	if _, err := c.conn.Write(data); err != nil {
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	for {
		raw, err := c.next()
		if isSyntaxError(err) {
			return nil, fmt.Errorf("invalid %s response: %w", command, err)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", command, err)
		}
		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid %s response: %w", command, err)
		}
		if msg.Event != "" {
			c.logger.Debug("qmp event skipped", "event", msg.Event)
			continue
		}
		if msg.ID != id {
			c.logger.Debug("qmp reply with foreign id skipped", "id", msg.ID)
			continue
		}
		if msg.Error != nil {
			return nil, msg.Error
		}
		if msg.Return == nil {
			return nil, fmt.Errorf("%s response has no return value", command)
		}
		return msg.Return, nil
	}
}

// QueryVCPUs lists the guest vCPUs with their backing host thread ids.
// Servers older than query-cpus-fast get the legacy query-cpus instead.
func (c *Client) QueryVCPUs(ctx context.Context) ([]model.VCPU, error) {
	raw, err := c.Execute(ctx, CommandQueryCPUsFast, nil)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Class == ErrorClassCommandNotFound {
		c.logger.Debug("query-cpus-fast unsupported, using query-cpus", "qemu_version", c.version.String())
		raw, err = c.Execute(ctx, CommandQueryCPUs, nil)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Debug("qmp vcpu reply", "raw", string(raw))
	return DecodeCPUs(raw)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// next reads one complete JSON value from the stream, whatever its layout.
func (c *Client) next() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func isSyntaxError(err error) bool {
	var syn *json.SyntaxError
	return errors.As(err, &syn)
}

// watch expires the connection deadline when ctx ends, unblocking any
// pending read or write.
func (c *Client) watch(ctx context.Context) func() {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	return func() {
		stop()
		_ = c.conn.SetDeadline(time.Time{})
	}
}

func truncate(b []byte) string {
	const limit = 120
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
