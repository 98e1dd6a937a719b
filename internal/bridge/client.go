package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/starford/reliefnet/internal/apperr"
)

// Client is the console side of the bridge. It keeps reconnecting to the hub
// and exposes Send for operator commands.
type Client struct {
	addr   string
	retry  time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewClient returns a client for the hub bridge at addr.
func NewClient(addr string, retry time.Duration, logger *slog.Logger) *Client {
	if retry <= 0 {
		retry = 3 * time.Second
	}
	return &Client{addr: addr, retry: retry, logger: logger}
}

// Connected reports whether a hub connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one command to the hub.
func (c *Client) Send(cmd Command) error {
	if cmd.Kind == "" {
		cmd.Kind = DefaultCommandKind
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return apperr.ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return WriteLine(c.conn, cmd)
}

// Run connects, streams events to onEvent, and reconnects after failures
// until ctx is cancelled. onState is called on every connect/disconnect.
func (c *Client) Run(ctx context.Context, onEvent func(Event), onState func(connected bool)) error {
	for {
		err := c.session(ctx, onEvent, onState)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("bridge: hub connection lost, retrying",
			slog.String("addr", c.addr),
			slog.Duration("retry", c.retry),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.retry):
		}
	}
}

func (c *Client) session(ctx context.Context, onEvent func(Event), onState func(bool)) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("bridge: dial %s: %w", c.addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	if onState != nil {
		onState(true)
	}
	c.logger.Info("bridge: connected to hub", slog.String("addr", c.addr))

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		if onState != nil {
			onState(false)
		}
	}()

	err = ScanLines(ctx, conn, func(ev Event) error {
		onEvent(ev)
		return nil
	}, func(line string, err error) {
		c.logger.Debug("bridge: skipping bad event line", slog.String("error", err.Error()))
	})
	if err != nil {
		return err
	}
	return fmt.Errorf("bridge: hub closed the connection")
}
