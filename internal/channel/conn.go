package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/shared"
)

const writeTimeout = 10 * time.Second

// Conn is a websocket [Channel] with automatic reconnect.
//
// A single reader goroutine decodes frames and invokes handlers. When the connection drops it
// reports OnDisconnect, redials with exponential backoff, replays the last announcement and then
// reports OnConnect. If the backoff gives up it reports a final OnDisconnect and stops.
type Conn struct {
	opts   Options
	dialer *websocket.Dialer
	logger *log.Logger

	mu           sync.Mutex
	ws           *websocket.Conn
	last         *Announcement
	onFrame      func(models.ProgressFrame)
	onConnect    func()
	onDisconnect func(error)

	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
}

// Dial opens a websocket channel to opts.URL and starts its reader.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	c := &Conn{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout, Proxy: websocket.DefaultDialer.Proxy},
		logger: shared.WithLogger(opts.Logger, "component", "channel"),
		done:   make(chan struct{}),
	}

	ws, err := c.dial(ctx)
	if err != nil {
		return nil, &shared.ChannelError{Err: err}
	}
	c.ws = ws

	c.logger.Debug("channel connected", "url", opts.URL)
	go c.readLoop(ws)
	return c, nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", c.opts.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return ws, nil
}

func (c *Conn) OnFrame(fn func(models.ProgressFrame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = fn
}

func (c *Conn) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

func (c *Conn) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// Announce sends the task event and remembers it for replay.
//
// A write failure is returned but the announcement is kept: the reader will notice the broken
// connection, reconnect and replay it.
func (c *Conn) Announce(ctx context.Context, a Announcement) error {
	if c.closed.Load() {
		return &shared.ChannelError{Err: net.ErrClosed}
	}

	c.mu.Lock()
	c.last = &a
	ws := c.ws
	c.mu.Unlock()

	if err := c.send(ctx, ws, a); err != nil {
		return &shared.ChannelError{Err: err}
	}
	c.logger.Debug("task announced", "task_id", a.TaskID)
	return nil
}

func (c *Conn) send(ctx context.Context, ws *websocket.Conn, a Announcement) error {
	msg, err := encode(EventTask, a)
	if err != nil {
		return fmt.Errorf("failed to encode announcement: %w", err)
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(deadline)
	return ws.WriteMessage(websocket.TextMessage, msg)
}

// Close stops the reader and closes the socket. Safe to call from within a handler.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	c.logger.Debug("channel closed")
	if err := ws.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return &shared.ChannelError{Err: err}
	}
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			c.logger.Warn("channel disconnected", "error", err)
			ws.Close()
			c.notifyDisconnect(&shared.ChannelError{Err: err})

			next, rerr := c.reconnect()
			if rerr != nil {
				if !c.closed.Load() {
					c.logger.Error("channel reconnect abandoned", "error", rerr)
					c.notifyDisconnect(&shared.ChannelError{Err: fmt.Errorf("reconnect abandoned: %w", rerr)})
				}
				return
			}
			ws = next
			c.notifyConnect()
			continue
		}

		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("discarding malformed message", "error", err)
		return
	}
	if env.Event != EventProgress {
		c.logger.Debug("ignoring event", "event", env.Event)
		return
	}

	var frame models.ProgressFrame
	if err := json.Unmarshal(env.Data, &frame); err != nil {
		c.logger.Warn("discarding malformed progress frame", "error", err)
		return
	}

	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	fn := c.onFrame
	c.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

// reconnect redials with exponential backoff until it succeeds, the backoff gives up, or the channel closes.
func (c *Conn) reconnect() (*websocket.Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.opts.ReconnectInitial
	expBackoff.MaxElapsedTime = c.opts.ReconnectMaxElapsed

	var ws *websocket.Conn
	operation := func() error {
		if c.closed.Load() {
			return net.ErrClosed
		}
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}

		c.mu.Lock()
		last := c.last
		c.mu.Unlock()
		if last != nil {
			if err := c.send(ctx, conn, *last); err != nil {
				conn.Close()
				return fmt.Errorf("failed to replay announcement: %w", err)
			}
		}
		ws = conn
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("channel reconnect failed", "error", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), notify); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		ws.Close()
		return nil, net.ErrClosed
	}
	c.ws = ws
	c.mu.Unlock()

	c.logger.Info("channel reconnected", "url", c.opts.URL)
	return ws, nil
}

func (c *Conn) notifyDisconnect(err error) {
	c.mu.Lock()
	fn := c.onDisconnect
	c.mu.Unlock()
	if fn != nil && !errors.Is(err, net.ErrClosed) {
		fn(err)
	}
}

func (c *Conn) notifyConnect() {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	fn := c.onConnect
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
