package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// DefaultBackoff is the wait before redialing a dropped connection.
const DefaultBackoff = 2 * time.Second

var (
	ErrClosed       = errors.New("relay client closed")
	ErrDisconnected = errors.New("relay not connected")
)

// Handler receives every publish frame on a subscribed topic, verbatim.
// Handlers run on the client's read goroutine.
type Handler func(frame []byte)

// ClientOptions configures a Client. Zero values pick defaults.
type ClientOptions struct {
	Backoff time.Duration
	Clock   clockwork.Clock
	Log     logrus.FieldLogger
	// OnConnect runs after every successful (re)connect, once topics
	// have been resubscribed.
	OnConnect func()
}

// Client is a relay connection that redials on its own until closed.
type Client struct {
	url     string
	backoff time.Duration
	clock   clockwork.Clock
	log     logrus.FieldLogger
	onConn  func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	ws       *websocket.Conn
	handlers map[string]Handler
}

// Dial connects to the relay at url. The first dial must succeed; later
// drops are redialed every backoff until Close.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:      url,
		backoff:  opts.Backoff,
		clock:    opts.Clock,
		log:      opts.Log.WithField("relay", url),
		onConn:   opts.OnConnect,
		ctx:      cctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		ws:       ws,
		handlers: make(map[string]Handler),
	}
	go c.run(ws)
	if c.onConn != nil {
		c.onConn()
	}
	return c, nil
}

// run reads from the current connection and redials whenever it drops.
func (c *Client) run(ws *websocket.Conn) {
	defer close(c.done)
	for {
		err := c.readLoop(ws)
		if c.ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		c.log.WithError(err).Warnf("Relay connection lost; reconnecting in %s", c.backoff)

		for {
			select {
			case <-c.ctx.Done():
				return
			case <-c.clock.After(c.backoff):
			}
			dctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
			ws, _, err = websocket.Dial(dctx, c.url, nil)
			cancel()
			if err == nil {
				break
			}
			if c.ctx.Err() != nil {
				return
			}
			c.log.WithError(err).Debug("Relay redial failed")
		}
		if c.ctx.Err() != nil {
			_ = ws.Close(websocket.StatusNormalClosure, "")
			return
		}

		if err := c.resubscribe(ws); err != nil {
			c.log.WithError(err).Warn("Resubscribe failed")
		}
		c.log.Info("Relay reconnected")
		if c.onConn != nil {
			c.onConn()
		}
	}
}

// resubscribe installs ws as the current connection and subscribes it to
// every topic with a handler.
func (c *Client) resubscribe(ws *websocket.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws = ws
	if len(c.handlers) == 0 {
		return nil
	}
	topics := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		topics = append(topics, t)
	}
	return ws.Write(c.ctx, websocket.MessageText, encodeFrame(Frame{Type: TypeSubscribe, Topics: topics}))
}

func (c *Client) readLoop(ws *websocket.Conn) error {
	for {
		typ, b, err := ws.Read(c.ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		f, err := ParseFrame(b)
		if err != nil || f.Type != TypePublish {
			continue
		}
		c.mu.Lock()
		h := c.handlers[f.Topic]
		c.mu.Unlock()
		if h != nil {
			h(b)
		}
	}
}

// write sends one frame on the current connection.
func (c *Client) write(ctx context.Context, b []byte) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if ws == nil {
		return ErrDisconnected
	}
	return ws.Write(ctx, websocket.MessageText, b)
}

// Subscribe routes publish frames on topic to h, replacing any previous
// handler. The subscription survives reconnects.
func (c *Client) Subscribe(ctx context.Context, topic string, h Handler) error {
	c.mu.Lock()
	c.handlers[topic] = h
	c.mu.Unlock()
	err := c.write(ctx, encodeFrame(Frame{Type: TypeSubscribe, Topics: []string{topic}}))
	if errors.Is(err, ErrDisconnected) {
		return nil // sent on reconnect
	}
	return err
}

// Unsubscribe stops delivery for topic.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.handlers, topic)
	c.mu.Unlock()
	err := c.write(ctx, encodeFrame(Frame{Type: TypeUnsubscribe, Topics: []string{topic}}))
	if errors.Is(err, ErrDisconnected) {
		return nil
	}
	return err
}

// Publish sends payload's fields to the other subscribers of topic.
// Nothing is queued while disconnected.
func (c *Client) Publish(ctx context.Context, topic string, payload any) error {
	b, err := EncodePublish(topic, payload)
	if err != nil {
		return err
	}
	return c.write(ctx, b)
}

// Ping sends a liveness ping frame; the relay answers with pong.
func (c *Client) Ping(ctx context.Context) error {
	return c.write(ctx, encodeFrame(Frame{Type: TypePing}))
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Close disconnects for good and waits for the read loop to exit.
func (c *Client) Close() error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	c.cancel()
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		if err := ws.Close(websocket.StatusNormalClosure, ""); err != nil {
			c.log.WithError(err).Debug("Relay close")
		}
	}
	<-c.done
	return nil
}
