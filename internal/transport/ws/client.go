// Package ws implements the websocket transport the chat client runs on.
// Traffic is newline-delimited JSON envelopes: the client sends subscribe
// and publish envelopes, the broker pushes deliver envelopes back.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/davidmoi2135/chat/internal/platform/timeouts"
)

const (
	EnvelopeSubscribe = "subscribe"
	EnvelopePublish   = "publish"
	EnvelopeDeliver   = "deliver"
)

// Envelope is the wire framing shared by client and broker.
type Envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client is a topic-oriented websocket connection. Subscribe handlers are
// invoked sequentially from a single read goroutine.
type Client struct {
	url    string
	origin string
	logf   func(format string, args ...any)

	mu       sync.Mutex
	conn     *websocket.Conn
	encoder  *json.Encoder
	handlers map[string]func(data []byte)
	closed   bool

	readDone chan struct{}
}

// Option adjusts a Client.
type Option func(*Client)

// WithLogf overrides the diagnostic logger.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(c *Client) { c.logf = logf }
}

// NewClient builds a client for the given ws:// or wss:// URL. The
// connection is established by Connect.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:      url,
		origin:   "http://localhost/",
		logf:     log.Printf,
		handlers: make(map[string]func(data []byte)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the broker and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg, err := websocket.NewConfig(c.url, c.origin)
	if err != nil {
		return fmt.Errorf("websocket config: %w", err)
	}
	cfg.Dialer = &net.Dialer{Timeout: timeouts.Dial}

	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.encoder = json.NewEncoder(conn)
	c.closed = false
	c.readDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Subscribe registers a handler and tells the broker to deliver the topic.
func (c *Client) Subscribe(topic string, handler func(data []byte)) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return errors.New("not connected")
	}
	c.handlers[topic] = handler
	c.mu.Unlock()

	return c.write(Envelope{Type: EnvelopeSubscribe, Topic: topic})
}

// Publish sends a payload to a topic. Delivery is fire-and-forget: the
// broker does not acknowledge publishes.
func (c *Client) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	return c.write(Envelope{Type: EnvelopePublish, Topic: topic, Payload: data})
}

// Disconnect closes the connection and waits for the read loop to drain.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	done := c.readDone
	c.mu.Unlock()

	err := conn.Close()
	<-done
	if err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

func (c *Client) write(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.encoder == nil {
		return errors.New("not connected")
	}
	return c.encoder.Encode(env)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.readDone)

	decoder := json.NewDecoder(conn)
	for {
		var env Envelope
		if err := decoder.Decode(&env); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed && !errors.Is(err, io.EOF) {
				c.logf("ws read loop ended: %v", err)
			}
			return
		}

		if env.Type != EnvelopeDeliver {
			continue
		}

		c.mu.Lock()
		handler := c.handlers[env.Topic]
		c.mu.Unlock()
		if handler == nil {
			continue
		}
		handler(env.Payload)
	}
}
