// -----------------------------------------------------------------------
// Feed Client - Single long-lived websocket connection to the job feed
// -----------------------------------------------------------------------

package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/fancymatt/life-os-sub005/internal/interfaces"
	"github.com/fancymatt/life-os-sub005/internal/models"
)

// Client owns exactly one push connection to the server's job event feed.
// Every inbound message is a full job snapshot, decoded and handed to the
// publisher synchronously. A message that fails to decode is logged and
// dropped; a connection-level error is terminal for this client instance
// and surfaced exactly once. Reconnection is the owner's decision - a new
// instance is dialed, this one is discarded.
type Client struct {
	instanceID string
	publisher  interfaces.Publisher
	logger     arbor.ILogger
	onError    func(error)

	mu       sync.Mutex
	conn     *websocket.Conn
	dialed   bool
	closed   bool
	err      error
	failOnce sync.Once
	done     chan struct{}
}

// NewClient creates an undailed feed client. onError may be nil.
func NewClient(publisher interfaces.Publisher, logger arbor.ILogger, onError func(error)) *Client {
	return &Client{
		instanceID: uuid.New().String(),
		publisher:  publisher,
		logger:     logger,
		onError:    onError,
		done:       make(chan struct{}),
	}
}

// InstanceID returns the unique id generated for this channel instance
func (c *Client) InstanceID() string {
	return c.instanceID
}

// Dial opens the websocket connection and starts the read loop
func (c *Client) Dial(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.dialed {
		c.mu.Unlock()
		return fmt.Errorf("feed client already dialed")
	}
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("feed client closed")
	}
	c.dialed = true
	c.mu.Unlock()

	// The handshake can stall on a slow server; it must not hold the lock,
	// or Err and Close would block behind it.
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		c.mu.Lock()
		c.dialed = false
		c.mu.Unlock()
		if resp != nil {
			return fmt.Errorf("failed to dial job feed %s (status %d): %w", url, resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial job feed %s: %w", url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("feed client closed")
	}
	c.conn = conn
	defer c.mu.Unlock()

	c.logger.Debug().
		Str("instance_id", c.instanceID).
		Str("url", url).
		Msg("Job feed connected")

	go c.readLoop(conn)

	return nil
}

// Done is closed once the connection has terminated, for any reason
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal connection error, or nil after a clean Close
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the connection down. Idempotent. Only the owning provider
// may call it - widgets share the connection read-only.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	// Never dialed: mark done so waiters are released.
	c.failOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		job, err := models.ParseJob(data)
		if err != nil {
			// Per-message decode failures are non-fatal: log and keep reading.
			c.logger.Warn().
				Err(err).
				Int("bytes", len(data)).
				Msg("Dropping undecodable feed message")
			continue
		}

		c.publisher.Publish(job)
	}
}

// fail records the terminal error (once) and releases Done waiters.
// A read error after Close is the expected shutdown path, not a failure.
func (c *Client) fail(err error) {
	c.mu.Lock()
	closed := c.closed
	if !closed && c.err == nil {
		c.err = err
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	c.failOnce.Do(func() {
		if !closed {
			c.logger.Warn().
				Err(err).
				Str("instance_id", c.instanceID).
				Msg("Job feed connection terminated")
			if c.onError != nil {
				c.onError(err)
			}
		}
		close(c.done)
	})
}
