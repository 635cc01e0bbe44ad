package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/larder/internal/bus"
)

const (
	pingInterval = 30 * time.Second
	pingTimeout  = 60 * time.Second
)

// Client pumps one household's event stream over a single WebSocket
// connection. The subscription is released the moment the connection closes;
// no orphaned subscriptions persist after a disconnect.
type Client struct {
	sub  *bus.Subscription
	conn *ws.Conn
}

// NewClient creates a Client for an established connection and subscription.
func NewClient(sub *bus.Subscription, conn *ws.Conn) *Client {
	return &Client{sub: sub, conn: conn}
}

// Run starts the write pump and runs the read pump. It blocks until the
// connection closes, then closes the subscription.
func (c *Client) Run(ctx context.Context) {
	defer c.sub.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx, cancel)
	c.readPump(ctx)
}

// readPump reads and discards incoming messages. The stream is one-way; the
// read loop exists only to notice the peer going away.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
	}
}

// writePump drains the subscription and writes events to the WebSocket,
// pinging periodically to detect stale connections.
func (c *Client) writePump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sub.C():
			if !ok {
				// Subscription ended: slow-consumer drop or shutdown.
				c.conn.Close(ws.StatusTryAgainLater, "resubscribe and re-fetch state")
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
			err := c.conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
