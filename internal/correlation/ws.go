package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait        = 10 * time.Second
	wsHandshakeTimeout = 10 * time.Second
)

// WSChannel is a Channel over a websocket connection. Frames travel as JSON
// text messages. Writes are serialized; the session's read loop is the only
// reader.
type WSChannel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
}

// DialWS opens a websocket channel to a ws:// or wss:// endpoint.
func DialWS(ctx context.Context, endpoint string) (Channel, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return NewWSChannel(conn), nil
}

// NewWSChannel wraps an established connection, e.g. one accepted by an
// upgrader on the server side.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn, logger: slog.Default()}
}

// Send writes one frame. The ctx deadline, when earlier than the default
// write wait, bounds the write.
func (c *WSChannel) Send(ctx context.Context, frame *Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Receive blocks for the next decodable frame. Non-text messages and
// frames that fail to decode are skipped; a single junk message from the
// remote must not terminate the channel.
func (c *WSChannel) Receive() (*Frame, error) {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.logger.Debug("discarding undecodable frame", "error", err)
			continue
		}
		return &frame, nil
	}
}

// Close closes the underlying connection, which unblocks Receive.
func (c *WSChannel) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
