/*
Package hub contains the core logic for presence tracking, chat fanout, and
call signaling relay.

This file defines the Client struct, one per live WebSocket connection. It
runs the read and write pumps, handles heartbeats, and forwards decoded
events to the Hub's event loop.
*/
package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vidchat/internal/app/user"
	"vidchat/internal/pkg/logx"
	"vidchat/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of an inbound frame.
	maxMessageSize = 16384

	// WsCloseCodeSessionReplaced is a custom WebSocket close code
	// (4000-4999 range) signaling that a newer connection announced the
	// same identity and this session was superseded.
	WsCloseCodeSessionReplaced = 4001
)

// Conn is the subset of *websocket.Conn the Client needs. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client represents one live connection and, once announced, its user.
type Client struct {
	// hub is the event loop this connection belongs to.
	hub *Hub

	// underlying WebSocket connection.
	conn Conn

	// connID is the opaque per-session identifier issued at attach time.
	// Never reused after close.
	connID string

	// user is the announced identity. Owned by the hub loop: written in
	// setIdentity, read by chat and signaling handlers on the same loop.
	user user.User

	// announced reports whether an identity has been announced. Owned by
	// the hub loop.
	announced bool

	// send queues outbound frames for the write pump.
	send chan []byte

	// sendClosed guards closeSend idempotence on the hub loop.
	sendClosed bool

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewClient constructs a Client with a fresh connection id.
func NewClient(h *Hub, conn Conn) *Client {
	connID := randx.ConnectionID()

	clientLogger := logx.Logger().With().
		Str("conn_id", connID).
		Logger()

	return &Client{
		hub:    h,
		conn:   conn,
		connID: connID,
		send:   make(chan []byte, 256),
		logger: clientLogger,
	}
}

// ConnID returns the connection identifier.
func (c *Client) ConnID() string {
	return c.connID
}

// identityFromAnnounce builds the User snapshot for this connection from an
// announce payload, defaulting the avatar reference when absent.
func (c *Client) identityFromAnnounce(p AnnouncePayload) user.User {
	avatar := p.AvatarRef
	if avatar == "" {
		avatar = randx.DefaultAvatarURL(p.DisplayName)
	}

	return user.User{
		ID:       p.ID,
		Username: p.DisplayName,
		Avatar:   avatar,
	}
}

// setIdentity records the announced identity. Hub loop only.
func (c *Client) setIdentity(u user.User) {
	c.user = u
	c.announced = true
}

// closeSend closes the send channel exactly once. Hub loop only.
func (c *Client) closeSend() {
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// ReadPump reads frames from the connection, handles heartbeats, and posts
// decoded events to the hub. It exits on any read error and triggers cleanup.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (client close/going away)")
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(messageBytes, &env); err != nil {
			c.logger.Warn().Err(err).
				Bytes("message_bytes", messageBytes).
				Msg("Client sent invalid JSON")
			continue
		}

		select {
		case c.hub.inbound <- inboundEvent{client: c, env: env}:
		case <-c.hub.stopChan:
			return
		}
	}
}

// cleanupOnDisconnect notifies the hub and closes the connection when the
// read pump terminates.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	c.hub.Detach(c)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// WritePump writes queued frames to the connection and keeps the heartbeat
// alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage writes one queued frame. Returns false when the write
// pump should terminate.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a heartbeat ping. Returns false on write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// Kick closes the connection with a session-replaced close frame. The frame
// goes out through WriteControl, which gorilla allows concurrently with the
// write pump. The actual unregister happens through this connection's own
// close, preserving the rule that a stale presence entry is removed only
// when its connection dies.
func (c *Client) Kick(reason string) {
	c.logger.Warn().
		Int("close_code", WsCloseCodeSessionReplaced).
		Str("reason", reason).
		Msg("Sending session-replaced close frame.")

	closeMessage := websocket.FormatCloseMessage(
		WsCloseCodeSessionReplaced,
		reason,
	)

	if err := c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(writeWait)); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send session-replaced close frame.")
	}
}
