/*
Package client is the Go-side counterpart of the WebSocket handler: it
dials the server, announces an identity, exchanges chat and presence
events, and bridges call signaling to an internal/call Machine by
implementing call.Signaler.
*/
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vidchat/internal/app/hub"
	"vidchat/internal/app/user"
	"vidchat/internal/call"
	"vidchat/internal/pkg/logx"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendQueueSize = 64
)

// ErrClosed is returned by send operations after the connection is gone.
var ErrClosed = errors.New("client connection closed")

// Handlers receives server events. Nil fields are skipped. They are invoked
// from the client's read goroutine, one at a time.
type Handlers struct {
	OnChatLog     func([]hub.Message)
	OnChatMessage func(hub.Message)
	OnPresence    func([]user.User)
	OnUserJoined  func(user.User)
	OnUserLeft    func(user.User)
	OnServerError func(hub.ErrorPayload)
}

// Config describes one client session.
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Token is the bearer credential from /api/login.
	Token string
	// Self is the identity announced after connecting.
	Self user.User

	Handlers Handlers
}

// Client is one live session. Safe for concurrent use; outbound events are
// funneled through a single writer goroutine.
type Client struct {
	cfg    Config
	conn   *websocket.Conn
	logger zerolog.Logger

	send chan []byte
	done chan struct{}
	once sync.Once

	mu    sync.RWMutex
	calls *call.Machine
}

// Dial connects, starts the pumps, and announces the configured identity.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", cfg.Token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		cfg:    cfg,
		conn:   conn,
		logger: logx.Logger().With().Str("component", "client").Str("userID", cfg.Self.ID).Logger(),
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()

	if err := c.enqueue(hub.EventAnnounceIdentity, hub.AnnouncePayload{
		ID:          cfg.Self.ID,
		DisplayName: cfg.Self.Username,
		AvatarRef:   cfg.Self.Avatar,
	}); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// BindCalls routes incoming call-* events into m. The machine should use
// this client as its Signaler.
func (c *Client) BindCalls(m *call.Machine) {
	c.mu.Lock()
	c.calls = m
	c.mu.Unlock()
}

// Done is closed when the session ends, for whatever reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close tears the connection down. Idempotent.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

// SendChat sends one chat message.
func (c *Client) SendChat(text string) error {
	return c.enqueue(hub.EventSendChat, hub.SendChatPayload{Text: text})
}

// SendInitiate implements call.Signaler.
func (c *Client) SendInitiate(toUserID string, offer json.RawMessage) error {
	return c.enqueue(hub.EventCallInitiate, hub.CallInitiatePayload{To: toUserID, Offer: offer})
}

// SendAnswer implements call.Signaler. originConnID addresses the exact
// connection the call-initiate came from.
func (c *Client) SendAnswer(originConnID string, answer json.RawMessage) error {
	return c.enqueue(hub.EventCallAnswer, hub.CallAnswerPayload{To: originConnID, Answer: answer})
}

// SendCandidate implements call.Signaler.
func (c *Client) SendCandidate(toUserID string, candidate json.RawMessage) error {
	return c.enqueue(hub.EventICECandidate, hub.ICECandidatePayload{To: toUserID, Candidate: candidate})
}

// SendReject implements call.Signaler.
func (c *Client) SendReject(toUserID string) error {
	return c.enqueue(hub.EventCallReject, hub.CallControlPayload{To: toUserID})
}

// SendEnd implements call.Signaler.
func (c *Client) SendEnd(toUserID string) error {
	return c.enqueue(hub.EventCallEnd, hub.CallControlPayload{To: toUserID})
}

func (c *Client) enqueue(t hub.EventType, payload any) error {
	data, err := hub.EncodeEvent(t, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("connection closed")
			}
			return
		}

		var env hub.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("malformed event dropped")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env hub.Envelope) {
	h := c.cfg.Handlers

	switch env.Type {
	case hub.EventChatLog:
		var log []hub.Message
		if c.decode(env, &log) && h.OnChatLog != nil {
			h.OnChatLog(log)
		}
	case hub.EventChatMessage:
		var msg hub.Message
		if c.decode(env, &msg) && h.OnChatMessage != nil {
			h.OnChatMessage(msg)
		}
	case hub.EventPresenceList:
		var users []user.User
		if c.decode(env, &users) && h.OnPresence != nil {
			h.OnPresence(users)
		}
	case hub.EventUserJoined:
		var p hub.UserEventPayload
		if c.decode(env, &p) && h.OnUserJoined != nil {
			h.OnUserJoined(p.User)
		}
	case hub.EventUserLeft:
		var p hub.UserEventPayload
		if c.decode(env, &p) && h.OnUserLeft != nil {
			h.OnUserLeft(p.User)
		}
	case hub.EventError:
		var p hub.ErrorPayload
		if c.decode(env, &p) {
			c.logger.Warn().Int("code", p.Code).Str("message", p.Message).Msg("server error")
			if h.OnServerError != nil {
				h.OnServerError(p)
			}
		}
	case hub.EventCallInitiate:
		var p hub.CallInviteForward
		if m := c.machine(); m != nil && c.decode(env, &p) {
			m.HandleInitiate(call.Invite{From: p.From, Origin: p.Origin, Offer: p.Offer})
		}
	case hub.EventCallAnswer:
		var p hub.CallAnswerForward
		if m := c.machine(); m != nil && c.decode(env, &p) {
			m.HandleAnswer(p.Origin, p.Answer)
		}
	case hub.EventICECandidate:
		var p hub.ICECandidateForward
		if m := c.machine(); m != nil && c.decode(env, &p) {
			m.HandleCandidate(p.Candidate)
		}
	case hub.EventCallReject:
		var p hub.CallControlForward
		if m := c.machine(); m != nil && c.decode(env, &p) {
			m.HandleReject(p.Origin)
		}
	case hub.EventCallEnd:
		var p hub.CallControlForward
		if m := c.machine(); m != nil && c.decode(env, &p) {
			m.HandleEnd(p.Origin)
		}
	default:
		c.logger.Debug().Str("type", string(env.Type)).Msg("unhandled event")
	}
}

func (c *Client) decode(env hub.Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		c.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("bad payload dropped")
		return false
	}
	return true
}

func (c *Client) machine() *call.Machine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls
}
