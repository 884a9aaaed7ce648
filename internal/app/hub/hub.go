/*
Package hub contains the core logic for presence tracking, chat fanout, and
call signaling relay.

This file defines the Hub, the single event loop that owns the Registry, the
MessageLog, and the set of attached connections. Every inbound event is
handled to completion before the next, so registry and log mutation needs no
locking and no client ever observes a partially applied join or leave.
*/
package hub

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"vidchat/internal/pkg/errs"
	"vidchat/internal/pkg/logx"
)

const (
	// buffer for the inbound event channel shared by all connections.
	inboundChannelBuffer = 1024

	// MaxContentBytes is the maximum allowed size for chat message text.
	MaxContentBytes = 5000
)

// inboundEvent pairs a decoded envelope with the connection it arrived on.
type inboundEvent struct {
	client *Client
	env    Envelope
}

// Hub is the central coordinator: one instance per server process.
// All state it owns is process-lifetime only and mutated solely on Run's
// goroutine.
type Hub struct {
	// registry is the Connection/User association (who is online).
	registry *Registry

	// log is the ordered chat history replayed to new joiners.
	log *MessageLog

	// conns holds every attached connection, keyed by connection id.
	// Includes connections that have not announced an identity yet.
	conns map[string]*Client

	// attach and detach queue connection lifecycle changes.
	attach chan *Client
	detach chan *Client

	// inbound queues decoded client events.
	inbound chan inboundEvent

	// stopChan signals the Run loop to terminate.
	stopChan chan struct{}

	// doneChan is closed when the Run loop has finished.
	doneChan chan struct{}

	// structured logger with hub context.
	logger zerolog.Logger
}

// NewHub constructs a Hub. Call Run on its own goroutine to start it.
func NewHub() *Hub {
	hubLogger := logx.Logger().With().Str("component", "hub").Logger()

	return &Hub{
		registry: NewRegistry(),
		log:      NewMessageLog(),
		conns:    make(map[string]*Client),
		attach:   make(chan *Client),
		detach:   make(chan *Client),
		inbound:  make(chan inboundEvent, inboundChannelBuffer),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		logger:   hubLogger,
	}
}

// Run is the main event loop. It owns all hub state until Shutdown.
func (h *Hub) Run() {
	defer close(h.doneChan)

	for {
		select {
		case client := <-h.attach:
			h.handleAttach(client)

		case client := <-h.detach:
			h.handleDetach(client)

		case evt := <-h.inbound:
			h.handleInbound(evt.client, evt.env)

		case <-h.stopChan:
			h.logger.Info().Msg("Hub stop initiated.")
			for _, client := range h.conns {
				client.closeSend()
			}
			h.conns = make(map[string]*Client)
			return
		}
	}
}

// Shutdown stops the Run loop and waits for it to finish.
func (h *Hub) Shutdown() {
	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}
	<-h.doneChan
	h.logger.Info().Msg("Hub shutdown complete.")
}

// Attach queues a new connection for the event loop.
func (h *Hub) Attach(client *Client) {
	select {
	case h.attach <- client:
	case <-h.stopChan:
	}
}

// Detach queues a connection removal for the event loop.
func (h *Hub) Detach(client *Client) {
	select {
	case h.detach <- client:
	case <-h.stopChan:
	}
}

func (h *Hub) handleAttach(client *Client) {
	h.conns[client.connID] = client
	h.logger.Info().
		Str("conn_id", client.connID).
		Int("total_conns", len(h.conns)).
		Msg("Connection attached.")
}

// handleDetach removes a closed connection and, if it had announced an
// identity, emits user-left plus a fresh presence snapshot to the remaining
// connections.
func (h *Hub) handleDetach(client *Client) {
	if current, ok := h.conns[client.connID]; !ok || current != client {
		return
	}

	delete(h.conns, client.connID)
	client.closeSend()

	removed, had := h.registry.Unregister(client.connID)
	h.logger.Info().
		Str("conn_id", client.connID).
		Bool("was_registered", had).
		Int("total_conns", len(h.conns)).
		Msg("Connection detached.")

	if !had {
		return
	}

	h.broadcastEvent(EventUserLeft, UserEventPayload{User: removed}, "")
	h.broadcastEvent(EventPresenceList, h.registry.Snapshot(), "")
}

// handleInbound dispatches one decoded client event.
func (h *Hub) handleInbound(client *Client, env Envelope) {
	switch env.Type {
	case EventAnnounceIdentity:
		h.handleAnnounce(client, env.Payload)

	case EventSendChat:
		h.handleSendChat(client, env.Payload)

	case EventCallInitiate:
		h.relayCallInitiate(client, env.Payload)

	case EventCallAnswer:
		h.relayCallAnswer(client, env.Payload)

	case EventICECandidate:
		h.relayICECandidate(client, env.Payload)

	case EventCallReject:
		h.relayCallControl(client, EventCallReject, env.Payload)

	case EventCallEnd:
		h.relayCallControl(client, EventCallEnd, env.Payload)

	default:
		h.logger.Warn().
			Str("conn_id", client.connID).
			Str("event_type", string(env.Type)).
			Msg("Client sent unsupported event type.")
	}
}

// handleAnnounce creates the presence entry for this connection and pushes
// the initial state: user-joined to everyone else, the chat log replay to the
// joiner, then the post-join presence snapshot to every connection. The
// snapshot always reflects registry state strictly after the join.
func (h *Hub) handleAnnounce(client *Client, payload json.RawMessage) {
	var p AnnouncePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.logger.Warn().Err(err).Str("conn_id", client.connID).Msg("Invalid announce-identity payload.")
		return
	}

	if p.ID == "" || p.DisplayName == "" {
		h.sendError(client, errs.NewError(errs.ErrInvalidParams))
		return
	}

	u := client.identityFromAnnounce(p)

	// Reconnect without logout: the newer connection wins the lookup, and the
	// superseded connection gets a session-replaced error and is told to
	// close. Its stale entry is removed only when its own close fires.
	if oldConnID, ok := h.registry.ResolveUser(u.ID); ok && oldConnID != client.connID {
		if old, live := h.conns[oldConnID]; live {
			h.sendError(old, errs.NewError(errs.ErrSessionReplaced))
			old.Kick("Session replaced by a newer connection.")
		}
	}

	h.registry.Register(client.connID, u)
	client.setIdentity(u)

	h.logger.Info().
		Str("conn_id", client.connID).
		Str("user_id", u.ID).
		Str("username", u.Username).
		Msg("Identity announced.")

	h.broadcastEvent(EventUserJoined, UserEventPayload{User: u}, client.connID)
	h.sendEvent(client, EventChatLog, h.log.Replay())
	h.broadcastEvent(EventPresenceList, h.registry.Snapshot(), "")
}

// handleSendChat appends to the log and fans the stored message out to every
// connection, including the sender. The sender renders from the echo, so the
// id and timestamp have a single source of truth.
func (h *Hub) handleSendChat(client *Client, payload json.RawMessage) {
	if !client.announced {
		h.sendError(client, errs.NewError(errs.ErrIdentityNotAnnounced))
		return
	}

	var p SendChatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.logger.Warn().Err(err).Str("conn_id", client.connID).Msg("Invalid send-chat payload.")
		return
	}

	if len(p.Text) > MaxContentBytes {
		h.sendError(client, errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	msg := h.log.Append(client.user, p.Text)
	h.broadcastEvent(EventChatMessage, msg, "")
}

// sendEvent encodes and queues one event for a single connection.
func (h *Hub) sendEvent(client *Client, t EventType, payload any) {
	data, err := EncodeEvent(t, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(t)).Msg("Failed to encode event.")
		return
	}
	h.deliver(client, data)
}

// sendError queues an error event for a single connection.
func (h *Hub) sendError(client *Client, customErr *errs.CustomError) {
	h.sendEvent(client, EventError, ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
	})
}

// broadcastEvent encodes once and queues the event for every attached
// connection except exceptConnID (empty string excludes nobody).
func (h *Hub) broadcastEvent(t EventType, payload any, exceptConnID string) {
	data, err := EncodeEvent(t, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(t)).Msg("Failed to encode broadcast event.")
		return
	}

	for connID, client := range h.conns {
		if connID == exceptConnID {
			continue
		}
		h.deliver(client, data)
	}
}

// deliver queues raw bytes on a client's send channel. Delivery is
// fire-and-forget: a full queue drops the event and logs, it never blocks
// the event loop.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.logger.Warn().
			Str("conn_id", client.connID).
			Int("queue_len", len(client.send)).
			Msg("Client send channel full, dropping event.")
	}
}
