/*
Package hub contains the core logic for presence tracking, chat fanout, and
call signaling relay.

This file defines the wire envelope and the typed payload for every event
exchanged over a WebSocket connection. Offer, answer, and candidate blobs are
opaque to the server and stay json.RawMessage end to end.
*/
package hub

import (
	"encoding/json"
	"time"

	"vidchat/internal/app/user"
	"vidchat/internal/pkg/randx"
)

// EventType identifies an event on the wire.
type EventType string

const (
	// Client to server.
	EventAnnounceIdentity EventType = "announce-identity"
	EventSendChat         EventType = "send-chat"

	// Server to client.
	EventChatLog      EventType = "chat-log"
	EventChatMessage  EventType = "chat-message"
	EventPresenceList EventType = "presence-list"
	EventUserJoined   EventType = "user-joined"
	EventUserLeft     EventType = "user-left"
	EventError        EventType = "error"

	// Call signaling, relayed in both directions.
	EventCallInitiate EventType = "call-initiate"
	EventCallAnswer   EventType = "call-answer"
	EventICECandidate EventType = "ice-candidate"
	EventCallReject   EventType = "call-reject"
	EventCallEnd      EventType = "call-end"
)

// Envelope is the framing for every WebSocket event.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeEvent marshals a typed payload into a wire-ready envelope.
func EncodeEvent(t EventType, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// Message is one immutable chat message with the author snapshot captured at
// send time. Messages are appended to the log and never mutated.
type Message struct {
	ID        string    `json:"id"`
	Author    user.User `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChatMessage builds a Message with a fresh identifier and timestamp.
func NewChatMessage(author user.User, text string) Message {
	return Message{
		ID:        randx.MessageID(),
		Author:    author,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// AnnouncePayload is the identity announced by a client after connecting.
type AnnouncePayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// SendChatPayload carries the text of an outbound chat message.
type SendChatPayload struct {
	Text string `json:"text"`
}

// UserEventPayload carries the subject of a user-joined or user-left event.
type UserEventPayload struct {
	User user.User `json:"user"`
}

// ErrorPayload carries a business error to the client.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CallInitiatePayload is a client's call attempt. Offer may be absent: the
// legacy handshake initiates with no offer and sends a second call-initiate
// once local media is ready.
type CallInitiatePayload struct {
	To    string          `json:"to"`
	Offer json.RawMessage `json:"offer,omitempty"`
}

// CallAnswerPayload answers a specific in-flight negotiation. To is the
// origin connection id stamped on the forwarded call-initiate, not a user id.
type CallAnswerPayload struct {
	To     string          `json:"to"`
	Answer json.RawMessage `json:"answer"`
}

// ICECandidatePayload relays one ICE candidate, addressed by user id.
type ICECandidatePayload struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// CallControlPayload addresses a call-reject or call-end by user id.
type CallControlPayload struct {
	To string `json:"to"`
}

// CallInviteForward is the server-forwarded form of call-initiate. Origin is
// the caller's connection id; replies addressed to it reach the exact
// connection that initiated, even if the caller's registry mapping has since
// changed.
type CallInviteForward struct {
	Offer  json.RawMessage `json:"offer,omitempty"`
	From   user.User       `json:"from"`
	Origin string          `json:"origin"`
}

// CallAnswerForward is the server-forwarded form of call-answer.
type CallAnswerForward struct {
	Answer json.RawMessage `json:"answer"`
	Origin string          `json:"origin"`
}

// ICECandidateForward is the server-forwarded form of ice-candidate.
type ICECandidateForward struct {
	Candidate json.RawMessage `json:"candidate"`
	Origin    string          `json:"origin"`
}

// CallControlForward is the server-forwarded form of call-reject and call-end.
type CallControlForward struct {
	Origin string `json:"origin"`
}
