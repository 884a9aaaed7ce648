/*
Package hub contains the core logic for presence tracking, chat fanout, and
call signaling relay.

This file defines the MessageLog, the ordered in-memory chat history. The log
is not safe for concurrent use: all access happens on the Hub's event loop.
*/
package hub

import "vidchat/internal/app/user"

// MessageLog is the append-only, process-lifetime chat history.
// Generation order of message ids implies causal order.
type MessageLog struct {
	messages []Message
}

// NewMessageLog creates an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{}
}

// Append stores a new message with a fresh identifier and timestamp and
// returns it. The author snapshot is captured as passed, never re-resolved.
func (l *MessageLog) Append(author user.User, text string) Message {
	msg := NewChatMessage(author, text)
	l.messages = append(l.messages, msg)
	return msg
}

// Replay returns the full log in insertion order. The returned slice is a
// copy; callers may serialize it without holding the hub loop.
func (l *MessageLog) Replay() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of stored messages.
func (l *MessageLog) Len() int {
	return len(l.messages)
}
