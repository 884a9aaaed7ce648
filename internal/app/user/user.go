/*
Package user contains the core data structures describing a chat identity.

A User is distinct from any particular connection: it is created at
registration, never deleted while the process lives, and is carried as an
immutable snapshot inside chat messages and call events.
*/
package user

// User represents the identity of a chat participant.
// Fields use JSON tags for serialization in WebSocket events and HTTP responses.
type User struct {

	// ID is the opaque unique identifier issued at registration.
	ID string `json:"id"`

	// Username is the display name shown in the roster and on messages.
	Username string `json:"username"`

	// Avatar is a reference (URL or storage key) to the user's avatar image.
	Avatar string `json:"avatar,omitempty"`
}
