/*
Package randx provides generators for unique identifiers used across the system.

Message, user, and connection identifiers are UUID v4 strings. Default avatar
references are deterministic per username so a user keeps the same generated
avatar across restarts.
*/
package randx

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// DefaultAvatarBase is the template service used for generated avatars.
const DefaultAvatarBase = "https://api.dicebear.com/7.x/avataaars/svg"

// MessageID generates a UUID v4 string identifying a chat message.
func MessageID() string {
	return uuid.New().String()
}

// UserID generates a UUID v4 string identifying a registered user.
func UserID() string {
	return uuid.New().String()
}

// ConnectionID generates a UUID v4 string identifying one live transport
// session. Connection ids are never reused after close.
func ConnectionID() string {
	return uuid.New().String()
}

// DefaultAvatarURL builds a generated-avatar reference seeded by username.
func DefaultAvatarURL(username string) string {
	return fmt.Sprintf("%s?seed=%s", DefaultAvatarBase, url.QueryEscape(username))
}
