package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the JWT claims carried by an identity token.
// The custom fields mirror the User value handed to the presence layer, so a
// validated token is enough to rebuild the identity without a lookup.
type Payload struct {
	// StandardClaims embeds Exp, Iat, and Iss used for validity checks.
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the registered user identifier.
	ID string `json:"id"`

	// Username is the display name at token issue time.
	Username string `json:"username"`

	// Avatar is the avatar reference at token issue time.
	Avatar string `json:"avatar,omitempty"`
}
