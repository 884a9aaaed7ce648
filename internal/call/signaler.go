/*
Package call implements the client-side call state machine on top of Pion.

It drives local media acquisition, the peer-connection lifecycle, and the
offer/answer/candidate exchange. Coupling to the transport is via the
Signaler interface only, so the package stays independent of how signaling
events actually travel.
*/
package call

import (
	"encoding/json"

	"vidchat/internal/app/user"
)

// Signaler is the only surface the call package needs from the transport
// layer. Targets are user ids, except SendAnswer which addresses the origin
// connection id stamped on the incoming call-initiate.
type Signaler interface {
	// SendInitiate starts or continues a call attempt toward a user. Offer
	// may be nil for the pre-offer handshake; a second SendInitiate carries
	// the offer once local media is ready.
	SendInitiate(toUserID string, offer json.RawMessage) error

	// SendAnswer answers the specific in-flight negotiation identified by
	// the origin connection id.
	SendAnswer(originConnID string, answer json.RawMessage) error

	// SendCandidate relays one ICE candidate to a user.
	SendCandidate(toUserID string, candidate json.RawMessage) error

	// SendReject declines a ringing incoming call.
	SendReject(toUserID string) error

	// SendEnd hangs up an established or in-progress call.
	SendEnd(toUserID string) error
}

// Invite is a received call-initiate: who is calling, the exact connection
// the call came from, and the offer when the caller had media ready at
// initiation time.
type Invite struct {
	From   user.User
	Origin string
	Offer  json.RawMessage
}
