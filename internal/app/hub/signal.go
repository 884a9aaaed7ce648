/*
Package hub contains the core logic for presence tracking, chat fanout, and
call signaling relay.

This file implements the call signaling relay. The hub holds no call state:
each event resolves its target and forwards the opaque payload, stamped with
the sender's connection id as origin. A target that is not currently present
means the event is silently dropped; the sender is never told.
*/
package hub

import "encoding/json"

// relayCallInitiate forwards a call attempt to the callee's current
// connection. The forwarded event carries the caller's user snapshot and the
// caller's connection id as origin, so the callee can answer the exact
// connection that rang, not whichever connection the caller has later.
func (h *Hub) relayCallInitiate(client *Client, payload json.RawMessage) {
	if !client.announced {
		h.logger.Warn().Str("conn_id", client.connID).Msg("call-initiate before announce-identity, dropping.")
		return
	}

	var p CallInitiatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.logger.Warn().Err(err).Str("conn_id", client.connID).Msg("Invalid call-initiate payload.")
		return
	}

	target, ok := h.resolveTarget(p.To)
	if !ok {
		h.logger.Debug().
			Str("from_user", client.user.ID).
			Str("to_user", p.To).
			Msg("call-initiate target not present, dropping.")
		return
	}

	h.sendEvent(target, EventCallInitiate, CallInviteForward{
		Offer:  p.Offer,
		From:   client.user,
		Origin: client.connID,
	})
}

// relayCallAnswer forwards an answer to the connection id embedded in the
// original call-initiate. Addressing by connection rather than by user
// guards against the caller having reconnected mid-negotiation: the answer
// reaches the original connection or is dropped, never a newer one.
func (h *Hub) relayCallAnswer(client *Client, payload json.RawMessage) {
	var p CallAnswerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.logger.Warn().Err(err).Str("conn_id", client.connID).Msg("Invalid call-answer payload.")
		return
	}

	target, ok := h.conns[p.To]
	if !ok {
		h.logger.Debug().
			Str("from_conn", client.connID).
			Str("to_conn", p.To).
			Msg("call-answer origin connection gone, dropping.")
		return
	}

	h.sendEvent(target, EventCallAnswer, CallAnswerForward{
		Answer: p.Answer,
		Origin: client.connID,
	})
}

// relayICECandidate forwards one ICE candidate, addressed by user id.
func (h *Hub) relayICECandidate(client *Client, payload json.RawMessage) {
	var p ICECandidatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.logger.Warn().Err(err).Str("conn_id", client.connID).Msg("Invalid ice-candidate payload.")
		return
	}

	target, ok := h.resolveTarget(p.To)
	if !ok {
		return
	}

	h.sendEvent(target, EventICECandidate, ICECandidateForward{
		Candidate: p.Candidate,
		Origin:    client.connID,
	})
}

// relayCallControl forwards a call-reject or call-end, addressed by user id.
func (h *Hub) relayCallControl(client *Client, t EventType, payload json.RawMessage) {
	var p CallControlPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.logger.Warn().Err(err).Str("conn_id", client.connID).Str("event_type", string(t)).Msg("Invalid call control payload.")
		return
	}

	target, ok := h.resolveTarget(p.To)
	if !ok {
		return
	}

	h.sendEvent(target, t, CallControlForward{Origin: client.connID})
}

// resolveTarget maps a user id to its currently attached connection.
func (h *Hub) resolveTarget(userID string) (*Client, bool) {
	connID, ok := h.registry.ResolveUser(userID)
	if !ok {
		return nil, false
	}

	target, ok := h.conns[connID]
	return target, ok
}
