package call

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"vidchat/internal/app/user"
)

// Session holds the per-call resources: the remote party, the peer
// connection once created, local media release, and everything buffered
// while negotiation is still catching up.
type Session struct {
	remote   user.User
	origin   string // remote connection id; answers are addressed to it
	outgoing bool
	notified bool // remote side has been told of our intent

	pc           *webrtc.PeerConnection
	releaseMedia func()

	pendingOffer      json.RawMessage
	pendingCandidates []json.RawMessage
	remoteSet         bool

	tornDown bool
}

func newSession(remote user.User, origin string, outgoing bool) *Session {
	return &Session{remote: remote, origin: origin, outgoing: outgoing}
}

// attachPeer binds a freshly built peer connection and its media release to
// the session.
func (s *Session) attachPeer(pc *webrtc.PeerConnection, release func()) {
	s.pc = pc
	s.releaseMedia = release
}

// applyRemoteDescription sets the remote SDP and flushes any candidates that
// arrived before it.
func (s *Session) applyRemoteDescription(desc json.RawMessage) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(desc, &sd); err != nil {
		return fmt.Errorf("decode session description: %w", err)
	}
	if err := s.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	s.remoteSet = true
	for _, raw := range s.pendingCandidates {
		if err := s.addCandidate(raw); err != nil {
			return err
		}
	}
	s.pendingCandidates = nil
	return nil
}

// addCandidate feeds one remote ICE candidate into the peer connection. The
// caller must have applied the remote description first.
func (s *Session) addCandidate(raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("decode ice candidate: %w", err)
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// bufferCandidate stashes a candidate that arrived before the remote
// description.
func (s *Session) bufferCandidate(raw json.RawMessage) {
	s.pendingCandidates = append(s.pendingCandidates, raw)
}

// teardown releases local media before closing the peer connection, so
// device handles are free the moment the call is over. Idempotent.
func (s *Session) teardown() {
	if s.tornDown {
		return
	}
	s.tornDown = true
	if s.releaseMedia != nil {
		s.releaseMedia()
		s.releaseMedia = nil
	}
	if s.pc != nil {
		s.pc.Close()
	}
}
