package hub

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vidchat/internal/pkg/errs"
)

// fakeConn satisfies Conn for tests that drive the hub handlers directly.
// Control frames (close frames from Kick) are recorded; regular events flow
// through the client's send channel instead.
type fakeConn struct {
	mu       sync.Mutex
	controls [][]byte
	closed   bool
}

func (c *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }

func (c *fakeConn) WriteMessage(int, []byte) error { return nil }

func (c *fakeConn) WriteControl(_ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) controlFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.controls))
	copy(out, c.controls)
	return out
}

// attachClient wires a new fake connection into the hub, bypassing the Run
// goroutine so tests stay deterministic.
func attachClient(h *Hub) (*Client, *fakeConn) {
	fc := &fakeConn{}
	c := NewClient(h, fc)
	h.handleAttach(c)
	return c, fc
}

func inject(h *Hub, c *Client, t EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	h.handleInbound(c, Envelope{Type: t, Payload: data})
}

func announce(h *Hub, c *Client, id, name string) {
	inject(h, c, EventAnnounceIdentity, AnnouncePayload{ID: id, DisplayName: name})
}

// drain empties a client's send queue into decoded envelopes.
func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case data := <-c.send:
			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("client was sent invalid JSON: %v", err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func eventsOfType(envs []Envelope, t EventType) []Envelope {
	var out []Envelope
	for _, env := range envs {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func decodePayload(t *testing.T, env Envelope, out any) {
	t.Helper()
	if err := json.Unmarshal(env.Payload, out); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
}

func TestAnnounceDeliversInitialState(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")

	envs := drain(t, alice)

	logs := eventsOfType(envs, EventChatLog)
	if len(logs) != 1 {
		t.Fatalf("joiner received %d chat-log events, want 1", len(logs))
	}
	var replay []Message
	decodePayload(t, logs[0], &replay)
	if len(replay) != 0 {
		t.Fatalf("empty-room replay had %d messages", len(replay))
	}

	lists := eventsOfType(envs, EventPresenceList)
	if len(lists) != 1 {
		t.Fatalf("joiner received %d presence-list events, want 1", len(lists))
	}
	var present []userJSON
	decodePayload(t, lists[0], &present)
	if len(present) != 1 || present[0].ID != "u1" {
		t.Fatalf("presence-list = %+v, want just u1", present)
	}

	// Nobody broadcast the joiner to themselves.
	if got := eventsOfType(envs, EventUserJoined); len(got) != 0 {
		t.Fatalf("joiner received %d user-joined events about themselves", len(got))
	}
}

type userJSON struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func TestSecondJoinerBroadcast(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	drain(t, alice)

	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")

	aliceEvents := drain(t, alice)
	joined := eventsOfType(aliceEvents, EventUserJoined)
	if len(joined) != 1 {
		t.Fatalf("alice received %d user-joined events, want 1", len(joined))
	}
	var p UserEventPayload
	decodePayload(t, joined[0], &p)
	if p.User.ID != "u2" || p.User.Username != "bob" {
		t.Fatalf("user-joined carried %+v, want bob", p.User)
	}

	lists := eventsOfType(aliceEvents, EventPresenceList)
	if len(lists) != 1 {
		t.Fatalf("alice received %d presence-list events, want 1", len(lists))
	}
	var present []userJSON
	decodePayload(t, lists[0], &present)
	if len(present) != 2 || present[0].ID != "u1" || present[1].ID != "u2" {
		t.Fatalf("presence-list = %+v, want [u1 u2] in join order", present)
	}
}

func TestAnnounceDefaultsAvatar(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")

	stored, ok := h.registry.UserByConn(alice.connID)
	if !ok {
		t.Fatal("announce did not register the connection")
	}
	if stored.Avatar == "" {
		t.Fatal("missing avatarRef was not defaulted")
	}
}

func TestAnnounceRejectsMissingIdentity(t *testing.T) {
	h := NewHub()
	c, _ := attachClient(h)
	inject(h, c, EventAnnounceIdentity, AnnouncePayload{DisplayName: "noid"})

	envs := drain(t, c)
	errors := eventsOfType(envs, EventError)
	if len(errors) != 1 {
		t.Fatalf("received %d error events, want 1", len(errors))
	}
	var p ErrorPayload
	decodePayload(t, errors[0], &p)
	if p.Code != errs.ErrInvalidParams {
		t.Fatalf("error code = %d, want %d", p.Code, errs.ErrInvalidParams)
	}
	if h.registry.Len() != 0 {
		t.Fatal("invalid announce still registered a presence entry")
	}
}

func TestChatStoredAndEchoedToAll(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")
	drain(t, alice)
	drain(t, bob)

	inject(h, alice, EventSendChat, SendChatPayload{Text: "hi"})

	for _, c := range []*Client{alice, bob} {
		envs := drain(t, c)
		msgs := eventsOfType(envs, EventChatMessage)
		if len(msgs) != 1 {
			t.Fatalf("connection received %d chat-message events, want 1", len(msgs))
		}
		var msg Message
		decodePayload(t, msgs[0], &msg)
		if msg.Text != "hi" || msg.Author.ID != "u1" {
			t.Fatalf("chat-message = %+v", msg)
		}
		if msg.ID == "" || msg.Timestamp.IsZero() {
			t.Fatal("stored message is missing generated id or timestamp")
		}
	}
	if h.log.Len() != 1 {
		t.Fatalf("log holds %d messages, want 1", h.log.Len())
	}
}

// A user joining after messages were sent gets them once, in the replay, and
// never again as live chat-message events.
func TestLateJoinerReplayWithoutDuplicates(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	drain(t, alice)
	inject(h, alice, EventSendChat, SendChatPayload{Text: "hi"})
	drain(t, alice)

	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")

	envs := drain(t, bob)
	logs := eventsOfType(envs, EventChatLog)
	if len(logs) != 1 {
		t.Fatalf("bob received %d chat-log events, want 1", len(logs))
	}
	var replay []Message
	decodePayload(t, logs[0], &replay)
	if len(replay) != 1 || replay[0].Text != "hi" {
		t.Fatalf("replay = %+v, want the one earlier message", replay)
	}
	if live := eventsOfType(envs, EventChatMessage); len(live) != 0 {
		t.Fatalf("bob received %d live duplicates of replayed messages", len(live))
	}
}

func TestChatRequiresAnnouncedIdentity(t *testing.T) {
	h := NewHub()
	c, _ := attachClient(h)
	inject(h, c, EventSendChat, SendChatPayload{Text: "hi"})

	envs := drain(t, c)
	errors := eventsOfType(envs, EventError)
	if len(errors) != 1 {
		t.Fatalf("received %d error events, want 1", len(errors))
	}
	var p ErrorPayload
	decodePayload(t, errors[0], &p)
	if p.Code != errs.ErrIdentityNotAnnounced {
		t.Fatalf("error code = %d, want %d", p.Code, errs.ErrIdentityNotAnnounced)
	}
	if h.log.Len() != 0 {
		t.Fatal("unannounced chat was stored")
	}
}

func TestChatContentLengthLimit(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	drain(t, alice)

	long := make([]byte, MaxContentBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	inject(h, alice, EventSendChat, SendChatPayload{Text: string(long)})

	envs := drain(t, alice)
	errors := eventsOfType(envs, EventError)
	if len(errors) != 1 {
		t.Fatalf("received %d error events, want 1", len(errors))
	}
	var p ErrorPayload
	decodePayload(t, errors[0], &p)
	if p.Code != errs.ErrMessageContentTooLong {
		t.Fatalf("error code = %d, want %d", p.Code, errs.ErrMessageContentTooLong)
	}
	if h.log.Len() != 0 {
		t.Fatal("oversized message was stored")
	}
}

func TestDetachBroadcastsUserLeft(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")
	drain(t, alice)
	drain(t, bob)

	h.handleDetach(bob)

	envs := drain(t, alice)
	left := eventsOfType(envs, EventUserLeft)
	if len(left) != 1 {
		t.Fatalf("alice received %d user-left events, want 1", len(left))
	}
	var p UserEventPayload
	decodePayload(t, left[0], &p)
	if p.User.ID != "u2" {
		t.Fatalf("user-left carried %+v, want bob", p.User)
	}

	lists := eventsOfType(envs, EventPresenceList)
	if len(lists) != 1 {
		t.Fatalf("alice received %d presence-list events, want 1", len(lists))
	}
	var present []userJSON
	decodePayload(t, lists[0], &present)
	if len(present) != 1 || present[0].ID != "u1" {
		t.Fatalf("post-leave presence-list = %+v, want just u1", present)
	}
}

func TestDetachWithoutAnnounceIsSilent(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	drain(t, alice)

	ghost, _ := attachClient(h)
	h.handleDetach(ghost)

	if envs := drain(t, alice); len(envs) != 0 {
		t.Fatalf("unannounced detach produced %d events", len(envs))
	}
}

// Announcing an identity that is already bound elsewhere kicks the old
// connection with a session-replaced error event and close frame, and
// rebinds the lookup.
func TestReconnectKicksSupersededConnection(t *testing.T) {
	h := NewHub()
	old, oldConn := attachClient(h)
	announce(h, old, "u1", "alice")
	drain(t, old)

	fresh, _ := attachClient(h)
	announce(h, fresh, "u1", "alice")

	frames := oldConn.controlFrames()
	if len(frames) != 1 {
		t.Fatalf("superseded connection got %d control frames, want 1 close frame", len(frames))
	}
	want := websocket.FormatCloseMessage(WsCloseCodeSessionReplaced, "Session replaced by a newer connection.")
	if string(frames[0]) != string(want) {
		t.Fatalf("close frame = %q, want session-replaced code %d", frames[0], WsCloseCodeSessionReplaced)
	}

	// The close frame is preceded by an error event naming the cause.
	oldEnvs := drain(t, old)
	errEvents := eventsOfType(oldEnvs, EventError)
	if len(errEvents) != 1 {
		t.Fatalf("superseded connection got %d error events, want 1", len(errEvents))
	}
	var errPayload ErrorPayload
	decodePayload(t, errEvents[0], &errPayload)
	if errPayload.Code != errs.ErrSessionReplaced {
		t.Fatalf("error code = %d, want %d", errPayload.Code, errs.ErrSessionReplaced)
	}
	if oldEnvs[0].Type != EventError {
		t.Fatalf("first event after supersession = %s, want %s", oldEnvs[0].Type, EventError)
	}

	if connID, _ := h.registry.ResolveUser("u1"); connID != fresh.connID {
		t.Fatalf("user resolves to %q, want the newer connection %q", connID, fresh.connID)
	}

	// The stale entry survives until the old connection's own close: the user
	// is briefly present via two connections, but appears once in snapshots.
	if got := len(h.registry.Connections()); got != 2 {
		t.Fatalf("registry holds %d connections, want 2 until the old close fires", got)
	}
	if snap := h.registry.Snapshot(); len(snap) != 1 || snap[0].ID != "u1" {
		t.Fatalf("snapshot = %+v, want u1 exactly once", snap)
	}

	// The old connection's close removes only its own entry.
	h.handleDetach(old)
	if connID, ok := h.registry.ResolveUser("u1"); !ok || connID != fresh.connID {
		t.Fatalf("ResolveUser after stale close = %q, %v, want %q", connID, ok, fresh.connID)
	}
}

func TestCallInitiateRelayedWithOriginAndFrom(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")
	drain(t, alice)
	drain(t, bob)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	inject(h, alice, EventCallInitiate, CallInitiatePayload{To: "u2", Offer: offer})

	envs := drain(t, bob)
	invites := eventsOfType(envs, EventCallInitiate)
	if len(invites) != 1 {
		t.Fatalf("bob received %d call-initiate events, want 1", len(invites))
	}
	var fwd CallInviteForward
	decodePayload(t, invites[0], &fwd)
	if fwd.From.ID != "u1" || fwd.From.Username != "alice" {
		t.Fatalf("forwarded from = %+v, want alice", fwd.From)
	}
	if fwd.Origin != alice.connID {
		t.Fatalf("forwarded origin = %q, want caller connection %q", fwd.Origin, alice.connID)
	}
	if string(fwd.Offer) != string(offer) {
		t.Fatalf("offer was altered in transit: %s", fwd.Offer)
	}

	if stray := drain(t, alice); len(stray) != 0 {
		t.Fatalf("caller received %d unexpected events", len(stray))
	}
}

func TestCallInitiateWithoutOfferRelayed(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")
	drain(t, alice)
	drain(t, bob)

	inject(h, alice, EventCallInitiate, CallInitiatePayload{To: "u2"})

	invites := eventsOfType(drain(t, bob), EventCallInitiate)
	if len(invites) != 1 {
		t.Fatalf("bob received %d call-initiate events, want 1", len(invites))
	}
	var fwd CallInviteForward
	decodePayload(t, invites[0], &fwd)
	if fwd.Offer != nil {
		t.Fatalf("pre-offer initiate carried an offer: %s", fwd.Offer)
	}
}

// Calling an absent user produces no error back to the sender and no
// delivery anywhere.
func TestCallInitiateOfflineTargetDroppedSilently(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")
	drain(t, alice)
	drain(t, bob)

	inject(h, alice, EventCallInitiate, CallInitiatePayload{To: "nobody"})

	if envs := drain(t, alice); len(envs) != 0 {
		t.Fatalf("sender received %d events for an offline target", len(envs))
	}
	if envs := drain(t, bob); len(envs) != 0 {
		t.Fatalf("bystander received %d events for an offline target", len(envs))
	}
}

func TestCallInitiateRequiresAnnounce(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	drain(t, alice)

	anon, _ := attachClient(h)
	inject(h, anon, EventCallInitiate, CallInitiatePayload{To: "u1"})

	if envs := drain(t, alice); len(envs) != 0 {
		t.Fatalf("unannounced caller reached a target with %d events", len(envs))
	}
}

// Two users calling each other at once: both initiates are delivered
// independently, the router neither detects nor prevents the double-ring.
func TestSimultaneousCallInitiatesBothDelivered(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")
	drain(t, alice)
	drain(t, bob)

	inject(h, alice, EventCallInitiate, CallInitiatePayload{To: "u2"})
	inject(h, bob, EventCallInitiate, CallInitiatePayload{To: "u1"})

	if got := eventsOfType(drain(t, bob), EventCallInitiate); len(got) != 1 {
		t.Fatalf("bob received %d call-initiate events, want 1", len(got))
	}
	if got := eventsOfType(drain(t, alice), EventCallInitiate); len(got) != 1 {
		t.Fatalf("alice received %d call-initiate events, want 1", len(got))
	}
}

// call-answer is addressed by the connection id embedded in the original
// call-initiate. A caller reconnecting mid-negotiation must not receive the
// answer on the new connection.
func TestCallAnswerTargetsOriginConnection(t *testing.T) {
	h := NewHub()
	caller, _ := attachClient(h)
	announce(h, caller, "u1", "alice")
	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")
	drain(t, caller)
	drain(t, bob)

	inject(h, caller, EventCallInitiate, CallInitiatePayload{To: "u2"})
	var fwd CallInviteForward
	decodePayload(t, eventsOfType(drain(t, bob), EventCallInitiate)[0], &fwd)

	// Caller reconnects: the registry now maps u1 to a different connection.
	reconnected, _ := attachClient(h)
	announce(h, reconnected, "u1", "alice")
	drain(t, caller)
	drain(t, reconnected)
	drain(t, bob)

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	inject(h, bob, EventCallAnswer, CallAnswerPayload{To: fwd.Origin, Answer: answer})

	got := eventsOfType(drain(t, caller), EventCallAnswer)
	if len(got) != 1 {
		t.Fatalf("original connection received %d call-answer events, want 1", len(got))
	}
	var afwd CallAnswerForward
	decodePayload(t, got[0], &afwd)
	if afwd.Origin != bob.connID {
		t.Fatalf("answer origin = %q, want callee connection %q", afwd.Origin, bob.connID)
	}
	if string(afwd.Answer) != string(answer) {
		t.Fatalf("answer was altered in transit: %s", afwd.Answer)
	}

	if stray := eventsOfType(drain(t, reconnected), EventCallAnswer); len(stray) != 0 {
		t.Fatalf("newer connection received %d call-answer events, want 0", len(stray))
	}
}

func TestCallAnswerToGoneConnectionIsDropped(t *testing.T) {
	h := NewHub()
	caller, _ := attachClient(h)
	announce(h, caller, "u1", "alice")
	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")
	drain(t, caller)
	drain(t, bob)

	inject(h, caller, EventCallInitiate, CallInitiatePayload{To: "u2"})
	var fwd CallInviteForward
	decodePayload(t, eventsOfType(drain(t, bob), EventCallInitiate)[0], &fwd)

	h.handleDetach(caller)
	drain(t, bob)

	inject(h, bob, EventCallAnswer, CallAnswerPayload{To: fwd.Origin, Answer: json.RawMessage(`{}`)})
	if envs := drain(t, bob); len(envs) != 0 {
		t.Fatalf("callee received %d events answering a gone connection", len(envs))
	}
}

func TestICECandidateRelayedByUserID(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")
	drain(t, alice)
	drain(t, bob)

	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 54400 typ host"}`)
	inject(h, alice, EventICECandidate, ICECandidatePayload{To: "u2", Candidate: cand})

	got := eventsOfType(drain(t, bob), EventICECandidate)
	if len(got) != 1 {
		t.Fatalf("bob received %d ice-candidate events, want 1", len(got))
	}
	var fwd ICECandidateForward
	decodePayload(t, got[0], &fwd)
	if string(fwd.Candidate) != string(cand) {
		t.Fatalf("candidate altered in transit: %s", fwd.Candidate)
	}
	if fwd.Origin != alice.connID {
		t.Fatalf("candidate origin = %q, want %q", fwd.Origin, alice.connID)
	}
}

func TestCallRejectAndEndRelayedByUserID(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	bob, _ := attachClient(h)
	announce(h, bob, "u2", "bob")
	drain(t, alice)
	drain(t, bob)

	inject(h, bob, EventCallReject, CallControlPayload{To: "u1"})
	got := eventsOfType(drain(t, alice), EventCallReject)
	if len(got) != 1 {
		t.Fatalf("alice received %d call-reject events, want 1", len(got))
	}
	var fwd CallControlForward
	decodePayload(t, got[0], &fwd)
	if fwd.Origin != bob.connID {
		t.Fatalf("reject origin = %q, want %q", fwd.Origin, bob.connID)
	}

	inject(h, alice, EventCallEnd, CallControlPayload{To: "u2"})
	if got := eventsOfType(drain(t, bob), EventCallEnd); len(got) != 1 {
		t.Fatalf("bob received %d call-end events, want 1", len(got))
	}
}

func TestUnsupportedEventTypeIgnored(t *testing.T) {
	h := NewHub()
	alice, _ := attachClient(h)
	announce(h, alice, "u1", "alice")
	drain(t, alice)

	h.handleInbound(alice, Envelope{Type: "definitely-not-a-thing"})
	if envs := drain(t, alice); len(envs) != 0 {
		t.Fatalf("unsupported event produced %d replies", len(envs))
	}
}

func TestHubRunShutdown(t *testing.T) {
	h := NewHub()
	go h.Run()

	c := NewClient(h, &fakeConn{})
	h.Attach(c)
	h.Shutdown()

	select {
	case <-h.doneChan:
	case <-time.After(time.Second):
		t.Fatal("Run did not terminate after Shutdown")
	}
}
