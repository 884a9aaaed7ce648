package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"vidchat/internal/app/user"
	"vidchat/internal/pkg/logx"
)

// State of the call machine. One call at a time; Ended and Rejected are not
// states, they are transitions back to Idle.
type State int

const (
	StateIdle State = iota
	StateRingingOut
	StateRingingIn
	StateNegotiating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRingingOut:
		return "ringing-out"
	case StateRingingIn:
		return "ringing-in"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy is returned by Initiate while a call is already in progress.
	ErrBusy = errors.New("call already in progress")
	// ErrNoIncomingCall is returned by Accept and Reject outside of an
	// incoming ring.
	ErrNoIncomingCall = errors.New("no incoming call")
)

// MachineConfig wires a Machine to its transport, media and observers.
// Callbacks are invoked after the machine's lock is released, so they may
// call back into the Machine. OnStateChange and OnError run one at a time on
// a shared notification goroutine, in the order the machine produced them.
type MachineConfig struct {
	Signaler Signaler
	Media    MediaSource
	Self     user.User

	// ICE holds the peer connection configuration. Zero value selects
	// DefaultICEServers.
	ICE webrtc.Configuration

	OnIncoming    func(Invite)
	OnStateChange func(State)
	OnRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	OnError       func(error)
}

// Machine serializes the two concurrency domains of a call, signaling
// events and peer-connection callbacks, onto one timeline behind a single
// mutex.
type Machine struct {
	cfg    MachineConfig
	ice    webrtc.Configuration
	logger zerolog.Logger

	mu    sync.Mutex
	state State
	sess  *Session

	// notifyMu guards the observer notification queue. Separate from mu so
	// callbacks can re-enter the machine while later notifications wait.
	notifyMu  sync.Mutex
	notifyQ   []func()
	notifying bool
}

func NewMachine(cfg MachineConfig) *Machine {
	ice := cfg.ICE
	if len(ice.ICEServers) == 0 {
		ice.ICEServers = DefaultICEServers
	}
	return &Machine{
		cfg:    cfg,
		ice:    ice,
		logger: logx.Logger().With().Str("component", "call").Logger(),
	}
}

// State reports the current call state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remote reports the other party of the current call, if any.
func (m *Machine) Remote() (user.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return user.User{}, false
	}
	return m.sess.remote, true
}

// Initiate places an outgoing call. The remote side is rung immediately
// with a pre-offer call-initiate; the offer follows in a second
// call-initiate once local media and the peer connection are ready.
func (m *Machine) Initiate(target user.User) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	sess := newSession(target, "", true)
	m.sess = sess
	m.setState(StateRingingOut)

	if err := m.cfg.Signaler.SendInitiate(target.ID, nil); err != nil {
		m.sess = nil
		m.setState(StateIdle)
		m.mu.Unlock()
		return fmt.Errorf("send call-initiate: %w", err)
	}
	sess.notified = true

	pc, release, err := m.cfg.Media.CreatePeerConnection(m.ice)
	if err != nil {
		m.dropSessionLocked(sess)
		m.mu.Unlock()
		return err
	}
	sess.attachPeer(pc, release)
	m.wirePeerLocked(sess)

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	var raw []byte
	if err == nil {
		raw, err = json.Marshal(offer)
	}
	if err == nil {
		err = m.cfg.Signaler.SendInitiate(target.ID, raw)
	}
	if err != nil {
		m.dropSessionLocked(sess)
		m.mu.Unlock()
		return fmt.Errorf("negotiate offer: %w", err)
	}

	m.setState(StateNegotiating)
	m.mu.Unlock()
	m.logger.Info().Str("to", target.ID).Msg("outgoing call placed")
	return nil
}

// Accept answers the currently ringing incoming call. Media is acquired
// here; if the caller's offer already arrived it is answered immediately,
// otherwise the answer is produced when the late offer lands.
func (m *Machine) Accept() error {
	m.mu.Lock()
	if m.state != StateRingingIn || m.sess == nil {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	sess := m.sess

	pc, release, err := m.cfg.Media.CreatePeerConnection(m.ice)
	if err != nil {
		m.dropSessionLocked(sess)
		m.mu.Unlock()
		return err
	}
	sess.attachPeer(pc, release)
	m.wirePeerLocked(sess)
	m.setState(StateNegotiating)

	if sess.pendingOffer != nil {
		offer := sess.pendingOffer
		sess.pendingOffer = nil
		if err := m.answerLocked(sess, offer); err != nil {
			m.dropSessionLocked(sess)
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()
	m.logger.Info().Str("from", sess.remote.ID).Msg("incoming call accepted")
	return nil
}

// Reject declines the currently ringing incoming call.
func (m *Machine) Reject() error {
	m.mu.Lock()
	if m.state != StateRingingIn || m.sess == nil {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	remote := m.sess.remote
	m.dropSessionLocked(m.sess)
	m.mu.Unlock()

	if err := m.cfg.Signaler.SendReject(remote.ID); err != nil {
		return fmt.Errorf("send call-reject: %w", err)
	}
	return nil
}

// End hangs up whatever call is in progress. The remote side is notified
// only when a peer connection was created and it already knew about the
// call.
func (m *Machine) End() {
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		m.mu.Unlock()
		return
	}
	notify := sess.pc != nil && sess.notified
	remote := sess.remote
	m.dropSessionLocked(sess)
	m.mu.Unlock()

	if notify {
		if err := m.cfg.Signaler.SendEnd(remote.ID); err != nil {
			m.logger.Warn().Err(err).Msg("send call-end failed")
		}
	}
}

// HandleInitiate processes a received call-initiate. A ring while not Idle
// is ignored outright, the caller gets silence rather than a busy signal.
// An offer-bearing initiate from the origin we already accepted completes
// the lazy-offer handshake.
func (m *Machine) HandleInitiate(inv Invite) {
	m.mu.Lock()
	if m.sess != nil && !m.sess.outgoing && m.sess.origin == inv.Origin && inv.Offer != nil {
		sess := m.sess
		switch m.state {
		case StateRingingIn:
			// Still ringing: hold the offer until Accept.
			sess.pendingOffer = inv.Offer
			m.mu.Unlock()
			return
		case StateNegotiating:
			if err := m.answerLocked(sess, inv.Offer); err != nil {
				m.failLocked(sess, err)
			}
			m.mu.Unlock()
			return
		}
	}

	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug().Str("from", inv.From.ID).Stringer("state", state).
			Msg("incoming call ignored")
		return
	}

	sess := newSession(inv.From, inv.Origin, false)
	sess.notified = true
	if inv.Offer != nil {
		sess.pendingOffer = inv.Offer
	}
	m.sess = sess
	m.setState(StateRingingIn)
	m.mu.Unlock()

	if m.cfg.OnIncoming != nil {
		m.cfg.OnIncoming(inv)
	}
}

// HandleAnswer applies the callee's answer to the outgoing negotiation.
func (m *Machine) HandleAnswer(origin string, answer json.RawMessage) {
	m.mu.Lock()
	sess := m.sess
	if sess == nil || !sess.outgoing || sess.pc == nil {
		m.mu.Unlock()
		m.logger.Debug().Msg("stray call-answer dropped")
		return
	}
	sess.origin = origin
	if err := sess.applyRemoteDescription(answer); err != nil {
		m.failLocked(sess, err)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
}

// HandleCandidate feeds a remote ICE candidate into the current session,
// buffering it when the remote description has not been applied yet.
func (m *Machine) HandleCandidate(candidate json.RawMessage) {
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		m.mu.Unlock()
		return
	}
	if sess.pc == nil || !sess.remoteSet {
		sess.bufferCandidate(candidate)
		m.mu.Unlock()
		return
	}
	if err := sess.addCandidate(candidate); err != nil {
		m.logger.Warn().Err(err).Msg("ice candidate rejected")
	}
	m.mu.Unlock()
}

// HandleReject tears down after the remote side declined. No call-end is
// sent back; replying to a rejection would loop.
func (m *Machine) HandleReject(string) {
	m.remoteTerminated("call rejected")
}

// HandleEnd tears down after a remote hangup.
func (m *Machine) HandleEnd(string) {
	m.remoteTerminated("remote hangup")
}

func (m *Machine) remoteTerminated(reason string) {
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		m.mu.Unlock()
		return
	}
	m.dropSessionLocked(sess)
	m.mu.Unlock()
	m.logger.Info().Str("reason", reason).Msg("call ended by remote")
}

// answerLocked applies the remote offer and sends back an answer addressed
// to the origin connection.
func (m *Machine) answerLocked(sess *Session, offer json.RawMessage) error {
	if err := sess.applyRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := sess.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := sess.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	if err := m.cfg.Signaler.SendAnswer(sess.origin, raw); err != nil {
		return fmt.Errorf("send call-answer: %w", err)
	}
	return nil
}

// wirePeerLocked installs the peer-connection callbacks. Each closure
// captures its session and re-checks it is still current under the lock,
// late events from a torn-down connection are discarded.
func (m *Machine) wirePeerLocked(sess *Session) {
	pc := sess.pc

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.mu.Lock()
		if m.sess != sess {
			m.mu.Unlock()
			return
		}
		remote := sess.remote
		m.mu.Unlock()

		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			m.logger.Warn().Err(err).Msg("encode ice candidate failed")
			return
		}
		if err := m.cfg.Signaler.SendCandidate(remote.ID, raw); err != nil {
			m.logger.Warn().Err(err).Msg("send ice candidate failed")
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.mu.Lock()
		if m.sess != sess {
			m.mu.Unlock()
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if m.state == StateNegotiating {
				m.setState(StateActive)
			}
			m.mu.Unlock()
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			m.dropSessionLocked(sess)
			m.mu.Unlock()
			m.logger.Info().Stringer("connectionState", s).Msg("peer connection lost")
		default:
			m.mu.Unlock()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if m.cfg.OnRemoteTrack != nil {
			m.cfg.OnRemoteTrack(track, receiver)
		}
	})
}

// dropSessionLocked tears down sess and returns to Idle if it is still the
// current session. teardown runs with the lock held so device handles are
// released before anything else observes the Idle state.
func (m *Machine) dropSessionLocked(sess *Session) {
	sess.teardown()
	if m.sess == sess {
		m.sess = nil
		m.setState(StateIdle)
	}
}

// failLocked drops the session and reports the error.
func (m *Machine) failLocked(sess *Session, err error) {
	m.dropSessionLocked(sess)
	m.logger.Error().Err(err).Msg("call failed")
	if m.cfg.OnError != nil {
		m.enqueueNotify(func() { m.cfg.OnError(err) })
	}
}

func (m *Machine) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.cfg.OnStateChange != nil {
		m.enqueueNotify(func() { m.cfg.OnStateChange(s) })
	}
}

// enqueueNotify queues fn for the notification goroutine. A single drainer
// runs at a time, so observers see notifications in queue order.
func (m *Machine) enqueueNotify(fn func()) {
	m.notifyMu.Lock()
	m.notifyQ = append(m.notifyQ, fn)
	if m.notifying {
		m.notifyMu.Unlock()
		return
	}
	m.notifying = true
	m.notifyMu.Unlock()
	go m.drainNotify()
}

func (m *Machine) drainNotify() {
	for {
		m.notifyMu.Lock()
		if len(m.notifyQ) == 0 {
			m.notifying = false
			m.notifyMu.Unlock()
			return
		}
		fn := m.notifyQ[0]
		m.notifyQ = m.notifyQ[1:]
		m.notifyMu.Unlock()
		fn()
	}
}
