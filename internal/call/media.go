package call

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrMediaAcquisition marks a failed attempt to open the local camera or
// microphone. It ends the call attempt it occurred in.
var ErrMediaAcquisition = errors.New("media acquisition failed")

// DefaultICEServers is used when a Machine is built with an empty
// webrtc.Configuration.
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
}

// MediaSource builds peer connections pre-wired with whatever local media
// the source provides. The release func stops local capture; it is never
// nil on success.
type MediaSource interface {
	CreatePeerConnection(config webrtc.Configuration) (*webrtc.PeerConnection, func(), error)
}

// RecvOnlySource produces peer connections that only receive remote media.
// It is used by headless clients and in tests where no capture device
// exists.
type RecvOnlySource struct{}

func (RecvOnlySource) CreatePeerConnection(config webrtc.Configuration) (*webrtc.PeerConnection, func(), error) {
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return pc, func() {}, nil
}
