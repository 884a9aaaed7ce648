//go:build !linux

package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// CaptureSource has no capture backend outside Linux; mediadevices drivers
// for camera and microphone are only wired for V4L2 + malgo here. Callers on
// other platforms should use RecvOnlySource.
type CaptureSource struct{}

func (CaptureSource) CreatePeerConnection(webrtc.Configuration) (*webrtc.PeerConnection, func(), error) {
	return nil, nil, fmt.Errorf("%w: no capture backend on this platform", ErrMediaAcquisition)
}
