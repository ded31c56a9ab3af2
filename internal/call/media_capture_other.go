//go:build !linux || !cgo

package call

import (
	"log"

	"github.com/pion/webrtc/v4"
)

// startCapture: no capture backend off Linux; the participant joins
// receive-only and links get recvonly transceivers.
func (m *LocalMedia) startCapture() {
	log.Printf("[Call] No media capture on this platform; receive-only")
}

func (m *LocalMedia) openScreenCapture() (*webrtc.TrackLocalStaticSample, func(), error) {
	return nil, nil, ErrScreenShareUnsupported
}

// ScreenShareSupported reports whether this platform has a screen capture
// backend. UIs check this before showing a share button.
func ScreenShareSupported() bool { return false }
