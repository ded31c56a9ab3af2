package call

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrScreenShareUnsupported is returned when no screen capture backend is
// available on this platform.
var ErrScreenShareUnsupported = errors.New("screen share is not supported on this platform")

// FrameSource delivers encoded media frames, one Read per frame.
type FrameSource interface {
	// Read returns the next encoded frame and its duration.
	Read() (data []byte, release func(), err error)
	Close() error
}

// LocalMedia owns this participant's outbound tracks. Muting a track means
// its pump stops writing samples; senders and negotiated m-lines stay put,
// so unmuting needs no renegotiation. Screen share swaps the outbound video
// track via ReplaceTrack, again without renegotiation.
type LocalMedia struct {
	cameraTrack *webrtc.TrackLocalStaticSample
	audioTrack  *webrtc.TrackLocalStaticSample

	audioOn atomic.Bool
	videoOn atomic.Bool

	mu          sync.Mutex
	screenTrack *webrtc.TrackLocalStaticSample
	stopScreen  func()
	stopCapture func()
	closed      bool

	// set by the engine; called with the track every link should send
	videoSourceFn func(webrtc.TrackLocal)
}

// NewLocalMedia builds a LocalMedia and attempts platform capture.
// When no camera or microphone can be opened the corresponding track is nil
// and the participant is send-degraded (receive-only at worst); the call
// still works.
func NewLocalMedia() *LocalMedia {
	m := &LocalMedia{}
	m.audioOn.Store(true)
	m.videoOn.Store(true)
	m.startCapture()
	return m
}

// newLocalMediaWithTracks wires pre-built tracks, bypassing device capture.
func newLocalMediaWithTracks(camera, audio *webrtc.TrackLocalStaticSample) *LocalMedia {
	m := &LocalMedia{cameraTrack: camera, audioTrack: audio}
	m.audioOn.Store(true)
	m.videoOn.Store(true)
	return m
}

// ActiveVideoTrack returns the track links should currently send: the screen
// track while sharing, the camera track otherwise. Nil when neither exists.
func (m *LocalMedia) ActiveVideoTrack() webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screenTrack != nil {
		return m.screenTrack
	}
	if m.cameraTrack == nil {
		return nil
	}
	return m.cameraTrack
}

// AudioTrack returns the outbound audio track, nil without a microphone.
func (m *LocalMedia) AudioTrack() webrtc.TrackLocal {
	if m.audioTrack == nil {
		return nil
	}
	return m.audioTrack
}

// AudioEnabled reports whether the microphone is live.
func (m *LocalMedia) AudioEnabled() bool { return m.audioOn.Load() }

// VideoEnabled reports whether the camera is live.
func (m *LocalMedia) VideoEnabled() bool { return m.videoOn.Load() }

// ToggleAudio flips the microphone and returns the new muted state
// (true = muted). Toggling twice restores the original state.
func (m *LocalMedia) ToggleAudio() bool {
	muted := m.audioOn.Load()
	m.audioOn.Store(!muted)
	log.Printf("[Call] Audio muted=%v", muted)
	return muted
}

// ToggleVideo flips the camera and returns the new disabled state
// (true = disabled).
func (m *LocalMedia) ToggleVideo() bool {
	disabled := m.videoOn.Load()
	m.videoOn.Store(!disabled)
	log.Printf("[Call] Video disabled=%v", disabled)
	return disabled
}

// Sharing reports whether screen share is active.
func (m *LocalMedia) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenTrack != nil
}

// StartScreenShare opens screen capture and swaps it in as the outbound
// video source. Idempotent; calling while already sharing is a no-op.
func (m *LocalMedia) StartScreenShare() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("media closed")
	}
	if m.screenTrack != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	track, stop, err := m.openScreenCapture()
	if err != nil {
		return err
	}

	m.installScreenTrack(track, stop)
	return nil
}

// installScreenTrack swaps track in as the outbound video source.
func (m *LocalMedia) installScreenTrack(track *webrtc.TrackLocalStaticSample, stop func()) {
	m.mu.Lock()
	if m.screenTrack != nil || m.closed {
		// lost the race; keep the first share
		m.mu.Unlock()
		if stop != nil {
			stop()
		}
		return
	}
	m.screenTrack = track
	m.stopScreen = stop
	fn := m.videoSourceFn
	m.mu.Unlock()

	if fn != nil {
		fn(track)
	}
	log.Printf("[Call] Screen share started")
}

// StopScreenShare restores the camera as the outbound video source.
// Idempotent.
func (m *LocalMedia) StopScreenShare() {
	m.mu.Lock()
	if m.screenTrack == nil {
		m.mu.Unlock()
		return
	}
	stop := m.stopScreen
	m.screenTrack = nil
	m.stopScreen = nil
	fn := m.videoSourceFn
	var camera webrtc.TrackLocal
	if m.cameraTrack != nil {
		camera = m.cameraTrack
	}
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	if fn != nil {
		fn(camera)
	}
	log.Printf("[Call] Screen share stopped")
}

// Close stops all capture. Idempotent.
func (m *LocalMedia) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	stopScreen := m.stopScreen
	stopCapture := m.stopCapture
	m.screenTrack = nil
	m.stopScreen = nil
	m.stopCapture = nil
	m.mu.Unlock()

	if stopScreen != nil {
		stopScreen()
	}
	if stopCapture != nil {
		stopCapture()
	}
}

// onVideoSource registers the engine callback used to retarget senders.
func (m *LocalMedia) onVideoSource(fn func(webrtc.TrackLocal)) {
	m.mu.Lock()
	m.videoSourceFn = fn
	m.mu.Unlock()
}

// pumpVideo copies encoded frames from src into track until src fails.
// Frames are dropped while the camera is toggled off.
func (m *LocalMedia) pumpVideo(track *webrtc.TrackLocalStaticSample, src FrameSource, frameDuration time.Duration) {
	for {
		data, release, err := src.Read()
		if err != nil {
			return
		}

		if m.videoOn.Load() {
			sample := media.Sample{Data: data, Duration: frameDuration}
			if err := track.WriteSample(sample); err != nil {
				if release != nil {
					release()
				}
				return
			}
		}
		if release != nil {
			release()
		}
	}
}

// pumpAudio copies encoded frames from src into track until src fails.
// Frames are dropped while muted.
func (m *LocalMedia) pumpAudio(track *webrtc.TrackLocalStaticSample, src FrameSource, frameDuration time.Duration) {
	for {
		data, release, err := src.Read()
		if err != nil {
			return
		}

		if m.audioOn.Load() {
			sample := media.Sample{Data: data, Duration: frameDuration}
			if err := track.WriteSample(sample); err != nil {
				if release != nil {
					release()
				}
				return
			}
		}
		if release != nil {
			release()
		}
	}
}

// pumpScreen feeds the screen track and stops the share when the source ends
// (window closed, capture revoked).
func (m *LocalMedia) pumpScreen(track *webrtc.TrackLocalStaticSample, src FrameSource, frameDuration time.Duration) {
	for {
		data, release, err := src.Read()
		if err != nil {
			m.StopScreenShare()
			return
		}

		sample := media.Sample{Data: data, Duration: frameDuration}
		err = track.WriteSample(sample)
		if release != nil {
			release()
		}
		if err != nil {
			m.StopScreenShare()
			return
		}
	}
}
