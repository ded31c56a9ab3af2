//go:build linux && cgo

package call

import (
	"errors"
	"log"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

const (
	videoFrameDuration = 33 * time.Millisecond // ~30 fps
	audioFrameDuration = 20 * time.Millisecond // opus default frame
)

// encodedSource wraps a mediadevices EncodedReadCloser as a FrameSource.
type encodedSource struct{ r mediadevices.EncodedReadCloser }

func (s *encodedSource) Read() ([]byte, func(), error) {
	buf, rel, err := s.r.Read()
	if err != nil {
		return nil, nil, err
	}
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	return data, rel, nil
}

func (s *encodedSource) Close() error { return s.r.Close() }

func newCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// startCapture opens camera and microphone via pion/mediadevices (V4L2 +
// malgo). GetUserMedia fails as a unit if either track can't open, so try
// video+audio first, then video-only, then audio-only; a busy microphone
// must not take the camera down with it. All failed: stay receive-only.
func (m *LocalMedia) startCapture() {
	codecSelector, err := newCodecSelector()
	if err != nil {
		log.Printf("[Call] Codec setup failed, receive-only: %v", err)
		return
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG; some cameras expose an MJPEG V4L2 node that
				// produces malformed JPEG frames and poisons the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("[Call] GetUserMedia (%s) failed: %v", a.label, err)
			continue
		}

		tracks := stream.GetTracks()
		var closers []func()
		broken := false
		for _, track := range tracks {
			track := track
			switch track.Kind() {
			case webrtc.RTPCodecTypeVideo:
				r, err := track.NewEncodedReader(webrtc.MimeTypeVP8)
				if err != nil {
					log.Printf("[Call] Video track broken, skipping attempt (%s): %v", a.label, err)
					broken = true
					continue
				}
				sampleTrack, err := webrtc.NewTrackLocalStaticSample(
					webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "classhub-camera")
				if err != nil {
					r.Close()
					broken = true
					continue
				}
				m.cameraTrack = sampleTrack
				src := &encodedSource{r: r}
				closers = append(closers, func() { src.Close(); track.Close() })
				go m.pumpVideo(sampleTrack, src, videoFrameDuration)
			case webrtc.RTPCodecTypeAudio:
				r, err := track.NewEncodedReader(webrtc.MimeTypeOpus)
				if err != nil {
					log.Printf("[Call] Audio track broken (%s): %v", a.label, err)
					continue
				}
				sampleTrack, err := webrtc.NewTrackLocalStaticSample(
					webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "classhub-mic")
				if err != nil {
					r.Close()
					continue
				}
				m.audioTrack = sampleTrack
				src := &encodedSource{r: r}
				closers = append(closers, func() { src.Close(); track.Close() })
				go m.pumpAudio(sampleTrack, src, audioFrameDuration)
			}
		}

		if broken {
			for _, t := range tracks {
				t.Close()
			}
			m.cameraTrack = nil
			m.audioTrack = nil
			continue
		}

		log.Printf("[Call] Local media captured (%s); %d tracks", a.label, len(tracks))
		m.stopCapture = func() {
			for _, c := range closers {
				c()
			}
		}
		return
	}

	log.Printf("[Call] All media capture attempts failed; receive-only")
}

// openScreenCapture grabs the display via the X11 screen driver and returns
// a VP8 sample track fed by its own pump.
func (m *LocalMedia) openScreenCapture() (*webrtc.TrackLocalStaticSample, func(), error) {
	codecSelector, err := newCodecSelector()
	if err != nil {
		return nil, nil, err
	}

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: codecSelector,
		Video: func(c *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, nil, err
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		return nil, nil, errors.New("no screen video track")
	}
	track := tracks[0]

	r, err := track.NewEncodedReader(webrtc.MimeTypeVP8)
	if err != nil {
		track.Close()
		return nil, nil, err
	}

	sampleTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "classhub-screen")
	if err != nil {
		r.Close()
		track.Close()
		return nil, nil, err
	}

	src := &encodedSource{r: r}
	go m.pumpScreen(sampleTrack, src, videoFrameDuration)

	stop := func() {
		src.Close()
		track.Close()
	}
	return sampleTrack, stop, nil
}

// ScreenShareSupported reports whether this platform has a screen capture
// backend. The X11 screen driver is compiled in on Linux; whether a display
// is actually reachable only surfaces when StartScreenShare opens it.
func ScreenShareSupported() bool { return true }
