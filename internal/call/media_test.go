package call

import (
	"errors"
	"runtime"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSampleTrack(t *testing.T, mime, id string) *webrtc.TrackLocalStaticSample {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "test")
	require.NoError(t, err)
	return track
}

func TestToggleAudioRoundTrip(t *testing.T) {
	m := newLocalMediaWithTracks(nil, newSampleTrack(t, webrtc.MimeTypeOpus, "audio"))

	assert.True(t, m.AudioEnabled())

	muted := m.ToggleAudio()
	assert.True(t, muted)
	assert.False(t, m.AudioEnabled())

	muted = m.ToggleAudio()
	assert.False(t, muted)
	assert.True(t, m.AudioEnabled(), "double toggle must restore the original state")
}

func TestToggleVideoRoundTrip(t *testing.T) {
	m := newLocalMediaWithTracks(newSampleTrack(t, webrtc.MimeTypeVP8, "video"), nil)

	disabled := m.ToggleVideo()
	assert.True(t, disabled)
	disabled = m.ToggleVideo()
	assert.False(t, disabled)
	assert.True(t, m.VideoEnabled())
}

func TestActiveVideoTrackNilWithoutCapture(t *testing.T) {
	m := newLocalMediaWithTracks(nil, nil)
	assert.Nil(t, m.ActiveVideoTrack())
	assert.Nil(t, m.AudioTrack())
}

func TestScreenShareRoundTrip(t *testing.T) {
	camera := newSampleTrack(t, webrtc.MimeTypeVP8, "camera")
	m := newLocalMediaWithTracks(camera, nil)

	var swapped []webrtc.TrackLocal
	m.onVideoSource(func(track webrtc.TrackLocal) {
		swapped = append(swapped, track)
	})

	screen := newSampleTrack(t, webrtc.MimeTypeVP8, "screen")
	stopped := false
	m.installScreenTrack(screen, func() { stopped = true })

	assert.True(t, m.Sharing())
	assert.Equal(t, webrtc.TrackLocal(screen), m.ActiveVideoTrack())

	m.StopScreenShare()

	assert.False(t, m.Sharing())
	assert.True(t, stopped, "capture must be torn down on stop")
	assert.Equal(t, webrtc.TrackLocal(camera), m.ActiveVideoTrack(),
		"camera must come back after the share ends")

	require.Len(t, swapped, 2)
	assert.Equal(t, webrtc.TrackLocal(screen), swapped[0])
	assert.Equal(t, webrtc.TrackLocal(camera), swapped[1])
}

func TestStopScreenShareIdempotent(t *testing.T) {
	m := newLocalMediaWithTracks(newSampleTrack(t, webrtc.MimeTypeVP8, "camera"), nil)

	m.StopScreenShare() // 공유 중이 아니어도 안전
	m.StopScreenShare()
	assert.False(t, m.Sharing())
}

func TestSecondShareKeepsFirst(t *testing.T) {
	m := newLocalMediaWithTracks(nil, nil)

	first := newSampleTrack(t, webrtc.MimeTypeVP8, "screen-1")
	m.installScreenTrack(first, nil)

	second := newSampleTrack(t, webrtc.MimeTypeVP8, "screen-2")
	secondStopped := false
	m.installScreenTrack(second, func() { secondStopped = true })

	assert.Equal(t, webrtc.TrackLocal(first), m.ActiveVideoTrack())
	assert.True(t, secondStopped, "losing share must release its capture")
}

func TestScreenShareSupportedMatchesPlatform(t *testing.T) {
	// 화면 캡처 백엔드는 리눅스에서만 컴파일된다
	assert.Equal(t, runtime.GOOS == "linux", ScreenShareSupported())

	if !ScreenShareSupported() {
		m := newLocalMediaWithTracks(nil, nil)
		err := m.StartScreenShare()
		assert.True(t, errors.Is(err, ErrScreenShareUnsupported),
			"unsupported platform must refuse the share with the sentinel error")
	}
}

func TestMediaCloseIdempotent(t *testing.T) {
	m := newLocalMediaWithTracks(newSampleTrack(t, webrtc.MimeTypeVP8, "camera"), nil)
	m.installScreenTrack(newSampleTrack(t, webrtc.MimeTypeVP8, "screen"), nil)

	m.Close()
	m.Close()
	assert.False(t, m.Sharing())
}
