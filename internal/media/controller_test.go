package media

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type fakeTrack struct {
	mu      sync.Mutex
	kind    webrtc.RTPCodecType
	local   webrtc.TrackLocal
	enabled bool
	stops   int
}

func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeTrack) Local() webrtc.TrackLocal  { return t.local }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
}

type fakeSource struct {
	mu       sync.Mutex
	tracks   []*fakeTrack
	err      error
	gate     chan struct{}
	acquired int
	asked    Constraints
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "test")
	require.NoError(t, err)
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", "test")
	require.NoError(t, err)
	return &fakeSource{tracks: []*fakeTrack{
		{kind: webrtc.RTPCodecTypeAudio, local: audio, enabled: true},
		{kind: webrtc.RTPCodecTypeVideo, local: video, enabled: true},
	}}
}

func (s *fakeSource) Acquire(ctx context.Context, c Constraints) ([]Track, error) {
	s.mu.Lock()
	s.acquired++
	s.asked = c
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeSource) acquisitions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

type recordingSink struct {
	local  int
	remote int
}

func (s *recordingSink) AttachLocal(tracks []Track) { s.local += len(tracks) }

func (s *recordingSink) AttachRemote(*webrtc.TrackRemote) { s.remote++ }

func TestStartAcquiresOnce(t *testing.T) {
	src := newFakeSource(t)
	sink := &recordingSink{}
	c := NewController(src, ControllerOptions{Sink: sink})

	first, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.Equal(t, 1, src.acquisitions())
	require.Equal(t, DefaultConstraints, src.asked)
	require.Equal(t, 2, sink.local)
}

func TestTogglesFlipTrackState(t *testing.T) {
	src := newFakeSource(t)
	c := NewController(src, ControllerOptions{})
	_, err := c.Start(context.Background())
	require.NoError(t, err)

	require.False(t, c.ToggleAudio())
	state := c.State()
	require.False(t, state.AudioEnabled)
	require.True(t, state.VideoEnabled)
	require.False(t, src.tracks[0].Enabled())

	require.False(t, c.ToggleVideo())
	require.True(t, c.ToggleAudio())
	state = c.State()
	require.True(t, state.AudioEnabled)
	require.False(t, state.VideoEnabled)
	require.Len(t, state.Tracks, 2)

	// Toggling never reacquires or stops anything.
	require.Equal(t, 1, src.acquisitions())
	require.Zero(t, src.tracks[0].stops)
}

func TestToggleWithoutTracks(t *testing.T) {
	c := NewController(newFakeSource(t), ControllerOptions{})
	require.False(t, c.ToggleAudio())
	require.False(t, c.ToggleVideo())
	require.Equal(t, MediaState{}, c.State())
}

func TestCleanupIsIdempotent(t *testing.T) {
	src := newFakeSource(t)
	c := NewController(src, ControllerOptions{})
	_, err := c.Start(context.Background())
	require.NoError(t, err)

	c.Cleanup()
	c.Cleanup()

	for _, tr := range src.tracks {
		require.Equal(t, 1, tr.stops)
	}
	require.Empty(t, c.State().Tracks)

	_, err = c.Start(context.Background())
	require.ErrorIs(t, err, ErrReleased)
}

func TestCleanupBeforeStart(t *testing.T) {
	src := newFakeSource(t)
	c := NewController(src, ControllerOptions{})
	c.Cleanup()

	_, err := c.Start(context.Background())
	require.ErrorIs(t, err, ErrReleased)
	require.Zero(t, src.acquisitions())
}

func TestCleanupDuringAcquisitionStopsTracks(t *testing.T) {
	src := newFakeSource(t)
	src.gate = make(chan struct{})
	c := NewController(src, ControllerOptions{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Start(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return src.acquisitions() == 1 }, time.Second, 5*time.Millisecond)

	_, err := c.Start(context.Background())
	require.ErrorIs(t, err, ErrBusy)

	c.Cleanup()
	close(src.gate)

	require.ErrorIs(t, <-done, ErrReleased)
	for _, tr := range src.tracks {
		require.Equal(t, 1, tr.stops)
	}
}

func TestStartPropagatesSourceErrors(t *testing.T) {
	src := newFakeSource(t)
	src.err = fmt.Errorf("%w: user dismissed prompt", ErrPermissionDenied)
	c := NewController(src, ControllerOptions{Constraints: Constraints{Audio: true}})

	_, err := c.Start(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Equal(t, Constraints{Audio: true}, src.asked)
}

func TestAttachRemoteUsesSink(t *testing.T) {
	sink := &recordingSink{}
	c := NewController(newFakeSource(t), ControllerOptions{Sink: sink})
	c.AttachRemote(nil)
	require.Equal(t, 1, sink.remote)
}
