package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const opusFrameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame that decodes to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource produces capture tracks without devices: an Opus audio
// track carrying silence and a VP8 video track with no frames. Headless
// peers use it so the negotiated session still contains both media
// sections.
type SyntheticSource struct {
	Logger *slog.Logger
}

// Acquire creates one track per requested kind.
func (s *SyntheticSource) Acquire(ctx context.Context, c Constraints) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: nothing requested", ErrNoDevice)
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	streamID := "peercall-" + uuid.NewString()

	var tracks []Track
	if c.Audio {
		local, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		t := newSyntheticTrack(webrtc.RTPCodecTypeAudio, local)
		go t.pumpSilence(logger)
		tracks = append(tracks, t)
	}
	if c.Video {
		local, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID,
		)
		if err != nil {
			stopAll(tracks)
			return nil, fmt.Errorf("create video track: %w", err)
		}
		tracks = append(tracks, newSyntheticTrack(webrtc.RTPCodecTypeVideo, local))
	}
	return tracks, nil
}

type syntheticTrack struct {
	kind    webrtc.RTPCodecType
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
}

func newSyntheticTrack(kind webrtc.RTPCodecType, local *webrtc.TrackLocalStaticSample) *syntheticTrack {
	t := &syntheticTrack{kind: kind, local: local, stop: make(chan struct{})}
	t.enabled.Store(true)
	return t
}

func (t *syntheticTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *syntheticTrack) Local() webrtc.TrackLocal { return t.local }

func (t *syntheticTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *syntheticTrack) Enabled() bool { return t.enabled.Load() }

func (t *syntheticTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// pumpSilence writes one silent frame per frame interval while enabled.
// A muted track sends nothing.
func (t *syntheticTrack) pumpSilence(logger *slog.Logger) {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			if err := t.local.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: opusFrameDuration}); err != nil {
				logger.Debug("failed to write audio sample", "error", err)
			}
		}
	}
}
