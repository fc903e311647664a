package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ControllerOptions configures a Controller. With neither Audio nor Video
// requested, DefaultConstraints apply.
type ControllerOptions struct {
	Constraints Constraints
	Sink        Sink
	Logger      *slog.Logger
}

// Controller is the only owner of local capture for one call.
type Controller struct {
	source      Source
	constraints Constraints
	sink        Sink
	logger      *slog.Logger

	mu        sync.Mutex
	tracks    []Track
	started   bool
	acquiring bool
	released  bool
}

// NewController creates a controller that will acquire from source.
func NewController(source Source, opts ControllerOptions) *Controller {
	constraints := opts.Constraints
	if !constraints.Audio && !constraints.Video {
		constraints = DefaultConstraints
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		source:      source,
		constraints: constraints,
		sink:        opts.Sink,
		logger:      logger,
	}
}

// Start acquires capture on first use and returns the tracks to attach to
// the peer connection. Later calls return the same tracks. If Cleanup runs
// while acquisition is pending, the acquired tracks are stopped and
// ErrReleased is returned.
func (c *Controller) Start(ctx context.Context) ([]webrtc.TrackLocal, error) {
	c.mu.Lock()
	switch {
	case c.released:
		c.mu.Unlock()
		return nil, ErrReleased
	case c.started:
		locals := localsOf(c.tracks)
		c.mu.Unlock()
		return locals, nil
	case c.acquiring:
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.acquiring = true
	c.mu.Unlock()

	tracks, err := c.source.Acquire(ctx, c.constraints)

	c.mu.Lock()
	c.acquiring = false
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("acquire media: %w", err)
	}
	if c.released {
		c.mu.Unlock()
		stopAll(tracks)
		return nil, ErrReleased
	}
	c.tracks = tracks
	c.started = true
	locals := localsOf(tracks)
	sink := c.sink
	c.mu.Unlock()

	c.logger.Info("local media acquired", "tracks", len(tracks),
		"audio", c.constraints.Audio, "video", c.constraints.Video)
	if sink != nil {
		sink.AttachLocal(tracks)
	}
	return locals, nil
}

// ToggleAudio flips every local audio track and returns the new state.
func (c *Controller) ToggleAudio() bool {
	return c.toggle(webrtc.RTPCodecTypeAudio)
}

// ToggleVideo flips every local video track and returns the new state.
func (c *Controller) ToggleVideo() bool {
	return c.toggle(webrtc.RTPCodecTypeVideo)
}

func (c *Controller) toggle(kind webrtc.RTPCodecType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []Track
	for _, t := range c.tracks {
		if t.Kind() == kind {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		return false
	}

	enabled := !anyEnabled(matched)
	for _, t := range matched {
		t.SetEnabled(enabled)
	}
	c.logger.Debug("local track toggled", "kind", kind.String(), "enabled", enabled)
	return enabled
}

// State returns the current capture snapshot.
func (c *Controller) State() MediaState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := MediaState{Tracks: append([]Track(nil), c.tracks...)}
	for _, t := range c.tracks {
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			state.AudioEnabled = state.AudioEnabled || t.Enabled()
		case webrtc.RTPCodecTypeVideo:
			state.VideoEnabled = state.VideoEnabled || t.Enabled()
		}
	}
	return state
}

// AttachRemote hands a remote track to the sink.
func (c *Controller) AttachRemote(track *webrtc.TrackRemote) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink.AttachRemote(track)
	}
}

// Cleanup stops every local track. It may be called any number of times.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	tracks := c.tracks
	c.tracks = nil
	c.mu.Unlock()

	stopAll(tracks)
	c.logger.Debug("local media released", "tracks", len(tracks))
}

func localsOf(tracks []Track) []webrtc.TrackLocal {
	locals := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		locals = append(locals, t.Local())
	}
	return locals
}

func anyEnabled(tracks []Track) bool {
	for _, t := range tracks {
		if t.Enabled() {
			return true
		}
	}
	return false
}

func stopAll(tracks []Track) {
	for _, t := range tracks {
		t.Stop()
	}
}
