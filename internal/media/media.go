// Package media owns local capture for a call. A Controller acquires tracks
// from a Source exactly once, exposes them to the negotiation engine, and
// toggles them without renegotiating.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrNoDevice         = errors.New("no capture device available")
	ErrReleased         = errors.New("media already released")
	ErrBusy             = errors.New("media acquisition in progress")
)

// Constraints selects which kinds of capture to request.
type Constraints struct {
	Audio bool
	Video bool
}

// DefaultConstraints requests a microphone and a camera.
var DefaultConstraints = Constraints{Audio: true, Video: true}

// Track is one captured local track.
type Track interface {
	Kind() webrtc.RTPCodecType
	Local() webrtc.TrackLocal

	// SetEnabled mutes or unmutes the track in place. The negotiated session
	// is left alone.
	SetEnabled(enabled bool)
	Enabled() bool
	Stop()
}

// Source acquires capture tracks. Implementations return an error wrapping
// ErrPermissionDenied or ErrNoDevice when capture is impossible.
type Source interface {
	Acquire(ctx context.Context, c Constraints) ([]Track, error)
}

// Sink presents local and remote media. The headless client logs them; a
// UI would render them.
type Sink interface {
	AttachLocal(tracks []Track)
	AttachRemote(track *webrtc.TrackRemote)
}

// MediaState is a snapshot of the local capture.
type MediaState struct {
	Tracks       []Track
	AudioEnabled bool
	VideoEnabled bool
}
