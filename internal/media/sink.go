package media

import (
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// LogSink is the Sink used by the headless client: it logs local tracks and
// drains remote RTP so the receive buffers never fill.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *LogSink) AttachLocal(tracks []Track) {
	for _, t := range tracks {
		s.logger().Info("local track ready", "kind", t.Kind().String(), "id", t.Local().ID())
	}
}

func (s *LogSink) AttachRemote(track *webrtc.TrackRemote) {
	logger := s.logger().With("kind", track.Kind().String(), "codec", track.Codec().MimeType, "ssrc", uint32(track.SSRC()))
	logger.Info("remote track attached")

	go func() {
		packets := 0
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				logger.Info("remote track ended", "packets", packets, "error", err)
				return
			}
			packets++
		}
	}()
}
