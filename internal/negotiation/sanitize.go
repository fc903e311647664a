package negotiation

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// DefaultSDPAttributes is the attribute whitelist applied to received
// session descriptions. It was derived from sessions observed to work over
// the size-limited relay rather than from a protocol document, so it is
// deliberately overridable: newer codecs or extensions may need more.
var DefaultSDPAttributes = []string{
	"group",
	"ice-ufrag",
	"ice-pwd",
	"ice-options",
	"fingerprint",
	"setup",
	"mid",
	"sendrecv",
	"sendonly",
	"recvonly",
	"inactive",
	"rtcp-mux",
	"rtpmap",
	"fmtp",
}

// TrackAttributes are the attributes pion needs in a remote description
// to map incoming RTP to a track. Without them OnTrack never fires for
// the remote peer's media, so pion-to-pion calls should allow them.
var TrackAttributes = []string{"ssrc", "msid", "extmap"}

// Sanitizer trims a session description down to version, origin, session
// name, timing, media and connection lines plus whitelisted attributes.
type Sanitizer struct {
	allowed map[string]struct{}
}

// NewSanitizer builds a sanitizer from DefaultSDPAttributes plus extra.
func NewSanitizer(extra ...string) *Sanitizer {
	return NewSanitizerWith(append(append([]string(nil), DefaultSDPAttributes...), extra...))
}

// NewSanitizerWith builds a sanitizer that keeps exactly the given
// attribute keys.
func NewSanitizerWith(attributes []string) *Sanitizer {
	s := &Sanitizer{allowed: make(map[string]struct{}, len(attributes))}
	for _, key := range attributes {
		key = strings.TrimSpace(strings.TrimPrefix(key, "a="))
		if key != "" {
			s.allowed[key] = struct{}{}
		}
	}
	return s
}

// Allows reports whether attribute key survives sanitization.
func (s *Sanitizer) Allows(key string) bool {
	_, ok := s.allowed[key]
	return ok
}

// Sanitize parses raw and re-serializes only the retained lines. A
// description that cannot be parsed is reported as ErrProtocol.
func (s *Sanitizer) Sanitize(raw string) (string, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("%w: parse sdp: %v", ErrProtocol, err)
	}

	trimmed := sdp.SessionDescription{
		Version:               parsed.Version,
		Origin:                parsed.Origin,
		SessionName:           parsed.SessionName,
		ConnectionInformation: parsed.ConnectionInformation,
		Attributes:            s.filter(parsed.Attributes),
	}
	for _, td := range parsed.TimeDescriptions {
		trimmed.TimeDescriptions = append(trimmed.TimeDescriptions, sdp.TimeDescription{Timing: td.Timing})
	}
	for _, md := range parsed.MediaDescriptions {
		trimmed.MediaDescriptions = append(trimmed.MediaDescriptions, &sdp.MediaDescription{
			MediaName:             md.MediaName,
			ConnectionInformation: md.ConnectionInformation,
			Attributes:            s.filter(md.Attributes),
		})
	}

	out, err := trimmed.Marshal()
	if err != nil {
		return "", fmt.Errorf("%w: marshal sdp: %v", ErrProtocol, err)
	}
	return string(out), nil
}

func (s *Sanitizer) filter(attrs []sdp.Attribute) []sdp.Attribute {
	var kept []sdp.Attribute
	for _, a := range attrs {
		if s.Allows(a.Key) {
			kept = append(kept, a)
		}
	}
	return kept
}
