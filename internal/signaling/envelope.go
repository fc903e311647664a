package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Type identifies the kind of signaling envelope
type Type string

const (
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeReady        Type = "ready"
	TypeTerminated   Type = "terminated"
)

var (
	ErrUnknownType      = errors.New("unknown envelope type")
	ErrMissingSender    = errors.New("envelope has no sender")
	ErrMissingPayload   = errors.New("envelope payload required")
	ErrMalformedPayload = errors.New("malformed envelope payload")
)

// Known reports whether t is one of the envelope kinds peers exchange.
func (t Type) Known() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeReady, TypeTerminated:
		return true
	}
	return false
}

// Envelope is one signaling message exchanged between the two peers of a room.
// It is never mutated once sent.
type Envelope struct {
	Type       Type            `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	FromUserID string          `json:"fromUserId"`
	ToUserID   string          `json:"toUserId,omitempty"`
}

// NewOffer wraps a local offer description.
func NewOffer(from, to string, desc webrtc.SessionDescription) (Envelope, error) {
	return newEnvelope(TypeOffer, from, to, desc)
}

// NewAnswer wraps a local answer description.
func NewAnswer(from, to string, desc webrtc.SessionDescription) (Envelope, error) {
	return newEnvelope(TypeAnswer, from, to, desc)
}

// NewCandidate wraps a locally gathered ICE candidate.
func NewCandidate(from, to string, candidate webrtc.ICECandidateInit) (Envelope, error) {
	return newEnvelope(TypeICECandidate, from, to, candidate)
}

// NewReady announces that the sender has set up its side of the call.
func NewReady(from, to string) Envelope {
	return Envelope{Type: TypeReady, FromUserID: from, ToUserID: to}
}

// NewTerminated tells the peer the call is over.
func NewTerminated(from, to string) Envelope {
	return Envelope{Type: TypeTerminated, FromUserID: from, ToUserID: to}
}

func newEnvelope(t Type, from, to string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: data, FromUserID: from, ToUserID: to}, nil
}

// Validate checks the shape of an envelope without interpreting its payload.
func (e Envelope) Validate() error {
	if !e.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if e.FromUserID == "" {
		return ErrMissingSender
	}
	switch e.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		if len(e.Data) == 0 || string(e.Data) == "null" {
			return fmt.Errorf("%w: %s", ErrMissingPayload, e.Type)
		}
	}
	return nil
}

// IsFor reports whether userID should process the envelope. Envelopes
// without a recipient are broadcast to the room.
func (e Envelope) IsFor(userID string) bool {
	return e.ToUserID == "" || e.ToUserID == userID
}

// SessionDescription decodes the payload of an offer or answer.
func (e Envelope) SessionDescription() (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if e.Type != TypeOffer && e.Type != TypeAnswer {
		return desc, fmt.Errorf("%w: %s carries no session description", ErrMalformedPayload, e.Type)
	}
	if err := json.Unmarshal(e.Data, &desc); err != nil {
		return desc, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("%w: empty sdp", ErrMalformedPayload)
	}
	// The sender's type field is advisory; the envelope type is authoritative.
	if e.Type == TypeOffer {
		desc.Type = webrtc.SDPTypeOffer
	} else {
		desc.Type = webrtc.SDPTypeAnswer
	}
	return desc, nil
}

// Candidate decodes the payload of an ice-candidate envelope.
func (e Envelope) Candidate() (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if e.Type != TypeICECandidate {
		return c, fmt.Errorf("%w: %s carries no candidate", ErrMalformedPayload, e.Type)
	}
	if err := json.Unmarshal(e.Data, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if c.Candidate == "" {
		return c, fmt.Errorf("%w: empty candidate", ErrMalformedPayload)
	}
	return c, nil
}

// Decode parses a wire envelope and validates it.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return env, err
	}
	return env, nil
}
