package negotiation

// Phase is the engine's position in the call lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingLocalMedia
	PhaseNegotiating
	PhaseConnected
	PhaseDisconnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingLocalMedia:
		return "awaiting-local-media"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

type phaseEvent int

const (
	evInitStart phaseEvent = iota
	evInitFailed
	evMediaReady
	evConnected
	evDisconnected
	evRenegotiate
	evTerminate
)

// transition returns the phase reached from p on ev. ok is false when ev is
// not meaningful in p, in which case p is returned unchanged. Closed is
// terminal.
func transition(p Phase, ev phaseEvent) (Phase, bool) {
	if p == PhaseClosed {
		return p, false
	}
	if ev == evTerminate {
		return PhaseClosed, true
	}

	switch p {
	case PhaseIdle:
		if ev == evInitStart {
			return PhaseAwaitingLocalMedia, true
		}
	case PhaseAwaitingLocalMedia:
		switch ev {
		case evInitFailed:
			return PhaseIdle, true
		case evMediaReady:
			return PhaseNegotiating, true
		}
	case PhaseNegotiating:
		switch ev {
		case evConnected:
			return PhaseConnected, true
		case evDisconnected:
			return PhaseDisconnected, true
		case evRenegotiate:
			return PhaseNegotiating, true
		}
	case PhaseConnected:
		switch ev {
		case evDisconnected:
			return PhaseDisconnected, true
		case evRenegotiate, evConnected:
			return PhaseConnected, true
		}
	case PhaseDisconnected:
		switch ev {
		// ICE may recover by itself without a new offer.
		case evConnected:
			return PhaseConnected, true
		case evRenegotiate:
			return PhaseNegotiating, true
		case evDisconnected:
			return PhaseDisconnected, true
		}
	}
	return p, false
}

// PeerConnectionState is a point-in-time copy of the negotiation state.
type PeerConnectionState struct {
	LocalDescriptionSet  bool
	RemoteDescriptionSet bool
	PendingICE           []PendingCandidate
	AppliedCandidates    int
	ConnectionStatus     Status
	PeerReady            bool
	SelfReady            bool
}
