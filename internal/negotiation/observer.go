package negotiation

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Status is the connection summary surfaced to the UI layer.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

func connectionGood(s webrtc.PeerConnectionState) bool {
	return s == webrtc.PeerConnectionStateConnected
}

func connectionBad(s webrtc.PeerConnectionState) bool {
	switch s {
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return true
	}
	return false
}

func iceGood(s webrtc.ICEConnectionState) bool {
	return s == webrtc.ICEConnectionStateConnected || s == webrtc.ICEConnectionStateCompleted
}

func iceBad(s webrtc.ICEConnectionState) bool {
	switch s {
	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		return true
	}
	return false
}

// Classify maps the two raw state machines to a Status: connected if either
// reports connected/completed, disconnected if either reports
// disconnected/failed/closed, connecting otherwise.
func Classify(conn webrtc.PeerConnectionState, ice webrtc.ICEConnectionState) Status {
	switch {
	case connectionGood(conn) || iceGood(ice):
		return StatusConnected
	case connectionBad(conn) || iceBad(ice):
		return StatusDisconnected
	}
	return StatusConnecting
}

// Observer tracks the latest connection and ICE states. The two machines do
// not always agree or update together, so the signal that just changed
// decides when it is conclusive: a move into a good state reports connected
// and a move into a bad state reports disconnected. Other moves fall back to
// Classify.
type Observer struct {
	mu       sync.Mutex
	conn     webrtc.PeerConnectionState
	ice      webrtc.ICEConnectionState
	status   Status
	onChange func(Status)
}

// NewObserver returns an observer in the connecting state. onChange fires
// only when the status actually changes.
func NewObserver(onChange func(Status)) *Observer {
	return &Observer{
		conn:     webrtc.PeerConnectionStateNew,
		ice:      webrtc.ICEConnectionStateNew,
		status:   StatusConnecting,
		onChange: onChange,
	}
}

// Status returns the current summary.
func (o *Observer) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// ConnectionStateChanged records a peer connection state change.
func (o *Observer) ConnectionStateChanged(s webrtc.PeerConnectionState) Status {
	o.mu.Lock()
	o.conn = s
	next := Classify(o.conn, o.ice)
	switch {
	case connectionGood(s):
		next = StatusConnected
	case connectionBad(s):
		next = StatusDisconnected
	}
	return o.update(next)
}

// ICEStateChanged records an ICE connection state change.
func (o *Observer) ICEStateChanged(s webrtc.ICEConnectionState) Status {
	o.mu.Lock()
	o.ice = s
	next := Classify(o.conn, o.ice)
	switch {
	case iceGood(s):
		next = StatusConnected
	case iceBad(s):
		next = StatusDisconnected
	}
	return o.update(next)
}

// update stores next and releases o.mu before notifying.
func (o *Observer) update(next Status) Status {
	changed := next != o.status
	o.status = next
	onChange := o.onChange
	o.mu.Unlock()

	if changed && onChange != nil {
		onChange(next)
	}
	return next
}
