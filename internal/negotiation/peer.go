package negotiation

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// DataChannel is the slice of *webrtc.DataChannel the engine and chat use.
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	SendText(s string) error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	Close() error
}

// PeerEvents are the observers registered when a connection is created.
type PeerEvents struct {
	OnICECandidate             func(webrtc.ICECandidateInit)
	OnConnectionStateChange    func(webrtc.PeerConnectionState)
	OnICEConnectionStateChange func(webrtc.ICEConnectionState)
	OnDataChannel              func(DataChannel)
	OnTrack                    func(*webrtc.TrackRemote)
}

// PeerConnection is the negotiation primitive the engine drives. The pion
// implementation comes from NewPionFactory; tests substitute fakes.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	CreateDataChannel(label string) (DataChannel, error)
	SignalingState() webrtc.SignalingState

	// Unregister stops delivery of PeerEvents. Called before Close so no
	// observer runs against a half-released connection.
	Unregister()
	Close() error
}

// PeerFactory creates one connection wired to events.
type PeerFactory func(events PeerEvents) (PeerConnection, error)

// PionConfig configures connections built by NewPionFactory.
type PionConfig struct {
	ICEServers      []webrtc.ICEServer
	IncludeLoopback bool // Gather loopback candidates (same-host testing)
}

// NewPionFactory returns a PeerFactory backed by pion/webrtc.
func NewPionFactory(cfg PionConfig) PeerFactory {
	se := webrtc.SettingEngine{}
	if cfg.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	rtcConfig := webrtc.Configuration{ICEServers: cfg.ICEServers}

	return func(events PeerEvents) (PeerConnection, error) {
		pc, err := api.NewPeerConnection(rtcConfig)
		if err != nil {
			return nil, err
		}
		p := &pionPeer{pc: pc}
		p.register(events)
		return p, nil
	}
}

type pionPeer struct {
	pc       *webrtc.PeerConnection
	detached atomic.Bool
}

func (p *pionPeer) register(events PeerEvents) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering; trickle peers need no marker.
		if c == nil || p.detached.Load() || events.OnICECandidate == nil {
			return
		}
		events.OnICECandidate(c.ToJSON())
	})
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if !p.detached.Load() && events.OnConnectionStateChange != nil {
			events.OnConnectionStateChange(s)
		}
	})
	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		if !p.detached.Load() && events.OnICEConnectionStateChange != nil {
			events.OnICEConnectionStateChange(s)
		}
	})
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if !p.detached.Load() && events.OnDataChannel != nil {
			events.OnDataChannel(dc)
		}
	})
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !p.detached.Load() && events.OnTrack != nil {
			events.OnTrack(track)
		}
	})
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) error {
	_, err := p.pc.AddTrack(track)
	return err
}

func (p *pionPeer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (p *pionPeer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *pionPeer) Unregister() {
	p.detached.Store(true)
}

func (p *pionPeer) Close() error {
	p.detached.Store(true)
	return p.pc.Close()
}
