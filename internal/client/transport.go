// Package client is the multi-peer connection orchestrator: it turns
// relayed signaling envelopes into a mesh of negotiated peer links.
package client

import (
	"github.com/pion/webrtc/v4"

	"github.com/avolkov/huddle/internal/domain"
)

// LocalTrack is an outbound media track as the orchestrator sees it.
// Capture is external; the rtc adapter wraps pion tracks into this.
type LocalTrack interface {
	ID() string
	Kind() string // "audio" or "video"
}

// RemoteTrack is an inbound media track surfaced by a peer link.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() string
}

// MediaSet is the single logical local track set shared read-only by
// every peer link.
type MediaSet struct {
	Audio LocalTrack
	Video LocalTrack
}

// Tracks returns the non-nil tracks, audio first.
func (m MediaSet) Tracks() []LocalTrack {
	var out []LocalTrack
	if m.Audio != nil {
		out = append(out, m.Audio)
	}
	if m.Video != nil {
		out = append(out, m.Video)
	}
	return out
}

// ScreenSource is a running screen capture. OnEnded fires when capture
// stops by external means (the OS-level stop control), which must take
// the same revert path as an explicit toggle-off.
type ScreenSource interface {
	Track() LocalTrack
	OnEnded(func())
	Stop()
}

// MediaProvider acquires capture sources. Denied or unavailable media is
// reported as an error and the session continues without it.
type MediaProvider interface {
	Camera() (MediaSet, error)
	Screen() (ScreenSource, error)
}

// PeerTransport abstracts one underlying peer connection. Implemented on
// pion by internal/rtc; tests use a fake.
type PeerTransport interface {
	// CreateOffer produces and applies the local offer.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer applies the remote offer and produces the local answer.
	CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// ApplyAnswer applies the remote answer.
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// ReplaceVideoTrack swaps the outbound video sender's track without
	// renegotiating. Reports false if the link has no video sender.
	ReplaceVideoTrack(LocalTrack) (bool, error)
	// OnICECandidate sets the callback for locally gathered candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets the callback for newly arrived remote tracks.
	OnTrack(func(RemoteTrack))
	Close()
}

// TransportFactory builds the transport for a new link toward remote.
type TransportFactory func(remote domain.ParticipantID) (PeerTransport, error)

// Signaler sends unicast negotiation envelopes through the relay.
type Signaler interface {
	SendOffer(target domain.ParticipantID, sdp webrtc.SessionDescription) error
	SendAnswer(target domain.ParticipantID, sdp webrtc.SessionDescription) error
	SendCandidate(target domain.ParticipantID, cand webrtc.ICECandidateInit) error
}
