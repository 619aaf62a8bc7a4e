package client

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

// LinkState tracks one peer link through negotiation.
type LinkState int

const (
	LinkIdle LinkState = iota
	LinkOffering
	LinkAwaitingAnswer
	LinkAnsweringOffer
	LinkNegotiating
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkOffering:
		return "offering"
	case LinkAwaitingAnswer:
		return "awaiting-answer"
	case LinkAnsweringOffer:
		return "answering-offer"
	case LinkNegotiating:
		return "negotiating"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// Link is the local end of one negotiated connection to exactly one
// remote participant. Candidates that arrive before the remote
// description are queued FIFO and flushed exactly once, in arrival
// order, when negotiation reaches the remote description.
//
// There is no timeout: a stalled negotiation keeps the link in its
// current state until a disconnect notice closes it.
type Link struct {
	remote    domain.ParticipantID
	transport PeerTransport
	signaler  Signaler

	mu             sync.Mutex
	state          LinkState
	haveRemoteDesc bool
	pending        []webrtc.ICECandidateInit
	tracks         []RemoteTrack
}

func newLink(remote domain.ParticipantID, transport PeerTransport, signaler Signaler) *Link {
	l := &Link{
		remote:    remote,
		transport: transport,
		signaler:  signaler,
		state:     LinkIdle,
	}
	transport.OnICECandidate(l.onLocalCandidate)
	transport.OnTrack(l.onRemoteTrack)
	return l
}

func (l *Link) Remote() domain.ParticipantID { return l.remote }

func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Tracks returns the inbound media tracks observed so far.
func (l *Link) Tracks() []RemoteTrack {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RemoteTrack, len(l.tracks))
	copy(out, l.tracks)
	return out
}

// Initiate drives the offering branch: produce a local offer and send
// it, leaving the link awaiting the answer.
func (l *Link) Initiate() error {
	l.mu.Lock()
	if l.state != LinkIdle {
		l.mu.Unlock()
		return fmt.Errorf("initiate link to %s: state %s", l.remote, l.state)
	}
	l.state = LinkOffering
	l.mu.Unlock()

	offer, err := l.transport.CreateOffer()

	l.mu.Lock()
	if l.state == LinkClosed {
		// Closed mid-flight; discard the result.
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		l.state = LinkIdle
		l.mu.Unlock()
		return fmt.Errorf("create offer for %s: %w", l.remote, err)
	}
	l.state = LinkAwaitingAnswer
	l.mu.Unlock()

	return l.signaler.SendOffer(l.remote, offer)
}

// AcceptOffer drives the answering branch: apply the remote offer,
// produce and send the answer, then flush queued candidates.
func (l *Link) AcceptOffer(offer webrtc.SessionDescription) error {
	l.mu.Lock()
	if l.state != LinkIdle {
		l.mu.Unlock()
		return fmt.Errorf("accept offer from %s: state %s", l.remote, l.state)
	}
	l.state = LinkAnsweringOffer
	l.mu.Unlock()

	answer, err := l.transport.CreateAnswer(offer)

	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		l.state = LinkIdle
		l.mu.Unlock()
		return fmt.Errorf("create answer for %s: %w", l.remote, err)
	}
	l.haveRemoteDesc = true
	l.state = LinkNegotiating
	l.flushLocked()
	l.mu.Unlock()

	return l.signaler.SendAnswer(l.remote, answer)
}

// ApplyAnswer completes the offering branch and flushes queued
// candidates.
func (l *Link) ApplyAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkAwaitingAnswer {
		return fmt.Errorf("apply answer from %s: state %s", l.remote, l.state)
	}
	if err := l.transport.ApplyAnswer(answer); err != nil {
		return fmt.Errorf("apply answer from %s: %w", l.remote, err)
	}
	l.haveRemoteDesc = true
	l.state = LinkNegotiating
	l.flushLocked()
	return nil
}

// AddCandidate applies the candidate if the remote description is in
// place, otherwise queues it.
func (l *Link) AddCandidate(cand webrtc.ICECandidateInit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return
	}
	if !l.haveRemoteDesc {
		l.pending = append(l.pending, cand)
		return
	}
	if err := l.transport.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "client.link").Str("remote", string(l.remote)).Msg("add candidate")
	}
}

func (l *Link) flushLocked() {
	for _, cand := range l.pending {
		if err := l.transport.AddICECandidate(cand); err != nil {
			log.Error().Err(err).Str("module", "client.link").Str("remote", string(l.remote)).Msg("apply queued candidate")
		}
	}
	l.pending = nil
}

// ReplaceVideo swaps the outbound video track on this link's sender.
// No-op on a closed link or a link without a video sender.
func (l *Link) ReplaceVideo(track LocalTrack) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return false, nil
	}
	return l.transport.ReplaceVideoTrack(track)
}

// Close is safe from any state and idempotent. Queued candidates and
// held tracks are discarded; async results arriving later are dropped.
func (l *Link) Close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	l.pending = nil
	l.tracks = nil
	l.mu.Unlock()

	l.transport.Close()
}

func (l *Link) onLocalCandidate(cand webrtc.ICECandidateInit) {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	if err := l.signaler.SendCandidate(l.remote, cand); err != nil {
		log.Error().Err(err).Str("module", "client.link").Str("remote", string(l.remote)).Msg("send candidate")
	}
}

// onRemoteTrack records the inbound track; the first one marks the link
// Connected, further ones do not change state.
func (l *Link) onRemoteTrack(track RemoteTrack) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return
	}
	l.tracks = append(l.tracks, track)
	if l.state == LinkNegotiating {
		l.state = LinkConnected
		log.Info().Str("module", "client.link").Str("remote", string(l.remote)).Msg("link connected")
	}
}
