package client

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

// Orchestrator owns the set of peer links for one room: it fans
// negotiation envelopes out to the right link, initiates links toward
// newly admitted members, and swaps the shared outbound video track
// across all links for screen sharing.
type Orchestrator struct {
	signaler  Signaler
	factory   TransportFactory
	provider  MediaProvider
	meshLimit int

	mu      sync.Mutex
	links   map[domain.ParticipantID]*Link
	screen  ScreenSource
	sharing bool
}

// NewOrchestrator builds an orchestrator capped at meshLimit total
// participants (meshLimit-1 links). provider may be nil for a
// media-less session.
func NewOrchestrator(signaler Signaler, factory TransportFactory, provider MediaProvider, meshLimit int) *Orchestrator {
	if meshLimit < 2 {
		meshLimit = domain.MaxMembers
	}
	return &Orchestrator{
		signaler:  signaler,
		factory:   factory,
		provider:  provider,
		meshLimit: meshLimit,
		links:     make(map[domain.ParticipantID]*Link),
	}
}

// HandleUserConnected initiates a link toward the newly admitted
// participant, unless the mesh is already at capacity — then the join is
// skipped with only a log line; the excluded peer is not notified.
func (o *Orchestrator) HandleUserConnected(id domain.ParticipantID) {
	o.mu.Lock()
	if _, ok := o.links[id]; ok {
		o.mu.Unlock()
		return
	}
	if len(o.links) >= o.meshLimit-1 {
		o.mu.Unlock()
		log.Warn().Str("module", "client.orch").Str("remote", string(id)).Int("links", o.meshLimit-1).Msg("mesh full, not initiating")
		return
	}
	link, err := o.createLinkLocked(id)
	o.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(id)).Msg("create link")
		return
	}
	if err := link.Initiate(); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(id)).Msg("initiate link")
	}
}

// HandleOffer answers an inbound offer. Offers are always answered —
// the mesh cap binds only the initiating side. An offer from an
// already-linked participant replaces the link, closing the old one
// first.
func (o *Orchestrator) HandleOffer(sender domain.ParticipantID, sdp webrtc.SessionDescription) {
	o.mu.Lock()
	if old, ok := o.links[sender]; ok {
		old.Close()
		delete(o.links, sender)
	}
	link, err := o.createLinkLocked(sender)
	o.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(sender)).Msg("create answering link")
		return
	}
	if err := link.AcceptOffer(sdp); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(sender)).Msg("accept offer")
	}
}

// HandleAnswer routes an answer to its link; answers for unknown links
// are dropped.
func (o *Orchestrator) HandleAnswer(sender domain.ParticipantID, sdp webrtc.SessionDescription) {
	link := o.link(sender)
	if link == nil {
		log.Debug().Str("module", "client.orch").Str("remote", string(sender)).Msg("answer for unknown link, dropping")
		return
	}
	if err := link.ApplyAnswer(sdp); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(sender)).Msg("apply answer")
	}
}

// HandleCandidate routes a remote candidate to its link.
func (o *Orchestrator) HandleCandidate(sender domain.ParticipantID, cand webrtc.ICECandidateInit) {
	link := o.link(sender)
	if link == nil {
		log.Debug().Str("module", "client.orch").Str("remote", string(sender)).Msg("candidate for unknown link, dropping")
		return
	}
	link.AddCandidate(cand)
}

// HandleUserDisconnected tears the link down and releases its tracks.
func (o *Orchestrator) HandleUserDisconnected(id domain.ParticipantID) {
	o.mu.Lock()
	link, ok := o.links[id]
	delete(o.links, id)
	o.mu.Unlock()
	if ok {
		link.Close()
	}
}

// RemoteTracks is the union of all connected links' inbound track sets,
// one entry per remote participant.
func (o *Orchestrator) RemoteTracks() map[domain.ParticipantID][]RemoteTrack {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[domain.ParticipantID][]RemoteTrack)
	for id, link := range o.links {
		if link.State() == LinkConnected {
			out[id] = link.Tracks()
		}
	}
	return out
}

// LinkState reports the state of the link toward id, or LinkClosed if
// none exists.
func (o *Orchestrator) LinkState(id domain.ParticipantID) LinkState {
	if link := o.link(id); link != nil {
		return link.State()
	}
	return LinkClosed
}

// ScreenSharing reports whether the outbound video is the screen source.
func (o *Orchestrator) ScreenSharing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sharing
}

// ToggleScreenShare swaps the outbound video track on every link to the
// screen capture, or back to the camera. The swap touches only video
// senders; links without one are skipped. External capture cessation
// triggers the same revert path.
func (o *Orchestrator) ToggleScreenShare() error {
	o.mu.Lock()
	if o.sharing {
		o.mu.Unlock()
		return o.StopScreenShare()
	}
	if o.provider == nil {
		o.mu.Unlock()
		return fmt.Errorf("no media provider")
	}
	src, err := o.provider.Screen()
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("acquire screen capture: %w", err)
	}
	o.screen = src
	o.sharing = true
	links := o.snapshotLocked()
	o.mu.Unlock()

	src.OnEnded(func() {
		if err := o.StopScreenShare(); err != nil {
			log.Error().Err(err).Str("module", "client.orch").Msg("revert after screen capture ended")
		}
	})
	o.swapVideo(links, src.Track())
	return nil
}

// StopScreenShare stops the capture, re-acquires camera media and swaps
// the camera video track back onto every link.
func (o *Orchestrator) StopScreenShare() error {
	o.mu.Lock()
	if !o.sharing {
		o.mu.Unlock()
		return nil
	}
	src := o.screen
	o.screen = nil
	o.sharing = false
	links := o.snapshotLocked()
	o.mu.Unlock()

	if src != nil {
		src.Stop()
	}
	media, err := o.provider.Camera()
	if err != nil {
		// Degraded: capture lost, links keep their last track.
		return fmt.Errorf("re-acquire camera: %w", err)
	}
	if media.Video != nil {
		o.swapVideo(links, media.Video)
	}
	return nil
}

// Close tears down every link.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	links := o.snapshotLocked()
	o.links = make(map[domain.ParticipantID]*Link)
	o.mu.Unlock()
	for _, link := range links {
		link.Close()
	}
}

func (o *Orchestrator) createLinkLocked(id domain.ParticipantID) (*Link, error) {
	transport, err := o.factory(id)
	if err != nil {
		return nil, fmt.Errorf("transport for %s: %w", id, err)
	}
	link := newLink(id, transport, o.signaler)
	o.links[id] = link
	return link, nil
}

func (o *Orchestrator) link(id domain.ParticipantID) *Link {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.links[id]
}

func (o *Orchestrator) snapshotLocked() []*Link {
	out := make([]*Link, 0, len(o.links))
	for _, link := range o.links {
		out = append(out, link)
	}
	return out
}

// swapVideo applies the replacement on every link before returning.
// Partial failure is logged and left as-is.
func (o *Orchestrator) swapVideo(links []*Link, track LocalTrack) {
	for _, link := range links {
		replaced, err := link.ReplaceVideo(track)
		if err != nil {
			log.Error().Err(err).Str("module", "client.orch").Str("remote", string(link.Remote())).Msg("replace video track")
			continue
		}
		if !replaced {
			log.Debug().Str("module", "client.orch").Str("remote", string(link.Remote())).Msg("no video sender, swap skipped")
		}
	}
}
