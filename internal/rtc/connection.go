// Package rtc adapts pion/webrtc peer connections to the orchestrator's
// transport interface.
package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/client"
	"github.com/avolkov/huddle/internal/domain"
)

// Track wraps a pion local track into the orchestrator's LocalTrack.
type Track struct {
	Local webrtc.TrackLocal
}

func (t *Track) ID() string   { return t.Local.ID() }
func (t *Track) Kind() string { return t.Local.Kind().String() }

// NewFactory returns a transport factory building one peer connection
// per link, with the shared local track set attached at creation.
func NewFactory(stunURLs []string, media client.MediaSet) client.TransportFactory {
	cfg := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
	}
	return func(remote domain.ParticipantID) (client.PeerTransport, error) {
		return newConn(cfg, media, remote)
	}
}

// Conn implements client.PeerTransport on a pion PeerConnection.
type Conn struct {
	pc     *webrtc.PeerConnection
	remote domain.ParticipantID

	videoSender *webrtc.RTPSender
	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(client.RemoteTrack)
}

func newConn(cfg webrtc.Configuration, media client.MediaSet, remote domain.ParticipantID) (*Conn, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &Conn{pc: pc, remote: remote}

	for _, t := range media.Tracks() {
		wrapped, ok := t.(*Track)
		if !ok {
			pc.Close()
			return nil, fmt.Errorf("local track %s is not an rtc track", t.ID())
		}
		sender, err := pc.AddTrack(wrapped.Local)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add local track %s: %w", t.ID(), err)
		}
		if wrapped.Local.Kind() == webrtc.RTPCodecTypeVideo {
			c.videoSender = sender
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("remote", string(remote)).Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("remote track")
		if c.onTrack != nil {
			c.onTrack(&remoteTrack{t: track})
		}
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(remote)).Str("ice_state", s.String()).Msg("ICE state")
	})

	return c, nil
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Candidates trickle via OnICECandidate; no gather wait here.
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Conn) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Conn) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

// ReplaceVideoTrack swaps the video sender's track without SDP
// renegotiation. Reports false when no video sender was ever attached.
func (c *Conn) ReplaceVideoTrack(t client.LocalTrack) (bool, error) {
	if c.videoSender == nil {
		return false, nil
	}
	wrapped, ok := t.(*Track)
	if !ok {
		return false, fmt.Errorf("local track %s is not an rtc track", t.ID())
	}
	if err := c.videoSender.ReplaceTrack(wrapped.Local); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }
func (c *Conn) OnTrack(fn func(client.RemoteTrack))             { c.onTrack = fn }

func (c *Conn) Close() {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("close peer connection")
	}
}

type remoteTrack struct {
	t *webrtc.TrackRemote
}

func (r *remoteTrack) ID() string       { return r.t.ID() }
func (r *remoteTrack) StreamID() string { return r.t.StreamID() }
func (r *remoteTrack) Kind() string     { return r.t.Kind().String() }
