package client

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/avolkov/huddle/internal/domain"
)

// fakeTransport stands in for a pion peer connection. Suspension points
// can be gated to exercise close-during-negotiation races.
type fakeTransport struct {
	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
	videoTrack LocalTrack
	hasVideo   bool
	closed     bool

	offerErr  error
	answerErr error
	applyErr  error

	offerGate chan struct{}

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(RemoteTrack)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{hasVideo: true}
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	if f.offerGate != nil {
		<-f.offerGate
	}
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeTransport) CreateAnswer(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if f.answerErr != nil {
		return webrtc.SessionDescription{}, f.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeTransport) ApplyAnswer(webrtc.SessionDescription) error {
	return f.applyErr
}

func (f *fakeTransport) AddICECandidate(cand webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, cand)
	return nil
}

func (f *fakeTransport) ReplaceVideoTrack(track LocalTrack) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasVideo {
		return false, nil
	}
	f.videoTrack = track
	return true, nil
}

func (f *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onICE = fn }
func (f *fakeTransport) OnTrack(fn func(RemoteTrack))                   { f.onTrack = fn }

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) applied() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(f.candidates))
	copy(out, f.candidates)
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) video() LocalTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.videoTrack
}

// fakeSignaler records outbound negotiation envelopes.
type fakeSignaler struct {
	mu         sync.Mutex
	offers     map[domain.ParticipantID]webrtc.SessionDescription
	answers    map[domain.ParticipantID]webrtc.SessionDescription
	candidates map[domain.ParticipantID][]webrtc.ICECandidateInit
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		offers:     make(map[domain.ParticipantID]webrtc.SessionDescription),
		answers:    make(map[domain.ParticipantID]webrtc.SessionDescription),
		candidates: make(map[domain.ParticipantID][]webrtc.ICECandidateInit),
	}
}

func (s *fakeSignaler) SendOffer(target domain.ParticipantID, sdp webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[target] = sdp
	return nil
}

func (s *fakeSignaler) SendAnswer(target domain.ParticipantID, sdp webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[target] = sdp
	return nil
}

func (s *fakeSignaler) SendCandidate(target domain.ParticipantID, cand webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[target] = append(s.candidates[target], cand)
	return nil
}

func (s *fakeSignaler) offerTo(target domain.ParticipantID) (webrtc.SessionDescription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sdp, ok := s.offers[target]
	return sdp, ok
}

func (s *fakeSignaler) answerTo(target domain.ParticipantID) (webrtc.SessionDescription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sdp, ok := s.answers[target]
	return sdp, ok
}

// fakeLocalTrack is a named outbound track.
type fakeLocalTrack struct {
	id   string
	kind string
}

func (f fakeLocalTrack) ID() string   { return f.id }
func (f fakeLocalTrack) Kind() string { return f.kind }

// fakeRemoteTrack is a named inbound track.
type fakeRemoteTrack struct {
	id     string
	stream string
	kind   string
}

func (f fakeRemoteTrack) ID() string       { return f.id }
func (f fakeRemoteTrack) StreamID() string { return f.stream }
func (f fakeRemoteTrack) Kind() string     { return f.kind }

// fakeScreenSource is a controllable screen capture.
type fakeScreenSource struct {
	mu      sync.Mutex
	track   LocalTrack
	onEnded func()
	stopped bool
}

func (f *fakeScreenSource) Track() LocalTrack { return f.track }

func (f *fakeScreenSource) OnEnded(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnded = fn
}

func (f *fakeScreenSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// end simulates the OS-level capture stop control.
func (f *fakeScreenSource) end() {
	f.mu.Lock()
	fn := f.onEnded
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeScreenSource) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// fakeProvider hands out a fixed camera set and fresh screen sources.
type fakeProvider struct {
	mu        sync.Mutex
	camera    MediaSet
	cameraErr error
	screenErr error
	screens   []*fakeScreenSource
}

func (p *fakeProvider) Camera() (MediaSet, error) {
	if p.cameraErr != nil {
		return MediaSet{}, p.cameraErr
	}
	return p.camera, nil
}

func (p *fakeProvider) Screen() (ScreenSource, error) {
	if p.screenErr != nil {
		return nil, p.screenErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	src := &fakeScreenSource{track: fakeLocalTrack{id: fmt.Sprintf("screen-%d", len(p.screens)), kind: "video"}}
	p.screens = append(p.screens, src)
	return src, nil
}
