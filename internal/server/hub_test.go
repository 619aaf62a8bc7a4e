package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/huddle/internal/config"
	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/signal"
)

func newTestHub(t *testing.T, policy string) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHub(&config.Config{AdmissionPolicy: policy})
	go h.Run(ctx)
	return h
}

// newTestClient builds a pumpless client; tests read c.out directly.
func newTestClient(h *Hub, id string) *Client {
	c := &Client{
		ID:  domain.ParticipantID(id),
		hub: h,
		out: make(chan []byte, 32),
	}
	h.Register(c)
	return c
}

func push(t *testing.T, h *Hub, c *Client, typ signal.Type, payload any) {
	t.Helper()
	env, err := signal.New(typ, payload)
	require.NoError(t, err)
	h.inbound <- inbound{c: c, env: env}
}

func recv(t *testing.T, c *Client) signal.Envelope {
	t.Helper()
	select {
	case raw, ok := <-c.out:
		require.True(t, ok, "send channel closed")
		env, err := signal.Parse(raw)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an envelope")
		return signal.Envelope{}
	}
}

// expectSilence proves the hub forwarded nothing to c for all inbound
// traffic pushed so far: a sentinel of an unexpected type is pushed
// through the same serial inbound queue, and the first thing c sees must
// be the sentinel's error reply.
func expectSilence(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	h.inbound <- inbound{c: c, env: signal.Envelope{Type: "sentinel"}}
	env := recv(t, c)
	require.Equal(t, signal.TypeError, env.Type, "expected silence, got %s", env.Type)
}

func join(t *testing.T, h *Hub, c *Client, room, name string) signal.RoomJoined {
	t.Helper()
	push(t, h, c, signal.TypeRequestJoin, signal.JoinRequest{RoomID: domain.RoomID(room), Name: name})
	env := recv(t, c)
	require.Equal(t, signal.TypeRoomJoined, env.Type)
	p, err := env.Decode()
	require.NoError(t, err)
	return p.(signal.RoomJoined)
}

func TestFirstJoinerHostsRoom(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	a := newTestClient(h, "a")

	joined := join(t, h, a, "standup", "Alice")
	assert.True(t, joined.IsHost)
	assert.Equal(t, "standup", string(joined.RoomID))

	rooms := h.Snapshot(context.Background())
	require.Len(t, rooms, 1)
	assert.Equal(t, 1, rooms[0].Members)
}

func TestRejoinIsIdempotent(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	a := newTestClient(h, "a")

	join(t, h, a, "standup", "Alice")
	joined := join(t, h, a, "standup", "Alice")
	assert.True(t, joined.IsHost, "recorded member is re-admitted with the same role")

	rooms := h.Snapshot(context.Background())
	require.Len(t, rooms, 1)
	assert.Equal(t, 1, rooms[0].Members)
}

func TestJoinRejectsBadName(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	a := newTestClient(h, "a")

	push(t, h, a, signal.TypeRequestJoin, signal.JoinRequest{RoomID: "standup", Name: "   "})
	env := recv(t, a)
	assert.Equal(t, signal.TypeError, env.Type)
	assert.Empty(t, h.Snapshot(context.Background()))
}

func TestGuestKnocks(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "standup", "Alice")

	push(t, h, b, signal.TypeRequestJoin, signal.JoinRequest{RoomID: "standup", Name: "Bob"})

	env := recv(t, b)
	assert.Equal(t, signal.TypeWaitingForHost, env.Type)

	env = recv(t, a)
	require.Equal(t, signal.TypeGuestKnocking, env.Type)
	p, err := env.Decode()
	require.NoError(t, err)
	knock := p.(signal.GuestKnocking)
	assert.Equal(t, b.ID, knock.GuestID)
	assert.Equal(t, "Bob", knock.GuestName)

	// A knocker is not a member; the room stays at one.
	rooms := h.Snapshot(context.Background())
	require.Len(t, rooms, 1)
	assert.Equal(t, 1, rooms[0].Members)
}

func TestGrantAdmitsGuest(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "standup", "Alice")
	push(t, h, b, signal.TypeRequestJoin, signal.JoinRequest{RoomID: "standup", Name: "Bob"})
	recv(t, b) // waiting-for-host
	recv(t, a) // guest-knocking

	push(t, h, a, signal.TypeAcceptGuest, signal.AdmissionRef{RoomID: "standup", GuestID: b.ID})

	env := recv(t, b)
	require.Equal(t, signal.TypeRoomJoined, env.Type)
	p, err := env.Decode()
	require.NoError(t, err)
	assert.False(t, p.(signal.RoomJoined).IsHost)

	env = recv(t, a)
	require.Equal(t, signal.TypeUserConnected, env.Type)
	p, err = env.Decode()
	require.NoError(t, err)
	assert.Equal(t, b.ID, p.(signal.Membership).UserID)
}

func TestDuplicateGrantIsNoOp(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "standup", "Alice")
	push(t, h, b, signal.TypeRequestJoin, signal.JoinRequest{RoomID: "standup", Name: "Bob"})
	recv(t, b)
	recv(t, a)

	push(t, h, a, signal.TypeAcceptGuest, signal.AdmissionRef{RoomID: "standup", GuestID: b.ID})
	recv(t, b) // room-joined
	recv(t, a) // user-connected

	// Second grant for the same guest changes nothing.
	push(t, h, a, signal.TypeAcceptGuest, signal.AdmissionRef{RoomID: "standup", GuestID: b.ID})
	expectSilence(t, h, b)
	expectSilence(t, h, a)

	rooms := h.Snapshot(context.Background())
	require.Len(t, rooms, 1)
	assert.Equal(t, 2, rooms[0].Members)
}

func TestGrantForVanishedGuestIsNoOp(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	a := newTestClient(h, "a")
	join(t, h, a, "standup", "Alice")

	push(t, h, a, signal.TypeAcceptGuest, signal.AdmissionRef{RoomID: "standup", GuestID: "ghost"})
	expectSilence(t, h, a)
}

func TestGrantFromNonMemberIgnored(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	outsider := newTestClient(h, "x")
	join(t, h, a, "standup", "Alice")
	push(t, h, b, signal.TypeRequestJoin, signal.JoinRequest{RoomID: "standup", Name: "Bob"})
	recv(t, b)
	recv(t, a)

	push(t, h, outsider, signal.TypeAcceptGuest, signal.AdmissionRef{RoomID: "standup", GuestID: b.ID})
	expectSilence(t, h, b)
}

func TestDenyNotifiesGuestOnly(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "standup", "Alice")
	push(t, h, b, signal.TypeRequestJoin, signal.JoinRequest{RoomID: "standup", Name: "Bob"})
	recv(t, b)
	recv(t, a)

	push(t, h, a, signal.TypeDenyGuest, signal.AdmissionRef{RoomID: "standup", GuestID: b.ID})

	env := recv(t, b)
	assert.Equal(t, signal.TypeGuestDenied, env.Type)
	expectSilence(t, h, a)

	// Denial created no membership.
	rooms := h.Snapshot(context.Background())
	require.Len(t, rooms, 1)
	assert.Equal(t, 1, rooms[0].Members)
}

func TestOpenPolicyAdmitsImmediately(t *testing.T) {
	h := newTestHub(t, config.AdmissionOpen)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "standup", "Alice")

	joined := join(t, h, b, "standup", "Bob")
	assert.False(t, joined.IsHost)

	env := recv(t, a)
	assert.Equal(t, signal.TypeUserConnected, env.Type)
}

func TestChatBroadcastStampsSender(t *testing.T) {
	h := newTestHub(t, config.AdmissionOpen)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	c := newTestClient(h, "c")
	join(t, h, a, "standup", "Alice")
	join(t, h, b, "standup", "Bob")
	recv(t, a) // user-connected b
	join(t, h, c, "standup", "Carol")
	recv(t, a) // user-connected c
	recv(t, b) // user-connected c

	push(t, h, b, signal.TypeChatMessage, signal.Chat{Message: "hi", SenderName: "Bob"})

	for _, member := range []*Client{a, c} {
		env := recv(t, member)
		require.Equal(t, signal.TypeChatMessage, env.Type)
		assert.Equal(t, b.ID, env.SenderID)
		p, err := env.Decode()
		require.NoError(t, err)
		assert.Equal(t, "hi", p.(signal.Chat).Message)
	}
	expectSilence(t, h, b)
}

func TestChatOutsideRoomRejected(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	c := newTestClient(h, "c")

	push(t, h, c, signal.TypeChatMessage, signal.Chat{Message: "hi"})
	env := recv(t, c)
	assert.Equal(t, signal.TypeError, env.Type)
}

func TestUnicastRelay(t *testing.T) {
	h := newTestHub(t, config.AdmissionOpen)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	c := newTestClient(h, "c")
	join(t, h, a, "standup", "Alice")
	join(t, h, b, "standup", "Bob")
	recv(t, a)
	join(t, h, c, "standup", "Carol")
	recv(t, a)
	recv(t, b)

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	push(t, h, a, signal.TypeOffer, signal.Description{Target: b.ID, SDP: sdp})

	env := recv(t, b)
	require.Equal(t, signal.TypeOffer, env.Type)
	assert.Equal(t, a.ID, env.SenderID)
	p, err := env.Decode()
	require.NoError(t, err)
	assert.Equal(t, sdp.SDP, p.(signal.Description).SDP.SDP)

	expectSilence(t, h, c)
}

func TestUnicastNeverTrustsWireSender(t *testing.T) {
	h := newTestHub(t, config.AdmissionOpen)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "standup", "Alice")
	join(t, h, b, "standup", "Bob")
	recv(t, a)

	// A forged sender id on the inbound envelope is overwritten.
	payload, err := json.Marshal(signal.Candidate{Target: b.ID, Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1"}})
	require.NoError(t, err)
	h.inbound <- inbound{c: a, env: signal.Envelope{Type: signal.TypeICECandidate, SenderID: "b", Payload: payload}}

	env := recv(t, b)
	assert.Equal(t, a.ID, env.SenderID)
}

func TestUnicastVanishedTargetDropsSilently(t *testing.T) {
	h := newTestHub(t, config.AdmissionOpen)
	a := newTestClient(h, "a")
	join(t, h, a, "standup", "Alice")

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	push(t, h, a, signal.TypeOffer, signal.Description{Target: "ghost", SDP: sdp})
	expectSilence(t, h, a)
}

func TestUnicastAcrossRoomsDropped(t *testing.T) {
	h := newTestHub(t, config.AdmissionOpen)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "standup", "Alice")
	join(t, h, b, "retro", "Bob")

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	push(t, h, a, signal.TypeOffer, signal.Description{Target: b.ID, SDP: sdp})
	expectSilence(t, h, b)
}

func TestDisconnectBroadcastsAndEmptiesRoom(t *testing.T) {
	h := newTestHub(t, config.AdmissionOpen)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "standup", "Alice")
	join(t, h, b, "standup", "Bob")
	recv(t, a)

	h.Unregister(b)

	env := recv(t, a)
	require.Equal(t, signal.TypeUserDisconnected, env.Type)
	p, err := env.Decode()
	require.NoError(t, err)
	assert.Equal(t, b.ID, p.(signal.Membership).UserID)

	// The dropped client's send channel is closed exactly once.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-b.out:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	h.Unregister(a)
	require.Eventually(t, func() bool {
		return len(h.Snapshot(context.Background())) == 0
	}, time.Second, 10*time.Millisecond, "room exists only while it has members")
}

func TestKnockerDisconnectLeavesNoTrace(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "standup", "Alice")
	push(t, h, b, signal.TypeRequestJoin, signal.JoinRequest{RoomID: "standup", Name: "Bob"})
	recv(t, b)
	recv(t, a)

	h.Unregister(b)
	expectSilence(t, h, a)

	rooms := h.Snapshot(context.Background())
	require.Len(t, rooms, 1)
	assert.Equal(t, 1, rooms[0].Members)
}

func TestQueuedEnvelopeAfterDropDiscarded(t *testing.T) {
	h := NewHub(&config.Config{AdmissionPolicy: config.AdmissionKnock})
	c := &Client{ID: "a", hub: h, out: make(chan []byte, 32)}
	h.clients[c.ID] = c

	// The read pump queues envelopes; the connection can die and be
	// dropped with some still queued. Replaying the hub loop's own call
	// order, the stale envelope must be discarded, not answered on the
	// closed send channel.
	h.drop(c)
	env, err := signal.New(signal.TypeRequestJoin, signal.JoinRequest{RoomID: "standup", Name: "Alice"})
	require.NoError(t, err)
	require.NotPanics(t, func() { h.dispatch(c, env) })
	assert.Empty(t, h.registry.Snapshot(), "a dropped client cannot create a room")
}

func TestSwitchingRoomsLeavesOldRoom(t *testing.T) {
	h := newTestHub(t, config.AdmissionOpen)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "alpha", "Alice")
	join(t, h, b, "alpha", "Bob")
	recv(t, a) // user-connected b

	joined := join(t, h, b, "beta", "Bob")
	assert.True(t, joined.IsHost, "first joiner of the new room hosts it")

	// To alpha the switch looks like a disconnect.
	env := recv(t, a)
	require.Equal(t, signal.TypeUserDisconnected, env.Type)
	p, err := env.Decode()
	require.NoError(t, err)
	assert.Equal(t, b.ID, p.(signal.Membership).UserID)

	counts := map[string]int{}
	for _, info := range h.Snapshot(context.Background()) {
		counts[string(info.ID)] = info.Members
	}
	assert.Equal(t, map[string]int{"alpha": 1, "beta": 1}, counts)
}

func TestSoloRoomSwitchDeletesOldRoom(t *testing.T) {
	h := newTestHub(t, config.AdmissionKnock)
	a := newTestClient(h, "a")
	join(t, h, a, "alpha", "Alice")
	join(t, h, a, "beta", "Alice")

	rooms := h.Snapshot(context.Background())
	require.Len(t, rooms, 1)
	assert.Equal(t, "beta", string(rooms[0].ID))

	// No phantom membership survives the eventual disconnect.
	h.Unregister(a)
	require.Eventually(t, func() bool {
		return len(h.Snapshot(context.Background())) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestJoinRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHub(&config.Config{
		AdmissionPolicy: config.AdmissionKnock,
		JoinRateLimit:   2,
		JoinRateWindow:  time.Minute,
	})
	go h.Run(ctx)
	a := newTestClient(h, "a")

	join(t, h, a, "standup", "Alice")
	join(t, h, a, "standup", "Alice")

	push(t, h, a, signal.TypeRequestJoin, signal.JoinRequest{RoomID: "standup", Name: "Alice"})
	env := recv(t, a)
	assert.Equal(t, signal.TypeError, env.Type)
}
