package server

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/config"
	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/signal"
)

// inbound is one envelope read off a client's connection.
type inbound struct {
	c   *Client
	env signal.Envelope
}

// Hub is the single event loop owning all room and membership state.
// Per-connection read pumps feed inbound in arrival order for that
// connection; there is no ordering across connections, so everything a
// second grant or a racing disconnect can do must stay idempotent.
type Hub struct {
	registry  *Registry
	admission *Admission
	limiter   *attemptLimiter
	clients   map[domain.ParticipantID]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	snapshots  chan chan []RoomInfo
}

func NewHub(cfg *config.Config) *Hub {
	h := &Hub{
		registry:   NewRegistry(),
		limiter:    newAttemptLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow),
		clients:    make(map[domain.ParticipantID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		snapshots:  make(chan chan []RoomInfo),
	}
	h.admission = NewAdmission(cfg.AdmissionPolicy, h.registry, h.client)
	return h
}

func (h *Hub) client(id domain.ParticipantID) (*Client, bool) {
	c, ok := h.clients[id]
	return c, ok
}

// Run processes hub traffic until ctx is canceled. All state mutation
// happens here, on this one goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c.ID] = c
			log.Info().Str("module", "server.hub").Str("sid", string(c.ID)).Msg("client registered")
		case c := <-h.unregister:
			h.drop(c)
		case in := <-h.inbound:
			h.dispatch(in.c, in.env)
		case reply := <-h.snapshots:
			reply <- h.registry.Snapshot()
		}
	}
}

// Register hands a freshly upgraded connection to the hub.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister is called by the client's read pump on disconnect.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// Snapshot returns the current room list, for the rooms API.
func (h *Hub) Snapshot(ctx context.Context) []RoomInfo {
	reply := make(chan []RoomInfo, 1)
	select {
	case h.snapshots <- reply:
		return <-reply
	case <-ctx.Done():
		return nil
	}
}

func (h *Hub) dispatch(c *Client, env signal.Envelope) {
	// The read pump queues envelopes; the connection may die and be
	// dropped before they are taken off the queue. The client map is the
	// source of truth, and a dropped client's send channel is closed.
	if cur, ok := h.clients[c.ID]; !ok || cur != c {
		log.Debug().Str("module", "server.hub").Str("sid", string(c.ID)).Str("type", string(env.Type)).Msg("envelope from dropped client, discarding")
		return
	}
	switch env.Type {
	case signal.TypeRequestJoin, signal.TypeJoinRoom:
		if !h.limiter.Allow(c.ID) {
			c.sendError("too many join attempts")
			return
		}
		p, err := env.Decode()
		if err != nil {
			c.sendError("bad join payload")
			return
		}
		h.admission.RequestJoin(c, p.(signal.JoinRequest))
	case signal.TypeAcceptGuest:
		p, err := env.Decode()
		if err != nil {
			c.sendError("bad accept payload")
			return
		}
		h.admission.Grant(c, p.(signal.AdmissionRef))
	case signal.TypeDenyGuest:
		p, err := env.Decode()
		if err != nil {
			c.sendError("bad deny payload")
			return
		}
		h.admission.Deny(c, p.(signal.AdmissionRef))
	case signal.TypeChatMessage:
		h.broadcast(c, env)
	case signal.TypeOffer, signal.TypeAnswer, signal.TypeICECandidate:
		h.relayUnicast(c, env)
	default:
		log.Warn().Str("module", "server.hub").Str("type", string(env.Type)).Msg("unexpected envelope")
		c.sendError("unexpected envelope type")
	}
}

// broadcast forwards a room-scoped envelope to every member except the
// sender, stamping the sender id. The relay never inspects the payload.
func (h *Hub) broadcast(c *Client, env signal.Envelope) {
	if c.Room == "" {
		c.sendError("not in a room")
		return
	}
	rm := h.registry.Room(c.Room)
	if rm == nil {
		return
	}
	env.SenderID = c.ID
	for id, m := range rm.members {
		if id == c.ID {
			continue
		}
		m.deliver(env)
	}
}

// relayUnicast forwards a negotiation envelope to exactly the named
// target. A vanished or out-of-room target means a silent drop; the
// stalled link is cleaned up by the eventual disconnect notice.
func (h *Hub) relayUnicast(c *Client, env signal.Envelope) {
	if c.Room == "" {
		c.sendError("not in a room")
		return
	}
	target, err := env.Target()
	if err != nil {
		c.sendError("negotiation envelope without target")
		return
	}
	tc, ok := h.clients[target]
	if !ok || tc.Room != c.Room {
		log.Debug().Str("module", "server.hub").Str("type", string(env.Type)).Str("target", string(target)).Msg("unicast target gone, dropping")
		return
	}
	env.SenderID = c.ID
	tc.deliver(env)
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	h.limiter.Forget(c.ID)
	if c.Room != "" {
		h.admission.leave(c)
	}
	c.closeSend()
	log.Info().Str("module", "server.hub").Str("sid", string(c.ID)).Msg("client dropped")
}
