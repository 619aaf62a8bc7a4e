package server

import (
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/config"
	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/signal"
)

// Admission decides whether a joiner enters immediately or must knock.
// All methods run on the hub goroutine.
type Admission struct {
	policy string
	reg    *Registry
	lookup func(domain.ParticipantID) (*Client, bool)
}

func NewAdmission(policy string, reg *Registry, lookup func(domain.ParticipantID) (*Client, bool)) *Admission {
	return &Admission{policy: policy, reg: reg, lookup: lookup}
}

// RequestJoin applies the admission policy for c asking into req.RoomID.
// First joiner creates the room, a recorded member is re-admitted
// idempotently, anyone else knocks (or enters at once under the open
// policy).
func (a *Admission) RequestJoin(c *Client, req signal.JoinRequest) {
	p, err := domain.NewParticipant(c.ID, req.Name)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.Name = p.Name

	// A participant belongs to at most one room: asking into a different
	// room leaves the current one first.
	if c.Room != "" && c.Room != req.RoomID {
		a.leave(c)
	}

	rm := a.reg.Room(req.RoomID)
	if rm == nil {
		a.reg.Create(req.RoomID, c)
		c.Room = req.RoomID
		c.send(signal.TypeRoomJoined, signal.RoomJoined{IsHost: true, RoomID: req.RoomID})
		return
	}

	if _, ok := rm.members[c.ID]; ok {
		c.send(signal.TypeRoomJoined, signal.RoomJoined{IsHost: rm.host == c.ID, RoomID: req.RoomID})
		return
	}

	if a.policy == config.AdmissionOpen {
		a.admit(rm, c)
		return
	}

	log.Info().Str("module", "server.admission").Str("guest", string(c.ID)).Str("room", string(req.RoomID)).Msg("guest knocking")
	c.send(signal.TypeWaitingForHost, nil)
	knock := signal.GuestKnocking{GuestID: c.ID, GuestName: c.Name}
	for _, m := range rm.members {
		m.send(signal.TypeGuestKnocking, knock)
	}
}

// Grant admits the knocking guest. Duplicate grants and grants for a
// guest that already vanished are no-ops.
func (a *Admission) Grant(from *Client, ref signal.AdmissionRef) {
	rm := a.reg.Room(ref.RoomID)
	if rm == nil {
		return
	}
	if _, ok := rm.members[from.ID]; !ok {
		return
	}
	guest, ok := a.lookup(ref.GuestID)
	if !ok {
		return
	}
	a.admit(rm, guest)
}

// Deny notifies only the guest; no membership was ever created.
func (a *Admission) Deny(from *Client, ref signal.AdmissionRef) {
	rm := a.reg.Room(ref.RoomID)
	if rm == nil {
		return
	}
	if _, ok := rm.members[from.ID]; !ok {
		return
	}
	if guest, ok := a.lookup(ref.GuestID); ok {
		log.Info().Str("module", "server.admission").Str("guest", string(guest.ID)).Str("room", string(ref.RoomID)).Msg("guest denied")
		guest.send(signal.TypeGuestDenied, nil)
	}
}

// leave removes c from its current room and tells the remaining members;
// to them the departure looks exactly like a disconnect.
func (a *Admission) leave(c *Client) {
	a.reg.Remove(c.Room, c.ID)
	if rm := a.reg.Room(c.Room); rm != nil {
		gone := signal.Membership{UserID: c.ID}
		for _, m := range rm.members {
			m.send(signal.TypeUserDisconnected, gone)
		}
	}
	c.Room = ""
}

func (a *Admission) admit(rm *room, guest *Client) {
	if !rm.Add(guest) {
		return
	}
	guest.Room = rm.id
	guest.send(signal.TypeRoomJoined, signal.RoomJoined{IsHost: false, RoomID: rm.id})
	connected := signal.Membership{UserID: guest.ID}
	for id, m := range rm.members {
		if id == guest.ID {
			continue
		}
		m.send(signal.TypeUserConnected, connected)
	}
	log.Info().Str("module", "server.admission").Str("guest", string(guest.ID)).Str("room", string(rm.id)).Msg("guest admitted")
}
