package server

import (
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

// room tracks the admitted member set. Knockers are never recorded here;
// a participant knocking at disconnect leaves no trace.
type room struct {
	id      domain.RoomID
	host    domain.ParticipantID // first joiner, no privilege beyond the flag
	members map[domain.ParticipantID]*Client
}

// Registry maps room ids to live rooms. It is owned by the hub goroutine
// and therefore needs no locking; a room exists here iff it has at least
// one admitted member.
type Registry struct {
	rooms map[domain.RoomID]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*room)}
}

// Room returns the live room for id, or nil.
func (r *Registry) Room(id domain.RoomID) *room {
	return r.rooms[id]
}

// Create makes a room with c as its sole member and host.
func (r *Registry) Create(id domain.RoomID, c *Client) *room {
	rm := &room{
		id:      id,
		host:    c.ID,
		members: map[domain.ParticipantID]*Client{c.ID: c},
	}
	r.rooms[id] = rm
	log.Info().Str("module", "server.registry").Str("room", string(id)).Str("host", string(c.ID)).Msg("room created")
	return rm
}

// Add records c as an admitted member. Reports false if already present,
// so duplicate grants stay a no-op.
func (r *room) Add(c *Client) bool {
	if _, ok := r.members[c.ID]; ok {
		return false
	}
	r.members[c.ID] = c
	return true
}

// Remove drops the member and deletes the room the instant it empties.
func (r *Registry) Remove(roomID domain.RoomID, id domain.ParticipantID) {
	rm := r.rooms[roomID]
	if rm == nil {
		return
	}
	delete(rm.members, id)
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		log.Info().Str("module", "server.registry").Str("room", string(roomID)).Msg("room deleted")
	}
}

// RoomInfo is the read-only view for the rooms API.
type RoomInfo struct {
	ID      domain.RoomID `json:"id"`
	Members int           `json:"members"`
}

func (r *Registry) Snapshot() []RoomInfo {
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, rm := range r.rooms {
		out = append(out, RoomInfo{ID: id, Members: len(rm.members)})
	}
	return out
}
