package domain

// RoomID is the opaque identifier participants rendezvous on.
type RoomID string

// Room is the metadata side of a room. Membership lives in the server
// registry; nothing here touches transport.
type Room struct {
	ID RoomID
}

// MaxMembers is the mesh size cap: the local participant plus up to
// MaxMembers-1 remote peers, C(4,2) = 6 peer links across the room.
const MaxMembers = 4
