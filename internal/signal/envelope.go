// Package signal defines the envelope exchanged over the relay: one
// tagged union with an explicit discriminant, decoded exhaustively.
package signal

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/avolkov/huddle/internal/domain"
)

// Type discriminates envelope payloads.
type Type string

const (
	// client -> server
	TypeRequestJoin Type = "request-join-room"
	TypeJoinRoom    Type = "join-room" // open-policy variant of request-join-room
	TypeAcceptGuest Type = "accept-guest"
	TypeDenyGuest   Type = "deny-guest"

	// server -> client
	TypeRoomJoined       Type = "room-joined"
	TypeWaitingForHost   Type = "waiting-for-host"
	TypeGuestKnocking    Type = "guest-knocking"
	TypeGuestDenied      Type = "guest-denied"
	TypeUserConnected    Type = "user-connected"
	TypeUserDisconnected Type = "user-disconnected"
	TypeError            Type = "error"

	// relayed peer to peer
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeChatMessage  Type = "chat-message"
)

// Unicast reports whether envelopes of this type are addressed to exactly
// one target participant. Negotiation envelopes are never broadcast.
func (t Type) Unicast() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// Envelope is the transient unit relayed between participants. SenderID is
// stamped by the relay on forwarded envelopes and never trusted from the
// wire on inbound ones.
type Envelope struct {
	Type     Type                 `json:"type"`
	SenderID domain.ParticipantID `json:"senderId,omitempty"`
	Payload  json.RawMessage      `json:"payload,omitempty"`
}

// JoinRequest asks admission into a room.
type JoinRequest struct {
	RoomID domain.RoomID `json:"roomId"`
	Name   string        `json:"name"`
}

// RoomJoined reports the admission outcome to the joiner.
type RoomJoined struct {
	IsHost bool          `json:"isHost"`
	RoomID domain.RoomID `json:"roomId"`
}

// GuestKnocking notifies existing members about a pending joiner.
type GuestKnocking struct {
	GuestID   domain.ParticipantID `json:"guestId"`
	GuestName string               `json:"guestName"`
}

// AdmissionRef identifies the knocking guest for accept-guest / deny-guest.
type AdmissionRef struct {
	RoomID  domain.RoomID        `json:"roomId"`
	GuestID domain.ParticipantID `json:"guestId"`
}

// Membership carries the participant a user-connected / user-disconnected
// notice is about.
type Membership struct {
	UserID domain.ParticipantID `json:"userId"`
}

// Description carries an SDP offer or answer, unicast to Target.
type Description struct {
	Target domain.ParticipantID      `json:"target,omitempty"`
	SDP    webrtc.SessionDescription `json:"sdp"`
}

// Candidate carries one trickled ICE candidate, unicast to Target.
type Candidate struct {
	Target    domain.ParticipantID    `json:"target,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Chat is the room-broadcast payload. It also carries shared files and,
// behind ControlPrefix, the presence/reaction side-channel.
type Chat struct {
	Message    string `json:"message"`
	SenderName string `json:"senderName"`
	IsFile     bool   `json:"isFile,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	FileData   string `json:"fileData,omitempty"`
}

// ErrorPayload surfaces a relay-level rejection to the sender.
type ErrorPayload struct {
	Error string `json:"error"`
}

// New builds an envelope around a typed payload.
func New(t Type, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Parse decodes raw wire bytes into an envelope. The payload stays opaque
// until Decode.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("parse envelope: missing type")
	}
	return env, nil
}

// Decode returns the typed payload for the envelope. Unknown discriminants
// are an error, never silently skipped.
func (e Envelope) Decode() (any, error) {
	switch e.Type {
	case TypeRequestJoin, TypeJoinRoom:
		return decodeAs[JoinRequest](e)
	case TypeRoomJoined:
		return decodeAs[RoomJoined](e)
	case TypeWaitingForHost, TypeGuestDenied:
		return struct{}{}, nil
	case TypeGuestKnocking:
		return decodeAs[GuestKnocking](e)
	case TypeAcceptGuest, TypeDenyGuest:
		return decodeAs[AdmissionRef](e)
	case TypeUserConnected, TypeUserDisconnected:
		return decodeAs[Membership](e)
	case TypeOffer, TypeAnswer:
		return decodeAs[Description](e)
	case TypeICECandidate:
		return decodeAs[Candidate](e)
	case TypeChatMessage:
		return decodeAs[Chat](e)
	case TypeError:
		return decodeAs[ErrorPayload](e)
	}
	return nil, fmt.Errorf("unknown envelope type %q", e.Type)
}

// Target extracts the unicast target without touching the rest of the
// payload; the relay must not interpret negotiation contents.
func (e Envelope) Target() (domain.ParticipantID, error) {
	var p struct {
		Target domain.ParticipantID `json:"target"`
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return "", fmt.Errorf("extract target: %w", err)
	}
	if p.Target == "" {
		return "", fmt.Errorf("%s envelope without target", e.Type)
	}
	return p.Target, nil
}

func decodeAs[T any](e Envelope) (T, error) {
	var p T
	if len(e.Payload) == 0 {
		return p, fmt.Errorf("%s envelope without payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return p, nil
}
