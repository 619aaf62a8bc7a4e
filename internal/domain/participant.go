// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"strings"
)

const MaxNameLen = 36

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
)

// ParticipantID is the connection id assigned by the relay transport,
// unique per live connection.
type ParticipantID string

// Participant couples a connection id with the display name the client
// supplied at join time. A participant belongs to at most one room.
type Participant struct {
	ID   ParticipantID `json:"id"`
	Name string        `json:"name"`
}

// NewParticipant validates the display name so adapters never build
// participants from raw literals.
func NewParticipant(id ParticipantID, name string) (*Participant, error) {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	return &Participant{ID: id, Name: name}, nil
}
