package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/signal"
)

// reactionTTL is how long a received emoji reaction stays visible; the
// expiry is purely local, never synchronized.
const reactionTTL = 3 * time.Second

// ChatSender broadcasts chat text to the room; the presence channel
// rides on it behind signal.ControlPrefix.
type ChatSender interface {
	SendChat(message string) error
}

// Reaction is one live emoji reaction.
type Reaction struct {
	ID         string
	Emoji      string
	Sender     domain.ParticipantID
	SenderName string
}

// Presence tracks the ephemeral per-room state: display names, raised
// hands and emoji reactions, multiplexed over the chat broadcast path.
type Presence struct {
	chat ChatSender
	self string
	ttl  time.Duration

	mu        sync.Mutex
	names     map[domain.ParticipantID]string
	raised    map[domain.ParticipantID]bool
	reactions []Reaction
}

func NewPresence(chat ChatSender, selfName string) *Presence {
	return &Presence{
		chat:   chat,
		self:   selfName,
		ttl:    reactionTTL,
		names:  make(map[domain.ParticipantID]string),
		raised: make(map[domain.ParticipantID]bool),
	}
}

// Announce broadcasts our display name. Every member re-announces when
// someone joins, so the newcomer learns all names without a query
// protocol.
func (p *Presence) Announce() error {
	return p.sendControl(signal.Control{Type: signal.ControlUserInfo, Name: p.self})
}

// SetHandRaised toggles our raised-hand state for the room.
func (p *Presence) SetHandRaised(raised bool) error {
	return p.sendControl(signal.Control{Type: signal.ControlHandRaise, Raised: raised})
}

// SendReaction broadcasts a fire-and-forget emoji reaction.
func (p *Presence) SendReaction(emoji string) error {
	return p.sendControl(signal.Control{Type: signal.ControlEmoji, Emoji: emoji})
}

// HandleChat consumes a chat payload if it is a control message.
// Reports true when consumed; plain chat stays with the caller.
func (p *Presence) HandleChat(sender domain.ParticipantID, chat signal.Chat) bool {
	ctrl, isControl, err := signal.ParseControl(chat.Message)
	if err != nil {
		log.Warn().Err(err).Str("module", "client.presence").Str("sender", string(sender)).Msg("bad control payload")
		return true
	}
	if !isControl {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch ctrl.Type {
	case signal.ControlUserInfo:
		p.names[sender] = ctrl.Name
	case signal.ControlHandRaise:
		if ctrl.Raised {
			p.raised[sender] = true
		} else {
			delete(p.raised, sender)
		}
	case signal.ControlEmoji:
		r := Reaction{
			ID:         uuid.NewString(),
			Emoji:      ctrl.Emoji,
			Sender:     sender,
			SenderName: chat.SenderName,
		}
		p.reactions = append(p.reactions, r)
		time.AfterFunc(p.ttl, func() { p.expire(r.ID) })
	}
	return true
}

// HandleUserConnected re-announces our name so the newcomer learns it.
func (p *Presence) HandleUserConnected(domain.ParticipantID) {
	if err := p.Announce(); err != nil {
		log.Error().Err(err).Str("module", "client.presence").Msg("re-announce")
	}
}

// HandleUserDisconnected clears all ephemeral state for the departed
// participant.
func (p *Presence) HandleUserDisconnected(id domain.ParticipantID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.names, id)
	delete(p.raised, id)
}

// Name returns the announced display name for id, if known.
func (p *Presence) Name(id domain.ParticipantID) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.names[id]
	return name, ok
}

// RaisedHands returns the participants with a hand currently up.
func (p *Presence) RaisedHands() []domain.ParticipantID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(p.raised))
	for id := range p.raised {
		out = append(out, id)
	}
	return out
}

// Reactions returns the reactions that have not expired yet.
func (p *Presence) Reactions() []Reaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Reaction, len(p.reactions))
	copy(out, p.reactions)
	return out
}

func (p *Presence) sendControl(c signal.Control) error {
	text, err := signal.EncodeControl(c)
	if err != nil {
		return err
	}
	return p.chat.SendChat(text)
}

func (p *Presence) expire(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.reactions {
		if r.ID == id {
			p.reactions = append(p.reactions[:i], p.reactions[i+1:]...)
			return
		}
	}
}
