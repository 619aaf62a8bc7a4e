package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/signal"
)

const (
	writeWait         = 10 * time.Second
	defaultPingPeriod = 54 * time.Second
	maxMessageSize    = 1 << 20
)

// Session is one participant's connection to the signal relay. It
// implements Signaler and ChatSender; decoded envelopes arrive on
// Incoming in server order.
type Session struct {
	name       string
	conn       *websocket.Conn
	pingPeriod time.Duration
	pongWait   time.Duration

	incoming chan signal.Envelope
	outgoing chan signal.Envelope
	done     chan struct{}
	once     sync.Once
}

// Dial connects to the relay and starts the pumps. name is the display
// name announced at join time; pingPeriod comes from config, zero means
// the default.
func Dial(ctx context.Context, serverURL, name string, pingPeriod time.Duration) (*Session, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	s := &Session{
		name:       name,
		conn:       conn,
		pingPeriod: pingPeriod,
		pongWait:   pingPeriod * 10 / 9,
		incoming:   make(chan signal.Envelope, 32),
		outgoing:   make(chan signal.Envelope, 32),
		done:       make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	go s.readPump()
	go s.writePump()
	return s, nil
}

// Incoming is closed when the connection dies.
func (s *Session) Incoming() <-chan signal.Envelope { return s.incoming }

// Close shuts the connection down; safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
}

// RequestJoin asks admission into roomID under our display name.
func (s *Session) RequestJoin(roomID domain.RoomID) error {
	return s.send(signal.TypeRequestJoin, signal.JoinRequest{RoomID: roomID, Name: s.name})
}

// AcceptGuest grants the knocking guest admission.
func (s *Session) AcceptGuest(roomID domain.RoomID, guest domain.ParticipantID) error {
	return s.send(signal.TypeAcceptGuest, signal.AdmissionRef{RoomID: roomID, GuestID: guest})
}

// DenyGuest turns the knocking guest away.
func (s *Session) DenyGuest(roomID domain.RoomID, guest domain.ParticipantID) error {
	return s.send(signal.TypeDenyGuest, signal.AdmissionRef{RoomID: roomID, GuestID: guest})
}

// SendChat broadcasts chat text to the room.
func (s *Session) SendChat(message string) error {
	return s.send(signal.TypeChatMessage, signal.Chat{Message: message, SenderName: s.name})
}

// SendFile shares a file inline over the chat fabric.
func (s *Session) SendFile(fileName, fileData string) error {
	return s.send(signal.TypeChatMessage, signal.Chat{
		Message:    "File: " + fileName,
		SenderName: s.name,
		IsFile:     true,
		FileName:   fileName,
		FileData:   fileData,
	})
}

// SendOffer implements Signaler.
func (s *Session) SendOffer(target domain.ParticipantID, sdp webrtc.SessionDescription) error {
	return s.send(signal.TypeOffer, signal.Description{Target: target, SDP: sdp})
}

// SendAnswer implements Signaler.
func (s *Session) SendAnswer(target domain.ParticipantID, sdp webrtc.SessionDescription) error {
	return s.send(signal.TypeAnswer, signal.Description{Target: target, SDP: sdp})
}

// SendCandidate implements Signaler.
func (s *Session) SendCandidate(target domain.ParticipantID, cand webrtc.ICECandidateInit) error {
	return s.send(signal.TypeICECandidate, signal.Candidate{Target: target, Candidate: cand})
}

func (s *Session) send(t signal.Type, payload any) error {
	env, err := signal.New(t, payload)
	if err != nil {
		return err
	}
	select {
	case s.outgoing <- env:
		return nil
	case <-s.done:
		return fmt.Errorf("session closed")
	}
}

func (s *Session) readPump() {
	defer func() {
		s.conn.Close()
		close(s.incoming)
	}()

	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := signal.Parse(data)
		if err != nil {
			continue
		}
		select {
		case s.incoming <- env:
		case <-s.done:
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case env := <-s.outgoing:
			raw, err := json.Marshal(env)
			if err != nil {
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
