package server

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/signal"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Ping cadence when the config carries none.
	defaultPingPeriod = 54 * time.Second
)

// Client wraps one participant's websocket connection. The hub owns the
// membership fields (Name, Room); the pumps own the socket.
type Client struct {
	ID   domain.ParticipantID
	Name string
	Room domain.RoomID

	hub        *Hub
	conn       *websocket.Conn
	out        chan []byte
	readLimit  int64
	pingPeriod time.Duration
	pongWait   time.Duration
}

// NewClient assigns a fresh connection id; this id is the participant's
// identity for the lifetime of the connection. The pong deadline is
// derived from the ping period so it always exceeds it.
func NewClient(hub *Hub, conn *websocket.Conn, readLimit int64, pingPeriod time.Duration) *Client {
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	return &Client{
		ID:         domain.ParticipantID(uuid.NewString()),
		hub:        hub,
		conn:       conn,
		out:        make(chan []byte, 32),
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
		pongWait:   pingPeriod * 10 / 9,
	}
}

func (c *Client) send(t signal.Type, payload any) {
	env, err := signal.New(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "server.client").Str("type", string(t)).Msg("build envelope")
		return
	}
	c.deliver(env)
}

func (c *Client) deliver(env signal.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "server.client").Msg("marshal envelope")
		return
	}
	select {
	case c.out <- raw:
	default:
		// Drop if slow consumer; envelopes are transient.
		log.Warn().Str("module", "server.client").Str("sid", string(c.ID)).Msg("send buffer full, dropping")
	}
}

func (c *Client) sendError(msg string) {
	c.send(signal.TypeError, signal.ErrorPayload{Error: msg})
}

// closeSend is called once, by the hub, when the client is dropped.
func (c *Client) closeSend() { close(c.out) }

// ReadPump feeds inbound envelopes to the hub in arrival order for this
// connection. It unregisters the client when the socket dies.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "server.client").Str("sid", string(c.ID)).Msg("read error")
			}
			return
		}
		env, err := signal.Parse(data)
		if err != nil {
			c.sendError("malformed envelope")
			continue
		}
		// Sender identity comes from the connection, never the wire.
		env.SenderID = ""
		c.hub.inbound <- inbound{c: c, env: env}
	}
}

// WritePump drains the out channel to the socket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
