package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// TODO: restrict to the deployed frontend origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SetupRouter wires the health endpoint, the rooms API and the signaling
// websocket onto a gin engine.
func SetupRouter(cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.GET("/api/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Snapshot(c.Request.Context()))
	})

	r.GET("/ws", func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "server.routes").Msg("ws upgrade")
			return
		}
		client := NewClient(hub, ws, cfg.ReadLimit, cfg.PingPeriod)
		log.Info().Str("module", "server.routes").Str("sid", string(client.ID)).Msg("new ws connection")
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	})

	return r
}
