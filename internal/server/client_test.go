package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/avolkov/huddle/internal/config"
)

func TestClientPingPeriodFromConfig(t *testing.T) {
	h := NewHub(&config.Config{AdmissionPolicy: config.AdmissionKnock})

	c := NewClient(h, nil, 1<<20, 18*time.Second)
	assert.Equal(t, 18*time.Second, c.pingPeriod)
	assert.Equal(t, 20*time.Second, c.pongWait, "pong deadline always exceeds the ping period")

	c = NewClient(h, nil, 1<<20, 0)
	assert.Equal(t, defaultPingPeriod, c.pingPeriod)
	assert.Greater(t, c.pongWait, c.pingPeriod)
}
