package signal

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ControlPrefix separates presence/reaction control payloads from plain
// chat text on the shared chat-message path. User text can never collide
// with it because the prefix is stripped before display only when the
// remainder parses as a control payload.
const ControlPrefix = "__SIGNAL__:"

// ControlType discriminates presence side-channel payloads.
type ControlType string

const (
	ControlUserInfo  ControlType = "user-info"
	ControlHandRaise ControlType = "hand-raise"
	ControlEmoji     ControlType = "emoji"
)

// Control is an ephemeral presence signal multiplexed over chat.
type Control struct {
	Type   ControlType `json:"type"`
	Name   string      `json:"name,omitempty"`   // user-info
	Raised bool        `json:"raised,omitempty"` // hand-raise
	Emoji  string      `json:"emoji,omitempty"`  // emoji
}

// EncodeControl renders a control payload as chat message text.
func EncodeControl(c Control) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal control: %w", err)
	}
	return ControlPrefix + string(raw), nil
}

// ParseControl inspects chat text. ok is false for plain chat; prefixed
// text that fails to decode is an error, not chat.
func ParseControl(message string) (Control, bool, error) {
	if !strings.HasPrefix(message, ControlPrefix) {
		return Control{}, false, nil
	}
	var c Control
	if err := json.Unmarshal([]byte(strings.TrimPrefix(message, ControlPrefix)), &c); err != nil {
		return Control{}, true, fmt.Errorf("parse control: %w", err)
	}
	switch c.Type {
	case ControlUserInfo, ControlHandRaise, ControlEmoji:
		return c, true, nil
	}
	return Control{}, true, fmt.Errorf("unknown control type %q", c.Type)
}
