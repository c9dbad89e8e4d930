package domain

import (
	"errors"
	"time"
)

const MaxMessageLen = 2000

var (
	ErrMessageTooLong = errors.New("message too long")
	ErrMessageEmpty   = errors.New("message empty")
)

// ChatMessage is a relayed text payload inside a session. The relay carries
// it unmodified in either direction.
type ChatMessage struct {
	Session   SessionID
	Sender    PeerID
	Text      string
	Timestamp time.Time
}

// NewChatMessage avoids raw literals in adapters and keeps validation in one place.
func NewChatMessage(sid SessionID, sender PeerID, text string) (*ChatMessage, error) {
	if len(text) == 0 {
		return nil, ErrMessageEmpty
	}
	if len(text) > MaxMessageLen {
		return nil, ErrMessageTooLong
	}
	return &ChatMessage{Session: sid, Sender: sender, Text: text, Timestamp: time.Now()}, nil
}

// Reaction is a relayed expression payload (an emoji) inside a session.
type Reaction struct {
	Session   SessionID
	Sender    PeerID
	Emoji     string
	Timestamp time.Time
}
