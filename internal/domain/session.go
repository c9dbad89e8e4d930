// Package domain contains entity without logic, just meta-data
package domain

import "time"

type (
	SessionID string
	PeerID    string
	DeviceID  string
)

// Mode is the media level a session runs at. Fallback order is
// video -> audio-only -> text-only.
type Mode string

const (
	ModeVideo     Mode = "video"
	ModeAudioOnly Mode = "audio-only"
	ModeTextOnly  Mode = "text-only"
)

// Session is one matched pairing. The orchestrator is its single writer;
// it exists from the relay "matched" event until either side ends the call.
type Session struct {
	ID         SessionID
	Peer       PeerID
	MatchedAt  time.Time
	Mode       Mode
	WasSkipped bool
}

// QueueTicket represents "waiting to be matched". Position is
// relay-authoritative; the ticket is superseded by a Session on match.
type QueueTicket struct {
	Position      int
	EnqueuedAt    time.Time
	EstimatedWait time.Duration
}
