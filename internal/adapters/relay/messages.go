package relay

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/pairline/pairline/internal/domain"
)

// Wire message types. The relay speaks a flat JSON envelope with a "type"
// discriminator in both directions.
const (
	// Outbound.
	TypeJoinQueue     = "join-queue"
	TypeLeaveQueue    = "leave-queue"
	TypeSendOffer     = "send-offer"
	TypeSendAnswer    = "send-answer"
	TypeSendCandidate = "send-candidate"
	TypeSendMessage   = "send-message"
	TypeSendReaction  = "send-reaction"
	TypeEndCall       = "end-call"

	// Inbound.
	TypeConnected        = "connected"
	TypeQueueJoined      = "queue-joined"
	TypeQueueUpdate      = "queue-update"
	TypeQueueLeft        = "queue-left"
	TypeMatched          = "matched"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeCandidate        = "candidate"
	TypeMessage          = "message"
	TypeReaction         = "reaction"
	TypePeerDisconnected = "peer-disconnected"
	TypeCallEnded        = "call-ended"
	TypeError            = "error"
)

// Envelope carries every relay frame. Only the fields relevant to Type are
// populated; the rest stay at their zero values and are omitted.
type Envelope struct {
	Type string `json:"type"`

	// Queue.
	Criteria      *domain.MatchCriteria `json:"criteria,omitempty"`
	Position      int                   `json:"position,omitempty"`
	EstimatedWait int64                 `json:"estimatedWaitTime,omitempty"`

	// Session addressing.
	SessionID domain.SessionID `json:"sessionId,omitempty"`
	PeerID    domain.PeerID    `json:"peerId,omitempty"`
	From      domain.PeerID    `json:"from,omitempty"`
	DeviceID  domain.DeviceID  `json:"deviceId,omitempty"`

	// Negotiation payloads.
	SDPType       string `json:"sdpType,omitempty"`
	SDP           string `json:"sdp,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`

	// Chat.
	Message string `json:"message,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Emoji   string `json:"emoji,omitempty"`

	WasSkipped bool   `json:"wasSkipped,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

func now() int64 { return time.Now().UnixMilli() }

func descriptionEnvelope(typ string, sid domain.SessionID, sdp webrtc.SessionDescription) Envelope {
	return Envelope{
		Type:      typ,
		SessionID: sid,
		SDPType:   sdp.Type.String(),
		SDP:       sdp.SDP,
		Timestamp: now(),
	}
}

// Description reconstructs the SDP carried by an offer/answer envelope.
func (e Envelope) Description() webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(e.SDPType),
		SDP:  e.SDP,
	}
}

func candidateEnvelope(sid domain.SessionID, ci webrtc.ICECandidateInit) Envelope {
	env := Envelope{
		Type:      TypeSendCandidate,
		SessionID: sid,
		Candidate: ci.Candidate,
		Timestamp: now(),
	}
	if ci.SDPMid != nil {
		env.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		env.SDPMLineIndex = *ci.SDPMLineIndex
	}
	return env
}

// CandidateInit reconstructs the ICE candidate carried by a candidate envelope.
func (e Envelope) CandidateInit() webrtc.ICECandidateInit {
	mid := e.SDPMid
	idx := e.SDPMLineIndex
	return webrtc.ICECandidateInit{
		Candidate:     e.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}
