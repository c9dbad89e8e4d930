package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/pairline/pairline/internal/domain"
)

// SignalEvents are the callbacks a signal client delivers to its owner.
// The client never mutates orchestrator state itself; it only reports.
// Nil callbacks are skipped.
type SignalEvents struct {
	Connected   func(device domain.DeviceID)
	QueueJoined func(ticket domain.QueueTicket)
	QueueUpdate func(ticket domain.QueueTicket)
	QueueLeft   func()
	Matched     func(peer domain.PeerID, sid domain.SessionID)

	Offer     func(sid domain.SessionID, sdp webrtc.SessionDescription, from domain.PeerID)
	Answer    func(sid domain.SessionID, sdp webrtc.SessionDescription, from domain.PeerID)
	Candidate func(sid domain.SessionID, cand webrtc.ICECandidateInit, from domain.PeerID)

	Message  func(msg domain.ChatMessage)
	Reaction func(r domain.Reaction)

	PeerDisconnected func(sid domain.SessionID)
	CallEnded        func(sid domain.SessionID)

	// RelayError is the relay's inbound error{message} frame.
	RelayError func(msg string)
	// TransportDown reports channel loss. terminal is true once automatic
	// reconnection is exhausted (or was never applicable).
	TransportDown func(err error, terminal bool)
	// TransportUp fires after a successful automatic reconnect.
	TransportUp func()
}

// SignalClient maintains the persistent channel to the relay and carries
// queue, negotiation and chat payloads. The relay channel is exclusively
// owned by the client; nothing else touches the transport.
type SignalClient interface {
	// Bind registers the event callbacks. Call before Connect.
	Bind(events SignalEvents)
	// Connect opens the channel. Fails with ErrAuth if the credential is
	// rejected and ErrTransport on network loss.
	Connect(ctx context.Context, credential string) error
	// Close tears the channel down. A manual close never triggers auto-retry.
	Close()

	// JoinQueue no-ops (logs, does not fail) if the channel is not open.
	JoinQueue(criteria domain.MatchCriteria)
	LeaveQueue()

	// Fire-and-forget relay messages, valid only while a session exists for
	// sid; the relay ignores unknown or stale sessions.
	SendOffer(sid domain.SessionID, sdp webrtc.SessionDescription)
	SendAnswer(sid domain.SessionID, sdp webrtc.SessionDescription)
	SendCandidate(sid domain.SessionID, cand webrtc.ICECandidateInit)
	SendMessage(sid domain.SessionID, text string)
	SendReaction(sid domain.SessionID, emoji string)
	SendEndCall(sid domain.SessionID, wasSkipped bool)
}
