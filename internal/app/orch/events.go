package orch

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pairline/pairline/internal/core"
	"github.com/pairline/pairline/internal/domain"
)

// signalEvents adapts relay callbacks onto the loop. Every handler posts;
// the signal client's reader goroutine never touches session state.
func (o *Orchestrator) signalEvents() core.SignalEvents {
	return core.SignalEvents{
		Connected: func(device domain.DeviceID) {
			o.post(func() {
				o.deviceID = device
				log.Info().Str("module", "orch").Str("device", string(device)).Msg("relay connected")
			})
		},
		QueueJoined: func(ticket domain.QueueTicket) {
			o.post(func() {
				t := ticket
				o.ticket = &t
				if o.cb.QueueUpdate != nil {
					o.cb.QueueUpdate(ticket)
				}
			})
		},
		QueueUpdate: func(ticket domain.QueueTicket) {
			o.post(func() {
				if o.state != StateSearching {
					return
				}
				t := ticket
				o.ticket = &t
				if o.cb.QueueUpdate != nil {
					o.cb.QueueUpdate(ticket)
				}
			})
		},
		QueueLeft: func() {
			o.post(func() { o.ticket = nil })
		},
		Matched: func(peer domain.PeerID, sid domain.SessionID) {
			o.post(func() { o.handleMatched(peer, sid) })
		},
		Offer: func(sid domain.SessionID, sdp webrtc.SessionDescription, from domain.PeerID) {
			o.post(func() { o.handleOffer(sid, sdp, from) })
		},
		Answer: func(sid domain.SessionID, sdp webrtc.SessionDescription, from domain.PeerID) {
			o.post(func() { o.handleAnswer(sid, sdp, from) })
		},
		Candidate: func(sid domain.SessionID, cand webrtc.ICECandidateInit, from domain.PeerID) {
			o.post(func() { o.handleCandidate(sid, cand, from) })
		},
		Message: func(msg domain.ChatMessage) {
			o.post(func() {
				if o.session == nil || o.session.ID != msg.Session {
					return
				}
				if o.cb.Chat != nil {
					o.cb.Chat(msg)
				}
			})
		},
		Reaction: func(r domain.Reaction) {
			o.post(func() {
				if o.session == nil || o.session.ID != r.Session {
					return
				}
				if o.cb.Reaction != nil {
					o.cb.Reaction(r)
				}
			})
		},
		PeerDisconnected: func(sid domain.SessionID) {
			o.post(func() { o.handlePeerDisconnected(sid) })
		},
		CallEnded: func(sid domain.SessionID) {
			o.post(func() { o.handleCallEnded(sid) })
		},
		RelayError: func(msg string) {
			o.post(func() {
				log.Warn().Str("module", "orch").Str("relay", msg).Msg("relay error")
			})
		},
		TransportDown: func(err error, terminal bool) {
			o.post(func() { o.handleTransportDown(err, terminal) })
		},
		TransportUp: func() {
			o.post(o.handleTransportUp)
		},
	}
}

// handleTransportDown reacts to relay channel loss. A live media session
// keeps flowing peer-to-peer, but no new negotiation can complete, so
// anything pre-Connected unwinds immediately.
func (o *Orchestrator) handleTransportDown(err error, terminal bool) {
	log.Warn().Err(err).Bool("terminal", terminal).Str("module", "orch").Msg("signaling down")

	switch o.state {
	case StateSearching:
		o.ticket = nil
		o.setState(StateIdle)
	case StateMatched, StateNegotiating:
		o.teardownSession(false)
		o.setState(StateIdle)
	}

	if terminal {
		if o.state.inSession() {
			o.teardownSession(false)
		}
		o.setState(StateFailed)
		if o.cb.Error != nil {
			o.cb.Error(err)
		}
	}
}

// handleTransportUp takes no recovery action: the relay remembers nothing,
// a live media path never dropped, and re-queueing is the user's call.
func (o *Orchestrator) handleTransportUp() {
	log.Info().Str("module", "orch").Msg("signaling restored")
}
