package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	wire "github.com/pairline/pairline/internal/adapters/relay"
	"github.com/pairline/pairline/internal/domain"
)

const writeWait = 5 * time.Second

type peer struct {
	id   domain.DeviceID
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.send)
		_ = p.conn.Close()
	})
}

func (p *peer) trySend(env wire.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay.hub").Msg("marshal")
		return
	}
	select {
	case p.send <- b:
	default:
		log.Warn().Str("module", "relay.hub").Str("device", string(p.id)).Msg("send buffer full, dropping frame")
	}
}

type pairing struct {
	queue   string
	members [2]*peer
}

func (s *pairing) other(p *peer) *peer {
	switch p {
	case s.members[0]:
		return s.members[1]
	case s.members[1]:
		return s.members[0]
	default:
		return nil
	}
}

// Hub owns every signaling channel, the waiting queues and the active
// pairings. It holds no call state beyond who talks to whom; all media
// flows peer-to-peer.
type Hub struct {
	mu       sync.Mutex
	matcher  *Matcher
	sessions map[domain.SessionID]*pairing
}

func NewHub() *Hub {
	return &Hub{
		matcher:  NewMatcher(),
		sessions: make(map[domain.SessionID]*pairing),
	}
}

// Handle services one upgraded connection until it drops.
func (h *Hub) Handle(ctx context.Context, ws *websocket.Conn) {
	p := &peer{
		id:   domain.DeviceID(uuid.NewString()),
		conn: ws,
		send: make(chan []byte, 32),
	}
	connectedPeers.Inc()
	log.Info().Str("module", "relay.hub").Str("device", string(p.id)).Msg("peer connected")

	p.trySend(wire.Envelope{Type: wire.TypeConnected, DeviceID: p.id})

	ctx, cancel := context.WithCancel(ctx)
	go h.writePump(ctx, p)
	h.readPump(ctx, p)
	cancel()
	h.disconnect(p)
}

func (h *Hub) writePump(ctx context.Context, p *peer) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-p.send:
			if !ok {
				return
			}
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "relay.hub").Str("device", string(p.id)).Msg("write")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, p *peer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := p.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "relay.hub").Str("device", string(p.id)).Msg("read closed")
				return
			}
			h.dispatch(p, data)
		}
	}
}

func (h *Hub) dispatch(p *peer, data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		p.trySend(wire.Envelope{Type: wire.TypeError, Error: "malformed frame"})
		return
	}
	framesTotal.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case wire.TypeJoinQueue:
		h.joinQueue(p, env)
	case wire.TypeLeaveQueue:
		h.leaveQueue(p)
	case wire.TypeSendOffer:
		h.forward(p, env.SessionID, wire.Envelope{
			Type: wire.TypeOffer, SessionID: env.SessionID, From: domain.PeerID(p.id),
			SDPType: env.SDPType, SDP: env.SDP,
		})
	case wire.TypeSendAnswer:
		h.forward(p, env.SessionID, wire.Envelope{
			Type: wire.TypeAnswer, SessionID: env.SessionID, From: domain.PeerID(p.id),
			SDPType: env.SDPType, SDP: env.SDP,
		})
	case wire.TypeSendCandidate:
		h.forward(p, env.SessionID, wire.Envelope{
			Type: wire.TypeCandidate, SessionID: env.SessionID, From: domain.PeerID(p.id),
			Candidate: env.Candidate, SDPMid: env.SDPMid, SDPMLineIndex: env.SDPMLineIndex,
		})
	case wire.TypeSendMessage:
		h.forward(p, env.SessionID, wire.Envelope{
			Type: wire.TypeMessage, SessionID: env.SessionID, From: domain.PeerID(p.id),
			Message: env.Message, Sender: string(p.id), Timestamp: env.Timestamp,
		})
	case wire.TypeSendReaction:
		h.forward(p, env.SessionID, wire.Envelope{
			Type: wire.TypeReaction, SessionID: env.SessionID, From: domain.PeerID(p.id),
			Emoji: env.Emoji, Sender: string(p.id), Timestamp: env.Timestamp,
		})
	case wire.TypeEndCall:
		h.endCall(p, env)
	default:
		p.trySend(wire.Envelope{Type: wire.TypeError, Error: "unknown type: " + env.Type})
	}
}

func (h *Hub) joinQueue(p *peer, env wire.Envelope) {
	criteria := domain.MatchCriteria{}
	if env.Criteria != nil {
		criteria = env.Criteria.Normalize()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	pos := h.matcher.Enqueue(p, criteria)
	p.trySend(wire.Envelope{
		Type:          wire.TypeQueueJoined,
		Position:      pos,
		EstimatedWait: int64(pos) * avgWaitMillis,
	})
	h.tryMatch(p)
}

// tryMatch pairs the queue p sits in and refreshes positions for the rest.
// Caller holds h.mu.
func (h *Hub) tryMatch(p *peer) {
	a, b, key := h.matcher.Pop(p)
	if a == nil {
		return
	}

	sid := domain.SessionID(uuid.NewString())
	h.sessions[sid] = &pairing{queue: key, members: [2]*peer{a, b}}
	activeSessions.Inc()
	matchesTotal.WithLabelValues(key).Inc()

	a.trySend(wire.Envelope{Type: wire.TypeMatched, SessionID: sid, PeerID: domain.PeerID(b.id)})
	b.trySend(wire.Envelope{Type: wire.TypeMatched, SessionID: sid, PeerID: domain.PeerID(a.id)})

	for i, w := range h.matcher.Positions(key) {
		w.peer.trySend(wire.Envelope{
			Type:          wire.TypeQueueUpdate,
			Position:      i + 1,
			EstimatedWait: int64(i+1) * avgWaitMillis,
		})
	}
}

func (h *Hub) leaveQueue(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.matcher.Remove(p) {
		p.trySend(wire.Envelope{Type: wire.TypeQueueLeft})
	}
}

// forward delivers env to the other member of sid. Frames for unknown or
// stale sessions are dropped without error; clients race teardown.
func (h *Hub) forward(p *peer, sid domain.SessionID, env wire.Envelope) {
	h.mu.Lock()
	sess, ok := h.sessions[sid]
	h.mu.Unlock()
	if !ok {
		return
	}
	other := sess.other(p)
	if other == nil {
		log.Warn().
			Str("module", "relay.hub").
			Str("sid", string(sid)).
			Str("device", string(p.id)).
			Msg("frame from non-member")
		return
	}
	other.trySend(env)
}

func (h *Hub) endCall(p *peer, env wire.Envelope) {
	h.mu.Lock()
	sess, ok := h.sessions[env.SessionID]
	if ok {
		delete(h.sessions, env.SessionID)
		activeSessions.Dec()
	}
	h.mu.Unlock()
	if !ok || sess.other(p) == nil {
		return
	}
	sess.other(p).trySend(wire.Envelope{
		Type:       wire.TypeCallEnded,
		SessionID:  env.SessionID,
		WasSkipped: env.WasSkipped,
	})
}

func (h *Hub) disconnect(p *peer) {
	h.mu.Lock()
	h.matcher.Remove(p)
	for sid, sess := range h.sessions {
		other := sess.other(p)
		if other == nil {
			continue
		}
		other.trySend(wire.Envelope{Type: wire.TypePeerDisconnected, SessionID: sid})
		delete(h.sessions, sid)
		activeSessions.Dec()
	}
	h.mu.Unlock()

	connectedPeers.Dec()
	p.close()
	log.Info().Str("module", "relay.hub").Str("device", string(p.id)).Msg("peer disconnected")
}
