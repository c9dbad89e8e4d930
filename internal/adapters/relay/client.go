// Package relay implements the signaling client: a persistent websocket
// channel to the relay service carrying queue, negotiation and chat frames.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pairline/pairline/internal/core"
	"github.com/pairline/pairline/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeDeadline = 5 * time.Second
	sendBuffer    = 32
)

// Options configure a Client.
type Options struct {
	URL string

	// Reconnect backoff.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (o *Options) defaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 15 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 6
	}
}

// wsConn is one live websocket with its write channel. A reconnect replaces
// the whole wsConn rather than reusing it.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) trySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Client is the relay-facing signal client. It exclusively owns the
// transport; callers interact only through methods and bound events.
type Client struct {
	opts   Options
	events core.SignalEvents

	mu         sync.Mutex
	ws         *wsConn
	credential string
	manual     bool
	ctx        context.Context
	cancel     context.CancelFunc
}

var _ core.SignalClient = (*Client)(nil)

func NewClient(opts Options) *Client {
	opts.defaults()
	return &Client{opts: opts}
}

func (c *Client) Bind(events core.SignalEvents) {
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
}

// Connect dials the relay. A rejected credential surfaces as ErrAuth, any
// other handshake failure as ErrTransport.
func (c *Client) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.ws != nil {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.ctx = ctx
	c.cancel = cancel
	c.credential = credential
	c.manual = false
	c.mu.Unlock()

	ws, err := c.dial(ctx, credential)
	if err != nil {
		cancel()
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	go c.writePump(ctx, ws)
	go c.readPump(ctx, ws)
	log.Info().Str("module", "relay.client").Str("url", c.opts.URL).Msg("relay channel open")
	return nil
}

func (c *Client) dial(ctx context.Context, credential string) (*wsConn, error) {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: relay returned %d", core.ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	return &wsConn{conn: conn, send: make(chan []byte, sendBuffer)}, nil
}

// Close is the manual teardown path. It never triggers auto-retry:
// "I hung up" is not "I was cut off".
func (c *Client) Close() {
	c.mu.Lock()
	c.manual = true
	ws := c.ws
	c.ws = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.close()
		log.Info().Str("module", "relay.client").Msg("relay channel closed")
	}
}

func (c *Client) writePump(ctx context.Context, ws *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ws.send:
			if !ok {
				return
			}
			if err := ws.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "relay.client").Msg("writePump set deadline")
				return
			}
			if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay.client").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, ws *wsConn) {
	defer ws.close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := ws.conn.ReadMessage()
			if err != nil {
				c.onTransportLoss(ctx, err)
				return
			}
			c.dispatch(data)
		}
	}
}

// onTransportLoss decides between silent shutdown (manual close) and the
// automatic-retry path.
func (c *Client) onTransportLoss(ctx context.Context, cause error) {
	c.mu.Lock()
	manual := c.manual
	events := c.events
	c.ws = nil
	c.mu.Unlock()

	if manual || ctx.Err() != nil {
		return
	}

	log.Warn().Err(cause).Str("module", "relay.client").Msg("relay transport lost")
	if events.TransportDown != nil {
		events.TransportDown(fmt.Errorf("%w: %v", core.ErrTransport, cause), false)
	}
	go c.reconnect(ctx)
}

// reconnect retries with capped exponential backoff up to the attempt
// ceiling, then surfaces a terminal error.
func (c *Client) reconnect(ctx context.Context) {
	delay := c.opts.BaseDelay
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		credential := c.credential
		manual := c.manual
		c.mu.Unlock()
		if manual {
			return
		}

		log.Info().
			Str("module", "relay.client").
			Int("attempt", attempt).
			Int("max", c.opts.MaxAttempts).
			Msg("relay reconnect attempt")

		ws, err := c.dial(ctx, credential)
		if err == nil {
			c.mu.Lock()
			c.ws = ws
			events := c.events
			c.mu.Unlock()

			go c.writePump(ctx, ws)
			go c.readPump(ctx, ws)
			log.Info().Str("module", "relay.client").Msg("relay channel restored")
			if events.TransportUp != nil {
				events.TransportUp()
			}
			return
		}
		if errors.Is(err, core.ErrAuth) {
			// Credential went bad mid-session: retrying cannot help.
			c.terminal(err)
			return
		}

		delay *= 2
		if delay > c.opts.MaxDelay {
			delay = c.opts.MaxDelay
		}
	}
	c.terminal(core.ErrReconnectExhausted)
}

func (c *Client) terminal(err error) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	log.Error().Err(err).Str("module", "relay.client").Msg("relay reconnect gave up")
	if events.TransportDown != nil {
		events.TransportDown(err, true)
	}
}

// send marshals and queues an envelope, logging (never failing) when the
// channel is not open.
func (c *Client) send(env Envelope) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		log.Warn().Str("module", "relay.client").Str("type", env.Type).Msg("send skipped, channel not open")
		return
	}

	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay.client").Msg("marshal envelope")
		return
	}
	if err := ws.trySend(b); err != nil {
		log.Warn().Err(err).Str("module", "relay.client").Str("type", env.Type).Msg("send dropped")
	}
}

func (c *Client) JoinQueue(criteria domain.MatchCriteria) {
	criteria = criteria.Normalize()
	c.send(Envelope{Type: TypeJoinQueue, Criteria: &criteria, Timestamp: now()})
}

func (c *Client) LeaveQueue() {
	c.send(Envelope{Type: TypeLeaveQueue, Timestamp: now()})
}

func (c *Client) SendOffer(sid domain.SessionID, sdp webrtc.SessionDescription) {
	c.send(descriptionEnvelope(TypeSendOffer, sid, sdp))
}

func (c *Client) SendAnswer(sid domain.SessionID, sdp webrtc.SessionDescription) {
	c.send(descriptionEnvelope(TypeSendAnswer, sid, sdp))
}

func (c *Client) SendCandidate(sid domain.SessionID, cand webrtc.ICECandidateInit) {
	c.send(candidateEnvelope(sid, cand))
}

func (c *Client) SendMessage(sid domain.SessionID, text string) {
	c.send(Envelope{Type: TypeSendMessage, SessionID: sid, Message: text, Timestamp: now()})
}

func (c *Client) SendReaction(sid domain.SessionID, emoji string) {
	c.send(Envelope{Type: TypeSendReaction, SessionID: sid, Emoji: emoji, Timestamp: now()})
}

func (c *Client) SendEndCall(sid domain.SessionID, wasSkipped bool) {
	c.send(Envelope{Type: TypeEndCall, SessionID: sid, WasSkipped: wasSkipped, Timestamp: now()})
}

func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "relay.client").Msg("bad relay frame")
		return
	}

	c.mu.Lock()
	ev := c.events
	c.mu.Unlock()

	switch env.Type {
	case TypeConnected:
		if ev.Connected != nil {
			ev.Connected(env.DeviceID)
		}
	case TypeQueueJoined:
		if ev.QueueJoined != nil {
			ev.QueueJoined(domain.QueueTicket{
				Position:      env.Position,
				EnqueuedAt:    time.UnixMilli(env.Timestamp),
				EstimatedWait: time.Duration(env.EstimatedWait) * time.Millisecond,
			})
		}
	case TypeQueueUpdate:
		if ev.QueueUpdate != nil {
			ev.QueueUpdate(domain.QueueTicket{
				Position:      env.Position,
				EstimatedWait: time.Duration(env.EstimatedWait) * time.Millisecond,
			})
		}
	case TypeQueueLeft:
		if ev.QueueLeft != nil {
			ev.QueueLeft()
		}
	case TypeMatched:
		if ev.Matched != nil {
			ev.Matched(env.PeerID, env.SessionID)
		}
	case TypeOffer:
		if ev.Offer != nil {
			ev.Offer(env.SessionID, env.Description(), env.From)
		}
	case TypeAnswer:
		if ev.Answer != nil {
			ev.Answer(env.SessionID, env.Description(), env.From)
		}
	case TypeCandidate:
		if ev.Candidate != nil {
			ev.Candidate(env.SessionID, env.CandidateInit(), env.From)
		}
	case TypeMessage:
		if ev.Message != nil {
			ev.Message(domain.ChatMessage{
				Session:   env.SessionID,
				Sender:    env.From,
				Text:      env.Message,
				Timestamp: time.UnixMilli(env.Timestamp),
			})
		}
	case TypeReaction:
		if ev.Reaction != nil {
			ev.Reaction(domain.Reaction{
				Session:   env.SessionID,
				Sender:    env.From,
				Emoji:     env.Emoji,
				Timestamp: time.UnixMilli(env.Timestamp),
			})
		}
	case TypePeerDisconnected:
		if ev.PeerDisconnected != nil {
			ev.PeerDisconnected(env.SessionID)
		}
	case TypeCallEnded:
		if ev.CallEnded != nil {
			ev.CallEnded(env.SessionID)
		}
	case TypeError:
		log.Warn().Str("module", "relay.client").Str("error", env.Error).Msg("relay error frame")
		if ev.RelayError != nil {
			ev.RelayError(env.Error)
		}
	default:
		log.Warn().Str("module", "relay.client").Str("type", env.Type).Msg("unknown relay frame")
	}
}
