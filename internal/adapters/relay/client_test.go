package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairline/pairline/internal/core"
	"github.com/pairline/pairline/internal/domain"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeRelay is a minimal ws endpoint capturing client frames and letting
// tests push frames back.
type fakeRelay struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	received chan Envelope
	auth     string
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	f := &fakeRelay{received: make(chan Envelope, 32)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		want := f.auth
		f.mu.Unlock()
		if want != "" && r.Header.Get("Authorization") != "Bearer "+want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, ws)
		f.mu.Unlock()
		for {
			var env Envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			f.received <- env
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRelay) push(t *testing.T, env Envelope) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.conns)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, f.conns[len(f.conns)-1].WriteMessage(websocket.TextMessage, data))
}

func (f *fakeRelay) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ws := range f.conns {
		_ = ws.Close()
	}
	f.conns = nil
}

func (f *fakeRelay) wait(t *testing.T, typ string) Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-f.received:
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s frame received", typ)
		}
	}
}

func TestConnectRejectedCredential(t *testing.T) {
	relay := newFakeRelay(t)
	relay.auth = "good"

	c := NewClient(Options{URL: relay.url()})
	err := c.Connect(context.Background(), "bad")
	require.ErrorIs(t, err, core.ErrAuth)
}

func TestConnectUnreachableRelay(t *testing.T) {
	c := NewClient(Options{URL: "ws://127.0.0.1:1/api/ws/signal"})
	err := c.Connect(context.Background(), "")
	require.ErrorIs(t, err, core.ErrTransport)
}

func TestJoinQueueRoundTrip(t *testing.T) {
	relay := newFakeRelay(t)
	c := NewClient(Options{URL: relay.url()})
	require.NoError(t, c.Connect(context.Background(), ""))
	defer c.Close()

	c.JoinQueue(domain.MatchCriteria{QueueType: "language-exchange", Interests: []string{"music"}})

	env := relay.wait(t, TypeJoinQueue)
	require.NotNil(t, env.Criteria)
	assert.Equal(t, "language-exchange", env.Criteria.QueueType)
	assert.Equal(t, []string{"music"}, env.Criteria.Interests)
	assert.NotZero(t, env.Timestamp)
}

func TestOfferEnvelopeRoundTrip(t *testing.T) {
	relay := newFakeRelay(t)
	c := NewClient(Options{URL: relay.url()})
	require.NoError(t, c.Connect(context.Background(), ""))
	defer c.Close()

	sid := domain.SessionID("s-1")
	c.SendOffer(sid, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"})

	env := relay.wait(t, TypeSendOffer)
	assert.Equal(t, sid, env.SessionID)
	assert.Equal(t, "offer", env.SDPType)
	assert.Equal(t, "v=0\r\n", env.SDP)
	assert.Equal(t, webrtc.SDPTypeOffer, env.Description().Type)
}

func TestCandidateEnvelopeRoundTrip(t *testing.T) {
	relay := newFakeRelay(t)
	c := NewClient(Options{URL: relay.url()})
	require.NoError(t, c.Connect(context.Background(), ""))
	defer c.Close()

	mid := "0"
	idx := uint16(0)
	c.SendCandidate("s-1", webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 1 192.0.2.1 1 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})

	env := relay.wait(t, TypeSendCandidate)
	ci := env.CandidateInit()
	assert.Equal(t, "candidate:1 1 udp 1 192.0.2.1 1 typ host", ci.Candidate)
	require.NotNil(t, ci.SDPMid)
	assert.Equal(t, "0", *ci.SDPMid)
}

func TestDispatchInboundFrames(t *testing.T) {
	relay := newFakeRelay(t)
	c := NewClient(Options{URL: relay.url()})

	matched := make(chan domain.SessionID, 1)
	messages := make(chan domain.ChatMessage, 1)
	ended := make(chan domain.SessionID, 1)
	c.Bind(core.SignalEvents{
		Matched:   func(peer domain.PeerID, sid domain.SessionID) { matched <- sid },
		Message:   func(msg domain.ChatMessage) { messages <- msg },
		CallEnded: func(sid domain.SessionID) { ended <- sid },
	})
	require.NoError(t, c.Connect(context.Background(), ""))
	defer c.Close()

	relay.push(t, Envelope{Type: TypeMatched, SessionID: "s-9", PeerID: "p-2"})
	select {
	case sid := <-matched:
		assert.Equal(t, domain.SessionID("s-9"), sid)
	case <-time.After(2 * time.Second):
		t.Fatal("matched not dispatched")
	}

	relay.push(t, Envelope{Type: TypeMessage, SessionID: "s-9", From: "p-2", Message: "hi", Timestamp: 1700000000000})
	select {
	case msg := <-messages:
		assert.Equal(t, "hi", msg.Text)
		assert.Equal(t, domain.PeerID("p-2"), msg.Sender)
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}

	relay.push(t, Envelope{Type: TypeCallEnded, SessionID: "s-9"})
	select {
	case sid := <-ended:
		assert.Equal(t, domain.SessionID("s-9"), sid)
	case <-time.After(2 * time.Second):
		t.Fatal("call-ended not dispatched")
	}
}

func TestSendWhileDisconnectedIsNoop(t *testing.T) {
	c := NewClient(Options{URL: "ws://127.0.0.1:1/"})
	// Must not panic or block.
	c.JoinQueue(domain.MatchCriteria{})
	c.SendMessage("s-1", "hello")
	c.LeaveQueue()
}

func TestManualCloseNeverRetries(t *testing.T) {
	relay := newFakeRelay(t)
	c := NewClient(Options{URL: relay.url(), BaseDelay: time.Millisecond, MaxAttempts: 3})

	down := make(chan bool, 4)
	c.Bind(core.SignalEvents{
		TransportDown: func(err error, terminal bool) { down <- terminal },
	})
	require.NoError(t, c.Connect(context.Background(), ""))

	c.Close()
	select {
	case <-down:
		t.Fatal("manual close must not surface transport loss")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectRestoresChannel(t *testing.T) {
	relay := newFakeRelay(t)
	c := NewClient(Options{URL: relay.url(), BaseDelay: time.Millisecond, MaxAttempts: 5})

	down := make(chan bool, 4)
	up := make(chan struct{}, 1)
	c.Bind(core.SignalEvents{
		TransportDown: func(err error, terminal bool) { down <- terminal },
		TransportUp:   func() { up <- struct{}{} },
	})
	require.NoError(t, c.Connect(context.Background(), ""))
	defer c.Close()

	relay.dropAll()

	select {
	case terminal := <-down:
		assert.False(t, terminal)
	case <-time.After(2 * time.Second):
		t.Fatal("transport loss not reported")
	}

	select {
	case <-up:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not restore the channel")
	}

	// The restored channel carries frames again.
	c.JoinQueue(domain.MatchCriteria{})
	relay.wait(t, TypeJoinQueue)
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	relay := newFakeRelay(t)
	c := NewClient(Options{URL: relay.url(), BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxAttempts: 2})

	down := make(chan bool, 8)
	c.Bind(core.SignalEvents{
		TransportDown: func(err error, terminal bool) { down <- terminal },
	})
	require.NoError(t, c.Connect(context.Background(), ""))

	// Kill the endpoint entirely so every retry fails. CloseClientConnections
	// does not reach hijacked (websocket) conns, so drop them explicitly.
	relay.srv.CloseClientConnections()
	relay.srv.Close()
	relay.dropAll()

	sawTerminal := false
	deadline := time.After(3 * time.Second)
	for !sawTerminal {
		select {
		case terminal := <-down:
			sawTerminal = terminal
		case <-deadline:
			t.Fatal("terminal transport loss never reported")
		}
	}
}
