package relay

import (
	"github.com/rs/zerolog/log"

	"github.com/pairline/pairline/internal/domain"
)

// avgWaitMillis is the estimate pushed with queue tickets. The relay keeps
// no history, so the estimate scales linearly with position.
const avgWaitMillis = 5000

type waiting struct {
	peer     *peer
	criteria domain.MatchCriteria
}

// Matcher pairs waiting devices first-come-first-served within a queue
// type. Not safe for concurrent use; the hub serializes access.
type Matcher struct {
	queues map[string][]*waiting
}

func NewMatcher() *Matcher {
	return &Matcher{queues: make(map[string][]*waiting)}
}

func queueKey(c domain.MatchCriteria) string {
	if c.QueueType == "" {
		return "default"
	}
	return c.QueueType
}

// Enqueue registers a device and reports its 1-based position. A device
// already waiting is moved to its new queue.
func (m *Matcher) Enqueue(p *peer, criteria domain.MatchCriteria) int {
	m.Remove(p)
	key := queueKey(criteria)
	m.queues[key] = append(m.queues[key], &waiting{peer: p, criteria: criteria})
	queueDepth.WithLabelValues(key).Set(float64(len(m.queues[key])))
	return len(m.queues[key])
}

// Pop takes the two oldest entries from the queue p waits in. Returns nil
// when p has no partner yet.
func (m *Matcher) Pop(p *peer) (*peer, *peer, string) {
	key, idx := m.find(p)
	if idx < 0 || len(m.queues[key]) < 2 {
		return nil, nil, ""
	}
	q := m.queues[key]
	a, b := q[0].peer, q[1].peer
	m.queues[key] = q[2:]
	queueDepth.WithLabelValues(key).Set(float64(len(m.queues[key])))
	log.Info().
		Str("module", "relay.matcher").
		Str("queue", key).
		Str("a", string(a.id)).
		Str("b", string(b.id)).
		Msg("paired")
	return a, b, key
}

// Remove drops a device from whatever queue it waits in.
func (m *Matcher) Remove(p *peer) bool {
	key, idx := m.find(p)
	if idx < 0 {
		return false
	}
	m.queues[key] = append(m.queues[key][:idx], m.queues[key][idx+1:]...)
	queueDepth.WithLabelValues(key).Set(float64(len(m.queues[key])))
	return true
}

// Positions yields every still-waiting device with its refreshed position.
func (m *Matcher) Positions(key string) []*waiting {
	return m.queues[key]
}

func (m *Matcher) find(p *peer) (string, int) {
	for key, q := range m.queues {
		for i, w := range q {
			if w.peer == p {
				return key, i
			}
		}
	}
	return "", -1
}
