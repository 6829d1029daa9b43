package metrics

import "sync"

// Event counter names used across the signaling server.
const (
	EventEnvelopesDecoded     = "envelopes_decoded"
	EventEnvelopesRejected    = "envelopes_rejected"
	EventJoins                = "joins"
	EventJoinsRejectedFull    = "joins_rejected_room_full"
	EventLeaves               = "leaves"
	EventRelayedOffers        = "relayed_offers"
	EventRelayedAnswers       = "relayed_answers"
	EventRelayedCandidates    = "relayed_candidates"
	EventStaleSequenceDropped = "stale_sequence_dropped"
	EventPresenceBroadcasts   = "presence_broadcasts"
	EventPresenceSendFailures = "presence_send_failures"
	EventChatBroadcasts       = "chat_broadcasts"
	EventSlowClientsClosed    = "slow_clients_closed"
	EventIdleTimeouts         = "idle_timeouts"
	EventRateLimitedClosed    = "rate_limited_closed"
	EventSessionsOpened       = "sessions_opened"
	EventSessionsClosed       = "sessions_closed"
	EventRoomsCreated         = "rooms_created"
	EventRoomsReclaimed       = "rooms_reclaimed"
)

// Metrics is a minimal, concurrency-safe counter registry keyed by event
// name. It keeps enforcement and fan-out logic testable while still being
// scrapable via the Prometheus text handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
