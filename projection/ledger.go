// Package projection builds the local message ledger from observed events.
// Handles ordering and deduplication.
// Does not emit events or interact with the transport.
package projection

import (
	"chat-session/domain"
	"chat-session/observability"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Ledger is the ordered message history of the active session: one
// sequence per room and one per direct-message peer, each ascending by
// timestamp with ties kept in arrival order.
type Ledger struct {
	mu      sync.RWMutex
	rooms   map[string][]domain.RoomMessage
	direct  map[string][]domain.DirectMessage
	seen    map[domain.MessageKey]struct{}
	metrics *observability.Metrics
}

func NewLedger(metrics *observability.Metrics) *Ledger {
	return &Ledger{
		rooms:   make(map[string][]domain.RoomMessage),
		direct:  make(map[string][]domain.DirectMessage),
		seen:    make(map[domain.MessageKey]struct{}),
		metrics: metrics,
	}
}

// AppendRoom records a room message. Room messages are never deduplicated:
// the server does not echo them as a separate optimistic entry.
func (l *Ledger) AppendRoom(msg domain.RoomMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.rooms[msg.Room]
	i := insertionIndex(len(entries), func(i int) time.Time { return entries[i].Timestamp }, msg.Timestamp)
	l.rooms[msg.Room] = slices.Insert(entries, i, msg)
	l.metrics.LedgerAppend("room", true)
}

// AppendDirect records a direct message unless an entry with the same
// (timestamp, content, from) key already exists. It reports whether the
// message was added.
func (l *Ledger) AppendDirect(msg domain.DirectMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := msg.Key()
	if _, ok := l.seen[key]; ok {
		l.metrics.LedgerAppend("direct", false)
		return false
	}
	l.seen[key] = struct{}{}

	peer := msg.Peer()
	entries := l.direct[peer]
	i := insertionIndex(len(entries), func(i int) time.Time { return entries[i].Timestamp }, msg.Timestamp)
	l.direct[peer] = slices.Insert(entries, i, msg)
	l.metrics.LedgerAppend("direct", true)
	return true
}

// insertionIndex returns the position after every entry not later than at,
// which keeps the sequence sorted and stable.
func insertionIndex(n int, timestampAt func(int) time.Time, at time.Time) int {
	return sort.Search(n, func(i int) bool { return timestampAt(i).After(at) })
}

// Room returns a copy of the room's history in timestamp order.
func (l *Ledger) Room(room string) []domain.RoomMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.rooms[room])
}

// Direct returns a copy of the conversation with peer in timestamp order.
func (l *Ledger) Direct(peer string) []domain.DirectMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.direct[peer])
}

func (l *Ledger) Rooms() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := lo.Keys(l.rooms)
	slices.Sort(names)
	return names
}

func (l *Ledger) Conversations() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	peers := lo.Keys(l.direct)
	slices.Sort(peers)
	return peers
}

// Reset forgets everything; history does not outlive the session.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rooms = make(map[string][]domain.RoomMessage)
	l.direct = make(map[string][]domain.DirectMessage)
	l.seen = make(map[domain.MessageKey]struct{})
}
