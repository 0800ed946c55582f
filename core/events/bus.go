package events

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"stakepool/core/types"
)

const defaultBusHistory = 1024

// Envelope is a sequenced event as delivered to stream subscribers.
type Envelope struct {
	Sequence uint64       `json:"sequence"`
	Cursor   string       `json:"cursor"`
	Event    *types.Event `json:"event"`
}

func (e Envelope) clone() Envelope {
	e.Event = e.Event.Clone()
	return e
}

// Bus is an Emitter that sequences events, keeps a bounded history and fans
// them out to subscribers. Slow subscribers miss events rather than blocking
// the publisher.
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	limit   int
	history []Envelope
	subs    map[uint64]chan Envelope
}

// NewBus constructs a bus retaining up to limit events for replay. A
// non-positive limit selects the default.
func NewBus(limit int) *Bus {
	if limit <= 0 {
		limit = defaultBusHistory
	}
	return &Bus{limit: limit, subs: make(map[uint64]chan Envelope)}
}

// Emit implements the Emitter interface.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}

	b.mu.Lock()
	b.seq++
	env := Envelope{Sequence: b.seq, Cursor: strconv.FormatUint(b.seq, 10), Event: payload.Clone()}
	b.history = append(b.history, env)
	if len(b.history) > b.limit {
		excess := len(b.history) - b.limit
		trimmed := make([]Envelope, b.limit)
		copy(trimmed, b.history[excess:])
		b.history = trimmed
	}
	// Sends stay under the lock so cancel cannot close a channel mid-send.
	for _, ch := range b.subs {
		select {
		case ch <- env.clone():
		default:
		}
	}
	b.mu.Unlock()
}

// Subscribe registers a subscriber for events after cursor. It returns the
// live channel, a cancel function and the replay backlog. The subscription is
// cancelled automatically when ctx is done; calling cancel first releases the
// watcher without waiting on ctx.
func (b *Bus) Subscribe(ctx context.Context, cursor string) (<-chan Envelope, func(), []Envelope) {
	updates := make(chan Envelope, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	backlog := make([]Envelope, 0, len(b.history))
	for _, entry := range b.history {
		if entry.Sequence > since {
			backlog = append(backlog, entry.clone())
		}
	}
	b.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}

	return updates, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
