package serve

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/everydev1618/pmc/store"
)

const (
	maxSubscribers = 50
	subscriberBuf  = 64
)

// Lot event types.
const (
	EventLotUpdated = "lot.updated"
	EventLotFull    = "lot.full"
)

// EventBroker fans lot events out to admin stream subscribers. Each
// subscriber may follow a single lot or all of them.
type EventBroker struct {
	mu     sync.RWMutex
	subs   map[chan BrokerEvent]string
	closed bool
	seq    atomic.Uint64
}

// NewEventBroker creates a broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{subs: make(map[chan BrokerEvent]string)}
}

// Subscribe returns a channel of events for lotID, or for every lot when
// lotID is empty. It returns nil when the broker is closed or full. The
// caller must Unsubscribe.
func (b *EventBroker) Subscribe(lotID string) chan BrokerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.subs) >= maxSubscribers {
		return nil
	}
	ch := make(chan BrokerEvent, subscriberBuf)
	b.subs[ch] = lotID
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *EventBroker) Unsubscribe(ch chan BrokerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Close ends every stream. Later subscriptions are refused.
func (b *EventBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish numbers the event and delivers it to matching subscribers.
// Subscribers with a full buffer miss it.
func (b *EventBroker) Publish(ev BrokerEvent) {
	ev.ID = b.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, lotID := range b.subs {
		if lotID != "" && (ev.Lot == nil || ev.Lot.ID != lotID) {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// PublishLot implements parking.LotPublisher.
func (b *EventBroker) PublishLot(lot store.Lot) {
	typ := EventLotUpdated
	if !lot.HasSpots {
		typ = EventLotFull
	}
	b.Publish(BrokerEvent{Type: typ, Lot: &lot})
}
