// ABOUTME: In-memory fan-out of ticket activity to live viewers
// ABOUTME: Subscribers register per ticket and receive new messages and status changes

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/helpdesk/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Kind identifies what happened on a ticket.
type Kind string

const (
	KindMessage Kind = "message"
	KindStatus  Kind = "status"
)

// Event is a single piece of ticket activity.
type Event struct {
	Kind     Kind
	TicketID string
	Message  *store.Message     // set for KindMessage
	Status   store.TicketStatus // set for KindStatus
}

// Broadcaster provides in-memory pub/sub keyed by ticket ID. Events are not
// persisted; viewers that connect later read history from the store.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // ticketID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers for events on ticketID. The returned channel is closed
// when ctx is done or the broadcaster is closed.
func (b *Broadcaster) Subscribe(ctx context.Context, ticketID string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[ticketID]; !ok {
		b.subscribers[ticketID] = make(map[string]chan Event)
	}
	b.subscribers[ticketID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "ticket_id", ticketID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(ticketID, subID)
	}()

	return ch, subID
}

// Publish delivers ev to every subscriber of ev.TicketID without blocking.
// Subscribers whose buffers are full miss the event.
func (b *Broadcaster) Publish(ev Event) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; every send is non-blocking.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[ev.TicketID] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"ticket_id", ev.TicketID,
				"sub_id", subID,
				"kind", ev.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ticketID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[ticketID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, ticketID)
	}

	b.logger.Debug("subscriber removed", "ticket_id", ticketID, "sub_id", subID)
}

// Subscribers returns the number of live subscriptions for ticketID.
func (b *Broadcaster) Subscribers(ticketID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[ticketID])
}

// Close closes every subscriber channel. Later subscriptions receive an
// already-closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ticketID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, ticketID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
