// Package bus fans per-household mutation events out to live subscribers.
// Events are change notifications, not a source of truth: there is no backlog
// and no durable replay. A subscriber that was away reconciles by re-fetching
// authoritative state.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

const subscriptionBuffer = 16

// Event is one mutation notification scoped to a household.
type Event struct {
	Type        string         `json:"type"`
	Entity      string         `json:"entity"`
	Action      string         `json:"action"`
	ID          int64          `json:"id,omitempty"`
	HouseholdID int64          `json:"household_id"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// NewEvent creates an Event with the Type field derived from entity and action.
func NewEvent(entity, action string, id int64, extra map[string]any) Event {
	return Event{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Publisher is the write side of the bus. Publish must return without waiting
// on subscriber delivery or connection health.
type Publisher interface {
	Publish(householdID int64, ev Event)
}

// Subscription is one live, ordered event stream for a single household.
// The stream starts at "now"; it carries no history.
type Subscription struct {
	householdID int64
	ch          chan []byte
	broker      *Broker
	once        sync.Once
}

// C is the receive side of the stream. It is closed when the subscription
// ends, whether by Close or by the broker dropping a slow consumer.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.broker.unsubscribe(s)
}

// Broker routes published events to the live subscribers of each household.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int64]map[*Subscription]struct{}
	logger *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		subs:   make(map[int64]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a new live stream for the household.
func (b *Broker) Subscribe(householdID int64) *Subscription {
	sub := &Subscription{
		householdID: householdID,
		ch:          make(chan []byte, subscriptionBuffer),
		broker:      b,
	}
	b.mu.Lock()
	if b.subs[householdID] == nil {
		b.subs[householdID] = make(map[*Subscription]struct{})
	}
	b.subs[householdID][sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	set := b.subs[sub.householdID]
	if _, ok := set[sub]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.householdID)
		}
		sub.once.Do(func() { close(sub.ch) })
	}
	b.mu.Unlock()
}

// Publish delivers the event to every current subscriber of the household,
// in publish order. It never blocks: a subscriber whose buffer is full is
// dropped and must reconcile by re-fetching state when it reconnects.
func (b *Broker) Publish(householdID int64, ev Event) {
	ev.HouseholdID = householdID
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal event", "error", err)
		return
	}

	var slow []*Subscription
	b.mu.RLock()
	for sub := range b.subs[householdID] {
		select {
		case sub.ch <- data:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		b.logger.Warn("dropping slow subscriber", "household_id", householdID)
		sub.Close()
	}
}

// SubscriberCount returns the number of live subscriptions for a household.
func (b *Broker) SubscriberCount(householdID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[householdID])
}
