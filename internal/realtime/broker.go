// Package realtime fans out row change notifications to scoped subscriptions.
package realtime

import (
	"bytes"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

// Action is the kind of row change
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Event is one row change. When the row did not fit in a notification
// TooLong is set and only ID is populated.
type Event struct {
	Table   string          `json:"table"`
	Action  Action          `json:"action"`
	New     json.RawMessage `json:"new,omitempty"`
	Old     json.RawMessage `json:"old,omitempty"`
	TooLong bool            `json:"too_long,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// RowID returns the id of the changed row
func (e Event) RowID() (int64, bool) {
	raw := e.ID
	if len(raw) == 0 {
		raw = e.column(e.New, "id")
	}
	if len(raw) == 0 {
		raw = e.column(e.Old, "id")
	}
	id, err := strconv.ParseInt(string(bytes.Trim(raw, `"`)), 10, 64)
	return id, err == nil
}

func (e Event) column(row json.RawMessage, name string) json.RawMessage {
	if len(row) == 0 {
		return nil
	}
	var cols map[string]json.RawMessage
	if err := json.Unmarshal(row, &cols); err != nil {
		return nil
	}
	return cols[name]
}

// Filter scopes a subscription to a table, optional actions and an optional
// equality predicate on one column of the new row.
type Filter struct {
	Table   string
	Actions []Action
	Column  string
	Value   string
}

func (f Filter) matches(e Event) bool {
	if f.Table != e.Table {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Column == "" {
		return true
	}
	raw := e.column(e.New, f.Column)
	if raw == nil {
		// Truncated payloads carry no columns; let the subscriber re-read.
		return e.TooLong
	}
	return string(bytes.Trim(raw, `"`)) == f.Value
}

// Subscription is an owned handle on a filtered event stream. It must be
// released when the consumer goes away.
type Subscription struct {
	id     uint64
	filter Filter
	broker *Broker

	mu     sync.Mutex
	closed bool
	ch     chan Event
}

// Events returns the delivery channel, closed on Release
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Release detaches the subscription. No event is delivered after it returns.
func (s *Subscription) Release() {
	s.broker.remove(s.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *Subscription) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		log.Warn().
			Str("table", e.Table).
			Str("column", s.filter.Column).
			Str("value", s.filter.Value).
			Msg("Subscriber buffer full, dropping change event")
	}
}

// Broker routes published events to matching subscriptions
type Broker struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
}

// NewBroker creates a new broker
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broker{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a new subscription for f
func (b *Broker) Subscribe(f Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: f,
		broker: b,
		ch:     make(chan Event, b.bufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers e to every matching subscription
func (b *Broker) Publish(e Event) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.matches(e) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(e)
	}
}

// Count returns the number of live subscriptions
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}
