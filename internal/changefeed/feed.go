// Package changefeed fans out row-level change notifications to scoped subscribers.
package changefeed

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Table names a watched store table.
type Table string

const (
	TableLists             Table = "lists"
	TableItems             Table = "list_items"
	TableShares            Table = "list_shares"
	TableProducts          Table = "products"
	TablePriceObservations Table = "price_observations"
)

// EventType enumerates row operations.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Field names the event attribute a filter is scoped on.
type Field string

const (
	FieldNone   Field = ""
	FieldID     Field = "id"
	FieldListID Field = "list_id"
	FieldUserID Field = "user_id"
)

const defaultBufferSize = 16

var (
	// ErrFeedClosed is returned by Subscribe once the feed has been closed.
	ErrFeedClosed = errors.New("changefeed: feed closed")
	// ErrMissingTable indicates a filter without a table.
	ErrMissingTable = errors.New("changefeed: filter table required")
)

// Event describes one committed row change.
type Event struct {
	Table     Table
	Type      EventType
	ID        string
	ListID    string
	UserID    string
	Timestamp time.Time
}

// Filter scopes a subscription to one table and, optionally, one field value.
type Filter struct {
	Table      Table
	Field      Field
	Value      string
	EventTypes []EventType
}

func (f Filter) matches(event Event) bool {
	if event.Table != f.Table {
		return false
	}
	if len(f.EventTypes) > 0 {
		wanted := false
		for _, eventType := range f.EventTypes {
			if eventType == event.Type {
				wanted = true
				break
			}
		}
		if !wanted {
			return false
		}
	}
	switch f.Field {
	case FieldNone:
		return true
	case FieldID:
		return event.ID == f.Value
	case FieldListID:
		return event.ListID == f.Value
	case FieldUserID:
		return event.UserID == f.Value
	default:
		return false
	}
}

// Subscription is a live, scoped stream of events.
type Subscription struct {
	id       int64
	filter   Filter
	stream   chan Event
	released chan struct{}
	once     sync.Once
	feed     *Feed
}

// Events returns the receive side of the subscription. It is closed on Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.stream
}

// Filter returns the scope the subscription was opened with.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Unsubscribe releases the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.unregister(s)
	})
}

// Feed dispatches published events to matching subscribers.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[Table]map[int64]*Subscription
	nextID      int64
	bufferSize  int
	closed      bool
}

// NewFeed constructs a feed whose subscribers buffer bufferSize events each.
func NewFeed(bufferSize int) *Feed {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Feed{
		subscribers: make(map[Table]map[int64]*Subscription),
		bufferSize:  bufferSize,
	}
}

// Subscribe opens a subscription for the filter. It is released when ctx is done
// or when Unsubscribe is called.
func (f *Feed) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	if filter.Table == "" {
		return nil, ErrMissingTable
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFeedClosed
	}
	f.nextID++
	subscription := &Subscription{
		id:       f.nextID,
		filter:   filter,
		stream:   make(chan Event, f.bufferSize),
		released: make(chan struct{}),
		feed:     f,
	}
	if _, ok := f.subscribers[filter.Table]; !ok {
		f.subscribers[filter.Table] = make(map[int64]*Subscription)
	}
	f.subscribers[filter.Table][subscription.id] = subscription
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			subscription.Unsubscribe()
		case <-subscription.released:
		}
	}()

	return subscription, nil
}

// Publish delivers the event to every matching subscriber without blocking.
// A full subscriber buffer drops the event; the subscriber still holds an
// undelivered event, and its handler re-fetches after this change committed.
func (f *Feed) Publish(event Event) {
	if event.Table == "" || event.Type == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, subscription := range f.subscribers[event.Table] {
		if !subscription.filter.matches(event) {
			continue
		}
		select {
		case subscription.stream <- event:
		default:
		}
	}
}

// ActiveSubscriptions reports the number of live subscriptions.
func (f *Feed) ActiveSubscriptions() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	total := 0
	for _, subscribers := range f.subscribers {
		total += len(subscribers)
	}
	return total
}

// Close releases every subscription and rejects new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	var all []*Subscription
	for _, subscribers := range f.subscribers {
		for _, subscription := range subscribers {
			all = append(all, subscription)
		}
	}
	f.mu.Unlock()

	for _, subscription := range all {
		subscription.Unsubscribe()
	}
}

func (f *Feed) unregister(subscription *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subscribers := f.subscribers[subscription.filter.Table]
	if subscribers != nil {
		delete(subscribers, subscription.id)
		if len(subscribers) == 0 {
			delete(f.subscribers, subscription.filter.Table)
		}
	}
	// Publish sends under the read lock, so closing here never races a send.
	close(subscription.stream)
	close(subscription.released)
}
