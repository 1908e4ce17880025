// internal/bus/bus.go
//
// Panel event fan-out. The orchestrator publishes routed blocks and
// status notices keyed by console panel; the TUI subscribes per panel.
// Subscribers get bounded channels, events published before anyone
// subscribed are buffered, and duplicate IDs within a window are
// suppressed.

package bus

import (
	"sync"
	"time"

	"github.com/ajankowski/colloquy/internal/protocol"
	"github.com/ajankowski/colloquy/internal/session"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024
)

// EventType classifies panel events for drop priority.
type EventType string

const (
	// TypeBlock is a routed conversation block.
	TypeBlock EventType = "block"
	// TypeStatus is a state or queue notice. Never dropped in favor
	// of plain blocks.
	TypeStatus EventType = "status"
	// TypeDenial is a permission denial notice. Same priority as
	// status.
	TypeDenial EventType = "denial"
)

// Event is one item delivered to a panel.
type Event struct {
	ID       string
	Panel    protocol.Panel
	Type     EventType
	Role     session.Role
	Body     string
	Readable bool
	At       time.Time
}

// Logger is the minimal logging dependency.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes Bus construction.
type Option func(*Bus)

// WithLogger injects a logger for drop diagnostics.
func WithLogger(logger Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// WithSubscriberCapacity overrides the buffered channel size.
func WithSubscriberCapacity(capacity int) Option {
	return func(b *Bus) {
		if capacity > 0 {
			b.channelSize = capacity
		}
	}
}

// WithBacklogLimit overrides pre-subscription buffering per panel.
func WithBacklogLimit(limit int) Option {
	return func(b *Bus) {
		if limit > 0 {
			b.backlogLimit = limit
		}
	}
}

// WithDedupeWindow controls how many recent event IDs are retained.
func WithDedupeWindow(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.dedupeWindow = size
		}
	}
}

// Bus fans panel events out to subscribers.
type Bus struct {
	mu           sync.RWMutex
	subscribers  map[protocol.Panel]map[*subscriber]struct{}
	backlog      map[protocol.Panel][]Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
}

// New constructs a bus with sane defaults.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers:  map[protocol.Panel]map[*subscriber]struct{}{},
		backlog:      map[protocol.Panel][]Event{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscription is an active panel subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe registers for one panel's events. Backlogged events are
// replayed first.
func (b *Bus) Subscribe(panel protocol.Panel) Subscription {
	sub := newSubscriber(b.channelSize, b.logger)
	var backlog []Event
	b.mu.Lock()
	if b.subscribers[panel] == nil {
		b.subscribers[panel] = map[*subscriber]struct{}{}
	}
	b.subscribers[panel][sub] = struct{}{}
	if existing := b.backlog[panel]; len(existing) > 0 {
		backlog = append(backlog, existing...)
		delete(b.backlog, panel)
	}
	b.mu.Unlock()
	for _, event := range backlog {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() { b.removeSubscriber(panel, sub) },
	}
}

// Publish delivers an event to its panel's subscribers, or buffers it
// when nobody is listening yet.
func (b *Bus) Publish(event Event) {
	if event.ID != "" && b.isDuplicate(event.ID) {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	b.mu.RLock()
	subs := b.snapshotSubscribers(event.Panel)
	b.mu.RUnlock()
	if len(subs) == 0 {
		b.bufferEvent(event)
		return
	}
	for _, sub := range subs {
		sub.deliver(event)
	}
}

func (b *Bus) snapshotSubscribers(panel protocol.Panel) []*subscriber {
	live := b.subscribers[panel]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (b *Bus) removeSubscriber(panel protocol.Panel, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.subscribers[panel]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, panel)
		}
	}
	sub.close()
}

func (b *Bus) bufferEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	queue := b.backlog[event.Panel]
	if len(queue) >= b.backlogLimit {
		queue = queue[1:]
		if b.logger != nil {
			b.logger.Printf("bus: backlog drop for %s (limit %d)", event.Panel, b.backlogLimit)
		}
	}
	queue = append(queue, event)
	b.backlog[event.Panel] = queue
}

func (b *Bus) isDuplicate(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.recentIDs[id]; ok {
		return true
	}
	b.recentIDs[id] = struct{}{}
	b.recentOrder = append(b.recentOrder, id)
	if len(b.recentOrder) > b.dedupeWindow {
		oldest := b.recentOrder[0]
		b.recentOrder = b.recentOrder[1:]
		delete(b.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	ch      chan Event
	logger  Logger
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

// deliver never blocks. A full channel evicts the lowest-priority of
// (oldest buffered, incoming): status and denial events outlive plain
// blocks. The close mutex is held for the whole send so a concurrent
// Close cannot close the channel under an in-flight send.
func (s *subscriber) deliver(event Event) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
	}
	var oldest Event
	select {
	case oldest = <-s.ch:
	default:
		// The receiver drained the channel between the probes; there
		// is room again.
		s.ch <- event
		return
	}
	if shouldDropOldest(oldest, event) {
		s.logDrop(oldest, "queue overflow")
		s.ch <- event
	} else {
		s.ch <- oldest
		s.logDrop(event, "queue overflow:incoming")
	}
}

func (s *subscriber) logDrop(event Event, reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("bus: dropped %s event for %s (%s)", event.Type, event.Panel, reason)
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.closeMu.Unlock()
}

func shouldDropOldest(oldest, incoming Event) bool {
	oldestCritical := oldest.Type != TypeBlock
	incomingCritical := incoming.Type != TypeBlock
	switch {
	case oldestCritical && !incomingCritical:
		return false
	case !oldestCritical && incomingCritical:
		return true
	}
	return true
}
