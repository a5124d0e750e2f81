// Package events is the in-process publish/subscribe channel that connects
// sync engines with the environment (connectivity, focus, storage changes)
// and with the UI (status, conflicts, failed operations).
package events

import (
	"slices"
	"sync"
)

// Kind identifies an event.
type Kind string

// Incoming triggers.
const (
	Online  Kind = "online"
	Offline Kind = "offline"
	Focus   Kind = "focus"
	Visible Kind = "visible"
	Storage Kind = "storage" // данные в локальном хранилище изменены извне
)

// Outgoing notifications.
const (
	Status          Kind = "status"
	Conflicts       Kind = "conflicts"
	OperationFailed Kind = "operation-failed"
)

// Event is a single notification. Fields irrelevant to Kind are zero.
type Event struct {
	Err    error  // OperationFailed: причина
	Kind   Kind   // тип события
	Key    string // Storage: измененный ключ; Status/Conflicts: ключ коллекции
	Source string // идентификатор отправителя, чтобы не реагировать на свои же события
	Status string // Status: новое состояние
	Op     string // OperationFailed: описание операции
	Count  int    // Conflicts: число неразрешенных конфликтов
}

// DefaultBuffer is the channel capacity of a subscription
const DefaultBuffer = 64

// Subscription delivers events of the requested kinds on C.
type Subscription struct {
	bus   *Bus
	ch    chan Event
	C     <-chan Event
	kinds []Kind
	once  sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

func (s *Subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, k)
}

// Bus fans published events out to subscribers. Delivery never blocks the
// publisher: a subscriber whose buffer is full misses the event.
type Bus struct {
	subs []*Subscription
	mu   sync.RWMutex
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a subscription for kinds; no kinds means every event.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	ch := make(chan Event, DefaultBuffer)
	sub := &Subscription{bus: b, ch: ch, C: ch, kinds: kinds}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i := slices.Index(b.subs, sub); i >= 0 {
		b.subs = slices.Delete(b.subs, i, i+1)
		close(sub.ch)
	}
}

// Publish delivers e to every interested subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}
