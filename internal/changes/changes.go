// Package changes delivers model add, update and remove events to
// registered listeners.
package changes

import (
	"fmt"
	"sync"

	"modelreg/internal/logging"
	"modelreg/internal/model"
)

// ChangeType represents the kind of change
type ChangeType string

const (
	Added   ChangeType = "added"
	Updated ChangeType = "updated"
	Removed ChangeType = "removed"
)

// Event reports models of one category changing. Values maps a property
// name to one value per id.
type Event struct {
	Category model.Category
	IDs      []int64
	Values   map[string][]any
	Type     ChangeType
	Source   string
}

// Listener receives change events.
type Listener interface {
	ModelsChanged(evt Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(evt Event)

// ModelsChanged implements Listener.
func (f ListenerFunc) ModelsChanged(evt Event) { f(evt) }

// Queue runs delivery functions in order. jobs.SerialQueue implements it.
type Queue interface {
	Submit(fn func())
}

type registration struct {
	category model.Category
	listener Listener
}

// Manager fans events out to the listeners whose category matches.
type Manager struct {
	queue  Queue
	logger *logging.Logger

	mu        sync.RWMutex
	listeners map[uint64]registration
	next      uint64
}

// NewManager creates a manager delivering through queue.
func NewManager(queue Queue, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		queue:     queue,
		logger:    logger,
		listeners: make(map[uint64]registration),
	}
}

// Subscription removes a listener when closed.
type Subscription struct {
	once   sync.Once
	remove func()
}

// Unsubscribe stops delivery to the listener. It is safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.remove)
}

// Add registers l for events whose category matches category, wildcards
// included.
func (m *Manager) Add(category model.Category, l Listener) *Subscription {
	m.mu.Lock()
	key := m.next
	m.next++
	m.listeners[key] = registration{category: category, listener: l}
	m.mu.Unlock()

	return &Subscription{remove: func() {
		m.mu.Lock()
		delete(m.listeners, key)
		m.mu.Unlock()
	}}
}

// Len returns the number of registered listeners.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// Publish queues evt for every matching listener. Events without ids are
// dropped.
func (m *Manager) Publish(evt Event) {
	if len(evt.IDs) == 0 {
		return
	}

	m.mu.RLock()
	var targets []Listener
	for _, r := range m.listeners {
		if r.category.Matches(evt.Category) {
			targets = append(targets, r.listener)
		}
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	m.queue.Submit(func() {
		for _, l := range targets {
			m.deliver(l, evt)
		}
	})
}

func (m *Manager) deliver(l Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Change listener panicked", map[string]interface{}{
				"category": evt.Category.String(),
				"type":     string(evt.Type),
				"panic":    fmt.Sprintf("%v", r),
			})
		}
	}()
	l.ModelsChanged(evt)
}
