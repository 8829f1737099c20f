// Package app provides application-wide events, the folder watcher and the theme.
package app

import "sync"

// EventType identifies different application events.
type EventType int

const (
	EventItemAdded EventType = iota
	EventNavigated
	EventDerivedSet
	EventCleared
	EventCommandFailed
	EventExported
	EventSettingsChanged
)

func (e EventType) String() string {
	switch e {
	case EventItemAdded:
		return "item-added"
	case EventNavigated:
		return "navigated"
	case EventDerivedSet:
		return "derived-set"
	case EventCleared:
		return "cleared"
	case EventCommandFailed:
		return "command-failed"
	case EventExported:
		return "exported"
	case EventSettingsChanged:
		return "settings-changed"
	default:
		return "unknown"
	}
}

// PageEvent is the payload of page events.
type PageEvent struct {
	Page    string
	Pointer int // -1 when the list is empty
	Len     int
	Ref     string
}

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// Bus delivers events to registered listeners. Listeners run synchronously
// on the emitting goroutine.
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[EventType][]EventListener)}
}

// On registers an event listener for the specified event type.
func (b *Bus) On(event EventType, listener EventListener) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type. A nil bus is a
// no-op so components can be built without one.
func (b *Bus) Emit(event EventType, data interface{}) {
	if b == nil {
		return
	}
	b.mu.RLock()
	listeners := b.listeners[event]
	b.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}
