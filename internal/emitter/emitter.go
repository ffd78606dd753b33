// Package emitter 提供一个按事件名分组、按注册顺序调用的监听器表
package emitter

import "sync"

// Handle identifies one registered listener.
type Handle uint64

type listener[T any] struct {
	handle Handle
	fn     func(T)
	once   bool
}

// Emitter maps an event name to an ordered list of listeners. The zero value
// is ready to use. Listeners run on the goroutine that calls Emit; no lock is
// held while they run, so a listener may register or remove listeners.
type Emitter[T any] struct {
	mu        sync.Mutex
	next      Handle
	listeners map[string][]listener[T]
}

// On appends fn to the listeners of event.
func (e *Emitter[T]) On(event string, fn func(T)) Handle {
	return e.add(event, fn, false)
}

// Once appends fn and removes it after its first call.
func (e *Emitter[T]) Once(event string, fn func(T)) Handle {
	return e.add(event, fn, true)
}

func (e *Emitter[T]) add(event string, fn func(T), once bool) Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[string][]listener[T])
	}
	e.next++
	e.listeners[event] = append(e.listeners[event], listener[T]{handle: e.next, fn: fn, once: once})
	return e.next
}

// Off removes the listener registered under h. It reports whether a listener
// was removed.
func (e *Emitter[T]) Off(h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for event, list := range e.listeners {
		for i, l := range list {
			if l.handle != h {
				continue
			}
			e.listeners[event] = append(list[:i:i], list[i+1:]...)
			if len(e.listeners[event]) == 0 {
				delete(e.listeners, event)
			}
			return true
		}
	}
	return false
}

// RemoveAll drops every listener of event.
func (e *Emitter[T]) RemoveAll(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, event)
}

// Count returns the number of listeners registered for event.
func (e *Emitter[T]) Count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// Emit calls the listeners of event in registration order. Listeners added
// during Emit are not called for this emission; listeners removed during Emit
// before their turn are skipped.
func (e *Emitter[T]) Emit(event string, value T) {
	e.mu.Lock()
	snapshot := make([]listener[T], len(e.listeners[event]))
	copy(snapshot, e.listeners[event])
	e.mu.Unlock()

	for _, l := range snapshot {
		if !e.claim(event, l) {
			continue
		}
		l.fn(value)
	}
}

// claim checks that l is still registered and removes it when it is a
// one-shot listener.
func (e *Emitter[T]) claim(event string, l listener[T]) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.listeners[event]
	for i, cur := range list {
		if cur.handle != l.handle {
			continue
		}
		if l.once {
			e.listeners[event] = append(list[:i:i], list[i+1:]...)
			if len(e.listeners[event]) == 0 {
				delete(e.listeners, event)
			}
		}
		return true
	}
	return false
}
