// Package xsync implements the extra synchronization tools used by lazygraph:
// latches for async execution handles, a resizable semaphore bounding the
// concurrent copy workers, and a typed wrapper around sync.Map.
package xsync

import "sync"

// Latch implements a one-shot signal that can be waited on.
// Once triggered it never changes state.
type Latch struct {
	muTrigger sync.Mutex
	wait      chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{wait: make(chan struct{})}
}

// Trigger the latch. Triggering an already triggered latch is a no-op.
func (l *Latch) Trigger() {
	l.muTrigger.Lock()
	defer l.muTrigger.Unlock()
	if l.Test() {
		return
	}
	close(l.wait)
}

// Wait blocks until the latch is triggered.
func (l *Latch) Wait() {
	<-l.wait
}

// Test checks whether the latch has been triggered, without blocking.
func (l *Latch) Test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}

// WaitChan returns a channel that is closed when the latch triggers,
// usable in a select.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.wait
}

// LatchWithValue is a Latch carrying a value set at trigger time.
// Only the first Trigger stores its value.
type LatchWithValue[T any] struct {
	value T
	latch *Latch
}

// NewLatchWithValue returns an un-triggered latch.
func NewLatchWithValue[T any]() *LatchWithValue[T] {
	return &LatchWithValue[T]{latch: NewLatch()}
}

// Trigger the latch and save the associated value.
func (l *LatchWithValue[T]) Trigger(value T) {
	l.latch.muTrigger.Lock()
	defer l.latch.muTrigger.Unlock()
	if l.latch.Test() {
		return
	}
	l.value = value
	close(l.latch.wait)
}

// Wait blocks until the latch is triggered and returns the stored value.
func (l *LatchWithValue[T]) Wait() T {
	l.latch.Wait()
	return l.value
}

// Test checks whether the latch has been triggered, without blocking.
func (l *LatchWithValue[T]) Test() bool {
	return l.latch.Test()
}

// WaitChan returns a channel that is closed when the latch triggers.
func (l *LatchWithValue[T]) WaitChan() <-chan struct{} {
	return l.latch.WaitChan()
}

// Semaphore bounds concurrent acquisitions. It is built on a sync.Cond so
// the capacity can be resized dynamically; this is slower than a channel
// semaphore but fine for coarse resource control.
type Semaphore struct {
	cond              sync.Cond
	capacity, current int
}

// NewSemaphore returns a Semaphore that allows at most capacity simultaneous
// acquisitions. If capacity <= 0 there is no limit.
func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{
		cond:     sync.Cond{L: &sync.Mutex{}},
		capacity: capacity,
	}
}

// Acquire a unit of the semaphore. It must be matched by exactly one
// Release call.
func (s *Semaphore) Acquire() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	for {
		if s.capacity <= 0 || s.current < s.capacity {
			s.current++
			return
		}
		s.cond.Wait()
	}
}

// Release a unit previously acquired with Acquire.
func (s *Semaphore) Release() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.current--
	s.cond.Signal()
}

// Resize the semaphore capacity. Growing the capacity may immediately
// release pending Acquire calls; shrinking has no effect on units already
// acquired.
func (s *Semaphore) Resize(newCapacity int) {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	if newCapacity == s.capacity {
		return
	}
	s.capacity = newCapacity
	s.cond.Broadcast()
}

// SyncMap is a trivial wrapper around sync.Map that casts keys and values to
// the given types.
//
// As with sync.Map, it is ready to use when declared, but must not be copied
// after first use.
type SyncMap[K comparable, V any] struct {
	Map sync.Map
}

// Load returns the value stored in the map for a key.
// ok indicates whether the value was found.
func (m *SyncMap[K, V]) Load(key K) (value V, ok bool) {
	v, ok := m.Map.Load(key)
	if !ok {
		return value, false
	}
	return v.(V), true
}

// Store sets the value for a key.
func (m *SyncMap[K, V]) Store(key K, value V) {
	m.Map.Store(key, value)
}

// LoadOrStore returns the existing value for the key if present, otherwise
// it stores and returns the given value. loaded is true if the value was
// already present.
func (m *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := m.Map.LoadOrStore(key, value)
	return v.(V), loaded
}

// Delete removes the value for a key.
func (m *SyncMap[K, V]) Delete(key K) {
	m.Map.Delete(key)
}

// Range calls f sequentially for each key/value pair. If f returns false the
// iteration stops.
func (m *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.Map.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}
