package hub

import (
	"sync"

	"github.com/surrealdb/signalr.go/pkg/wire"
)

// Callback receives the result of one invocation.
type Callback func(*wire.HubResult)

// Correlator hands out invocation ids and routes results back to callers.
// Implementations must be safe for concurrent use.
type Correlator interface {
	// Register stores cb under a fresh id and returns the id.
	Register(cb Callback) wire.CorrelationID
	// Resolve removes and returns the callback for id.
	Resolve(id wire.CorrelationID) (Callback, bool)
	// Remove forgets id without calling its callback.
	Remove(id wire.CorrelationID)
	// Pending returns the number of registered callbacks.
	Pending() int
}

// Table is the default Correlator: a monotonic counter starting at 0 and a
// map of pending callbacks.
type Table struct {
	mu        sync.Mutex
	next      uint64
	callbacks map[wire.CorrelationID]Callback
}

var _ Correlator = (*Table)(nil)

func NewTable() *Table {
	return &Table{callbacks: make(map[wire.CorrelationID]Callback)}
}

func (t *Table) Register(cb Callback) wire.CorrelationID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := wire.NewCorrelationID(t.next)
	t.next++
	t.callbacks[id] = cb
	return id
}

func (t *Table) Resolve(id wire.CorrelationID) (Callback, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.callbacks[id]
	if ok {
		delete(t.callbacks, id)
	}
	return cb, ok
}

func (t *Table) Remove(id wire.CorrelationID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.callbacks, id)
}

func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.callbacks)
}

var defaultCorrelator = NewTable()

// DefaultCorrelator is shared by every hub connection that does not set its own.
func DefaultCorrelator() Correlator {
	return defaultCorrelator
}
