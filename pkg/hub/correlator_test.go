package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/signalr.go/pkg/wire"
)

func TestTable(t *testing.T) {
	table := NewTable()

	var got []wire.CorrelationID
	first := table.Register(func(res *wire.HubResult) { got = append(got, res.ID) })
	second := table.Register(func(*wire.HubResult) {})

	assert.Equal(t, wire.CorrelationID("0"), first)
	assert.Equal(t, wire.CorrelationID("1"), second)
	assert.Equal(t, 2, table.Pending())

	cb, ok := table.Resolve(first)
	require.True(t, ok)
	cb(&wire.HubResult{ID: first})
	assert.Equal(t, []wire.CorrelationID{"0"}, got)

	_, ok = table.Resolve(first)
	assert.False(t, ok, "a result is delivered at most once")

	table.Remove(second)
	assert.Zero(t, table.Pending())

	assert.Equal(t, wire.CorrelationID("2"), table.Register(func(*wire.HubResult) {}), "ids are never reused")
}

func TestTableConcurrentRegister(t *testing.T) {
	table := NewTable()

	var wg sync.WaitGroup
	ids := make(chan wire.CorrelationID, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- table.Register(func(*wire.HubResult) {})
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[wire.CorrelationID]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 100, table.Pending())
}
