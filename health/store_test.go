package health

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutOverwrites(t *testing.T) {
	store := NewStore()

	store.Put(CheckResult{Target: "svc-a", Status: StatusHealthy, ResponseTimeMs: 12})
	store.Put(CheckResult{Target: "svc-a", Status: StatusUnhealthy, StatusCode: 500})

	assert.Equal(t, 1, store.Count())
	got, ok := store.Get("svc-a")
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, got.Status)
	assert.Equal(t, 500, got.StatusCode)
	assert.False(t, got.ObservedAt.IsZero(), "Put should stamp results without a timestamp")
}

func TestStore_AllSortedAndCopied(t *testing.T) {
	store := NewStore()
	for _, name := range []string{"c", "a", "b"} {
		store.Put(CheckResult{Target: name, Status: StatusHealthy})
	}

	all := store.All()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Target)
	assert.Equal(t, "b", all[1].Target)
	assert.Equal(t, "c", all[2].Target)

	all[0].Status = StatusError
	got, _ := store.Get("a")
	assert.Equal(t, StatusHealthy, got.Status)
}

func TestStore_RemoveAndClear(t *testing.T) {
	store := NewStore()
	store.Put(CheckResult{Target: "a"})
	store.Put(CheckResult{Target: "b"})

	store.Remove("a")
	_, ok := store.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, store.Count())

	store.Clear()
	assert.Equal(t, 0, store.Count())
}

func TestStore_Summary(t *testing.T) {
	store := NewStore()
	assert.True(t, store.Summary("targets").IsHealthy())

	store.Put(CheckResult{Target: "a", Status: StatusHealthy})
	assert.True(t, store.Summary("targets").IsHealthy())

	store.Put(CheckResult{Target: "b", Status: StatusError})
	summary := store.Summary("targets")
	assert.True(t, summary.IsDegraded())
	assert.Len(t, summary.SubStatuses, 2)

	store.Put(CheckResult{Target: "a", Status: StatusUnhealthy})
	assert.True(t, store.Summary("targets").IsUnhealthy())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := fmt.Sprintf("t-%d", i%5)
			store.Put(CheckResult{Target: target, Status: StatusHealthy})
			store.Get(target)
			store.All()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, store.Count())
}
