package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircularBuffer_KeepsInsertionOrder(t *testing.T) {
	buf := NewCircularBuffer[int](5)

	for i := 1; i <= 3; i++ {
		buf.Write(i)
	}

	assert.Equal(t, []int{1, 2, 3}, buf.Items())
	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, 5, buf.Capacity())
	assert.Zero(t, buf.Dropped())
}

func TestCircularBuffer_DropOldest(t *testing.T) {
	var dropped []int
	buf := NewCircularBuffer[int](3, WithDropCallback[int](func(item int) {
		dropped = append(dropped, item)
	}))

	for i := 1; i <= 5; i++ {
		buf.Write(i)
	}

	assert.Equal(t, []int{3, 4, 5}, buf.Items())
	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, int64(2), buf.Dropped())
}

func TestCircularBuffer_DropNewest(t *testing.T) {
	buf := NewCircularBuffer[string](2, WithOverflowPolicy[string](DropNewest))

	buf.Write("a")
	buf.Write("b")
	buf.Write("c")

	assert.Equal(t, []string{"a", "b"}, buf.Items())
	assert.Equal(t, int64(1), buf.Dropped())
}

func TestCircularBuffer_Last(t *testing.T) {
	buf := NewCircularBuffer[int](4)
	for i := 1; i <= 6; i++ {
		buf.Write(i)
	}

	assert.Equal(t, []int{5, 6}, buf.Last(2))
	assert.Equal(t, []int{3, 4, 5, 6}, buf.Last(10))
	assert.Empty(t, buf.Last(0))
}

func TestCircularBuffer_BoundNeverExceeded(t *testing.T) {
	const capacity = 100
	buf := NewCircularBuffer[int](capacity)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				buf.Write(i)
				assert.LessOrEqual(t, buf.Size(), capacity)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, buf.Size())
	assert.Len(t, buf.Items(), capacity)
	assert.Equal(t, int64(8*1000-capacity), buf.Dropped())
}

func TestCircularBuffer_Clear(t *testing.T) {
	buf := NewCircularBuffer[int](0)
	assert.Equal(t, 1, buf.Capacity(), "capacity is raised to 1")

	buf.Write(1)
	buf.Write(2)
	buf.Clear()

	assert.Zero(t, buf.Size())
	assert.Empty(t, buf.Items())

	buf.Write(3)
	assert.Equal(t, []int{3}, buf.Items())
}

func TestOverflowPolicy_String(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Unknown", OverflowPolicy(42).String())
}
