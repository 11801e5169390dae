package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int](0)
	assert.True(t, q.Empty())

	q.Push(1, 2)
	q.Push(3)
	assert.Equal(t, 3, q.Len())

	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Equal(t, []int{2, 3}, q.Drain())
	assert.True(t, q.Empty())

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueue_EvictsOldestWhenFull(t *testing.T) {
	q := New[int](3)

	assert.Equal(t, 0, q.Push(1, 2, 3))
	assert.Equal(t, 2, q.Push(4, 5))
	assert.Equal(t, []int{3, 4, 5}, q.Drain())
}

func TestQueue_Requeue(t *testing.T) {
	q := New[string](3)
	q.Push("c")

	assert.Equal(t, 0, q.Requeue([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b", "c"}, q.Drain())

	q.Push("new1", "new2")
	assert.Equal(t, 1, q.Requeue([]string{"old1", "old2"}))
	assert.Equal(t, []string{"old2", "new1", "new2"}, q.Drain())
}

func TestQueue_DrainEmpty(t *testing.T) {
	assert.Empty(t, New[int](5).Drain())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int](0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(j)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, q.Len())
}
