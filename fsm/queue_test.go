package fsm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFifo(t *testing.T) {
	q := NewQueue[*Event]()
	q.Enqueue(NewSimpleEvent("a"))
	q.Enqueue(NewSimpleEvent("b"))
	assert.Equal(t, "a", q.Dequeue().Name)
	assert.Equal(t, "b", q.Dequeue().Name)
	assert.True(t, q.IsEmpty())
}

func TestBlockingQueueBlocksUntilEnqueue(t *testing.T) {
	q := NewBlockingQueue()
	done := make(chan string, 1)
	go func() {
		ev, ok := q.Dequeue()
		require.True(t, ok)
		done <- ev.Name
	}()
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(NewSimpleEvent("late"))
	select {
	case name := <-done:
		assert.Equal(t, "late", name)
	case <-time.After(time.Second):
		t.Fatal("consumer did not wake up")
	}
}

func TestBlockingQueueCloseWakesConsumer(t *testing.T) {
	q := NewBlockingQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer did not wake up on close")
	}
}

func TestBlockingQueueArrivalOrderWithManyProducers(t *testing.T) {
	q := NewBlockingQueue()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Enqueue(NewSimpleEvent("e"))
			}
		}()
	}
	wg.Wait()
	for i := 0; i < 400; i++ {
		_, ok := q.Dequeue()
		require.True(t, ok)
	}
}

func TestOrderedSetSemantics(t *testing.T) {
	s := NewOrderedSet[StateId]()
	s.Add(3)
	s.Add(1)
	s.Add(3)
	assert.Equal(t, []StateId{3, 1}, s.ToList())

	o := NewOrderedSet[StateId]()
	o.Add(1)
	o.Add(2)
	s.Union(o)
	assert.Equal(t, []StateId{3, 1, 2}, s.ToList())

	assert.True(t, s.HasIntersection(o))
	s.Delete(1)
	assert.Equal(t, []StateId{3, 2}, s.ToList())
}
