package event_test

import (
	"sync"
	"testing"

	"github.com/voxlate/voxlate/internal/event"
)

func TestStream_PublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	var s event.Stream[int]
	var got1, got2 []int
	s.Subscribe(func(v int) { got1 = append(got1, v) })
	s.Subscribe(func(v int) { got2 = append(got2, v) })

	s.Publish(1)
	s.Publish(2)

	for _, got := range [][]int{got1, got2} {
		if len(got) != 2 || got[0] != 1 || got[1] != 2 {
			t.Errorf("subscriber received %v, want [1 2]", got)
		}
	}
}

func TestStream_Unsubscribe(t *testing.T) {
	t.Parallel()

	var s event.Stream[string]
	var got []string
	unsub := s.Subscribe(func(v string) { got = append(got, v) })

	s.Publish("a")
	unsub()
	unsub() // idempotent
	s.Publish("b")

	if len(got) != 1 || got[0] != "a" {
		t.Errorf("got %v, want [a]", got)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestStream_ConcurrentPublish(t *testing.T) {
	t.Parallel()

	var s event.Stream[int]
	var mu sync.Mutex
	count := 0
	s.Subscribe(func(int) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				s.Publish(1)
			}
		})
	}
	wg.Wait()

	if count != 800 {
		t.Errorf("count = %d, want 800", count)
	}
}
