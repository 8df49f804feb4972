package events

import (
	"sync"
	"testing"
)

func TestEmitterDeliversToAllSubscribers(t *testing.T) {
	e := NewEmitter[int]()

	var mu sync.Mutex
	got := map[string]int{}
	e.Subscribe(func(v int) {
		mu.Lock()
		got["a"] += v
		mu.Unlock()
	})
	e.Subscribe(func(v int) {
		mu.Lock()
		got["b"] += v
		mu.Unlock()
	})

	e.Emit(3)
	e.Emit(4)

	if got["a"] != 7 || got["b"] != 7 {
		t.Fatalf("got %v, want both subscribers to see 7", got)
	}
}

func TestEmitterUnsubscribe(t *testing.T) {
	e := NewEmitter[string]()

	calls := 0
	unsubscribe := e.Subscribe(func(string) { calls++ })
	e.Emit("first")
	unsubscribe()
	unsubscribe()
	e.Emit("second")

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if e.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", e.Len())
	}
}

func TestEmitterZeroValueUsable(t *testing.T) {
	var e Emitter[int]
	seen := 0
	e.Subscribe(func(v int) { seen = v })
	e.Emit(9)
	if seen != 9 {
		t.Fatalf("seen = %d, want 9", seen)
	}
}

func TestEmitterSubscribeDuringEmit(t *testing.T) {
	e := NewEmitter[int]()
	late := 0
	e.Subscribe(func(int) {
		e.Subscribe(func(v int) { late += v })
	})

	e.Emit(1)
	if late != 0 {
		t.Fatalf("subscriber added during Emit was invoked for the same value")
	}
}
