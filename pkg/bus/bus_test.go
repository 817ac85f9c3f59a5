package bus

import (
	"sync"
	"testing"
)

func TestEmitInvokesSubscribersInOrder(t *testing.T) {
	b := New(nil)
	var got []string
	var mu sync.Mutex

	b.Subscribe(OrderMatched, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "first:"+ev.MatchID)
	})
	b.Subscribe(OrderMatched, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "second:"+ev.MatchID)
	})

	b.Emit(Event{Tag: OrderMatched, MatchID: "m1"})

	if len(got) != 2 || got[0] != "first:m1" || got[1] != "second:m1" {
		t.Fatalf("unexpected dispatch order: %v", got)
	}
}

func TestEmitOnlyCallsMatchingTag(t *testing.T) {
	b := New(nil)
	called := false
	b.Subscribe(ProofFailed, func(ev Event) { called = true })

	b.Emit(Event{Tag: OrderMatched, MatchID: "m1"})

	if called {
		t.Error("handler for ProofFailed should not run on OrderMatched emit")
	}
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	b := New(nil)
	calls := 0
	h := func(ev Event) { calls++ }

	b.Subscribe(SettlementQueued, h)
	b.Emit(Event{Tag: SettlementQueued})
	b.Unsubscribe(SettlementQueued, h)
	b.Emit(Event{Tag: SettlementQueued})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestConcurrentEmitDoesNotRace(t *testing.T) {
	b := New(nil)
	var counter int
	var mu sync.Mutex
	b.Subscribe(OrderSubmitted, func(ev Event) {
		mu.Lock()
		counter++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.Emit(Event{Tag: OrderSubmitted, MatchID: "m"})
		}(i)
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}
