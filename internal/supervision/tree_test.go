package supervision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStartRunsStagesInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	tree := NewTree(
		Stage{Name: "pubsub", Components: []Component{{Name: "bus", Start: record("bus")}}},
		Stage{Name: "registry", Components: []Component{{Name: "catalog", Start: record("catalog")}}},
		Stage{Name: "room", Components: []Component{{Name: "crdt", Start: record("crdt")}}},
	)

	if err := tree.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []string{"bus", "catalog", "crdt"}
	if len(order) != len(want) {
		t.Fatalf("want %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("want stages to start in order %v, got %v", want, order)
		}
	}
}

func TestStartRunsComponentsWithinAStageConcurrently(t *testing.T) {
	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	released := make(chan struct{})

	components := make([]Component, n)
	for i := 0; i < n; i++ {
		components[i] = Component{
			Name: "peer",
			Start: func(context.Context) error {
				wg.Done()
				<-released // every peer must be running before any returns
				return nil
			},
		}
	}

	tree := NewTree(Stage{Name: "attention", Components: components})

	done := make(chan error, 1)
	go func() { done <- tree.Start(context.Background()) }()

	waitAll := make(chan struct{})
	go func() { wg.Wait(); close(waitAll) }()

	select {
	case <-waitAll:
	case <-time.After(time.Second):
		t.Fatal("want all peers in a stage to start concurrently, but not all reached Start")
	}
	close(released)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start never returned after peers completed")
	}
}

func TestStartAbortsLaterStagesOnFailure(t *testing.T) {
	var laterStarted bool
	failErr := errors.New("boom")

	tree := NewTree(
		Stage{Name: "pubsub", Components: []Component{{
			Name:  "bus",
			Start: func(context.Context) error { return failErr },
		}}},
		Stage{Name: "registry", Components: []Component{{
			Name:  "catalog",
			Start: func(context.Context) error { laterStarted = true; return nil },
		}}},
	)

	err := tree.Start(context.Background())
	if !errors.Is(err, failErr) {
		t.Fatalf("want the failing stage's error to propagate, got %v", err)
	}
	if laterStarted {
		t.Fatal("want a failed stage to prevent later stages from starting")
	}
}

func TestStopRunsStagesInReverseOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	noop := func(context.Context) error { return nil }

	tree := NewTree(
		Stage{Name: "pubsub", Components: []Component{{Name: "bus", Start: noop, Stop: record("bus")}}},
		Stage{Name: "room", Components: []Component{{Name: "crdt", Start: noop, Stop: record("crdt")}}},
	)

	if err := tree.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tree.Stop(context.Background())

	want := []string{"crdt", "bus"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("want reverse-order stop %v, got %v", want, order)
	}
}

func TestStopSkipsComponentsWithNilStop(t *testing.T) {
	noop := func(context.Context) error { return nil }
	tree := NewTree(Stage{Name: "pubsub", Components: []Component{{Name: "bus", Start: noop, Stop: nil}}})

	if err := tree.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// must not panic on a nil Stop.
	tree.Stop(context.Background())
}
