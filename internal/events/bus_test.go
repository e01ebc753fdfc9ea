package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"keyflow/internal/executor"
	"keyflow/internal/model"
	"keyflow/internal/testutil"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func startBus(t *testing.T) *Bus {
	t.Helper()
	bus := NewBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return bus
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := startBus(t)
	var c collector
	bus.Subscribe(c.add)

	for i := range 5 {
		bus.Publish(ChordEvent{Matched: string(rune('a' + i))})
	}
	testutil.RequireEventually(t, 2*time.Second, "5 events", func() bool { return c.len() == 5 })

	for i, ev := range c.snapshot() {
		if got := ev.(ChordEvent).Matched; got != string(rune('a'+i)) {
			t.Fatalf("event %d = %q, out of order", i, got)
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := startBus(t)
	var kept, removed collector
	bus.Subscribe(kept.add)
	unsubscribe := bus.Subscribe(removed.add)
	unsubscribe()
	unsubscribe()

	bus.Publish(ConfigEvent{Path: "x"})
	testutil.RequireEventually(t, 2*time.Second, "delivery", func() bool { return kept.len() == 1 })
	if removed.len() != 0 {
		t.Fatalf("unsubscribed observer received %d events", removed.len())
	}
}

func TestBusSurvivesPanickingSubscriber(t *testing.T) {
	bus := startBus(t)
	var c collector
	bus.Subscribe(func(Event) { panic("subscriber bug") })
	bus.Subscribe(c.add)

	bus.Publish(LogEvent{Message: "one"})
	bus.Publish(LogEvent{Message: "two"})
	testutil.RequireEventually(t, 2*time.Second, "both events", func() bool { return c.len() == 2 })
}

func TestBusTypedObserver(t *testing.T) {
	bus := startBus(t)
	var mu sync.Mutex
	var regs []RegistrationEvent
	bus.Subscribe(Observer(func(ev RegistrationEvent) {
		mu.Lock()
		regs = append(regs, ev)
		mu.Unlock()
	}))

	bus.Publish(ChordEvent{})
	bus.Publish(Registration(model.MustParseShortcut("Cmd+K"), errors.New("taken")))
	testutil.RequireEventually(t, 2*time.Second, "registration event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(regs) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if regs[0].OK || regs[0].Shortcut != "Cmd+K" || regs[0].Error != "taken" {
		t.Fatalf("registration event = %+v", regs[0])
	}
}

func TestBusClosedDropsPublishes(t *testing.T) {
	bus := NewBus(1)
	bus.Close()
	bus.Close()
	bus.Publish(LogEvent{})
	if bus.TryPublish(LogEvent{}) {
		t.Fatal("TryPublish() on closed bus should fail")
	}
}

func TestTryPublishFullBuffer(t *testing.T) {
	bus := NewBus(1)
	if !bus.TryPublish(LogEvent{Message: "first"}) {
		t.Fatal("first TryPublish() should succeed")
	}
	if bus.TryPublish(LogEvent{Message: "second"}) {
		t.Fatal("TryPublish() on full buffer should fail")
	}
}

func TestCompletionFromReport(t *testing.T) {
	a := model.ScriptCommand{Meta: model.Meta{ID: "a", Name: "first", Enabled: true, Notify: true}}
	b := model.OpenCommand{Meta: model.Meta{ID: "b", Enabled: true}}
	cmdErr := &executor.CommandError{Command: b, Err: errors.New("not found")}
	ev := Completion(executor.Report{
		RunID:       "run-1",
		WorkflowIDs: []string{"w1"},
		Finished:    []model.Command{a, b},
		Err:         cmdErr,
		Failed:      b,
	})

	if ev.Type() != TypeCompletion || ev.Succeeded() {
		t.Fatalf("event = %+v", ev)
	}
	if len(ev.Finished) != 2 || ev.Finished[0].Name != "first" || ev.Finished[1].Name != "open:b" {
		t.Fatalf("Finished = %+v", ev.Finished)
	}
	if ev.Failed == nil || ev.Failed.ID != "b" || !ev.Notify {
		t.Fatalf("Failed=%+v Notify=%v", ev.Failed, ev.Notify)
	}
}
