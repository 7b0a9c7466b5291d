package events

import (
	"encoding/json"
	"testing"
)

func TestEmitRejectsUnknownEvents(t *testing.T) {
	log := NewLog(8)
	if _, err := log.Emit("info", "made.up", "", nil); err == nil {
		t.Fatal("expected an error for an unregistered event name")
	}
	if len(log.Snapshot()) != 0 {
		t.Error("rejected events must not be retained")
	}
}

func TestEmitReturnsMarshalledEvent(t *testing.T) {
	log := NewLog(8)
	b, err := log.Emit("info", "step.fired", "step one", map[string]interface{}{"step_id": "a"})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatalf("emit output is not valid JSON: %v", err)
	}
	if e.Name != "step.fired" || e.Message != "step one" {
		t.Errorf("unexpected event payload: %+v", e)
	}
	if e.Fields["step_id"] != "a" {
		t.Errorf("fields not carried through: %+v", e.Fields)
	}
}

func TestRingBufferEviction(t *testing.T) {
	log := NewLog(3)
	names := []string{"scenario.loaded", "scenario.started", "step.fired", "phase.changed"}
	for _, n := range names {
		if _, err := log.Emit("info", n, "", nil); err != nil {
			t.Fatalf("emit %s: %v", n, err)
		}
	}

	got := log.Snapshot()
	if len(got) != 3 {
		t.Fatalf("retained %d events, want 3", len(got))
	}
	if got[0].Name != "scenario.started" {
		t.Errorf("oldest retained = %s, want scenario.started", got[0].Name)
	}
	if got[2].Name != "phase.changed" {
		t.Errorf("newest retained = %s, want phase.changed", got[2].Name)
	}
}

func TestRecent(t *testing.T) {
	log := NewLog(8)
	for i := 0; i < 5; i++ {
		log.Emit("info", "step.fired", "", nil)
	}
	if got := len(log.Recent(2)); got != 2 {
		t.Errorf("Recent(2) returned %d events", got)
	}
	if got := len(log.Recent(0)); got != 5 {
		t.Errorf("Recent(0) returned %d events, want all 5", got)
	}
	if got := len(log.Recent(100)); got != 5 {
		t.Errorf("Recent(100) returned %d events, want all 5", got)
	}
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	log := NewLog(8)
	sub := log.Subscribe()
	defer log.Unsubscribe(sub)

	if log.SubscriberCount() != 1 {
		t.Fatalf("subscriber count = %d, want 1", log.SubscriberCount())
	}

	log.Emit("info", "monitor.alert", "low spo2", nil)
	select {
	case e := <-sub:
		if e.Name != "monitor.alert" {
			t.Errorf("received %s, want monitor.alert", e.Name)
		}
	default:
		t.Fatal("subscriber did not receive the event")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	log := NewLog(256)
	sub := log.Subscribe()
	defer log.Unsubscribe(sub)

	// Overfill the subscriber buffer; Emit must never block.
	for i := 0; i < 100; i++ {
		log.Emit("info", "step.fired", "", nil)
	}
	if len(sub) != 64 {
		t.Errorf("buffered %d events, want the channel capacity 64", len(sub))
	}
	if len(log.Snapshot()) != 100 {
		t.Error("the log itself must retain everything regardless of slow subscribers")
	}
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	log := NewLog(8)
	sub := log.Subscribe()
	log.Unsubscribe(sub)
	log.Unsubscribe(sub) // must not panic on double close
	if log.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", log.SubscriberCount())
	}
}

func TestCloseAllSubscribers(t *testing.T) {
	log := NewLog(8)
	a := log.Subscribe()
	b := log.Subscribe()
	log.CloseAllSubscribers()

	if log.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d, want 0", log.SubscriberCount())
	}
	if _, open := <-a; open {
		t.Error("subscriber a should be closed")
	}
	if _, open := <-b; open {
		t.Error("subscriber b should be closed")
	}
}

func TestClear(t *testing.T) {
	log := NewLog(8)
	log.Emit("info", "step.fired", "", nil)
	log.Clear()
	if len(log.Snapshot()) != 0 {
		t.Error("clear should drop all retained events")
	}
}
