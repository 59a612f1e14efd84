package api

import (
	"testing"

	"github.com/mattjoyce/partforge/internal/dispatch"
)

func TestEventHubPublishSubscribe(t *testing.T) {
	hub := NewEventHub(8)

	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(dispatch.EventResponse, dispatch.Response{RequestID: "r1", Type: dispatch.TypeResult})

	ev := <-ch
	if ev.Type != dispatch.EventResponse {
		t.Errorf("event type = %q", ev.Type)
	}
	if ev.Call.RequestID != "r1" {
		t.Errorf("envelope = %+v", ev.Call)
	}
}

func TestEventHubRingReplay(t *testing.T) {
	hub := NewEventHub(4)

	for i := 0; i < 6; i++ {
		hub.Publish(dispatch.EventResponse, dispatch.Response{RequestID: "r", Type: dispatch.TypeResult})
	}

	// Ring holds the last 4 events (ids 3..6).
	all := hub.SnapshotSince(0)
	if len(all) != 4 {
		t.Fatalf("snapshot size = %d, want 4", len(all))
	}
	if all[0].ID != 3 || all[3].ID != 6 {
		t.Errorf("snapshot ids = %d..%d, want 3..6", all[0].ID, all[3].ID)
	}

	since := hub.SnapshotSince(4)
	if len(since) != 2 {
		t.Fatalf("snapshot since 4 size = %d, want 2", len(since))
	}
	if since[0].ID != 5 {
		t.Errorf("first replayed id = %d, want 5", since[0].ID)
	}
}

func TestEventHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewEventHub(8)

	// Subscribe but never read; channel buffer is 32.
	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Publish(dispatch.EventResponse, dispatch.Response{RequestID: "r"})
		}
	}()
	<-done
}

func TestEventHubCancelledSubscriber(t *testing.T) {
	hub := NewEventHub(8)

	ch, cancel := hub.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel not closed after cancel")
	}

	// Publishing after cancel must not panic.
	hub.Publish(dispatch.EventResponse, dispatch.Response{RequestID: "r"})
}
