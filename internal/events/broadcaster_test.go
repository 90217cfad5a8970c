package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/workflowshelf/workflowshelf/pkg/models"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.Count())
	}
	if _, ok := <-ch1; ok {
		t.Error("expected unsubscribed channel to be closed")
	}
	b.Unsubscribe(ch2)
}

func TestFanOut(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	b.CatalogChanged(models.SourceLocal, "portraits/a.json")

	for i, ch := range []chan protocol.CatalogEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != protocol.EventCatalogChanged || ev.Source != models.SourceLocal {
				t.Errorf("subscriber %d: unexpected event %+v", i, ev)
			}
			if ev.Timestamp == 0 {
				t.Errorf("subscriber %d: expected timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestSlowConsumerDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < subscriberBuffer+10; i++ {
		b.CachePurged()
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("expected %d buffered events, got %d", subscriberBuffer, len(ch))
	}
}

func TestMarshal(t *testing.T) {
	data, err := Marshal(protocol.CatalogEvent{Type: protocol.EventCachePurged, Source: models.SourceCloud, Timestamp: 42})
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["source"] != "cloud" || decoded["type"] != "cache_purged" {
		t.Errorf("unexpected encoding: %s", data)
	}
}
