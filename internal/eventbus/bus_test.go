package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeFiltersByTopic(t *testing.T) {
	b := New()
	conn, unsubConn := b.Subscribe(4, TopicConnection)
	defer unsubConn()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Topic: TopicView, Data: "graphs"})
	b.Publish(Event{Topic: TopicConnection, Data: "open"})

	select {
	case e := <-conn:
		if e.Topic != TopicConnection || e.Data != "open" {
			t.Fatalf("unexpected event %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatalf("publish should stamp time")
		}
	case <-time.After(time.Second):
		t.Fatalf("no connection event")
	}
	select {
	case e := <-conn:
		t.Fatalf("filtered subscriber got %+v", e)
	default:
	}
	if len(all) != 2 {
		t.Fatalf("wildcard subscriber got %d events, want 2", len(all))
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Topic: TopicTask})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(Event{Topic: TopicView})
}
