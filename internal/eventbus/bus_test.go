package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeEventRecorded})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeEventRecorded || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"}) // dropped, must not block
	unsub()
	unsub()

	got := 0
	for range ch {
		got++
	}
	if got != 1 {
		t.Fatalf("received %d events, want 1", got)
	}
	if d := b.Dropped(); d != 1 {
		t.Fatalf("Dropped() = %d, want 1", d)
	}
}
