package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOutTypedSignals(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(OrderCancelled{OrderID: "wo_1", Kind: "tilling", Reason: "rain"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			sig, ok := e.Signal.(OrderCancelled)
			if !ok {
				t.Fatalf("signal type = %T, want OrderCancelled", e.Signal)
			}
			if sig.Reason != "rain" || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(DayPassed{Day: 1})
	b.Publish(DayPassed{Day: 2})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("Subscribers() = %d", b.Subscribers())
	}
	b.Publish(DayPassed{Day: 3})
}

func TestSignalNames(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sig  Signal
		want string
	}{
		{OrderCreated{}, "work_order_created"},
		{OrderAssigned{}, "work_order_assigned"},
		{OrderMultiAssigned{}, "work_order_multi_assigned"},
		{OrderCompleted{}, "work_order_completed"},
		{OrderCancelled{}, "work_order_cancelled"},
		{WorkerTaskFinished{}, "worker_task_finished"},
	}
	for _, tt := range tests {
		if got := tt.sig.Name(); got != tt.want {
			t.Fatalf("%T.Name() = %q, want %q", tt.sig, got, tt.want)
		}
	}
}
