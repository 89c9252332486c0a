package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeScopedByWorkflowID(t *testing.T) {
	b := New(10)
	sub := b.Subscribe(Filter{WorkflowID: "wf1"})
	defer sub.Unsubscribe()

	b.Publish(Event{Type: NodeStarted, WorkflowID: "wf2"})
	b.Publish(Event{Type: NodeStarted, WorkflowID: "wf1"})

	select {
	case e := <-sub.Events:
		assert.Equal(t, "wf1", e.WorkflowID)
	case <-time.After(time.Second):
		t.Fatal("expected one matching event")
	}

	select {
	case e := <-sub.Events:
		t.Fatalf("unexpected second event %+v", e)
	default:
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New(10)
	b.queueDepth = 2
	sub := b.Subscribe(Filter{})
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: MetricsUpdate})
	}
	assert.Greater(t, sub.Dropped(), uint64(0))
}

func TestHistoryIsBounded(t *testing.T) {
	b := New(3)
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: Detection})
	}
	assert.Len(t, b.History(Filter{}), 3)
}
