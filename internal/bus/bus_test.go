package bus

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ajankowski/colloquy/internal/protocol"
	"github.com/ajankowski/colloquy/internal/session"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe(protocol.PanelOperator)
	defer sub.Close()

	b.Publish(Event{ID: "e1", Panel: protocol.PanelOperator, Type: TypeBlock, Role: session.RolePrimary, Body: "hello"})
	event := <-sub.Events
	if event.Body != "hello" || event.Panel != protocol.PanelOperator {
		t.Fatalf("event = %+v", event)
	}
}

func TestPanelsAreIsolated(t *testing.T) {
	b := New()
	operator := b.Subscribe(protocol.PanelOperator)
	executor := b.Subscribe(protocol.PanelExecutor)
	defer operator.Close()
	defer executor.Close()

	b.Publish(Event{ID: "e1", Panel: protocol.PanelExecutor, Type: TypeBlock, Body: "tool chatter"})
	event := <-executor.Events
	if event.Body != "tool chatter" {
		t.Fatalf("executor event = %+v", event)
	}
	select {
	case unexpected := <-operator.Events:
		t.Fatalf("operator received %+v", unexpected)
	default:
	}
}

func TestBacklogReplayedOnSubscribe(t *testing.T) {
	b := New()
	b.Publish(Event{ID: "e1", Panel: protocol.PanelSupervisor, Type: TypeBlock, Body: "before anyone listened"})
	sub := b.Subscribe(protocol.PanelSupervisor)
	defer sub.Close()
	event := <-sub.Events
	if event.Body != "before anyone listened" {
		t.Fatalf("event = %+v", event)
	}
}

func TestDuplicateIDsSuppressed(t *testing.T) {
	b := New()
	sub := b.Subscribe(protocol.PanelOperator)
	defer sub.Close()
	b.Publish(Event{ID: "same", Panel: protocol.PanelOperator, Type: TypeBlock, Body: "once"})
	b.Publish(Event{ID: "same", Panel: protocol.PanelOperator, Type: TypeBlock, Body: "twice"})
	<-sub.Events
	select {
	case dup := <-sub.Events:
		t.Fatalf("duplicate delivered: %+v", dup)
	default:
	}
}

func TestOverflowPrefersStatusEvents(t *testing.T) {
	b := New(WithSubscriberCapacity(2))
	sub := b.Subscribe(protocol.PanelOperator)
	defer sub.Close()

	b.Publish(Event{ID: "s1", Panel: protocol.PanelOperator, Type: TypeStatus, Body: "state change"})
	for i := 0; i < 5; i++ {
		b.Publish(Event{ID: fmt.Sprintf("b%d", i), Panel: protocol.PanelOperator, Type: TypeBlock, Body: "chatter"})
	}
	// The status event survives the overflow.
	found := false
	for i := 0; i < 2; i++ {
		if event := <-sub.Events; event.Type == TypeStatus {
			found = true
		}
	}
	if !found {
		t.Fatalf("status event was dropped under overflow")
	}
}

func TestCloseDuringPublishDoesNotPanic(t *testing.T) {
	b := New(WithSubscriberCapacity(1))
	sub := b.Subscribe(protocol.PanelOperator)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			b.Publish(Event{ID: fmt.Sprintf("c%d", i), Panel: protocol.PanelOperator, Type: TypeBlock, Body: "racing"})
		}
	}()
	sub.Close()
	wg.Wait()

	// Publishing to a closed subscription is a quiet no-op.
	b.Publish(Event{ID: "after", Panel: protocol.PanelOperator, Type: TypeBlock, Body: "late"})
}
