package terminal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-errors/errors"

	"github.com/abdullathedruid/tabmux/internal/schema"
)

func TestDispatcher_RoutesPerSession(t *testing.T) {
	var mu sync.Mutex
	got := map[schema.SessionID]string{}
	record := func(id schema.SessionID, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got[id] += string(data)
	}

	d := NewDispatcher(4, nil, nil)
	d.Route(1, CallbackFuncs{Data: record})
	d.Route(2, CallbackFuncs{Data: record})

	ctx := context.Background()
	for _, ev := range []Event{
		{Kind: EventData, SessionID: 1, Data: []byte("a")},
		{Kind: EventData, SessionID: 2, Data: []byte("x")},
		{Kind: EventData, SessionID: 1, Data: []byte("b")},
		{Kind: EventData, SessionID: 1, Data: []byte("c")},
	} {
		if err := d.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}
	d.Close()

	if got[1] != "abc" || got[2] != "x" {
		t.Errorf("delivered %v, want 1:abc 2:x", got)
	}
}

func TestDispatcher_FallbackAndObservers(t *testing.T) {
	var titles []string
	var observed []EventKind
	d := NewDispatcher(0, CallbackFuncs{
		Title: func(_ schema.SessionID, title string) { titles = append(titles, title) },
	}, nil)
	d.Observe(func(ev Event) { observed = append(observed, ev.Kind) })

	ctx := context.Background()
	_ = d.Publish(ctx, Event{Kind: EventTitle, SessionID: 9, Title: "shell"})
	_ = d.Publish(ctx, Event{Kind: EventCwd, SessionID: 9, Cwd: "/tmp"})
	d.Close()

	if len(titles) != 1 || titles[0] != "shell" {
		t.Errorf("fallback titles = %v", titles)
	}
	if len(observed) != 2 || observed[0] != EventTitle || observed[1] != EventCwd {
		t.Errorf("observed = %v", observed)
	}
}

func TestDispatcher_ExitUnroutes(t *testing.T) {
	exits := make(chan schema.ExitEvent, 1)
	var late int
	d := NewDispatcher(4, CallbackFuncs{Data: func(schema.SessionID, []byte) { late++ }}, nil)
	d.Route(3, CallbackFuncs{Exit: func(_ schema.SessionID, ev schema.ExitEvent) { exits <- ev }})

	ctx := context.Background()
	_ = d.Publish(ctx, Event{Kind: EventExit, SessionID: 3, Exit: schema.ExitEvent{SessionID: 3, ExitCode: 1}})
	_ = d.Publish(ctx, Event{Kind: EventData, SessionID: 3, Data: []byte("z")})
	d.Close()

	select {
	case ev := <-exits:
		if ev.ExitCode != 1 {
			t.Errorf("exit code = %d, want 1", ev.ExitCode)
		}
	default:
		t.Fatal("exit callback not invoked")
	}
	if late != 1 {
		t.Errorf("event after exit went to fallback %d times, want 1", late)
	}
}

func TestDispatcher_PanicIsolated(t *testing.T) {
	var delivered bool
	d := NewDispatcher(4, nil, nil)
	d.Route(1, CallbackFuncs{Data: func(schema.SessionID, []byte) { panic("boom") }})
	d.Route(2, CallbackFuncs{Data: func(schema.SessionID, []byte) { delivered = true }})

	ctx := context.Background()
	_ = d.Publish(ctx, Event{Kind: EventData, SessionID: 1, Data: []byte("a")})
	_ = d.Publish(ctx, Event{Kind: EventData, SessionID: 2, Data: []byte("b")})
	d.Close()

	if !delivered {
		t.Error("panic in one session's callback stopped delivery to another")
	}
}

func TestDispatcher_Backpressure(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(1, CallbackFuncs{Data: func(schema.SessionID, []byte) { <-release }}, nil)

	ctx := context.Background()
	// One event in the callback, one in the queue.
	_ = d.Publish(ctx, Event{Kind: EventData, SessionID: 1})
	_ = d.Publish(ctx, Event{Kind: EventData, SessionID: 1})

	timeout, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	deadline := time.Now().Add(time.Second)
	var err error
	for time.Now().Before(deadline) {
		// The first publish may have landed before the callback started.
		if err = d.Publish(timeout, Event{Kind: EventData, SessionID: 1}); err != nil {
			break
		}
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Publish() on a full queue = %v, want deadline exceeded", err)
	}

	close(release)
	d.Close()
}

func TestDispatcher_PublishAfterClose(t *testing.T) {
	d := NewDispatcher(1, nil, nil)
	d.Close()
	err := d.Publish(context.Background(), Event{Kind: EventData, SessionID: 1})
	if !errors.Is(err, schema.ErrDispatcherClosed) {
		t.Errorf("Publish() after Close = %v, want ErrDispatcherClosed", err)
	}
}
