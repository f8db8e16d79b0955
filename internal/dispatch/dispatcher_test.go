package dispatch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"tasksync/internal/service"
)

func TestDecode_Created(t *testing.T) {
	frame := []byte(`{"type":"todo_created","payload":{"id":7,"title":"Buy milk","description":"2L","status":"pending","due_date":"2024-03-01T00:00:00Z","created_at":"2024-02-01T10:00:00Z","updated_at":"2024-02-01T10:00:00Z"}}`)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != KindCreated || ev.ID != 7 {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Task.Title != "Buy milk" || ev.Task.Status != service.StatusPending {
		t.Errorf("unexpected task %+v", ev.Task)
	}
	if ev.Task.DueDate.String() != "2024-03-01" {
		t.Errorf("expected due date 2024-03-01, got %s", ev.Task.DueDate)
	}
}

func TestDecode_DeletedPayloadShapes(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"number", `{"type":"todo_deleted","payload":12}`},
		{"string", `{"type":"todo_deleted","payload":"12"}`},
		{"object", `{"type":"todo_deleted","payload":{"id":12}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Kind != KindDeleted || ev.ID != 12 {
				t.Errorf("unexpected event %+v", ev)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `{{{`, ErrMalformedFrame},
		{"array", `[1,2]`, ErrMalformedFrame},
		{"missing type", `{"payload":{}}`, ErrMalformedFrame},
		{"task payload not object", `{"type":"todo_updated","payload":3}`, ErrMalformedFrame},
		{"task without id", `{"type":"todo_created","payload":{"title":"x"}}`, ErrMalformedFrame},
		{"bad field type", `{"type":"todo_created","payload":{"id":"x"}}`, ErrMalformedFrame},
		{"deleted without id", `{"type":"todo_deleted","payload":{}}`, ErrMalformedFrame},
		{"unknown kind", `{"type":"todo_archived","payload":{"id":1}}`, ErrUnknownKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDispatch_RoutesToRegisteredHandler(t *testing.T) {
	d := New(nil)
	var created, deleted []int64
	d.Register(KindCreated, func(ev Event) { created = append(created, ev.ID) })
	d.Register(KindDeleted, func(ev Event) { deleted = append(deleted, ev.ID) })

	if err := d.Dispatch([]byte(`{"type":"todo_created","payload":{"id":1}}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Dispatch([]byte(`{"type":"todo_deleted","payload":{"id":2}}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// No handler for updated: not an error.
	if err := d.Dispatch([]byte(`{"type":"todo_updated","payload":{"id":3}}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(created) != 1 || created[0] != 1 {
		t.Errorf("unexpected created calls %v", created)
	}
	if len(deleted) != 1 || deleted[0] != 2 {
		t.Errorf("unexpected deleted calls %v", deleted)
	}
}

func TestDispatch_DropsBadFramesWithoutCallingHandlers(t *testing.T) {
	d := New(nil)
	calls := 0
	d.Register(KindCreated, func(Event) { calls++ })

	if err := d.Dispatch([]byte(`garbage`)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
	if err := d.Dispatch([]byte(`{"type":"other"}`)); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if err := d.Dispatch([]byte(`{"type":"pong"}`)); err != nil {
		t.Errorf("expected pong to be ignored silently, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no handler calls, got %d", calls)
	}
}

func TestDispatch_HandlerPanicIsContained(t *testing.T) {
	d := New(nil)
	d.Register(KindCreated, func(Event) { panic("boom") })

	err := d.Dispatch([]byte(`{"type":"todo_created","payload":{"id":1}}`))
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
}

func TestRegister_ReplacesAndUnregisterIsScoped(t *testing.T) {
	d := New(nil)
	var got []string
	first := d.Register(KindCreated, func(Event) { got = append(got, "first") })
	d.Register(KindCreated, func(Event) { got = append(got, "second") })

	// Removing a replaced registration must not remove its successor.
	first.Unregister()
	_ = d.Dispatch([]byte(`{"type":"todo_created","payload":{"id":1}}`))

	if len(got) != 1 || got[0] != "second" {
		t.Errorf("expected only second handler to run, got %v", got)
	}
	if d.Handlers() != 1 {
		t.Errorf("expected 1 handler, got %d", d.Handlers())
	}
}

func TestDetach_WaitsForInFlightHandler(t *testing.T) {
	d := New(nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	finished := false

	d.Register(KindCreated, func(Event) {
		close(entered)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
	})

	go d.HandleFrame([]byte(`{"type":"todo_created","payload":{"id":1}}`))
	<-entered

	detached := make(chan struct{})
	go func() {
		d.Detach()
		close(detached)
	}()

	select {
	case <-detached:
		t.Fatal("Detach returned while a handler was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	<-detached

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Error("expected in-flight handler to finish before Detach returned")
	}
	if d.Handlers() != 0 {
		t.Errorf("expected no handlers, got %d", d.Handlers())
	}
}
