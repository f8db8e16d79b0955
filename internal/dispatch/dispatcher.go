// Package dispatch decodes push channel frames into task events and
// routes each one to the handler registered for its kind.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"

	"tasksync/internal/service"
)

// Kind is the type tag of a frame.
type Kind string

const (
	KindCreated Kind = "todo_created"
	KindUpdated Kind = "todo_updated"
	KindDeleted Kind = "todo_deleted"

	// kindPong answers our own keepalive pings; it carries no event.
	kindPong Kind = "pong"
)

var (
	// ErrMalformedFrame is returned for frames that are not decodable.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownKind is returned for well-formed frames of an unknown type.
	ErrUnknownKind = errors.New("unknown event kind")
)

// Event is a decoded frame. Task is set for created and updated events,
// ID for every kind.
type Event struct {
	Kind Kind
	Task service.Task
	ID   int64
}

// Handler consumes one event. Handlers must not call Unregister or Detach.
type Handler func(Event)

// Decode parses a {type, payload} frame.
func Decode(frame []byte) (Event, error) {
	if !gjson.ValidBytes(frame) {
		return Event{}, fmt.Errorf("%w: not JSON", ErrMalformedFrame)
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return Event{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}
	typ := root.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	kind := Kind(typ.Str)
	payload := root.Get("payload")

	switch kind {
	case KindCreated, KindUpdated:
		if !payload.IsObject() {
			return Event{}, fmt.Errorf("%w: %s payload is not a task", ErrMalformedFrame, kind)
		}
		var task service.Task
		if err := json.Unmarshal([]byte(payload.Raw), &task); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, kind, err)
		}
		if task.ID == 0 {
			return Event{}, fmt.Errorf("%w: %s payload has no id", ErrMalformedFrame, kind)
		}
		return Event{Kind: kind, Task: task, ID: task.ID}, nil

	case KindDeleted:
		id, err := deletedID(payload)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, kind, err)
		}
		return Event{Kind: kind, ID: id}, nil
	}

	return Event{Kind: kind}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

// deletedID accepts a bare id, a numeric string or an object with an id.
func deletedID(payload gjson.Result) (int64, error) {
	var id int64
	switch {
	case payload.Type == gjson.Number:
		id = payload.Int()
	case payload.Type == gjson.String:
		n, err := strconv.ParseInt(payload.Str, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid id %q", payload.Str)
		}
		id = n
	case payload.IsObject():
		v := payload.Get("id")
		if v.Type != gjson.Number {
			return 0, fmt.Errorf("payload has no id")
		}
		id = v.Int()
	default:
		return 0, fmt.Errorf("payload has no id")
	}
	if id == 0 {
		return 0, fmt.Errorf("payload has no id")
	}
	return id, nil
}

// Dispatcher routes decoded events to at most one handler per kind.
type Dispatcher struct {
	log *slog.Logger

	// dispatchMu is held for the whole decode-and-invoke of a frame.
	// Unregister takes it too, which is what makes removal wait out an
	// in-flight invocation.
	dispatchMu sync.Mutex

	mu       sync.Mutex
	handlers map[Kind]*Registration
}

// New creates a dispatcher with no handlers.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		log:      logger.With("component", "dispatch"),
		handlers: make(map[Kind]*Registration),
	}
}

// Registration is a handle on a registered handler.
type Registration struct {
	d       *Dispatcher
	kind    Kind
	handler Handler
}

// Register installs h for kind, replacing any earlier handler.
func (d *Dispatcher) Register(kind Kind, h Handler) *Registration {
	r := &Registration{d: d, kind: kind, handler: h}
	d.mu.Lock()
	d.handlers[kind] = r
	d.mu.Unlock()
	return r
}

// Unregister removes the handler if it is still the current one for its
// kind. When it returns, no invocation of the handler is running and none
// will start.
func (r *Registration) Unregister() {
	if r == nil {
		return
	}
	r.d.dispatchMu.Lock()
	defer r.d.dispatchMu.Unlock()
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if r.d.handlers[r.kind] == r {
		delete(r.d.handlers, r.kind)
	}
}

// Detach removes every handler, with the same guarantee as Unregister.
func (d *Dispatcher) Detach() {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.handlers)
}

// Handlers returns the number of registered handlers.
func (d *Dispatcher) Handlers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// Dispatch decodes frame and invokes the matching handler. Malformed and
// unknown frames are logged and dropped; the returned error is only
// informational.
func (d *Dispatcher) Dispatch(frame []byte) error {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()

	ev, err := Decode(frame)
	if err != nil {
		if errors.Is(err, ErrUnknownKind) && ev.Kind == kindPong {
			return nil
		}
		d.log.Warn("dropping frame", "err", err)
		return err
	}

	d.mu.Lock()
	r := d.handlers[ev.Kind]
	d.mu.Unlock()
	if r == nil {
		d.log.Debug("no handler", "kind", ev.Kind)
		return nil
	}

	d.log.Debug("dispatch", "kind", ev.Kind, "id", ev.ID)
	return d.invoke(r, ev)
}

func (d *Dispatcher) invoke(r *Registration, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("handler panicked", "kind", ev.Kind, "panic", p)
			err = fmt.Errorf("handler for %s panicked: %v", ev.Kind, p)
		}
	}()
	r.handler(ev)
	return nil
}

// HandleFrame is Dispatch without the result, for use as a frame sink.
func (d *Dispatcher) HandleFrame(frame []byte) {
	_ = d.Dispatch(frame)
}
