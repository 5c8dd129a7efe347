package transport

import (
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func newTestRouter() *Router {
	return NewRouter(zerolog.Nop(), nil)
}

// TestDispatchFanout checks that a topic fans out to its exact-match,
// prefix, and wildcard handlers in the documented order.
func TestDispatchFanout(t *testing.T) {
	r := newTestRouter()
	var order []string

	r.Subscribe("preview", func(m Message) { order = append(order, "H1") })
	r.Subscribe("preview/frame", func(m Message) { order = append(order, "H2") })
	r.Subscribe("*", func(m Message) { order = append(order, "H3") })

	r.Dispatch(Message{Topic: "preview/frame", Payload: []byte("42")})

	want := []string{"H2", "H1", "H3"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("dispatch order = %v, want %v", order, want)
	}
}

func TestDispatchVisitsEachHandlerOnce(t *testing.T) {
	r := newTestRouter()
	calls := 0
	r.Subscribe("device", func(m Message) { calls++ })
	r.Dispatch(Message{Topic: "device/laser_488/properties"})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDispatchProperPrefixesOnly(t *testing.T) {
	r := newTestRouter()
	var seen []string
	r.Subscribe("a/b/c", func(m Message) { seen = append(seen, "full") })
	r.Subscribe("a/b", func(m Message) { seen = append(seen, "ab") })
	r.Subscribe("a", func(m Message) { seen = append(seen, "a") })
	r.Dispatch(Message{Topic: "a/b/c"})
	want := []string{"full", "ab", "a"}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
}

// TestSubscribeUnsubscribeRoundTrip checks that subscribing then
// unsubscribing leaves the handler table exactly as it was.
func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	r := newTestRouter()
	before := snapshotHandlers(r)

	unsub := r.Subscribe("preview/crop", func(Message) {})
	unsub()

	after := snapshotHandlers(r)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("handler table changed: before=%v after=%v", before, after)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	r := newTestRouter()
	calls := 0
	unsub := r.Subscribe("x", func(Message) { calls++ })
	unsub()
	unsub() // must not panic or double-remove
	r.Dispatch(Message{Topic: "x"})
	if calls != 0 {
		t.Errorf("calls after unsubscribe = %d, want 0", calls)
	}
}

func TestDispatchRecoversPanicAndContinues(t *testing.T) {
	var gotErr error
	r := NewRouter(zerolog.Nop(), func(err error) { gotErr = err })

	calledSecond := false
	r.Subscribe("x", func(Message) { panic("boom") })
	r.Subscribe("x", func(Message) { calledSecond = true })

	r.Dispatch(Message{Topic: "x"})

	if !calledSecond {
		t.Error("second handler was not invoked after first panicked")
	}
	if gotErr == nil {
		t.Error("expected onError to be invoked with a non-nil error")
	}
}

func snapshotHandlers(r *Router) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.handlers))
	for k, v := range r.handlers {
		out[k] = len(v)
	}
	return out
}
