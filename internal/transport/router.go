package transport

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Message is what a subscribed Handler receives. Payload carries the raw
// JSON body for text-frame messages; Frame carries a decoded preview frame
// for binary-frame messages on topic "preview/frame" (Payload is nil in
// that case).
type Message struct {
	Topic   string
	Payload []byte
	Frame   *FrameMessage
}

// Handler processes one dispatched Message. Panics inside a Handler are
// recovered by the router and surfaced through its error callback; they do
// not stop dispatch to the remaining handlers.
type Handler func(Message)

// ErrorFunc receives errors surfaced by the router (decode failures,
// recovered handler panics) or the underlying connection.
type ErrorFunc func(error)

type subscription struct {
	id int
	fn Handler
}

// Router implements topic-pattern dispatch: for an inbound
// topic T, it visits exact match on T, then every proper prefix of T
// (longest to shortest), then the literal pattern "*" — each pattern's
// handlers firing in subscription order, each handler at most once.
type Router struct {
	mu       sync.Mutex
	handlers map[string][]subscription
	nextID   int
	onError  ErrorFunc
	log      zerolog.Logger
}

// NewRouter creates an empty Router. onError may be nil.
func NewRouter(log zerolog.Logger, onError ErrorFunc) *Router {
	return &Router{
		handlers: make(map[string][]subscription),
		onError:  onError,
		log:      log,
	}
}

// Subscribe registers fn under pattern ("*" matches every topic; any other
// pattern matches exactly or as a proper prefix). It returns an unsubscribe
// function; calling it more than once is a no-op and leaves the handler
// table exactly as it was before Subscribe.
func (r *Router) Subscribe(pattern string, fn Handler) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.handlers[pattern] = append(r.handlers[pattern], subscription{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			subs := r.handlers[pattern]
			for i, s := range subs {
				if s.id == id {
					subs = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(subs) == 0 {
				delete(r.handlers, pattern)
			} else {
				r.handlers[pattern] = subs
			}
		})
	}
}

// matchPatterns returns the ordered, deduplicated list of patterns to visit
// for topic: exact, then proper prefixes longest-to-shortest, then "*".
func matchPatterns(topic string) []string {
	parts := strings.Split(topic, "/")
	patterns := make([]string, 0, len(parts)+1)
	patterns = append(patterns, topic)
	for n := len(parts) - 1; n >= 1; n-- {
		patterns = append(patterns, strings.Join(parts[:n], "/"))
	}
	if topic != "*" {
		patterns = append(patterns, "*")
	}
	return patterns
}

// Dispatch routes msg to every matching handler, in pattern-then-insertion
// order. A handler panic is recovered and reported via onError; dispatch
// continues to the next handler.
func (r *Router) Dispatch(msg Message) {
	for _, pattern := range matchPatterns(msg.Topic) {
		r.mu.Lock()
		subs := append([]subscription(nil), r.handlers[pattern]...)
		r.mu.Unlock()

		for _, s := range subs {
			r.invoke(s.fn, msg)
		}
	}
}

func (r *Router) invoke(fn Handler, msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("topic", msg.Topic).Msg("subscriber panicked")
			if r.onError != nil {
				r.onError(panicError{rec})
			}
		}
	}()
	fn(msg)
}

type panicError struct{ v any }

func (e panicError) Error() string { return fmt.Sprintf("handler panic: %v", e.v) }
