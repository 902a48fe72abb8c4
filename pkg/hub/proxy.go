package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/surrealdb/signalr.go/pkg/event"
	"github.com/surrealdb/signalr.go/pkg/metrics"
	"github.com/surrealdb/signalr.go/pkg/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HandlerFunc handles a client method called by the server.
type HandlerFunc func(args Arguments) error

// call carries one dispatch through the event so handlers can report errors.
type call struct {
	args Arguments
	errs *[]error
}

// Proxy is the client side of one hub.
type Proxy struct {
	hub  *Connection
	name string

	mu     sync.Mutex
	state  wire.State
	events map[string]*event.Event[call]
}

func newProxy(h *Connection, name string) *Proxy {
	return &Proxy{
		hub:    h,
		name:   name,
		state:  wire.State{},
		events: make(map[string]*event.Event[call]),
	}
}

// Name returns the lowercased hub name.
func (p *Proxy) Name() string {
	return p.name
}

// State returns a copy of the hub state sent with every invocation.
func (p *Proxy) State() wire.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Clone()
}

// SetState sets one hub state entry.
func (p *Proxy) SetState(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.state[key] = raw
	p.mu.Unlock()
	return nil
}

// On subscribes fn to the client method eventName. Names are case-insensitive.
func (p *Proxy) On(eventName string, fn HandlerFunc) *event.Subscription {
	key := strings.ToLower(eventName)

	p.mu.Lock()
	ev, ok := p.events[key]
	if !ok {
		ev = &event.Event[call]{}
		p.events[key] = ev
	}
	p.mu.Unlock()

	return ev.On(func(c call) {
		if err := fn(c.args); err != nil {
			*c.errs = append(*c.errs, err)
		}
	})
}

// Off removes the given subscriptions of eventName, or all of them when none
// are given. An event with no subscriptions left is forgotten.
func (p *Proxy) Off(eventName string, subs ...*event.Subscription) {
	key := strings.ToLower(eventName)

	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.events[key]
	if !ok {
		return
	}
	if len(subs) == 0 {
		ev.Clear()
	}
	for _, sub := range subs {
		sub.Off()
	}
	if ev.Len() == 0 {
		delete(p.events, key)
	}
}

func (p *Proxy) hasSubscriptions() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.events {
		if ev.Len() > 0 {
			return true
		}
	}
	return false
}

// dispatch merges the invocation state and runs the subscribers of its method.
func (p *Proxy) dispatch(inv *wire.ClientHubInvocation) []error {
	p.mu.Lock()
	p.state.Merge(inv.State)
	ev, ok := p.events[strings.ToLower(inv.Method)]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	var errs []error
	panics := ev.Emit(call{args: Arguments(inv.Args), errs: &errs})
	return append(errs, panics...)
}

// Invoke calls a server hub method and waits for its result.
//
// The returned raw JSON is empty when the method returns nothing. Cancelling
// ctx abandons the call; a late result is then ignored.
func (p *Proxy) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	h := p.hub
	ctx, span := h.tracer.Start(ctx, "signalr.hub.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("signalr.hub", p.name),
			attribute.String("signalr.method", method),
		),
	)
	defer span.End()

	started := time.Now()
	h.metrics.InvocationStarted(p.name)
	outcome := metrics.OutcomeSuccess
	defer func() {
		h.metrics.InvocationCompleted(p.name, outcome, time.Since(started))
	}()

	fail := func(o string, err error) (json.RawMessage, error) {
		outcome = o
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	encoded, err := wire.EncodeArgs(args)
	if err != nil {
		return fail(metrics.OutcomeSendError, fmt.Errorf("failed to encode arguments: %w", err))
	}

	results := make(chan *wire.HubResult, 1)
	id := h.correlator.Register(func(res *wire.HubResult) {
		results <- res
	})
	span.SetAttributes(attribute.String("signalr.invocation_id", string(id)))

	inv := wire.HubInvocation{Hub: p.name, Method: method, Args: encoded, ID: id}
	if state := p.State(); len(state) > 0 {
		inv.State = state
	}
	data, err := json.Marshal(inv)
	if err != nil {
		h.correlator.Remove(id)
		return fail(metrics.OutcomeSendError, err)
	}

	if err := h.Send(ctx, data); err != nil {
		h.correlator.Remove(id)
		return fail(metrics.OutcomeSendError, err)
	}

	select {
	case res := <-results:
		p.mu.Lock()
		p.state.Merge(res.State)
		p.mu.Unlock()

		if res.Error != "" {
			if res.StackTrace != "" {
				h.logger.Error("Hub method failed", "hub", p.name, "method", method, "error", res.Error, "stack", res.StackTrace)
			}
			return fail(metrics.OutcomeError, &InvocationError{
				Hub:        p.name,
				Method:     method,
				Message:    res.Error,
				StackTrace: res.StackTrace,
			})
		}
		return res.Result, nil
	case <-ctx.Done():
		h.correlator.Remove(id)
		return fail(metrics.OutcomeCancelled, ctx.Err())
	}
}

// Invoke calls a server hub method and decodes its result into T.
func Invoke[T any](ctx context.Context, p *Proxy, method string, args ...any) (T, error) {
	var out T
	raw, err := p.Invoke(ctx, method, args...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode result of %s.%s: %w", p.name, method, err)
	}
	return out, nil
}

// IsInvocationError reports whether err carries a server reported failure.
func IsInvocationError(err error) bool {
	var invErr *InvocationError
	return errors.As(err, &invErr)
}
