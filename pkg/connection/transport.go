package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/surrealdb/signalr.go/pkg/constants"
)

// Transport moves frames between a Connection and the server.
//
// A Transport instance belongs to a single Connection. Start reports the
// outcome of an initial start through exactly one of onSuccess or onFailed.
// Both are nil when the transport restarts itself after losing its stream.
type Transport interface {
	Name() string
	SupportsKeepAlive() bool
	Start(ctx context.Context, c *Connection, onSuccess func(), onFailed func(error))
	Send(ctx context.Context, c *Connection, data []byte) error
	Stop(c *Connection)
	// Abort tells the server the session is over. When async is true the
	// notice is sent in the background.
	Abort(c *Connection, async bool)
	// LostConnection is called by the keep-alive monitor when the server has gone silent.
	LostConnection(c *Connection) error
}

// Factory creates a fresh transport instance for one connection.
type Factory func() Transport

// AutoTransport selects every supported transport in registry order.
const AutoTransport = "auto"

// Registry maps transport names to factories. Registration order is the
// priority order used by auto selection.
type Registry struct {
	mu        sync.RWMutex
	names     []string
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a transport. The factory is invoked once to check that the
// transport reports the registered name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || name == AutoTransport {
		return fmt.Errorf("%w: reserved transport name %q", constants.ErrInvalidTransport, name)
	}
	if f == nil {
		return fmt.Errorf("%w: nil factory for %q", constants.ErrInvalidTransport, name)
	}
	if err := validateTransport(f()); err != nil {
		return err
	}
	if got := f().Name(); got != name {
		return fmt.Errorf("%w: factory for %q creates %q", constants.ErrInvalidTransport, name, got)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", constants.ErrDuplicateTransport, name)
	}
	r.names = append(r.names, name)
	r.factories[name] = f
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, f Factory) *Registry {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
	return r
}

// Names returns the registered names in priority order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// New creates a transport instance by name.
func (r *Registry) New(name string) (Transport, bool) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(), true
}

func validateTransport(t Transport) error {
	if t == nil {
		return fmt.Errorf("%w: nil transport", constants.ErrInvalidTransport)
	}
	if t.Name() == "" || t.Name() == AutoTransport {
		return fmt.Errorf("%w: transport name %q", constants.ErrInvalidTransport, t.Name())
	}
	return nil
}

// TransportChoice names a registered transport or carries a custom one.
type TransportChoice struct {
	Name      string
	Transport Transport
}

// ByName selects a registered transport.
func ByName(name string) TransportChoice {
	return TransportChoice{Name: name}
}

// Custom selects a caller supplied transport object.
func Custom(t Transport) TransportChoice {
	return TransportChoice{Transport: t}
}

// Names selects registered transports in the given order.
func Names(names ...string) []TransportChoice {
	choices := make([]TransportChoice, 0, len(names))
	for _, n := range names {
		choices = append(choices, ByName(n))
	}
	return choices
}

func (tc TransportChoice) isAuto() bool {
	return tc.Transport == nil && (tc.Name == "" || tc.Name == AutoTransport)
}

func (tc TransportChoice) String() string {
	if tc.Transport != nil {
		return tc.Transport.Name()
	}
	return tc.Name
}

// candidate is one transport to try during start.
type candidate struct {
	name string
	make func() Transport
}

// validateChoices checks an explicit transport list before anything else happens.
// An empty list or a lone "auto" means automatic selection.
func (r *Registry) validateChoices(choices []TransportChoice) error {
	if len(choices) == 0 || (len(choices) == 1 && choices[0].isAuto()) {
		return nil
	}
	valid := 0
	for _, tc := range choices {
		switch {
		case tc.Transport != nil:
			if err := validateTransport(tc.Transport); err != nil {
				return err
			}
			valid++
		case tc.isAuto():
			return fmt.Errorf("%w: %q cannot be combined with other transports", constants.ErrInvalidTransport, AutoTransport)
		case r.Has(tc.Name):
			valid++
		}
	}
	if valid == 0 {
		return constants.ErrInvalidTransport
	}
	return nil
}

// candidates resolves the choices against the supported transport names.
// A single unknown name falls back to every supported transport.
func (r *Registry) candidates(choices []TransportChoice, supported []string) []candidate {
	fromNames := func(names []string) []candidate {
		out := make([]candidate, 0, len(names))
		for _, name := range names {
			name := name
			out = append(out, candidate{name: name, make: func() Transport {
				t, _ := r.New(name)
				return t
			}})
		}
		return out
	}

	if len(choices) == 0 || (len(choices) == 1 && choices[0].isAuto()) {
		return fromNames(supported)
	}

	isSupported := func(name string) bool {
		for _, s := range supported {
			if s == name {
				return true
			}
		}
		return false
	}

	if len(choices) == 1 && choices[0].Transport == nil && !isSupported(choices[0].Name) {
		return fromNames(supported)
	}

	var out []candidate
	for _, tc := range choices {
		if tc.Transport != nil {
			t := tc.Transport
			out = append(out, candidate{name: t.Name(), make: func() Transport { return t }})
			continue
		}
		if isSupported(tc.Name) {
			out = append(out, fromNames([]string{tc.Name})...)
		}
	}
	return out
}
