package agent

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
)

var (
	// ErrDuplicateAgent is returned when a name is registered twice.
	ErrDuplicateAgent = errors.New("agent already registered")
	// ErrInvalidName is returned for empty or non-lowercase agent names.
	ErrInvalidName = errors.New("invalid agent name")
	// ErrUnknownAgent is returned when a name is not registered.
	ErrUnknownAgent = errors.New("unknown agent")
)

var validName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Registry maps agent names to agents.
// Registration order is preserved so router prompts are stable.
type Registry struct {
	mu           sync.RWMutex
	agents       map[string]Agent
	order        []string
	defaultAgent string
}

// NewRegistry creates an empty registry whose default agent is chat.
func NewRegistry() *Registry {
	return &Registry{
		agents:       make(map[string]Agent),
		defaultAgent: NameChat,
	}
}

// Register adds an agent.
func (r *Registry) Register(a Agent) error {
	if a == nil {
		return fmt.Errorf("%w: nil agent", ErrInvalidName)
	}
	name := a.Name()
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, name)
	}
	r.agents[name] = a
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers every agent and panics on error. Intended for startup wiring.
func (r *Registry) MustRegister(agents ...Agent) {
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

// Get returns the agent registered under name.
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Description pairs an agent name with its description.
type Description struct {
	Name        string
	Description string
}

// Descriptions returns every agent's description in registration order.
func (r *Registry) Descriptions() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Description, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, Description{Name: name, Description: r.agents[name].Description()})
	}
	return out
}

// SetDefault designates the fallback agent. The name must already be registered.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	r.defaultAgent = name
	return nil
}

// Default returns the fallback agent name.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultAgent
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
