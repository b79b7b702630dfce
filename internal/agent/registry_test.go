package agent

import (
	"context"
	"errors"
	"testing"
)

// stubAgent is a minimal Agent for registry and router tests.
type stubAgent struct {
	name      string
	exclusive bool
}

func (s *stubAgent) Name() string        { return s.name }
func (s *stubAgent) Description() string { return "handles " + s.name + " tasks" }
func (s *stubAgent) Exclusive() bool     { return s.exclusive }
func (s *stubAgent) Execute(context.Context, *Request, ProgressFunc) (*Result, error) {
	return &Result{Success: true, Agent: s.name}, nil
}

func newStubRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, n := range names {
		if err := r.Register(&stubAgent{name: n}); err != nil {
			t.Fatalf("Register(%q) failed: %v", n, err)
		}
	}
	return r
}

func TestRegistry_PreservesOrder(t *testing.T) {
	r := newStubRegistry(t, "browser", "chat", "memory")

	names := r.Names()
	want := []string{"browser", "chat", "memory"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names = %v, want %v", names, want)
		}
	}

	descs := r.Descriptions()
	if len(descs) != 3 || descs[2].Name != "memory" || descs[2].Description != "handles memory tasks" {
		t.Errorf("Descriptions = %+v", descs)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := newStubRegistry(t, "chat")
	if err := r.Register(&stubAgent{name: "chat"}); !errors.Is(err, ErrDuplicateAgent) {
		t.Errorf("Register duplicate error = %v, want ErrDuplicateAgent", err)
	}
}

func TestRegistry_RejectsInvalidNames(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"", "Chat", "has space", "9lives"} {
		if err := r.Register(&stubAgent{name: name}); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Register(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
	if err := r.Register(nil); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Register(nil) error = %v, want ErrInvalidName", err)
	}
}

func TestRegistry_Default(t *testing.T) {
	r := newStubRegistry(t, "chat", "browser")
	if r.Default() != NameChat {
		t.Errorf("Default = %q, want chat", r.Default())
	}
	if err := r.SetDefault("browser"); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	if r.Default() != "browser" {
		t.Errorf("Default = %q, want browser", r.Default())
	}
	if err := r.SetDefault("nope"); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("SetDefault unknown error = %v, want ErrUnknownAgent", err)
	}
}

func TestIsExclusive(t *testing.T) {
	if IsExclusive(&stubAgent{name: "chat"}) {
		t.Error("non-exclusive agent reported exclusive")
	}
	if !IsExclusive(&stubAgent{name: "browser", exclusive: true}) {
		t.Error("exclusive agent not reported")
	}
	if !IsExclusive(NewBrowserAgent(nil, BrowserOptions{})) {
		t.Error("browser agent must be exclusive")
	}
	if IsExclusive(NewChatAgent(nil, nil)) {
		t.Error("chat agent must not be exclusive")
	}
}

func TestStepEvent_IsNotice(t *testing.T) {
	if !(StepEvent{Message: "[chat] Aria is thinking..."}).IsNotice() {
		t.Error("message-only event should be a notice")
	}
	if (StepEvent{Actions: []string{"click"}, Message: "step"}).IsNotice() {
		t.Error("event with actions is a step, not a notice")
	}
}
