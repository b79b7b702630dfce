package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/mybrowse/internal/agent"
	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/internal/state"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

var testScope = models.Scope{Channel: "cli", ChannelID: "local"}

// setupTestDB creates a migrated SQLite database in a temp dir.
func setupTestDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// scriptedAgent runs the supplied function.
type scriptedAgent struct {
	name      string
	exclusive bool
	run       func(ctx context.Context, req *agent.Request, progress agent.ProgressFunc) (*agent.Result, error)
}

func (a *scriptedAgent) Name() string        { return a.name }
func (a *scriptedAgent) Description() string { return "test agent " + a.name }
func (a *scriptedAgent) Exclusive() bool     { return a.exclusive }
func (a *scriptedAgent) Execute(ctx context.Context, req *agent.Request, progress agent.ProgressFunc) (*agent.Result, error) {
	return a.run(ctx, req, progress)
}

// replyAgent returns a fixed successful output.
func replyAgent(name, output string) *scriptedAgent {
	return &scriptedAgent{name: name, run: func(context.Context, *agent.Request, agent.ProgressFunc) (*agent.Result, error) {
		return &agent.Result{Success: true, Output: output, Agent: name, Steps: 1}, nil
	}}
}

// fixedRouter always picks the same agent.
type fixedRouter struct{ name string }

func (r fixedRouter) Route(context.Context, string) agent.Decision {
	return agent.Decision{Agent: r.name, Reason: "fixed"}
}

// fakeClassifier returns a canned classification.
type fakeClassifier struct {
	reply string
	err   error
}

func (f *fakeClassifier) Classify(context.Context, string, string) (string, error) {
	return f.reply, f.err
}

func newRegistry(t *testing.T, agents ...agent.Agent) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry()
	for _, a := range agents {
		if err := reg.Register(a); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	return reg
}

func newSupervisor(store Store, reg *agent.Registry, router Router, opts ...Option) *Supervisor {
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	return New(RequiredConfig{Store: store, Registry: reg, Router: router}, opts...)
}

// progressLog collects progress updates safely.
type progressLog struct {
	mu  sync.Mutex
	all []Progress
}

func (l *progressLog) OnProgress(p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, p)
}

func (l *progressLog) kind(k ProgressKind) []Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Progress
	for _, p := range l.all {
		if p.Kind == k {
			out = append(out, p)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

// runAsync starts Run in a goroutine and returns its result channel.
func runAsync(s *Supervisor, in Input) <-chan *Result {
	ch := make(chan *Result, 1)
	go func() { ch <- s.Run(context.Background(), in) }()
	return ch
}

func receive(t *testing.T, ch <-chan *Result) *Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func input(task string) Input {
	return Input{Task: task, Channel: testScope.Channel, ChannelID: testScope.ChannelID, Username: "budi"}
}
