package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/mybrowse/internal/agent"
	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/internal/memory"
	"github.com/ShayCichocki/mybrowse/internal/slot"
	"github.com/ShayCichocki/mybrowse/internal/state"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

const tracerName = "github.com/ShayCichocki/mybrowse/internal/orchestrator"

// Status lines sent to the progress sink.
const (
	StatusAnalysing = "Analysing task..."
	statusUsing     = "Using %s agent..."
)

// EphemeralPrefix marks task ids that were never persisted.
const EphemeralPrefix = "eph-"

// Store is the persistence the supervisor writes through.
type Store interface {
	state.TaskStore
	state.StepStore
	state.AttachmentStore
	state.MemoryStore
}

// Router picks an agent for a task.
type Router interface {
	Route(ctx context.Context, task string) agent.Decision
}

// RequiredConfig contains the minimal required configuration for a Supervisor.
type RequiredConfig struct {
	Store    Store
	Registry *agent.Registry
	Router   Router
}

// Supervisor routes tasks to agents and owns their lifecycle.
// Run is safe for concurrent use; exclusive agents are serialized by the slot.
type Supervisor struct {
	store      Store
	registry   *agent.Registry
	router     Router
	assembler  *memory.Assembler
	slot       *slot.Slot
	events     EventPublisher
	logger     *logging.Logger
	abortGrace time.Duration
	autosave   struct{ min, max int }
	now        func() time.Time

	mu     sync.Mutex
	active map[string]*taskRun
}

// New creates a Supervisor.
func New(cfg RequiredConfig, opts ...Option) *Supervisor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With("component", "supervisor")
	history := o.history
	if history == nil {
		history = memory.NewHistory(0, 0)
	}
	sl := o.slot
	if sl == nil {
		sl = slot.New()
	}

	s := &Supervisor{
		store:      cfg.Store,
		registry:   cfg.Registry,
		router:     cfg.Router,
		slot:       sl,
		logger:     logger,
		abortGrace: o.abortGrace,
		now:        o.now,
		active:     make(map[string]*taskRun),
	}
	s.autosave.min, s.autosave.max = o.autosaveMinChars, o.autosaveMaxChars

	var source memory.MemorySource
	if cfg.Store != nil {
		source = cfg.Store
	}
	s.assembler = memory.NewAssembler(source, history, o.memoryLimit, o.logger)

	switch len(o.publishers) {
	case 0:
	case 1:
		s.events = o.publishers[0]
	default:
		s.events = multiPublisher(o.publishers)
	}
	return s
}

// Slot returns the execution slot.
func (s *Supervisor) Slot() *slot.Slot { return s.slot }

// History returns the conversation history store.
func (s *Supervisor) History() *memory.History { return s.assembler.History() }

// ClearHistory drops the conversation history for scope and returns how many turns were removed.
func (s *Supervisor) ClearHistory(scope models.Scope) int {
	return s.assembler.History().Clear(scope)
}

// Active lists tasks currently owned by the supervisor, oldest first.
func (s *Supervisor) Active() []ActiveTask {
	s.mu.Lock()
	runs := make([]*taskRun, 0, len(s.active))
	for _, r := range s.active {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	out := make([]ActiveTask, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Cancel requests cancellation of a running or pending task. Unknown and
// finished tasks get an acknowledgement with Cancelled false.
func (s *Supervisor) Cancel(taskID string) CancelAck {
	s.mu.Lock()
	run, ok := s.active[taskID]
	s.mu.Unlock()
	if !ok {
		return CancelAck{TaskID: taskID}
	}

	status, cancelled := run.requestCancel()
	if cancelled {
		s.logger.Info("cancel requested", "task_id", taskID, "status", status)
	}
	return CancelAck{TaskID: taskID, Found: true, Status: status, Cancelled: cancelled}
}

// outcome is what the agent goroutine hands back.
type outcome struct {
	res *agent.Result
	err error
}

// Run supervises one task end to end. It never panics and never returns nil.
func (s *Supervisor) Run(ctx context.Context, in Input) (result *Result) {
	startedAt := s.now()
	scope := models.Scope{Channel: in.Channel, ChannelID: in.ChannelID}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "supervisor.run")
	defer span.End()

	// Persistence keeps working after the task context is cancelled.
	persistCtx := context.WithoutCancel(ctx)

	// 1. Context: long-term memories and recent history.
	mem := s.assembler.Assemble(ctx, scope, 0)

	// 2. PENDING record.
	task := &models.Task{
		ID:        state.NewTaskID(),
		CreatedAt: startedAt,
		Channel:   in.Channel,
		ChannelID: in.ChannelID,
		Username:  in.Username,
		Prompt:    in.Task,
	}
	ephemeral := false
	if s.store == nil || !s.bestEffort(persistCtx, "create task", func(ctx context.Context) error {
		return s.store.CreateTask(ctx, task)
	}) {
		task.ID = EphemeralPrefix + uuid.NewString()
		ephemeral = true
		s.logger.Warn("task not persisted, using ephemeral id", "task_id", task.ID)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := newTaskRun(task.ID, in, ephemeral, startedAt, cancel)
	s.register(run)
	defer s.unregister(run.id)

	span.SetAttributes(attribute.String("task.id", run.id), attribute.String("task.scope", scope.String()))
	logger := s.logger.With("task_id", run.id)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		logger = logger.With("trace_id", sc.TraceID().String())
	}

	result = &Result{TaskID: run.id, Ephemeral: ephemeral, Status: models.TaskStatusPending}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("supervisor panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			agentName := ""
			if result != nil {
				agentName = result.Agent
			}
			result = s.finalize(persistCtx, run, in, &agent.Result{
				Agent:  agentName,
				Output: "Internal error.",
				Errors: []string{fmt.Sprintf("supervisor panic: %v", r)},
			}, run.steps())
		}
		span.SetAttributes(
			attribute.String("task.agent", result.Agent),
			attribute.String("task.status", string(result.Status)),
			attribute.Int("task.steps", result.Steps),
		)
		if result.Status == models.TaskStatusFailed {
			span.SetStatus(codes.Error, strings.Join(result.Errors, "; "))
		}
	}()

	s.publish(persistCtx, Event{Type: EventTaskCreated, TaskID: run.id, Scope: scope, Status: models.TaskStatusPending, Message: in.Task})
	sink := s.sinkFor(run.id, in.Progress, logger)
	sink(Progress{TaskID: run.id, Kind: ProgressStatus, Message: StatusAnalysing})

	// 3. Route.
	decision := s.router.Route(taskCtx, in.Task)
	result.Agent = decision.Agent
	run.routeReason = decision.Reason
	a, ok := s.registry.Get(decision.Agent)
	if !ok {
		// The router only returns registered names unless the registry is empty.
		return s.finalize(persistCtx, run, in, &agent.Result{
			Agent:  decision.Agent,
			Output: "No agent available.",
			Errors: []string{fmt.Sprintf("agent %q is not registered", decision.Agent)},
		}, 0)
	}
	s.publish(persistCtx, Event{Type: EventTaskRouted, TaskID: run.id, Scope: scope, Agent: a.Name(), Message: decision.Reason})
	sink(Progress{TaskID: run.id, Kind: ProgressStatus, Message: fmt.Sprintf(statusUsing, a.Name())})

	if taskCtx.Err() != nil {
		run.markCancelled()
		return s.finalize(persistCtx, run, in, &agent.Result{Agent: a.Name()}, 0)
	}

	// 4. Execute, under the slot when the agent needs it.
	writer := newStepWriter(func(rec *models.StepRecord) {
		if run.ephemeral || s.store == nil {
			return
		}
		s.bestEffort(persistCtx, "log step", func(ctx context.Context) error {
			return s.store.LogStep(ctx, rec)
		})
	})
	progress := s.progressFor(persistCtx, run, scope, sink, writer)
	req := &agent.Request{
		TaskID:       run.id,
		Task:         in.Task,
		Scope:        scope,
		Username:     in.Username,
		MemoryDigest: mem.Digest,
		History:      mem.History,
	}

	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() { done <- o }()

		invoke := func(ctx context.Context) error {
			if !run.start(a.Name()) {
				return errNotStarted
			}
			if !run.ephemeral && s.store != nil {
				s.bestEffort(persistCtx, "start task", func(ctx context.Context) error {
					return s.store.StartTask(ctx, run.id)
				})
			}
			s.publish(persistCtx, Event{Type: EventTaskStarted, TaskID: run.id, Scope: scope, Agent: a.Name(), Status: models.TaskStatusRunning})
			o.res, o.err = s.execute(ctx, a, req, progress)
			return nil
		}

		var err error
		if agent.IsExclusive(a) {
			err = s.slot.Do(taskCtx, invoke)
		} else {
			err = invoke(taskCtx)
		}
		if err != nil && o.err == nil {
			o.err = err
		}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-taskCtx.Done():
		run.markCancelled()
		select {
		case o = <-done:
		case <-time.After(s.abortGrace):
			exclusive := agent.IsExclusive(a)
			if exclusive {
				logger.Error("agent did not stop within abort grace, abandoning it while it holds the execution slot",
					"agent", a.Name(), "grace", s.abortGrace, "slot_waiting", s.slot.Waiting())
			} else {
				logger.Warn("agent did not stop within abort grace, abandoning it", "agent", a.Name(), "grace", s.abortGrace)
			}
			o = outcome{err: taskCtx.Err()}
			go func() {
				<-done
				logger.Info("abandoned agent returned", "agent", a.Name(), "slot_released", exclusive)
			}()
		}
	}
	writer.close()

	if taskCtx.Err() != nil {
		run.markCancelled()
	}

	res := o.res
	if o.err != nil {
		res = &agent.Result{Agent: a.Name(), Output: fmt.Sprintf("Agent failed: %v", o.err), Errors: []string{o.err.Error()}}
		if o.res != nil {
			res.Steps = o.res.Steps
		}
	} else if res == nil {
		res = &agent.Result{Agent: a.Name(), Output: "Agent returned no result.", Errors: []string{"agent returned no result"}}
	}
	if res.Agent == "" {
		res.Agent = a.Name()
	}
	return s.finalize(persistCtx, run, in, res, run.steps())
}

// execute runs the agent, converting a panic into an error.
func (s *Supervisor) execute(ctx context.Context, a agent.Agent, req *agent.Request, progress agent.ProgressFunc) (res *agent.Result, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.execute", trace.WithAttributes(
		attribute.String("agent.name", a.Name()),
		attribute.String("task.id", req.TaskID),
		attribute.Bool("agent.exclusive", agent.IsExclusive(a)),
	))
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("agent panicked", "agent", a.Name(), "task_id", req.TaskID, "panic", fmt.Sprint(r))
			res, err = nil, fmt.Errorf("agent %s panicked: %v", a.Name(), r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return a.Execute(ctx, req, progress)
}

// finalize performs the terminal transition and the post-run bookkeeping.
func (s *Supervisor) finalize(ctx context.Context, run *taskRun, in Input, res *agent.Result, counted int) *Result {
	duration := s.now().Sub(run.started)
	durationMS := duration.Milliseconds()
	steps := max(res.Steps, counted)

	status, ok := run.finish(res.Success)
	if !ok {
		// Already terminal: the first finalize did the bookkeeping.
		s.logger.Debug("task already terminal", "task_id", run.id, "status", status)
		return &Result{TaskID: run.id, Ephemeral: run.ephemeral, Status: status, Agent: res.Agent,
			Output: res.Output, Steps: steps, Errors: res.Errors, Duration: duration}
	}

	out := &Result{
		TaskID:      run.id,
		Ephemeral:   run.ephemeral,
		Status:      status,
		Success:     status == models.TaskStatusDone,
		Output:      res.Output,
		Agent:       res.Agent,
		RouteReason: run.routeReason,
		Steps:       steps,
		Errors:      res.Errors,
		Duration:    duration,
	}
	persisted := !run.ephemeral && s.store != nil

	if status == models.TaskStatusCancelled {
		out.Success = false
		out.Output = state.CancelledOutput
		out.Errors = nil
		if persisted {
			s.bestEffort(ctx, "cancel task", func(ctx context.Context) error {
				return s.store.CancelTask(ctx, run.id, steps, durationMS)
			})
		}
		s.logger.Info("task cancelled", "task_id", run.id, "agent", out.Agent, "steps", steps)
		s.publish(ctx, Event{Type: EventTaskCancelled, TaskID: run.id, Scope: run.scope, Agent: out.Agent, Status: status, Steps: steps})
		return out
	}

	if !out.Success && len(out.Errors) == 0 {
		msg := strings.TrimSpace(out.Output)
		if msg == "" {
			msg = "task failed"
		}
		out.Errors = []string{msg}
	}
	if persisted {
		s.bestEffort(ctx, "complete task", func(ctx context.Context) error {
			return s.store.CompleteTask(ctx, run.id, out.Output, out.Success, steps, durationMS, out.Agent)
		})
	}

	for _, path := range res.Attachments {
		att := attachmentFor(run.id, path, s.logger)
		if persisted {
			s.bestEffort(ctx, "save attachment", func(ctx context.Context) error {
				return s.store.SaveAttachment(ctx, &att)
			})
		}
		out.Attachments = append(out.Attachments, att)
	}

	if out.Success {
		s.autosaveMemory(ctx, run, in, out)
	}
	if out.Output != "" {
		s.assembler.History().AppendExchange(run.scope, in.Task, out.Output)
	}

	s.logger.Info("task finished", "task_id", run.id, "agent", out.Agent, "status", status,
		"steps", steps, "duration_ms", durationMS)
	s.publish(ctx, Event{Type: terminalEvent(status), TaskID: run.id, Scope: run.scope, Agent: out.Agent,
		Status: status, Steps: steps, Message: out.Output})
	return out
}

// autosaveMemory stores a summary of a successful task with meaningful output.
func (s *Supervisor) autosaveMemory(ctx context.Context, run *taskRun, in Input, out *Result) {
	if s.store == nil || s.autosave.min < 0 || len([]rune(out.Output)) <= s.autosave.min {
		return
	}
	m := &models.MemoryRecord{
		Scope:    run.scope,
		Username: in.Username,
		Content:  fmt.Sprintf("Task: %s\nResult: %s", memory.Truncate(in.Task, 100), memory.Truncate(out.Output, s.autosave.max)),
		Type:     models.MemoryTaskResult,
		Source:   out.Agent,
	}
	if !run.ephemeral {
		m.TaskID = run.id
	}
	s.bestEffort(ctx, "autosave memory", func(ctx context.Context) error {
		return s.store.AddMemory(ctx, m)
	})
}

// progressFor builds the agent callback: notices are forwarded as-is, steps get
// the next gap-free sequence number, are forwarded, then queued for persistence.
func (s *Supervisor) progressFor(ctx context.Context, run *taskRun, scope models.Scope, sink func(Progress), writer *stepWriter) agent.ProgressFunc {
	var mu sync.Mutex // keeps numbering and forwarding in one order
	return func(ev agent.StepEvent) {
		if ev.IsNotice() {
			sink(Progress{TaskID: run.id, Kind: ProgressNotice, Message: ev.Message})
			return
		}

		mu.Lock()
		defer mu.Unlock()
		seq := run.nextSeq()
		if seq == 0 {
			s.logger.Debug("dropping step after task end", "task_id", run.id)
			return
		}
		ev.Seq = seq
		sink(Progress{TaskID: run.id, Kind: ProgressStep, Message: ev.Message, Step: ev})
		writer.enqueue(&models.StepRecord{
			TaskID:     run.id,
			Seq:        seq,
			Actions:    ev.Actions,
			NextGoal:   ev.NextGoal,
			Evaluation: ev.Evaluation,
			URL:        ev.URL,
			CreatedAt:  s.now(),
		})
		step := ev
		s.publish(ctx, Event{Type: EventTaskStep, TaskID: run.id, Scope: scope, Agent: run.snapshot().Agent, Step: &step})
	}
}

// sinkFor wraps the adapter's sink so a misbehaving sink cannot break the task.
func (s *Supervisor) sinkFor(taskID string, sink ProgressSink, logger *logging.Logger) func(Progress) {
	if sink == nil {
		return func(Progress) {}
	}
	return func(p Progress) {
		defer func() {
			if r := recover(); r != nil {
				logger.Warn("progress sink panicked", "panic", fmt.Sprint(r))
			}
		}()
		sink.OnProgress(p)
	}
}

func (s *Supervisor) publish(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Debug("publish event failed", "type", ev.Type, "task_id", ev.TaskID, "error", err)
	}
}

func (s *Supervisor) register(run *taskRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[run.id] = run
}

func (s *Supervisor) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// IsEphemeral reports whether a task id was never persisted.
func IsEphemeral(taskID string) bool {
	return strings.HasPrefix(taskID, EphemeralPrefix)
}

var errNotStarted = errors.New("task cancelled before start")
