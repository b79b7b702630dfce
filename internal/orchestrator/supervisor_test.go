package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/mybrowse/internal/agent"
	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

func TestSupervisor_BrowserScenario(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	shot := filepath.Join(t.TempDir(), "harga.png")
	if err := os.WriteFile(shot, []byte("png"), 0o644); err != nil {
		t.Fatalf("write screenshot failed: %v", err)
	}

	var sup *Supervisor
	var holdersDuringRun int
	browser := &scriptedAgent{name: "browser", exclusive: true, run: func(ctx context.Context, req *agent.Request, progress agent.ProgressFunc) (*agent.Result, error) {
		holdersDuringRun = sup.Slot().Holders()
		for i := 1; i <= 3; i++ {
			progress(agent.StepEvent{Actions: []string{fmt.Sprintf("action-%d", i)}, NextGoal: "find the price"})
		}
		return &agent.Result{
			Success:     true,
			Output:      "iPhone 15 harganya Rp 13.999.000 di Tokopedia",
			Attachments: []string{shot},
			Steps:       3,
		}, nil
	}}
	reg := newRegistry(t, replyAgent("chat", "hi"), browser)
	router := agent.NewRouter(reg, &fakeClassifier{reply: `{"agent": "browser", "reason": "needs live prices"}`}, logging.Nop())
	sup = newSupervisor(db, reg, router)

	log := &progressLog{}
	in := input("cari harga iphone 15")
	in.Progress = log
	res := sup.Run(ctx, in)

	if res.Status != models.TaskStatusDone || !res.Success {
		t.Fatalf("Status = %s, errors = %v", res.Status, res.Errors)
	}
	if res.Agent != "browser" || res.RouteReason != "needs live prices" {
		t.Errorf("Agent = %q, RouteReason = %q", res.Agent, res.RouteReason)
	}
	if res.Steps != 3 {
		t.Errorf("Steps = %d, want 3", res.Steps)
	}
	if holdersDuringRun != 1 {
		t.Errorf("browser ran with %d slot holders, want 1", holdersDuringRun)
	}
	if sup.Slot().Holders() != 0 {
		t.Error("slot still held after run")
	}

	if len(res.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(res.Attachments))
	}
	att := res.Attachments[0]
	if att.ID == "" || att.FileType != models.AttachmentScreenshot || att.MimeType != "image/png" || att.FileName != "harga.png" {
		t.Errorf("attachment = %+v", att)
	}
	if att.SizeBytes == nil || *att.SizeBytes != 3 {
		t.Errorf("SizeBytes = %v, want 3", att.SizeBytes)
	}

	task, err := db.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != models.TaskStatusDone || task.Steps != 3 || task.Agent != "browser" {
		t.Errorf("stored task = %+v", task)
	}
	if task.Success == nil || !*task.Success || task.Output == nil || *task.Output != res.Output {
		t.Errorf("stored outcome = success %v output %v", task.Success, task.Output)
	}

	steps, err := db.ListSteps(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("stored %d steps, want 3", len(steps))
	}
	for i, st := range steps {
		if st.Seq != i+1 || st.Actions[0] != fmt.Sprintf("action-%d", i+1) {
			t.Errorf("step %d = %+v", i, st)
		}
	}

	atts, err := db.ListAttachments(ctx, res.TaskID)
	if err != nil || len(atts) != 1 {
		t.Errorf("ListAttachments = %d, %v", len(atts), err)
	}

	status := log.kind(ProgressStatus)
	if len(status) != 2 || status[0].Message != StatusAnalysing || status[1].Message != "Using browser agent..." {
		t.Errorf("status messages = %+v", status)
	}
	stepEvents := log.kind(ProgressStep)
	if len(stepEvents) != 3 || stepEvents[2].Step.Seq != 3 {
		t.Errorf("step events = %+v", stepEvents)
	}

	mems, err := db.GetMemoryContext(ctx, testScope, 5)
	if err != nil {
		t.Fatalf("GetMemoryContext failed: %v", err)
	}
	if len(mems) != 1 || mems[0].Type != models.MemoryTaskResult || mems[0].Source != "browser" || mems[0].TaskID != res.TaskID {
		t.Fatalf("memories = %+v", mems)
	}
	if want := "Task: cari harga iphone 15\nResult: iPhone 15 harganya"; !strings.HasPrefix(mems[0].Content, want) {
		t.Errorf("memory content = %q", mems[0].Content)
	}

	if hist := sup.History().Get(testScope); len(hist) != 2 || hist[0].Content != "cari harga iphone 15" {
		t.Errorf("history = %+v", hist)
	}
	if len(sup.Active()) != 0 {
		t.Error("task still listed as active")
	}
}

func TestSupervisor_ClassifierErrorFallsBackToChat(t *testing.T) {
	db := setupTestDB(t)
	var browserRan atomic.Bool
	browser := &scriptedAgent{name: "browser", exclusive: true, run: func(context.Context, *agent.Request, agent.ProgressFunc) (*agent.Result, error) {
		browserRan.Store(true)
		return &agent.Result{Success: true}, nil
	}}
	reg := newRegistry(t, replyAgent("chat", "Halo! Ada yang bisa dibantu?"), browser)
	router := agent.NewRouter(reg, &fakeClassifier{err: errors.New("api unavailable")}, logging.Nop())
	sup := newSupervisor(db, reg, router)

	res := sup.Run(context.Background(), input("halo"))
	if res.Agent != "chat" || res.Status != models.TaskStatusDone {
		t.Errorf("result = %+v, want chat DONE", res)
	}
	if browserRan.Load() {
		t.Error("browser should not run on classifier failure")
	}
}

func TestSupervisor_InjectsMemoryAndHistory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	if err := db.AddMemory(ctx, &models.MemoryRecord{Scope: testScope, Content: "owner likes coffee", Type: models.MemoryUserNote}); err != nil {
		t.Fatalf("AddMemory failed: %v", err)
	}

	var mu sync.Mutex
	var reqs []*agent.Request
	chat := &scriptedAgent{name: "chat", run: func(_ context.Context, req *agent.Request, _ agent.ProgressFunc) (*agent.Result, error) {
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
		return &agent.Result{Success: true, Output: "ok"}, nil
	}}
	sup := newSupervisor(db, newRegistry(t, chat), fixedRouter{"chat"})

	sup.Run(ctx, input("first"))
	sup.Run(ctx, input("second"))

	if len(reqs) != 2 {
		t.Fatalf("agent ran %d times", len(reqs))
	}
	if !strings.Contains(reqs[0].MemoryDigest, "Context from earlier conversations:") || !strings.Contains(reqs[0].MemoryDigest, "[user_note] owner likes coffee") {
		t.Errorf("digest = %q", reqs[0].MemoryDigest)
	}
	if len(reqs[0].History) != 0 {
		t.Errorf("first request history = %+v", reqs[0].History)
	}
	if len(reqs[1].History) != 2 || reqs[1].History[1].Content != "ok" {
		t.Errorf("second request history = %+v", reqs[1].History)
	}
	if reqs[0].TaskID == "" || reqs[0].Username != "budi" || reqs[0].Scope != testScope {
		t.Errorf("request = %+v", reqs[0])
	}
}

func TestSupervisor_AutosaveThreshold(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sup := newSupervisor(db, newRegistry(t, replyAgent("chat", "exactly twenty chars")), fixedRouter{"chat"})

	sup.Run(ctx, input("short"))
	mems, _ := db.GetMemoryContext(ctx, testScope, 5)
	if len(mems) != 0 {
		t.Errorf("output of 20 chars should not be auto-saved, got %d memories", len(mems))
	}

	long := strings.Repeat("x", 600)
	sup = newSupervisor(db, newRegistry(t, replyAgent("chat", long)), fixedRouter{"chat"})
	sup.Run(ctx, input("long"))
	mems, _ = db.GetMemoryContext(ctx, testScope, 5)
	if len(mems) != 1 {
		t.Fatalf("got %d memories, want 1", len(mems))
	}
	if want := "Task: long\nResult: " + strings.Repeat("x", 400); mems[0].Content != want {
		t.Errorf("memory content length = %d, want %d", len(mems[0].Content), len(want))
	}

	disabled := newSupervisor(db, newRegistry(t, replyAgent("chat", long)), fixedRouter{"chat"}, WithAutosave(-1, 0))
	disabled.Run(ctx, input("again"))
	if mems, _ = db.GetMemoryContext(ctx, testScope, 5); len(mems) != 1 {
		t.Errorf("auto-save disabled but got %d memories", len(mems))
	}
}

func TestSupervisor_AgentErrorFails(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	broken := &scriptedAgent{name: "chat", run: func(context.Context, *agent.Request, agent.ProgressFunc) (*agent.Result, error) {
		return nil, errors.New("engine exploded")
	}}
	sup := newSupervisor(db, newRegistry(t, broken), fixedRouter{"chat"})

	res := sup.Run(ctx, input("x"))
	if res.Status != models.TaskStatusFailed || res.Success {
		t.Errorf("Status = %s, want FAILED", res.Status)
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0], "engine exploded") {
		t.Errorf("Errors = %v", res.Errors)
	}
	task, _ := db.GetTask(ctx, res.TaskID)
	if task.Status != models.TaskStatusFailed {
		t.Errorf("stored status = %s", task.Status)
	}
	if mems, _ := db.GetMemoryContext(ctx, testScope, 5); len(mems) != 0 {
		t.Error("failed task must not be auto-saved")
	}
}

func TestSupervisor_AgentPanicFails(t *testing.T) {
	db := setupTestDB(t)
	panicky := &scriptedAgent{name: "browser", exclusive: true, run: func(context.Context, *agent.Request, agent.ProgressFunc) (*agent.Result, error) {
		panic("nil map write")
	}}
	sup := newSupervisor(db, newRegistry(t, panicky), fixedRouter{"browser"})

	res := sup.Run(context.Background(), input("x"))
	if res.Status != models.TaskStatusFailed || len(res.Errors) == 0 {
		t.Errorf("result = %+v, want FAILED with errors", res)
	}
	if sup.Slot().Holders() != 0 {
		t.Error("slot not released after panic")
	}

	// The slot is usable again.
	ok := newRegistry(t, &scriptedAgent{name: "browser", exclusive: true, run: func(context.Context, *agent.Request, agent.ProgressFunc) (*agent.Result, error) {
		return &agent.Result{Success: true, Output: "fine"}, nil
	}})
	sup2 := newSupervisor(db, ok, fixedRouter{"browser"}, WithSlot(sup.Slot()))
	if res := sup2.Run(context.Background(), input("y")); res.Status != models.TaskStatusDone {
		t.Errorf("after panic Status = %s", res.Status)
	}
}

func TestSupervisor_UnsuccessfulResultGetsErrors(t *testing.T) {
	sup := newSupervisor(setupTestDB(t), newRegistry(t, &scriptedAgent{name: "chat", run: func(context.Context, *agent.Request, agent.ProgressFunc) (*agent.Result, error) {
		return &agent.Result{Success: false, Output: "could not find it"}, nil
	}}), fixedRouter{"chat"})

	res := sup.Run(context.Background(), input("x"))
	if res.Status != models.TaskStatusFailed || len(res.Errors) != 1 || res.Errors[0] != "could not find it" {
		t.Errorf("result = %+v", res)
	}
}

func TestSupervisor_CancelWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	started := make(chan string, 1)
	slow := &scriptedAgent{name: "browser", exclusive: true, run: func(ctx context.Context, req *agent.Request, progress agent.ProgressFunc) (*agent.Result, error) {
		progress(agent.StepEvent{Actions: []string{"open"}})
		started <- req.TaskID
		<-ctx.Done()
		// Completion arrives after the cancel signal.
		return &agent.Result{Success: true, Output: "finished anyway", Steps: 1}, nil
	}}
	sup := newSupervisor(db, newRegistry(t, slow), fixedRouter{"browser"})

	resCh := runAsync(sup, input("cari tiket"))
	id := <-started

	active := sup.Active()
	if len(active) != 1 || active[0].TaskID != id || active[0].Status != models.TaskStatusRunning || active[0].Agent != "browser" {
		t.Errorf("Active = %+v", active)
	}

	ack := sup.Cancel(id)
	if !ack.Found || !ack.Cancelled || ack.Status != models.TaskStatusRunning {
		t.Errorf("ack = %+v", ack)
	}

	res := receive(t, resCh)
	if res.Status != models.TaskStatusCancelled || res.Success {
		t.Errorf("result = %+v, want CANCELLED", res)
	}
	if res.Output != "Task cancelled." || res.Steps != 1 {
		t.Errorf("Output = %q, Steps = %d", res.Output, res.Steps)
	}

	task, err := db.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != models.TaskStatusCancelled {
		t.Errorf("stored status = %s", task.Status)
	}
	if mems, _ := db.GetMemoryContext(ctx, testScope, 5); len(mems) != 0 {
		t.Error("cancelled task must not be auto-saved")
	}
	if len(sup.History().Get(testScope)) != 0 {
		t.Error("cancelled task must not be added to history")
	}

	if again := sup.Cancel(id); again.Cancelled {
		t.Errorf("second cancel = %+v, want no-op", again)
	}
}

func TestSupervisor_CancelDoneTaskIsNoop(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sup := newSupervisor(db, newRegistry(t, replyAgent("chat", "done")), fixedRouter{"chat"})

	res := sup.Run(ctx, input("x"))
	ack := sup.Cancel(res.TaskID)
	if ack.Cancelled || ack.Found {
		t.Errorf("ack = %+v, want not found and not cancelled", ack)
	}
	task, _ := db.GetTask(ctx, res.TaskID)
	if task.Status != models.TaskStatusDone {
		t.Errorf("stored status = %s, want DONE", task.Status)
	}

	if ack := sup.Cancel("no-such-task"); ack.Found || ack.Cancelled {
		t.Errorf("unknown id ack = %+v", ack)
	}
}

func TestSupervisor_CancelWhileQueuedForSlot(t *testing.T) {
	db := setupTestDB(t)
	release := make(chan struct{})
	var runs atomic.Int32
	blocking := &scriptedAgent{name: "browser", exclusive: true, run: func(ctx context.Context, req *agent.Request, _ agent.ProgressFunc) (*agent.Result, error) {
		if runs.Add(1) == 1 {
			<-release
		}
		return &agent.Result{Success: true, Output: "done"}, nil
	}}
	sup := newSupervisor(db, newRegistry(t, blocking), fixedRouter{"browser"})

	first := runAsync(sup, input("first"))
	waitFor(t, func() bool { return runs.Load() == 1 })
	second := runAsync(sup, input("second"))
	waitFor(t, func() bool { return sup.Slot().Waiting() == 1 })

	var queuedID string
	for _, a := range sup.Active() {
		if a.Status == models.TaskStatusPending {
			queuedID = a.TaskID
		}
	}
	if queuedID == "" {
		t.Fatalf("no pending task in %+v", sup.Active())
	}
	if ack := sup.Cancel(queuedID); !ack.Cancelled || ack.Status != models.TaskStatusPending {
		t.Errorf("ack = %+v", ack)
	}

	res := receive(t, second)
	if res.Status != models.TaskStatusCancelled {
		t.Errorf("queued task Status = %s, want CANCELLED", res.Status)
	}
	task, _ := db.GetTask(context.Background(), queuedID)
	if task.Status != models.TaskStatusCancelled {
		t.Errorf("stored status = %s", task.Status)
	}

	close(release)
	if res := receive(t, first); res.Status != models.TaskStatusDone {
		t.Errorf("first Status = %s, want DONE", res.Status)
	}
	if runs.Load() != 1 {
		t.Errorf("agent ran %d times, want 1", runs.Load())
	}
}

func TestSupervisor_AbortGrace(t *testing.T) {
	db := setupTestDB(t)
	started := make(chan string, 1)
	release := make(chan struct{})
	stubborn := &scriptedAgent{name: "browser", exclusive: true, run: func(ctx context.Context, req *agent.Request, progress agent.ProgressFunc) (*agent.Result, error) {
		started <- req.TaskID
		<-release // ignores ctx
		progress(agent.StepEvent{Actions: []string{"late"}})
		return &agent.Result{Success: true, Output: "late"}, nil
	}}
	logPath := filepath.Join(t.TempDir(), "supervisor.log")
	logger, err := logging.New(logging.Options{Path: logPath, Level: "info"})
	if err != nil {
		t.Fatalf("logging.New failed: %v", err)
	}
	defer logger.Close()
	sup := newSupervisor(db, newRegistry(t, stubborn), fixedRouter{"browser"}, WithAbortGrace(50*time.Millisecond), WithLogger(logger))

	resCh := runAsync(sup, input("x"))
	id := <-started
	sup.Cancel(id)

	res := receive(t, resCh)
	if res.Status != models.TaskStatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", res.Status)
	}
	if sup.Slot().Holders() != 1 {
		t.Error("abandoned agent should still hold the slot")
	}

	logged, _ := os.ReadFile(logPath)
	if !strings.Contains(string(logged), "level=ERROR") || !strings.Contains(string(logged), "holds the execution slot") {
		t.Errorf("abandoned slot holder should be logged at error level, log:\n%s", logged)
	}

	close(release)
	waitFor(t, func() bool { return sup.Slot().Holders() == 0 })
	waitFor(t, func() bool {
		logged, _ := os.ReadFile(logPath)
		return strings.Contains(string(logged), "abandoned agent returned")
	})

	steps, _ := db.ListSteps(context.Background(), id)
	if len(steps) != 0 {
		t.Errorf("late step was persisted: %+v", steps)
	}
}

func TestSupervisor_CallerContextCancelled(t *testing.T) {
	sup := newSupervisor(setupTestDB(t), newRegistry(t, &scriptedAgent{name: "chat", run: func(ctx context.Context, _ *agent.Request, _ agent.ProgressFunc) (*agent.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}), fixedRouter{"chat"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(sup.Active()) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	if res := sup.Run(ctx, input("x")); res.Status != models.TaskStatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", res.Status)
	}
}

func TestSupervisor_SlotExclusivity(t *testing.T) {
	db := setupTestDB(t)
	var inside, maxInside atomic.Int32
	browser := &scriptedAgent{name: "browser", exclusive: true, run: func(context.Context, *agent.Request, agent.ProgressFunc) (*agent.Result, error) {
		n := inside.Add(1)
		for {
			m := maxInside.Load()
			if n <= m || maxInside.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inside.Add(-1)
		return &agent.Result{Success: true, Output: "ok"}, nil
	}}
	sup := newSupervisor(db, newRegistry(t, browser), fixedRouter{"browser"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if res := sup.Run(context.Background(), input(fmt.Sprintf("task %d", i))); res.Status != models.TaskStatusDone {
				t.Errorf("task %d Status = %s", i, res.Status)
			}
		}(i)
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("max concurrent browser runs = %d, want 1", maxInside.Load())
	}
}

func TestSupervisor_NonExclusiveRunsConcurrently(t *testing.T) {
	var inside atomic.Int32
	bothIn := make(chan struct{})
	var once sync.Once
	chat := &scriptedAgent{name: "chat", run: func(ctx context.Context, _ *agent.Request, _ agent.ProgressFunc) (*agent.Result, error) {
		if inside.Add(1) == 2 {
			once.Do(func() { close(bothIn) })
		}
		select {
		case <-bothIn:
			return &agent.Result{Success: true, Output: "ok"}, nil
		case <-time.After(3 * time.Second):
			return nil, errors.New("chat runs were serialized")
		}
	}}
	sup := newSupervisor(setupTestDB(t), newRegistry(t, chat), fixedRouter{"chat"})

	a := runAsync(sup, input("a"))
	b := runAsync(sup, input("b"))
	for _, ch := range []<-chan *Result{a, b} {
		if res := receive(t, ch); res.Status != models.TaskStatusDone {
			t.Errorf("Status = %s, errors = %v", res.Status, res.Errors)
		}
	}
}

func TestSupervisor_GapFreeSteps(t *testing.T) {
	db := setupTestDB(t)
	const workers, perWorker = 5, 10
	chatty := &scriptedAgent{name: "browser", exclusive: true, run: func(_ context.Context, _ *agent.Request, progress agent.ProgressFunc) (*agent.Result, error) {
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					progress(agent.StepEvent{Actions: []string{fmt.Sprintf("w%d-%d", w, i)}, Seq: 99})
					if i == 3 {
						progress(agent.StepEvent{Message: "notice"})
					}
				}
			}(w)
		}
		wg.Wait()
		return &agent.Result{Success: true, Output: "ok"}, nil
	}}
	sup := newSupervisor(db, newRegistry(t, chatty), fixedRouter{"browser"})

	log := &progressLog{}
	in := input("x")
	in.Progress = log
	res := sup.Run(context.Background(), in)

	total := workers * perWorker
	if res.Steps != total {
		t.Errorf("Steps = %d, want %d", res.Steps, total)
	}
	events := log.kind(ProgressStep)
	if len(events) != total {
		t.Fatalf("forwarded %d steps, want %d", len(events), total)
	}
	for i, ev := range events {
		if ev.Step.Seq != i+1 {
			t.Fatalf("forwarded seq %d at position %d", ev.Step.Seq, i)
		}
	}
	if n := len(log.kind(ProgressNotice)); n != workers {
		t.Errorf("forwarded %d notices, want %d", n, workers)
	}

	steps, err := db.ListSteps(context.Background(), res.TaskID)
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	seqs := make([]int, len(steps))
	for i, st := range steps {
		seqs[i] = st.Seq
	}
	sort.Ints(seqs)
	for i, s := range seqs {
		if s != i+1 {
			t.Fatalf("stored seqs = %v, want 1..%d", seqs, total)
		}
	}
	task, _ := db.GetTask(context.Background(), res.TaskID)
	if task.Steps != total {
		t.Errorf("stored steps = %d, want %d", task.Steps, total)
	}
}

func TestSupervisor_PersistenceFailureUsesEphemeralID(t *testing.T) {
	db := setupTestDB(t)
	db.Close() // every store call now fails

	sup := newSupervisor(db, newRegistry(t, &scriptedAgent{name: "chat", run: func(_ context.Context, _ *agent.Request, progress agent.ProgressFunc) (*agent.Result, error) {
		progress(agent.StepEvent{Actions: []string{"think"}})
		return &agent.Result{Success: true, Output: "still answered the question"}, nil
	}}), fixedRouter{"chat"})

	res := sup.Run(context.Background(), input("x"))
	if !res.Ephemeral || !IsEphemeral(res.TaskID) {
		t.Errorf("TaskID = %q, want ephemeral", res.TaskID)
	}
	if res.Status != models.TaskStatusDone || res.Output != "still answered the question" {
		t.Errorf("result = %+v", res)
	}
	if len(sup.History().Get(testScope)) != 2 {
		t.Error("history should still be updated")
	}
}

func TestSupervisor_NoStore(t *testing.T) {
	sup := New(RequiredConfig{Registry: newRegistry(t, replyAgent("chat", "ok")), Router: fixedRouter{"chat"}})
	res := sup.Run(context.Background(), input("x"))
	if !res.Ephemeral || res.Status != models.TaskStatusDone {
		t.Errorf("result = %+v", res)
	}
}

func TestSupervisor_UnknownAgentFails(t *testing.T) {
	sup := newSupervisor(setupTestDB(t), agent.NewRegistry(), fixedRouter{"chat"})
	res := sup.Run(context.Background(), input("x"))
	if res.Status != models.TaskStatusFailed || len(res.Errors) == 0 {
		t.Errorf("result = %+v, want FAILED", res)
	}
}

// panickingMemoryStore is a working store whose memory lookup panics.
type panickingMemoryStore struct {
	Store
}

func (panickingMemoryStore) FormatMemoryForPrompt(context.Context, models.Scope, int) (string, error) {
	panic("driver bug")
}

func TestSupervisor_MemoryPanicIsContained(t *testing.T) {
	var seen string
	chat := &scriptedAgent{name: "chat", run: func(_ context.Context, req *agent.Request, _ agent.ProgressFunc) (*agent.Result, error) {
		seen = req.MemoryDigest
		return &agent.Result{Success: true, Output: "ok"}, nil
	}}
	sup := newSupervisor(panickingMemoryStore{setupTestDB(t)}, newRegistry(t, chat), fixedRouter{"chat"})

	res := sup.Run(context.Background(), input("x"))
	if res.Status != models.TaskStatusDone {
		t.Errorf("Status = %s, want DONE", res.Status)
	}
	if seen != "" {
		t.Errorf("MemoryDigest = %q, want empty", seen)
	}
}

func TestSupervisor_SinkPanicIsContained(t *testing.T) {
	sup := newSupervisor(setupTestDB(t), newRegistry(t, replyAgent("chat", "ok")), fixedRouter{"chat"})
	in := input("x")
	in.Progress = ProgressFunc(func(Progress) { panic("renderer bug") })
	if res := sup.Run(context.Background(), in); res.Status != models.TaskStatusDone {
		t.Errorf("Status = %s, want DONE", res.Status)
	}
}

func TestSupervisor_PublishesLifecycleEvents(t *testing.T) {
	emitter := NewEventEmitter(64, logging.Nop())
	stepper := &scriptedAgent{name: "browser", exclusive: true, run: func(_ context.Context, _ *agent.Request, progress agent.ProgressFunc) (*agent.Result, error) {
		progress(agent.StepEvent{Actions: []string{"open"}})
		return &agent.Result{Success: true, Output: "ok"}, nil
	}}
	sup := newSupervisor(setupTestDB(t), newRegistry(t, stepper), fixedRouter{"browser"}, WithEvents(emitter))

	res := sup.Run(context.Background(), input("x"))
	emitter.Close()

	var types []EventType
	for ev := range emitter.Events() {
		if ev.TaskID != res.TaskID {
			t.Errorf("event for wrong task: %+v", ev)
		}
		types = append(types, ev.Type)
	}
	want := []EventType{EventTaskCreated, EventTaskRouted, EventTaskStarted, EventTaskStep, EventTaskCompleted}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", types, want)
	}
}

func TestSupervisor_ClearHistory(t *testing.T) {
	sup := newSupervisor(setupTestDB(t), newRegistry(t, replyAgent("chat", "ok")), fixedRouter{"chat"})
	sup.Run(context.Background(), input("x"))
	if n := sup.ClearHistory(testScope); n != 2 {
		t.Errorf("ClearHistory = %d, want 2", n)
	}
	if n := sup.ClearHistory(testScope); n != 0 {
		t.Errorf("second ClearHistory = %d, want 0", n)
	}
}
