package channel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/mybrowse/internal/agent"
	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/internal/orchestrator"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// fakeRunner replays progress and returns a canned result.
type fakeRunner struct {
	inputs    []orchestrator.Input
	progress  []orchestrator.Progress
	result    *orchestrator.Result
	cancelled []string
}

func (f *fakeRunner) Run(_ context.Context, in orchestrator.Input) *orchestrator.Result {
	f.inputs = append(f.inputs, in)
	for _, p := range f.progress {
		if in.Progress != nil {
			in.Progress.OnProgress(p)
		}
	}
	return f.result
}

func (f *fakeRunner) Cancel(id string) orchestrator.CancelAck {
	f.cancelled = append(f.cancelled, id)
	return orchestrator.CancelAck{TaskID: id, Found: true, Cancelled: true, Status: models.TaskStatusRunning}
}

type fakeMarker struct {
	marked []string
	err    error
}

func (f *fakeMarker) MarkAttachmentDelivered(_ context.Context, id string) error {
	f.marked = append(f.marked, id)
	return f.err
}

func doneResult() *orchestrator.Result {
	return &orchestrator.Result{
		TaskID:  "t1",
		Status:  models.TaskStatusDone,
		Success: true,
		Agent:   "browser",
		Steps:   2,
		Output:  "Harga terendah Rp 13.999.000",
		Attachments: []models.Attachment{
			{ID: "a1", FilePath: "/tmp/shot1.png"},
			{ID: "a2", FilePath: "/tmp/shot2.png"},
		},
	}
}

func TestHandler_HandleMessage(t *testing.T) {
	runner := &fakeRunner{result: doneResult()}
	h := NewHandler(runner, nil, logging.Nop())

	res := h.HandleMessage(context.Background(), Message{Channel: ChannelCLI, ChannelID: "local", Username: "budi", Text: "  cari harga  "})
	if res == nil || res.TaskID != "t1" {
		t.Fatalf("result = %+v", res)
	}
	in := runner.inputs[0]
	if in.Task != "cari harga" || in.Channel != ChannelCLI || in.ChannelID != "local" || in.Username != "budi" {
		t.Errorf("input = %+v", in)
	}

	if res := h.HandleMessage(context.Background(), Message{Text: " \n"}); res != nil {
		t.Errorf("blank message result = %+v, want nil", res)
	}
	if len(runner.inputs) != 1 {
		t.Error("blank message reached the runner")
	}
}

func TestHandler_Deliver(t *testing.T) {
	marker := &fakeMarker{}
	h := NewHandler(&fakeRunner{}, marker, logging.Nop())
	res := doneResult()

	var sent []string
	n := h.Deliver(context.Background(), res, func(_ context.Context, att models.Attachment) error {
		if att.ID == "a2" {
			return errors.New("upload failed")
		}
		sent = append(sent, att.FilePath)
		return nil
	})
	if n != 1 || len(sent) != 1 || sent[0] != "/tmp/shot1.png" {
		t.Errorf("sent %d: %v", n, sent)
	}
	if len(marker.marked) != 1 || marker.marked[0] != "a1" {
		t.Errorf("marked = %v, want [a1]", marker.marked)
	}

	// Ephemeral results are never marked.
	marker.marked = nil
	res.Ephemeral = true
	h.Deliver(context.Background(), res, func(context.Context, models.Attachment) error { return nil })
	if len(marker.marked) != 0 {
		t.Errorf("marked ephemeral attachments: %v", marker.marked)
	}

	if n := h.Deliver(context.Background(), nil, nil); n != 0 {
		t.Errorf("Deliver(nil) = %d", n)
	}
}

func TestHandler_Cancel(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandler(runner, nil, logging.Nop())
	if ack := h.Cancel("t9"); !ack.Cancelled || runner.cancelled[0] != "t9" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestCLI_Run(t *testing.T) {
	color.NoColor = true
	runner := &fakeRunner{
		result: doneResult(),
		progress: []orchestrator.Progress{
			{Kind: orchestrator.ProgressStatus, Message: orchestrator.StatusAnalysing},
			{Kind: orchestrator.ProgressNotice, Message: "[chat] Aria is thinking..."},
			{Kind: orchestrator.ProgressStep, Step: agent.StepEvent{Seq: 1, Actions: []string{"go_to_url"}, NextGoal: "open tokopedia", URL: "https://tokopedia.com"}},
		},
	}
	marker := &fakeMarker{}
	var out bytes.Buffer
	cli := NewCLI(NewHandler(runner, marker, logging.Nop()), &out, "", "budi")

	res := cli.Run(context.Background(), "cari harga iphone")
	if res == nil {
		t.Fatal("Run returned nil")
	}
	if cli.Scope() != (models.Scope{Channel: ChannelCLI, ChannelID: "local"}) {
		t.Errorf("Scope = %+v", cli.Scope())
	}

	got := out.String()
	for _, want := range []string{
		"› Analysing task...",
		"[chat] Aria is thinking...",
		"[step 1] go_to_url -> open tokopedia (https://tokopedia.com)",
		"Status: Done",
		"Harga terendah Rp 13.999.000",
		"task t1",
		"attachment: /tmp/shot1.png",
		"attachment: /tmp/shot2.png",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if len(marker.marked) != 2 {
		t.Errorf("marked = %v, want 2 attachments", marker.marked)
	}
}

func TestFormatStep(t *testing.T) {
	p := orchestrator.Progress{Kind: orchestrator.ProgressStep, Step: agent.StepEvent{Seq: 4}}
	if got := FormatStep(p); got != "  [step 4]" {
		t.Errorf("FormatStep = %q", got)
	}
}

func TestNewResultMessage(t *testing.T) {
	res := doneResult()
	scope := models.Scope{Channel: ChannelNATS, ChannelID: "room-1"}
	msg := NewResultMessage(scope, res)
	if msg.TaskID != "t1" || msg.Scope != scope || msg.Status != models.TaskStatusDone || len(msg.Attachments) != 2 {
		t.Errorf("message = %+v", msg)
	}
	if msg.Text != res.Format() {
		t.Errorf("Text = %q", msg.Text)
	}
}

func TestNATS_DrainWaitsAndRefusesNewWork(t *testing.T) {
	n := NewNATS(nil, nil, logging.Nop())

	release := make(chan struct{})
	var finished atomic.Bool
	if !n.track(func() {
		<-release
		finished.Store(true)
	}) {
		t.Fatal("track refused work before drain")
	}

	drained := make(chan struct{})
	go func() {
		n.drain()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("drain returned while a task was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not return")
	}
	if !finished.Load() {
		t.Error("tracked task did not finish before drain returned")
	}

	if n.track(func() { t.Error("work ran after drain") }) {
		t.Error("track accepted work after drain")
	}
}
