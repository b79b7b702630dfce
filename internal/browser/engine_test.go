package browser

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/mybrowse/internal/logging"
)

// scriptEngine writes a shell script into a temp dir and returns an engine that runs it.
func scriptEngine(t *testing.T, script string) *Engine {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script failed: %v", err)
	}
	return NewEngine(EngineConfig{Command: "sh", Args: []string{path}, KillDelay: time.Second}, logging.Nop())
}

func TestEngine_StepsAndResult(t *testing.T) {
	e := scriptEngine(t, `
read request
echo "starting up"
echo '{"type":"step","actions":["open"],"next_goal":"search","url":"https://example.com"}'
echo '{"type":"step","actions":["type","submit"],"next_goal":"read prices"}'
echo '{"type":"attachment","path":"/tmp/shot-1.png"}'
echo '{"type":"result","output":"iPhone 15: Rp 13.999.000","attachments":["/tmp/prices.csv"]}'
`)

	var steps []StepEvent
	out, err := e.Navigate(context.Background(), NavigateRequest{Task: "cari harga iphone"}, func(ev StepEvent) {
		steps = append(steps, ev)
	})
	if err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}

	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if steps[0].Step != 1 || steps[1].Step != 2 {
		t.Errorf("step numbers = %d, %d", steps[0].Step, steps[1].Step)
	}
	if steps[0].URL != "https://example.com" || steps[1].Actions[1] != "submit" {
		t.Errorf("unexpected step payloads: %+v", steps)
	}

	if !out.Success {
		t.Error("result without success field should count as success")
	}
	if out.Output != "iPhone 15: Rp 13.999.000" {
		t.Errorf("Output = %q", out.Output)
	}
	if out.Steps != 2 {
		t.Errorf("Steps = %d, want 2", out.Steps)
	}
	want := []string{"/tmp/shot-1.png", "/tmp/prices.csv"}
	if strings.Join(out.Attachments, ",") != strings.Join(want, ",") {
		t.Errorf("Attachments = %v, want %v", out.Attachments, want)
	}
}

func TestEngine_ReceivesRequest(t *testing.T) {
	e := scriptEngine(t, `
read request
case "$request" in
  *'"task":"buka google"'*) echo '{"type":"result","output":"ok"}' ;;
  *) echo '{"type":"error","error":"bad request"}' ;;
esac
`)

	out, err := e.Navigate(context.Background(), NavigateRequest{Task: "buka google", Headless: true}, nil)
	if err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if out.Output != "ok" {
		t.Errorf("Output = %q", out.Output)
	}
}

func TestEngine_ExplicitFailure(t *testing.T) {
	e := scriptEngine(t, `echo '{"type":"result","success":false,"output":"captcha"}'`)

	out, err := e.Navigate(context.Background(), NavigateRequest{Task: "x"}, nil)
	if err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if out.Success {
		t.Error("explicit success=false should be reported")
	}
}

func TestEngine_ErrorMessage(t *testing.T) {
	e := scriptEngine(t, `echo '{"type":"error","error":"browser crashed"}'`)

	_, err := e.Navigate(context.Background(), NavigateRequest{Task: "x"}, nil)
	if err == nil || !strings.Contains(err.Error(), "browser crashed") {
		t.Errorf("error = %v, want engine error", err)
	}
}

func TestEngine_NoResult(t *testing.T) {
	e := scriptEngine(t, `echo "chromium missing" >&2; exit 3`)

	_, err := e.Navigate(context.Background(), NavigateRequest{Task: "x"}, nil)
	if err == nil {
		t.Fatal("expected error when engine exits without result")
	}
	if !strings.Contains(err.Error(), "chromium missing") {
		t.Errorf("error should include stderr, got %v", err)
	}

	e = scriptEngine(t, `exit 0`)
	if _, err := e.Navigate(context.Background(), NavigateRequest{Task: "x"}, nil); !errors.Is(err, ErrNoResult) {
		t.Errorf("error = %v, want ErrNoResult", err)
	}
}

func TestEngine_CancelKillsProcess(t *testing.T) {
	e := scriptEngine(t, `
echo '{"type":"step","actions":["open"]}'
exec sleep 30
`)

	ctx, cancel := context.WithCancel(context.Background())
	stepped := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		_, err := e.Navigate(ctx, NavigateRequest{Task: "x"}, func(StepEvent) { stepped <- struct{}{} })
		done <- err
	}()

	select {
	case <-stepped:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never reported a step")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Navigate did not return after cancel")
	}
}

func TestEngine_NoCommand(t *testing.T) {
	e := NewEngine(EngineConfig{}, nil)
	if _, err := e.Navigate(context.Background(), NavigateRequest{}, nil); err == nil {
		t.Error("expected error for missing command")
	}
}
