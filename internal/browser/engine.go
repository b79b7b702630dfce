package browser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/mybrowse/internal/logging"
)

// ErrNoResult is returned when the engine exits without reporting a result.
var ErrNoResult = errors.New("navigation engine exited without a result")

// maxStderr bounds how much engine stderr is kept for error messages.
const maxStderr = 8 * 1024

// EngineConfig configures the subprocess engine.
type EngineConfig struct {
	// Command is the engine executable.
	Command string
	// Args are passed to Command before any request data.
	Args []string
	// Env is appended to the current environment.
	Env []string
	// Dir is the working directory, empty for the current one.
	Dir string
	// KillDelay bounds how long Navigate waits for pipes after the process is killed.
	KillDelay time.Duration
}

// Engine is a Navigator that runs an external command speaking JSON lines.
//
// The request is written to the engine's stdin as one JSON object. The engine writes
// one JSON object per line to stdout, tagged by "type": step, attachment, result or error.
// Lines that are not JSON are logged and ignored.
type Engine struct {
	cfg    EngineConfig
	logger *logging.Logger
}

// NewEngine creates a subprocess engine.
func NewEngine(cfg EngineConfig, logger *logging.Logger) *Engine {
	if cfg.KillDelay <= 0 {
		cfg.KillDelay = 5 * time.Second
	}
	return &Engine{cfg: cfg, logger: logger.With("component", "browser")}
}

// Navigate implements Navigator. The process is killed when ctx is cancelled.
func (e *Engine) Navigate(ctx context.Context, req NavigateRequest, onStep func(StepEvent)) (*Outcome, error) {
	if e.cfg.Command == "" {
		return nil, errors.New("navigation engine command not configured")
	}
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.cfg.Command, e.cfg.Args...)
	cmd.Dir = e.cfg.Dir
	cmd.Env = append(os.Environ(), e.cfg.Env...)
	cmd.Stdin = bytes.NewReader(append(input, '\n'))
	cmd.WaitDelay = e.cfg.KillDelay

	stderr := &tailBuffer{max: maxStderr}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	e.logger.Debug("engine started", "pid", cmd.Process.Pid, "command", e.cfg.Command)

	done := make(chan readResult, 1)
	go func() { done <- e.readOutput(stdout, onStep) }()

	var res readResult
	select {
	case res = <-done:
	case <-ctx.Done():
		// Wait kills the process and, after KillDelay, closes the pipe under a
		// reader blocked on an orphaned child.
		cmd.Wait()
		<-done
		return nil, ctx.Err()
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if res.engErr != nil {
		return nil, res.engErr
	}
	if res.scanErr != nil {
		return nil, fmt.Errorf("read engine output: %w", res.scanErr)
	}
	if res.outcome == nil {
		if waitErr != nil {
			return nil, fmt.Errorf("engine exited: %w%s", waitErr, stderr.suffix())
		}
		return nil, fmt.Errorf("%w%s", ErrNoResult, stderr.suffix())
	}
	if waitErr != nil {
		e.logger.Warn("engine exited with error after result", "error", waitErr)
	}
	return res.outcome, nil
}

type readResult struct {
	outcome *Outcome
	engErr  error
	scanErr error
}

// readOutput parses engine stdout until EOF.
func (e *Engine) readOutput(r io.Reader, onStep func(StepEvent)) readResult {
	var (
		res      readResult
		steps    int
		attached []string
	)

	scanner := bufio.NewScanner(r)
	// Increase buffer size for large JSON objects
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := parseMessage(line)
		if err != nil {
			e.logger.Debug("ignoring engine output", "line", truncate(string(line), 200))
			continue
		}

		switch msg.Type {
		case MessageStep:
			steps++
			ev := msg.StepEvent
			if ev.Step <= 0 {
				ev.Step = steps
			}
			if onStep != nil {
				onStep(ev)
			}
		case MessageAttachment:
			if msg.Path != "" {
				attached = append(attached, msg.Path)
			}
		case MessageResult:
			res.outcome = &Outcome{
				Success:     msg.Success == nil || *msg.Success,
				Output:      msg.Output,
				Attachments: append(attached, msg.Attachments...),
				Steps:       max(msg.Steps, steps),
			}
		case MessageError:
			res.engErr = fmt.Errorf("engine error: %s", msg.Error)
		default:
			e.logger.Debug("unknown engine message", "type", msg.Type)
		}
	}
	res.scanErr = scanner.Err()
	return res
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

// suffix formats the captured stderr for an error message.
func (t *tailBuffer) suffix() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := strings.TrimSpace(string(t.buf))
	if s == "" {
		return ""
	}
	return "; stderr: " + s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Navigator = (*Engine)(nil)
