package orchestrator

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// bestEffort runs one persistence call. Failures are logged and swallowed.
// It reports whether fn succeeded.
func (s *Supervisor) bestEffort(ctx context.Context, op string, fn func(ctx context.Context) error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("persistence call panicked", "op", op, "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	if err := fn(ctx); err != nil {
		s.logger.Warn("persistence call failed", "op", op, "error", err)
		return false
	}
	return true
}

// stepWriter persists step records for one task in sequence order on its own
// goroutine, so a slow store never blocks the agent.
type stepWriter struct {
	write  func(*models.StepRecord)
	mu     sync.Mutex
	queue  []*models.StepRecord
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newStepWriter(write func(*models.StepRecord)) *stepWriter {
	w := &stepWriter{
		write: write,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// enqueue adds a record. Records are written in enqueue order.
func (w *stepWriter) enqueue(rec *models.StepRecord) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, rec)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// close stops accepting records and waits until queued ones are written.
func (w *stepWriter) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	w.mu.Unlock()
	<-w.done
}

func (w *stepWriter) loop() {
	defer close(w.done)
	for range w.wake {
		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				closed := w.closed
				w.mu.Unlock()
				if closed {
					return
				}
				break
			}
			rec := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()

			w.write(rec)
		}
	}
}

var screenshotExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// attachmentFor derives attachment metadata from a file path.
func attachmentFor(taskID, path string, logger *logging.Logger) models.Attachment {
	ext := strings.ToLower(filepath.Ext(path))
	a := models.Attachment{
		TaskID:   taskID,
		FileName: filepath.Base(path),
		FilePath: path,
		FileType: models.AttachmentFile,
	}
	if screenshotExts[ext] {
		a.FileType = models.AttachmentScreenshot
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if i := strings.Index(mt, ";"); i >= 0 {
			mt = mt[:i]
		}
		a.MimeType = mt
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		size := info.Size()
		a.SizeBytes = &size
	} else if err != nil {
		logger.Debug("attachment not readable", "path", path, "error", err)
	}
	return a
}
