package main

import (
	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/internal/orchestrator"
)

// lifecycleBuffer is the in-process event buffer between the supervisor and the log.
const lifecycleBuffer = 256

// logLifecycle writes every lifecycle event to the log until events is closed.
// Step events go to debug so a long browser run does not flood the info level.
func logLifecycle(events <-chan orchestrator.Event, logger *logging.Logger) {
	for ev := range events {
		args := []any{"type", string(ev.Type), "task_id", ev.TaskID, "scope", ev.Scope.String()}
		if ev.Agent != "" {
			args = append(args, "agent", ev.Agent)
		}
		switch ev.Type {
		case orchestrator.EventTaskStep:
			if ev.Step != nil {
				args = append(args, "seq", ev.Step.Seq)
			}
			logger.Debug("task event", args...)
		case orchestrator.EventTaskCompleted, orchestrator.EventTaskFailed, orchestrator.EventTaskCancelled:
			logger.Info("task event", append(args, "status", string(ev.Status), "steps", ev.Steps)...)
		default:
			logger.Info("task event", args...)
		}
	}
}
