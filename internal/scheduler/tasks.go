package scheduler

import (
	"context"
	"encoding/json"

	"github.com/fleetsync/inventory/internal/audit"
	"github.com/fleetsync/inventory/internal/health"
	"github.com/fleetsync/inventory/internal/localstore"
	"github.com/fleetsync/inventory/internal/logging"
	"github.com/fleetsync/inventory/pkg/api"
)

const msgInterrupted = "agent stopped while the task was running"

// fetchTasks mirrors the server's pending tasks into the local queue and
// reports Downloaded for each task seen for the first time.
func (s *Scheduler) fetchTasks(ctx context.Context) {
	uuid := s.EndpointUUID()
	if uuid == "" {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	q, ok := s.taskQueue()
	if !ok {
		return
	}
	tasks, err := s.opts.Server.FetchTasks(fetchCtx, uuid)
	if err != nil {
		log.Warn("task fetch failed", "error", err)
		s.health.Update(CheckServer, health.Degraded, err.Error())
		return
	}
	for _, t := range tasks {
		added, err := q.Enqueue(ctx, t)
		if err != nil {
			log.Error("failed to enqueue task", logging.KeyTaskID, t.ID, "error", err)
			s.health.Update(CheckQueue, health.Unhealthy, err.Error())
			continue
		}
		if !added {
			continue
		}
		s.health.Update(CheckQueue, health.Healthy, "")
		s.opts.Audit.Log(audit.EventTaskReceived, t.ID, nil)

		downloaded := s.now().UTC()
		s.report(ctx, uuid, api.TaskUpdate{ID: t.ID, TaskStatus: api.TaskDownloaded, TimeDownloaded: &downloaded})
	}
}

// runTasks claims every due task and starts it on its own goroutine, so a
// hung task holds back neither later tasks nor later ticks. Nothing runs
// until interrupted tasks from a previous process have been failed. A task
// rejected during shutdown is released and stays Downloaded.
func (s *Scheduler) runTasks(ctx context.Context) {
	if !s.recovered.Load() {
		log.Debug("interrupted tasks not recovered yet, skipping task run")
		return
	}
	q, ok := s.taskQueue()
	if !ok {
		return
	}
	entries, err := q.Pending(ctx, s.now())
	if err != nil {
		log.Error("failed to read local task queue", "error", err)
		s.health.Update(CheckQueue, health.Unhealthy, err.Error())
		return
	}
	for _, e := range entries {
		claimed, err := q.Claim(ctx, e.ID)
		if err != nil {
			log.Error("failed to claim task", logging.KeyTaskID, e.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		entry := e
		if !s.pool.Submit(func() { s.execute(q, entry) }) {
			s.opts.Audit.Log(audit.EventTaskRejected, entry.ID, nil)
			if err := q.Release(ctx, entry.ID); err != nil {
				log.Error("failed to release rejected task", logging.KeyTaskID, entry.ID, "error", err)
			}
		}
	}
}

// execute runs one claimed task to its single terminal report.
func (s *Scheduler) execute(q *localstore.Queue, e localstore.Entry) {
	ctx := context.Background()
	uuid := s.EndpointUUID()
	tlog := logging.WithTask(log, e.ID, e.Name)

	s.opts.Audit.Log(audit.EventTaskStarted, e.ID, map[string]any{"name": e.Name})
	s.report(ctx, uuid, api.TaskUpdate{ID: e.ID, TaskStatus: api.TaskRunning})

	out := s.opts.Runner.Execute(ctx, e.ID, e.Task)
	if err := q.Finish(ctx, e.ID, out.Status, out.Result); err != nil {
		tlog.Error("failed to record task outcome locally", "error", err)
	}
	tlog.Info("task finished", "status", out.Status.String(), logging.KeyDurationMs, out.DurationMs)

	details := map[string]any{"name": e.Name, "status": out.Status.String()}
	if msg := out.Error(); msg != "" {
		details["error"] = msg
	}
	s.opts.Audit.Log(audit.EventTaskExecuted, e.ID, details)
	if e.Name == api.TaskDeleteUserProfile && out.Status == api.TaskSuccessful {
		s.opts.Audit.Log(audit.EventProfileDeleted, e.ID, nil)
	}

	s.report(ctx, uuid, api.TaskUpdate{ID: e.ID, TaskStatus: out.Status, TaskResult: out.Result})
}

// recoverInterrupted fails tasks a previous process left Running. Each gets
// its one terminal report here since its executor is gone. It runs after
// registration so the reports have an endpoint to go to, and reports
// whether the queue could be read.
func (s *Scheduler) recoverInterrupted(ctx context.Context) bool {
	q, ok := s.taskQueue()
	if !ok {
		return false
	}
	entries, err := q.Interrupted(ctx)
	if err != nil {
		log.Error("failed to read interrupted tasks", "error", err)
		return false
	}
	result, _ := json.Marshal(api.TaskResult{Error: msgInterrupted})
	for _, e := range entries {
		if err := q.Finish(ctx, e.ID, api.TaskFailed, result); err != nil {
			log.Error("failed to fail interrupted task", logging.KeyTaskID, e.ID, "error", err)
			continue
		}
		log.Warn("task interrupted by agent restart", logging.KeyTaskID, e.ID, logging.KeyTaskName, e.Name)
		s.opts.Audit.Log(audit.EventTaskExecuted, e.ID, map[string]any{"name": e.Name, "status": api.TaskFailed.String(), "error": msgInterrupted})
		s.report(ctx, s.EndpointUUID(), api.TaskUpdate{ID: e.ID, TaskStatus: api.TaskFailed, TaskResult: result})
	}
	return true
}

// report sends one status update. It is never retried: a lost report is
// logged and the server keeps its previous state.
func (s *Scheduler) report(ctx context.Context, uuid string, update api.TaskUpdate) {
	if uuid == "" {
		log.Warn("cannot report task status before registration", logging.KeyTaskID, update.ID)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	if err := s.opts.Server.ReportTask(ctx, uuid, update); err != nil {
		log.Warn("task status report failed", logging.KeyTaskID, update.ID, "status", update.TaskStatus.String(), "error", err)
		return
	}
	log.Debug("task status reported", logging.KeyTaskID, update.ID, "status", update.TaskStatus.String())
}
