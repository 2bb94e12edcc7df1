// Package worker polls the durable job_run table and dispatches claimed jobs
// to registered handlers. Several claim loops run in parallel so distinct
// documents process concurrently; per-document exclusivity is enforced
// upstream by admission control on the document status, not here.
package worker

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/docmesh/graphrag-backend/internal/data/repos"
	"github.com/docmesh/graphrag-backend/internal/jobs/runtime"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	"github.com/docmesh/graphrag-backend/internal/platform/envutil"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/services"
)

type Worker struct {
	db          *gorm.DB
	log         *logger.Logger
	repo        repos.JobRunRepo
	registry    *runtime.Registry
	notify      services.JobNotifier
	concurrency int
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, notify services.JobNotifier) *Worker {
	return &Worker{
		db:          db,
		log:         baseLog.With("component", "JobWorker"),
		repo:        repo,
		registry:    registry,
		notify:      notify,
		concurrency: envutil.Int("WORKER_CONCURRENCY", 4),
	}
}

func (w *Worker) Start(ctx context.Context) {
	n := w.concurrency
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go w.loop(ctx, i)
	}
}

func (w *Worker) loop(ctx context.Context, slot int) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	maxAttempts := envutil.Int("JOB_MAX_ATTEMPTS", 3)
	retryDelay := time.Duration(envutil.Int("JOB_RETRY_DELAY_SECONDS", 30)) * time.Second
	staleRunning := time.Duration(envutil.Int("JOB_STALE_RUNNING_SECONDS", 120)) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, maxAttempts, retryDelay, staleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "slot", slot, "error", err)
				continue
			}
			if job == nil {
				continue
			}

			h, ok := w.registry.Get(job.JobType)
			if !ok {
				w.log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
				jc := runtime.NewContext(ctx, w.db, job, w.repo, w.notify)
				jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
				continue
			}

			jc := runtime.NewContext(ctx, w.db, job, w.repo, w.notify)
			// If the handler panics, mark the run failed instead of losing it.
			func() {
				defer func() {
					if r := recover(); r != nil {
						w.log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
						jc.Fail("panic", errFromRecover(r))
					}
				}()

				_ = h.Run(jc)
			}()
		}
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

func errFromRecover(v any) error {
	return &panicError{Val: v}
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return "panic: unexpected error" }
