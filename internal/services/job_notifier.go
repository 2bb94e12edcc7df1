package services

import (
	"context"

	"github.com/google/uuid"

	redisbus "github.com/docmesh/graphrag-backend/internal/clients/redis"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

// JobNotifier is the push side of progress reporting. Status polling reads
// Postgres; the notifier mirrors transitions onto the Redis jobs channel for
// consumers that want events instead of polling.
type JobNotifier interface {
	JobProgress(ownerUserID uuid.UUID, job *types.JobRun, stage string, pct int, msg string)
	JobFailed(ownerUserID uuid.UUID, job *types.JobRun, stage string, errMsg string)
	JobDone(ownerUserID uuid.UUID, job *types.JobRun)
}

type redisJobNotifier struct {
	log *logger.Logger
	bus redisbus.JobsBus
}

func NewRedisJobNotifier(baseLog *logger.Logger, bus redisbus.JobsBus) JobNotifier {
	return &redisJobNotifier{
		log: baseLog.With("service", "JobNotifier"),
		bus: bus,
	}
}

func (n *redisJobNotifier) publish(job *types.JobRun, status string, stage string, pct int, msg string) {
	if n.bus == nil || job == nil {
		return
	}
	documentID := uuid.Nil
	if job.EntityID != nil {
		documentID = *job.EntityID
	}
	ev := redisbus.JobEvent{
		JobID:      job.ID,
		DocumentID: documentID,
		Status:     status,
		Progress:   pct,
		Stage:      stage,
		Message:    msg,
	}
	if err := n.bus.Publish(context.Background(), ev); err != nil {
		n.log.Warn("Failed to publish job event", "job_id", job.ID, "error", err)
	}
}

func (n *redisJobNotifier) JobProgress(ownerUserID uuid.UUID, job *types.JobRun, stage string, pct int, msg string) {
	n.publish(job, "running", stage, pct, msg)
}

func (n *redisJobNotifier) JobFailed(ownerUserID uuid.UUID, job *types.JobRun, stage string, errMsg string) {
	n.publish(job, "failed", stage, job.Progress, errMsg)
}

func (n *redisJobNotifier) JobDone(ownerUserID uuid.UUID, job *types.JobRun) {
	n.publish(job, "succeeded", job.Stage, 100, "")
}

// NoopJobNotifier keeps single-process deployments working without Redis.
type NoopJobNotifier struct{}

func (NoopJobNotifier) JobProgress(uuid.UUID, *types.JobRun, string, int, string) {}
func (NoopJobNotifier) JobFailed(uuid.UUID, *types.JobRun, string, string)        {}
func (NoopJobNotifier) JobDone(uuid.UUID, *types.JobRun)                          {}
