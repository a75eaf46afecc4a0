package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinrecs/clinical-records-api/internal/models"
	"github.com/clinrecs/clinical-records-api/pkg/config"
	"github.com/clinrecs/clinical-records-api/pkg/jobs"
)

// AuditStore persists audit trail records.
type AuditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditService writes the audit trail asynchronously so workflow latency is
// never coupled to audit persistence. Records are best-effort: a failed write
// is retried by the queue and eventually logged, never surfaced to the caller.
type AuditService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService builds the audit writer over an in-memory worker queue.
func NewAuditService(store AuditStore, cfg config.AuditConfig, logger *zap.Logger) *AuditService {
	handler := func(ctx context.Context, job jobs.Job) error {
		log, ok := job.Payload.(*models.AuditLog)
		if !ok {
			return nil
		}
		return store.CreateAuditLog(ctx, log)
	}
	queue := jobs.NewQueue("audit", handler, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return &AuditService{queue: queue, logger: logger}
}

// Start launches the queue workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains and stops the queue workers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record enqueues an audit entry. Safe to call with a nil service.
func (s *AuditService) Record(log *models.AuditLog) {
	if s == nil || log == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    log.Action,
		Payload: log,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("audit record dropped", zap.String("action", log.Action), zap.Error(err))
	}
}
