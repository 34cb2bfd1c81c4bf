package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/repositories"
	"go.uber.org/zap"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log *models.AuditLog
}

// AuditService writes decision audit entries asynchronously in batches
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	batchSize   int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.RWMutex

	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
	BatchSize   int // Max entries per InsertBatch
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 2,
		BatchSize:   50,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	ctx, cancel := context.WithCancel(context.Background())

	def := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = def.WorkerCount
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}

	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		batchSize:   config.BatchSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize),
		zap.Int("batch_size", s.batchSize))

	return nil
}

// Stop gracefully stops the audit service.
// Pending events are flushed unless the timeout elapses first.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.RLock()
	if !s.started || s.stopped {
		s.mu.RUnlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.RUnlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	// Unblock LogEventBlocking callers before taking the write lock
	s.cancel()

	s.mu.Lock()
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an event without blocking. The event is dropped when the buffer is full.
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", event.Log.Action),
			zap.String("principal", event.Log.Principal))
		return fmt.Errorf("audit event buffer full")
	}
}

// LogEventBlocking waits until the event is queued or ctx is cancelled
func (s *AuditService) LogEventBlocking(ctx context.Context, event *AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return fmt.Errorf("audit service stopped")
	}
}

// RecordDecision queues one gate verdict
func (s *AuditService) RecordDecision(entry *models.AuditLog) error {
	return s.LogEvent(&AuditEvent{Log: entry})
}

// worker drains the channel, writing up to batchSize entries at a time
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	batch := make([]*models.AuditLog, 0, s.batchSize)
	for event := range s.eventChan {
		batch = append(batch[:0], event.Log)
	fill:
		for len(batch) < s.batchSize {
			select {
			case next, ok := <-s.eventChan:
				if !ok {
					break fill
				}
				batch = append(batch, next.Log)
			default:
				break fill
			}
		}

		if err := s.processBatch(batch); err != nil {
			s.logger.Error("failed to process audit batch",
				zap.Int("worker_id", id),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processBatch(batch []*models.AuditLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if len(batch) == 1 {
		err = s.auditRepo.Insert(ctx, batch[0])
	} else {
		err = s.auditRepo.InsertBatch(ctx, batch)
	}

	if err != nil {
		s.failed.Add(uint64(len(batch)))
		return fmt.Errorf("failed to insert audit logs: %w", err)
	}
	s.written.Add(uint64(len(batch)))
	return nil
}

// ListByPrincipal returns the newest decisions recorded for a principal
func (s *AuditService) ListByPrincipal(ctx context.Context, principal string, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.auditRepo.GetByPrincipal(ctx, principal, limit, offset)
}

// ListByMandate returns the decisions that referenced a mandate
func (s *AuditService) ListByMandate(ctx context.Context, mandateID string) ([]*models.AuditLog, error) {
	return s.auditRepo.GetByMandateID(ctx, mandateID)
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
		Written:       s.written.Load(),
		Failed:        s.failed.Load(),
		Dropped:       s.dropped.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int    `json:"buffer_size"`
	PendingEvents int    `json:"pending_events"`
	WorkerCount   int    `json:"worker_count"`
	Started       bool   `json:"started"`
	Written       uint64 `json:"written"`
	Failed        uint64 `json:"failed"`
	Dropped       uint64 `json:"dropped"`
}
