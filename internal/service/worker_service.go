package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/mail-dispatch/internal/observability"
	"github.com/kursadbilgin/mail-dispatch/internal/queue"
)

const minWorkerConcurrency = 1

// BatchProcessor handles one batch of queue records. *Dispatcher and
// *ResolutionEngine satisfy it.
type BatchProcessor interface {
	HandleBatch(ctx context.Context, records []queue.Record) []queue.Disposition
}

// WorkerService runs the dispatch consumers on the work queue and one resolution
// consumer on the dead-letter queue.
type WorkerService struct {
	consumer    queue.Consumer
	dispatch    BatchProcessor
	resolution  BatchProcessor
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewWorkerService builds a WorkerService. A nil resolution processor disables
// the dead-letter consumer.
func NewWorkerService(
	consumer queue.Consumer,
	dispatch BatchProcessor,
	resolution BatchProcessor,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch processor is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		dispatch:    dispatch,
		resolution:  resolution,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes both pipelines until ctx is cancelled or a consumer fails.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1
		handler := s.instrument(observability.PipelineDispatch, s.dispatch)
		g.Go(func() error {
			return s.run(groupCtx, workerID, queue.WorkQueue, handler)
		})
	}

	if s.resolution != nil {
		workerID := s.concurrency + 1
		handler := s.instrument(observability.PipelineResolution, s.resolution)
		g.Go(func() error {
			return s.run(groupCtx, workerID, queue.DeadLetterQueue, handler)
		})
	}

	return g.Wait()
}

func (s *WorkerService) run(ctx context.Context, workerID int, queueName string, handler queue.BatchHandler) error {
	s.logger.Info("worker started",
		zap.Int("workerId", workerID),
		zap.String("queue", queueName),
	)

	if err := s.consumer.Consume(ctx, queueName, handler); err != nil {
		s.logger.Error("worker stopped with error",
			zap.Int("workerId", workerID),
			zap.String("queue", queueName),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("worker stopped",
		zap.Int("workerId", workerID),
		zap.String("queue", queueName),
	)
	return nil
}

func (s *WorkerService) instrument(pipeline string, processor BatchProcessor) queue.BatchHandler {
	return func(ctx context.Context, records []queue.Record) []queue.Disposition {
		s.metrics.IncWorkerInFlight(pipeline)
		defer s.metrics.DecWorkerInFlight(pipeline)

		return processor.HandleBatch(ctx, records)
	}
}
