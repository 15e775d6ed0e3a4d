package services

import (
	"context"
	"sync"
	"time"

	"drivewatch/config"
	"drivewatch/models"

	"go.uber.org/zap"
)

// HistoryArchive stores batches of history records
type HistoryArchive interface {
	WriteBatch(ctx context.Context, batch []models.HistoryRecord) error
}

// BatchWriterService batches history appends and writes them to the archive
type BatchWriterService struct {
	archive      HistoryArchive
	logger       *zap.Logger
	buffer       []models.HistoryRecord
	bufferMutex  sync.Mutex
	flushTimer   *time.Timer
	maxBatchSize int
	batchTimeout time.Duration
	maxRetries   int
	retryBackoff time.Duration
	shutdownChan chan bool
}

// NewBatchWriterService creates a new batch writer service
func NewBatchWriterService(cfg *config.Config, archive HistoryArchive, logger *zap.Logger) *BatchWriterService {
	return &BatchWriterService{
		archive:      archive,
		logger:       logger,
		buffer:       make([]models.HistoryRecord, 0, cfg.ArchiveBatchSize),
		maxBatchSize: cfg.ArchiveBatchSize,
		batchTimeout: cfg.ArchiveBatchTimeout,
		maxRetries:   3,
		retryBackoff: time.Second,
		shutdownChan: make(chan bool, 1),
	}
}

// Start consumes history events until ctx is done or the channel closes
func (bw *BatchWriterService) Start(ctx context.Context, events <-chan models.SessionEvent) {
	bw.logger.Info("Starting history archive writer",
		zap.Int("max_batch_size", bw.maxBatchSize),
		zap.Duration("batch_timeout", bw.batchTimeout))

	bw.flushTimer = time.NewTimer(bw.batchTimeout)
	defer bw.flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.logger.Info("Archive writer received shutdown signal")
			// The run context is gone; give the final flush its own deadline
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			bw.flushBuffer(flushCtx)
			cancel()
			bw.shutdownChan <- true
			return

		case event, ok := <-events:
			if !ok {
				bw.logger.Warn("History event channel closed")
				bw.flushBuffer(ctx)
				return
			}
			if event.Type != models.EventHistory || event.Entry == nil {
				continue
			}

			bw.bufferMutex.Lock()
			bw.buffer = append(bw.buffer, models.HistoryRecord{
				VehicleID: event.State.VehicleID,
				SessionID: event.State.SessionID,
				Timestamp: event.Entry.Timestamp,
				Reading:   event.Entry.Reading,
			})
			currentSize := len(bw.buffer)
			bw.bufferMutex.Unlock()

			if currentSize >= bw.maxBatchSize {
				bw.logger.Debug("Buffer full, flushing history", zap.Int("buffer_size", currentSize))

				if !bw.flushTimer.Stop() {
					select {
					case <-bw.flushTimer.C:
					default:
					}
				}

				bw.flushBuffer(ctx)
				bw.flushTimer.Reset(bw.batchTimeout)
			}

		case <-bw.flushTimer.C:
			if bw.GetBufferSize() > 0 {
				bw.flushBuffer(ctx)
			}
			bw.flushTimer.Reset(bw.batchTimeout)
		}
	}
}

// flushBuffer writes the current buffer to the archive and clears it
func (bw *BatchWriterService) flushBuffer(ctx context.Context) {
	bw.bufferMutex.Lock()

	if len(bw.buffer) == 0 {
		bw.bufferMutex.Unlock()
		return
	}

	batch := make([]models.HistoryRecord, len(bw.buffer))
	copy(batch, bw.buffer)
	bw.buffer = bw.buffer[:0]

	bw.bufferMutex.Unlock()

	var err error
	for attempt := 1; attempt <= bw.maxRetries; attempt++ {
		err = bw.archive.WriteBatch(ctx, batch)
		if err == nil {
			ArchiveFlushesTotal.WithLabelValues("written").Inc()
			bw.logger.Info("Archived history batch", zap.Int("batch_size", len(batch)))
			return
		}

		bw.logger.Error("Failed to archive history batch",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", bw.maxRetries),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		if attempt < bw.maxRetries {
			select {
			case <-time.After(time.Duration(attempt) * bw.retryBackoff):
			case <-ctx.Done():
				attempt = bw.maxRetries
			}
		}
	}

	ArchiveFlushesTotal.WithLabelValues("dropped").Inc()
	bw.logger.Error("Failed to archive history batch after all retries, data lost",
		zap.Int("batch_size", len(batch)),
		zap.Error(err))
}

// WaitForShutdown waits for the batch writer to complete shutdown
func (bw *BatchWriterService) WaitForShutdown(timeout time.Duration) bool {
	select {
	case <-bw.shutdownChan:
		return true
	case <-time.After(timeout):
		return false
	}
}

// GetBufferSize returns the current buffer size
func (bw *BatchWriterService) GetBufferSize() int {
	bw.bufferMutex.Lock()
	defer bw.bufferMutex.Unlock()
	return len(bw.buffer)
}
