package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/metrics"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/storage"
	"github.com/zfogg/vidlayer/internal/telemetry"
	"github.com/zfogg/vidlayer/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrQueueFull is returned by Enqueue when the in-memory buffer is full. The
// job stays queued in the database and Recover picks it up later.
var ErrQueueFull = errors.New("import queue is full")

// permanentError marks failures that retrying cannot fix
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(format string, args ...interface{}) error {
	return permanentError{err: fmt.Errorf(format, args...)}
}

// ImportQueue copies remote video files into object storage with a fixed
// pool of workers. Job state lives in the import_jobs table so restarts
// lose nothing; the channel only carries job IDs.
type ImportQueue struct {
	db          *gorm.DB
	store       storage.VideoStore
	client      *http.Client
	jobs        chan string
	workers     int
	maxBytes    int64
	maxAttempts int
	timeout     time.Duration
	tempDir     string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Called after a video becomes ready (protected by callbackMux)
	callbackMux sync.RWMutex
	onComplete  func(ctx context.Context, video *models.Video)

	// For testing: receives job IDs as they finish
	jobCompleted chan string
}

// NewImportQueue creates a queue; call Start to launch workers
func NewImportQueue(db *gorm.DB, store storage.VideoStore, cfg config.ImportConfig) *ImportQueue {
	ctx, cancel := context.WithCancel(context.Background())

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	return &ImportQueue{
		db:           db,
		store:        store,
		client:       telemetry.NewInstrumentedHTTPClient(telemetry.HTTPClientConfig{ServiceName: "video-import", Timeout: timeout}),
		jobs:         make(chan string, 100),
		workers:      workers,
		maxBytes:     cfg.MaxBytes,
		maxAttempts:  maxAttempts,
		timeout:      timeout,
		tempDir:      tempDir,
		ctx:          ctx,
		cancel:       cancel,
		jobCompleted: make(chan string, 100),
	}
}

// SetHTTPClient replaces the client used to download sources
func (q *ImportQueue) SetHTTPClient(client *http.Client) {
	q.client = client
}

// SetCompleteCallback registers fn to run when an import makes a video ready
func (q *ImportQueue) SetCompleteCallback(fn func(ctx context.Context, video *models.Video)) {
	q.callbackMux.Lock()
	defer q.callbackMux.Unlock()
	q.onComplete = fn
}

// Start begins processing jobs with the worker pool
func (q *ImportQueue) Start() {
	logger.Log.Info("Starting import queue", zap.Int("workers", q.workers))

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Stop cancels in-flight downloads and waits for workers to exit. Jobs
// interrupted mid-run are reset by the next Recover.
func (q *ImportQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// Enqueue hands a persisted job to the workers
func (q *ImportQueue) Enqueue(jobID string) error {
	select {
	case q.jobs <- jobID:
		metrics.Get().ImportQueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Recover re-enqueues queued jobs and resets jobs stuck in running longer
// than the import timeout. It returns how many jobs were enqueued.
func (q *ImportQueue) Recover(ctx context.Context) (int, error) {
	staleBefore := time.Now().UTC().Add(-q.timeout - time.Minute)
	err := q.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("status = ? AND started_at < ?", models.ImportRunning, staleBefore).
		Update("status", models.ImportQueued).Error
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale jobs: %w", err)
	}

	var ids []string
	err = q.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("status = ?", models.ImportQueued).
		Order("created_at ASC").
		Limit(cap(q.jobs)).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to list queued jobs: %w", err)
	}

	enqueued := 0
	for _, id := range ids {
		if err := q.Enqueue(id); err != nil {
			break
		}
		enqueued++
	}
	if enqueued > 0 {
		logger.Log.Info("Recovered import jobs", zap.Int("count", enqueued))
	}
	return enqueued, nil
}

// GetJobStatus returns the current state of a job
func (q *ImportQueue) GetJobStatus(ctx context.Context, jobID string) (*models.ImportJob, error) {
	var job models.ImportJob
	if err := q.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitForJobCompletion waits for a specific job to finish (for testing)
func (q *ImportQueue) WaitForJobCompletion(jobID string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case completedJobID := <-q.jobCompleted:
			if completedJobID == jobID {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for job %s", jobID)
		case <-q.ctx.Done():
			return fmt.Errorf("queue stopped")
		}
	}
}

// worker processes import jobs from the queue
func (q *ImportQueue) worker(workerID int) {
	defer q.wg.Done()
	logger.Log.Debug("Import worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case jobID := <-q.jobs:
			metrics.Get().ImportQueueDepth.Set(float64(len(q.jobs)))
			q.processJob(workerID, jobID)
		case <-q.ctx.Done():
			logger.Log.Debug("Import worker shutting down", zap.Int("worker_id", workerID))
			return
		}
	}
}

// claim moves a queued job to running. False means another worker or
// instance already owns it.
func (q *ImportQueue) claim(jobID string) (*models.ImportJob, bool) {
	now := time.Now().UTC()
	res := q.db.WithContext(q.ctx).Model(&models.ImportJob{}).
		Where("id = ? AND status = ?", jobID, models.ImportQueued).
		Updates(map[string]interface{}{
			"status":     models.ImportRunning,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": now,
			"last_error": "",
		})
	if res.Error != nil {
		logger.Log.Error("Failed to claim import job", zap.String("job_id", jobID), zap.Error(res.Error))
		return nil, false
	}
	if res.RowsAffected == 0 {
		return nil, false
	}

	var job models.ImportJob
	if err := q.db.WithContext(q.ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, false
	}
	return &job, true
}

// processJob downloads, stores and publishes one import
func (q *ImportQueue) processJob(workerID int, jobID string) {
	defer q.signalCompletion(jobID)

	job, ok := q.claim(jobID)
	if !ok {
		return
	}

	ctx, span := telemetry.GetBusinessEvents().TraceImport(q.ctx, job.ID, job.VideoID, job.Attempts)
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	logger.Log.Info("Worker processing import",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID),
		logger.WithVideoID(job.VideoID),
		zap.Int("attempt", job.Attempts),
	)
	startTime := time.Now()

	video, err := q.runImport(ctx, job)
	telemetry.EndSpan(span, err)
	if err != nil {
		q.handleFailure(job, err)
		return
	}

	metrics.Get().ImportJobsTotal.WithLabelValues("completed").Inc()
	metrics.Get().ImportDuration.Observe(time.Since(startTime).Seconds())
	logger.Log.Info("Worker completed import",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID),
		zap.Duration("elapsed", time.Since(startTime)),
		zap.Int64("size", video.SizeBytes),
	)

	q.callbackMux.RLock()
	callback := q.onComplete
	q.callbackMux.RUnlock()
	if callback != nil {
		callback(q.ctx, video)
	}
}

func (q *ImportQueue) runImport(ctx context.Context, job *models.ImportJob) (*models.Video, error) {
	var video models.Video
	if err := q.db.WithContext(ctx).First(&video, "id = ?", job.VideoID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, permanent("video %s no longer exists", job.VideoID)
		}
		return nil, err
	}

	tmp, contentType, size, err := q.download(ctx, job.SourceURL)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind temp file: %w", err)
	}

	key := storage.VideoKey(video.CreatorID, video.ID, sourceFilename(job.SourceURL))
	if err := q.store.Put(ctx, key, tmp, size, contentType); err != nil {
		return nil, fmt.Errorf("storage upload failed: %w", err)
	}

	duration := video.DurationSeconds
	if duration == 0 {
		if probed, err := probeDuration(ctx, tmp.Name()); err == nil {
			duration = probed
		} else {
			logger.Log.Debug("Duration probe skipped", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	now := time.Now().UTC()
	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		videoUpdates := map[string]interface{}{
			"status":           models.VideoStatusReady,
			"storage_key":      key,
			"content_type":     contentType,
			"size_bytes":       size,
			"duration_seconds": duration,
			"published_at":     now,
		}
		if err := tx.Model(&video).Updates(videoUpdates).Error; err != nil {
			return err
		}
		return tx.Model(job).Updates(map[string]interface{}{
			"status":           models.ImportCompleted,
			"bytes_downloaded": size,
			"completed_at":     now,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("database update failed: %w", err)
	}

	video.Status = models.VideoStatusReady
	video.StorageKey = key
	video.ContentType = contentType
	video.SizeBytes = size
	video.DurationSeconds = duration
	video.PublishedAt = &now
	return &video, nil
}

// download streams the source into a temp file, enforcing the size limit
func (q *ImportQueue) download(ctx context.Context, sourceURL string) (*os.File, string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", 0, permanent("invalid source url: %v", err)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", 0, fmt.Errorf("source returned %d", resp.StatusCode)
	default:
		return nil, "", 0, permanent("source returned %d", resp.StatusCode)
	}

	if q.maxBytes > 0 && resp.ContentLength > q.maxBytes {
		return nil, "", 0, permanent("source is %d bytes, limit is %d", resp.ContentLength, q.maxBytes)
	}

	contentType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if !util.IsValidVideoContentType(contentType) {
		contentType = util.VideoContentType(sourceFilename(sourceURL))
		if !util.IsValidVideoContentType(contentType) {
			return nil, "", 0, permanent("source is not a supported video type")
		}
	}

	tmp, err := os.CreateTemp(q.tempDir, "vidlayer-import-*")
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	var body io.Reader = resp.Body
	if q.maxBytes > 0 {
		body = io.LimitReader(resp.Body, q.maxBytes+1)
	}
	size, err := io.Copy(tmp, body)
	if err == nil && q.maxBytes > 0 && size > q.maxBytes {
		err = permanent("source exceeds %d bytes", q.maxBytes)
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, "", 0, err
	}

	return tmp, contentType, size, nil
}

// handleFailure requeues retryable failures and fails the video once
// attempts run out
func (q *ImportQueue) handleFailure(job *models.ImportJob, cause error) {
	var perm permanentError
	final := errors.As(cause, &perm) || job.Attempts >= q.maxAttempts

	logger.Log.Warn("Import attempt failed",
		zap.String("job_id", job.ID),
		logger.WithVideoID(job.VideoID),
		zap.Int("attempt", job.Attempts),
		zap.Bool("final", final),
		zap.Error(cause),
	)

	// The job context may already be canceled; record the outcome regardless
	db := q.db.WithContext(context.Background())

	if !final {
		metrics.Get().ImportJobsTotal.WithLabelValues("retry").Inc()
		db.Model(job).Updates(map[string]interface{}{
			"status":     models.ImportQueued,
			"last_error": cause.Error(),
		})
		return
	}

	metrics.Get().ImportJobsTotal.WithLabelValues("failed").Inc()
	now := time.Now().UTC()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(job).Updates(map[string]interface{}{
			"status":       models.ImportFailed,
			"last_error":   cause.Error(),
			"completed_at": now,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Video{}).Where("id = ?", job.VideoID).
			Update("status", models.VideoStatusFailed).Error
	})
	if err != nil {
		logger.Log.Error("Failed to record import failure", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// signalCompletion signals that a job has finished (for testing)
func (q *ImportQueue) signalCompletion(jobID string) {
	select {
	case q.jobCompleted <- jobID:
	default:
		// Channel full, don't block
	}
}

// sourceFilename returns the last path element of a URL, used for the
// storage key extension
func sourceFilename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "video.mp4"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "video.mp4"
	}
	return name
}
