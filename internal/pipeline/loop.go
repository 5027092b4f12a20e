package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/papermes/scanner/internal/detect"
	"github.com/papermes/scanner/internal/ledger"
	"github.com/papermes/scanner/internal/media"
	"github.com/papermes/scanner/internal/observability"
)

// State names the phase the loop is currently in
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateProcessing State = "processing"
	StateUploading  State = "uploading"
	StateCleaningUp State = "cleaning_up"
)

// Detector is the slice of the document detector the loop needs.
type Detector interface {
	Detect(path string) detect.Classification
}

// DocumentUploader is the slice of the uploader the loop needs.
type DocumentUploader interface {
	Upload(record *ledger.Record) error
}

// Source is the slice of the media source the loop needs.
type Source interface {
	ListNewImages(since time.Time) []media.ImageInfo
	Available() bool
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the loop's timing and retry knobs
type Config struct {
	// Interval between cycle starts
	Interval time.Duration
	// Backoff after an unexpected cycle fault, longer than Interval
	Backoff time.Duration
	// Retention window; older records are removed every cycle
	Retention time.Duration
	// MaxUploadRetries bounds attempts per record; beyond it the record
	// is left for retention cleanup
	MaxUploadRetries int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.MaxUploadRetries <= 0 {
		c.MaxUploadRetries = 10
	}
	return c
}

// Loop coordinates one scan/process/upload/cleanup cycle at a time
type Loop struct {
	db         ledger.DB
	source     Source
	detector   Detector
	uploader   DocumentUploader
	gate       Gate
	cfg        Config
	metrics    *observability.PipelineMetrics
	timeSource TimeSource

	inProgress atomic.Bool
	state      atomic.Value
}

// NewLoop creates a new Loop with the default time source
func NewLoop(db ledger.DB, source Source, detector Detector, uploader DocumentUploader, gate Gate, metrics *observability.PipelineMetrics, cfg Config) *Loop {
	return NewLoopWithDeps(db, source, detector, uploader, gate, metrics, cfg, &defaultTimeSource{})
}

// NewLoopWithDeps creates a new Loop with a custom time source for testing
func NewLoopWithDeps(db ledger.DB, source Source, detector Detector, uploader DocumentUploader, gate Gate, metrics *observability.PipelineMetrics, cfg Config, timeSource TimeSource) *Loop {
	l := &Loop{
		db:         db,
		source:     source,
		detector:   detector,
		uploader:   uploader,
		gate:       gate,
		cfg:        cfg.withDefaults(),
		metrics:    metrics,
		timeSource: timeSource,
	}
	l.state.Store(StateIdle)
	return l
}

// State returns the phase the loop is currently in
func (l *Loop) State() State {
	return l.state.Load().(State)
}

func (l *Loop) setState(state State) {
	l.state.Store(state)
}

// Run drives cycles until the context is cancelled. An in-flight cycle
// finishes before the loop exits; nothing interrupts a started upload or
// detection.
func (l *Loop) Run(ctx context.Context) {
	slog.Info("Scan loop started", "interval", l.cfg.Interval)
	for {
		wait := l.cfg.Interval
		if err := l.RunCycle(); err != nil {
			slog.Error("Scan cycle failed, backing off", "error", err, "backoff", l.cfg.Backoff)
			l.metrics.CycleFaults.Inc()
			wait = l.cfg.Backoff
		}

		select {
		case <-ctx.Done():
			slog.Info("Scan loop stopped")
			return
		case <-time.After(wait):
		}
	}
}

// RunCycle executes one full cycle. A trigger while a cycle is already
// in progress is a no-op. Phase faults are logged and isolated; only an
// unexpected panic surfaces as an error, which Run answers with the
// extended backoff.
func (l *Loop) RunCycle() (err error) {
	if !l.inProgress.CompareAndSwap(false, true) {
		return nil
	}
	defer l.inProgress.Store(false)
	defer l.setState(StateIdle)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan cycle panic: %v", r)
		}
	}()

	l.metrics.CyclesTotal.Inc()

	if !l.source.Available() {
		slog.Warn("Media source unavailable, skipping cycle")
		return nil
	}

	l.scan()
	l.process()
	l.upload()
	l.cleanup()
	return nil
}

// scan discovers new images and advances the checkpoint unconditionally
func (l *Loop) scan() {
	l.setState(StateScanning)

	checkpoint, err := l.db.Checkpoint()
	if err != nil {
		slog.Error("Reading checkpoint failed", "error", err)
	}

	images := l.source.ListNewImages(checkpoint)
	for _, img := range images {
		exists, err := l.db.HasRecord(img.ID)
		if err != nil {
			slog.Error("Checking for existing record failed", "id", img.ID, "error", err)
			continue
		}
		if exists {
			continue
		}

		record := &ledger.Record{
			ID:           img.ID,
			Path:         img.Path,
			Filename:     img.Filename,
			MimeType:     img.MimeType,
			Size:         img.Size,
			Width:        img.Width,
			Height:       img.Height,
			DateAdded:    img.DateAdded,
			DateModified: img.DateModified,
		}
		if err := l.db.SaveRecord(record); err != nil {
			slog.Error("Saving discovered image failed", "id", img.ID, "error", err)
			continue
		}
		l.metrics.ImagesDiscovered.Inc()
	}

	// The checkpoint advances even when nothing new was found
	if err := l.db.SetCheckpoint(l.timeSource.Now()); err != nil {
		slog.Error("Advancing checkpoint failed", "error", err)
	}

	if len(images) > 0 {
		slog.Info("Scan found new images", "count", len(images))
	}
}

// process classifies every unprocessed record. A fault on one record is
// isolated: the record still ends up processed with a negative verdict.
func (l *Loop) process() {
	l.setState(StateProcessing)

	records, err := l.db.ListUnprocessed()
	if err != nil {
		slog.Error("Listing unprocessed records failed", "error", err)
		return
	}

	for _, record := range records {
		verdict := l.detectOne(record.Path)

		record.Processed = true
		record.IsDocument = verdict.IsDocument
		record.Confidence = verdict.Confidence
		if err := l.db.SaveRecord(record); err != nil {
			slog.Error("Saving classification failed", "id", record.ID, "error", err)
			continue
		}

		l.metrics.ImagesProcessed.Inc()
		if record.IsDocument {
			l.metrics.DocumentsDetected.Inc()
			slog.Info("Document detected", "file", record.Filename, "confidence", record.Confidence)
		}
	}
}

// detectOne shields the loop from a panicking detector
func (l *Loop) detectOne(path string) (verdict detect.Classification) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Detector panicked", "path", path, "panic", r)
			verdict = detect.Classification{}
		}
	}()
	return l.detector.Detect(path)
}

// upload submits pending documents, one attempt per record per cycle
func (l *Loop) upload() {
	l.setState(StateUploading)

	if !l.gate.Allow() {
		slog.Info("Upload phase skipped by network gate")
		return
	}

	records, err := l.db.ListPendingUpload()
	if err != nil {
		slog.Error("Listing pending uploads failed", "error", err)
		return
	}

	for _, record := range records {
		if record.RetryCount >= l.cfg.MaxUploadRetries {
			slog.Debug("Upload abandoned after retry limit", "id", record.ID, "retries", record.RetryCount)
			continue
		}

		if err := l.uploader.Upload(record); err != nil {
			now := l.timeSource.Now()
			record.RetryCount++
			record.LastRetryAt = &now
			record.LastError = err.Error()
			l.metrics.UploadsFailed.Inc()
			slog.Warn("Upload failed", "file", record.Filename, "retries", record.RetryCount, "error", err)
		} else {
			record.Sent = true
			record.LastError = ""
			l.metrics.UploadsSucceeded.Inc()
			slog.Info("Document uploaded", "file", record.Filename)
		}

		if err := l.db.SaveRecord(record); err != nil {
			slog.Error("Saving upload state failed", "id", record.ID, "error", err)
		}
	}
}

// cleanup drops records older than the retention window, whatever their
// processed/sent state
func (l *Loop) cleanup() {
	l.setState(StateCleaningUp)

	cutoff := l.timeSource.Now().Add(-l.cfg.Retention)
	deleted, err := l.db.DeleteOlderThan(cutoff)
	if err != nil {
		slog.Error("Retention cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		l.metrics.RecordsCleaned.Add(float64(deleted))
		slog.Info("Retention cleanup removed records", "count", deleted)
	}
}
