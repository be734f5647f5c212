// Package scheduler runs the save sync orchestrator in the background: an
// upload loop that scans and drains the pending upload queue and a download
// loop that pulls saves the server reports as newer.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rommapp/argosy-launcher-sub002/internal/errors"
	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/queue"
)

// Orchestrator is the queued sync work the scheduler triggers.
type Orchestrator interface {
	ScanAndQueueLocalChanges(ctx context.Context) (int, error)
	ProcessPendingUploads(ctx context.Context) (int, error)
	DownloadPendingServerSaves(ctx context.Context) (int, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// ServerChecker flags records the server holds newer saves for.
type ServerChecker interface {
	Configured() bool
	CheckAllServerUpdates(ctx context.Context) ([]*models.SyncRecord, error)
}

// Scheduler manages background sync operations.
type Scheduler struct {
	orchestrator     Orchestrator
	server           ServerChecker
	uploadInterval   time.Duration
	downloadInterval time.Duration
	passTimeout      time.Duration
	stopCh           chan struct{}
	wg               sync.WaitGroup
	mu               sync.RWMutex
	isRunning        bool
	isOnline         bool
	lastUploadTime   time.Time
	lastDownloadTime time.Time
	uploadInProgress bool
	downloadActive   bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	UploadInterval   time.Duration // How often to scan and drain the queue (default: 5 minutes)
	DownloadInterval time.Duration // How often to pull server saves (default: 15 minutes)
	PassTimeout      time.Duration // Upper bound of one pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		UploadInterval:   5 * time.Minute,
		DownloadInterval: 15 * time.Minute,
		PassTimeout:      5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(orchestrator Orchestrator, server ServerChecker, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	s := &Scheduler{
		orchestrator:     orchestrator,
		server:           server,
		uploadInterval:   config.UploadInterval,
		downloadInterval: config.DownloadInterval,
		passTimeout:      config.PassTimeout,
		stopCh:           make(chan struct{}),
		isOnline:         true, // Assume online initially
	}
	if s.uploadInterval <= 0 {
		s.uploadInterval = defaults.UploadInterval
	}
	if s.downloadInterval <= 0 {
		s.downloadInterval = defaults.DownloadInterval
	}
	if s.passTimeout <= 0 {
		s.passTimeout = defaults.PassTimeout
	}
	return s
}

// Start starts the background loops. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(2)
	go s.loop(ctx, stopCh, s.uploadInterval, s.runUploads)
	go s.loop(ctx, stopCh, s.downloadInterval, s.runDownloads)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"upload_interval":   s.uploadInterval.String(),
		"download_interval": s.downloadInterval.String(),
	})
}

// Stop stops the background loops and waits for running passes to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus changes the online status of the scheduler. Passes are
// skipped while offline.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasOnline := s.isOnline
	s.isOnline = isOnline

	if wasOnline != isOnline {
		logging.Info("Online status changed",
			map[string]interface{}{
				"was_online": wasOnline,
				"is_online":  isOnline,
			})
	}
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, interval time.Duration, pass func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

// active reports whether passes may run.
func (s *Scheduler) active() bool {
	if s.server != nil && !s.server.Configured() {
		return false
	}
	return s.IsOnline()
}

// claim marks a pass as running and reports false when it already was.
func (s *Scheduler) claim(flag *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	return true
}

func (s *Scheduler) release(flag *bool, last *time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*flag = false
	if ok {
		*last = time.Now()
	}
}

// runUploads scans for local changes and drains the queue.
func (s *Scheduler) runUploads(ctx context.Context) {
	if !s.active() {
		logging.Debug("Skipping upload pass - offline or not configured", nil)
		return
	}
	if !s.claim(&s.uploadInProgress) {
		logging.Debug("Upload pass already in progress, skipping", nil)
		return
	}
	ok := false
	defer func() { s.release(&s.uploadInProgress, &s.lastUploadTime, ok) }()

	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	queued, err := s.orchestrator.ScanAndQueueLocalChanges(passCtx)
	if err != nil {
		logging.ErrorWithCode("Local save scan failed", string(errors.ErrSyncFailed), err, nil)
		return
	}
	uploaded, err := s.orchestrator.ProcessPendingUploads(passCtx)
	if err != nil {
		logging.ErrorWithCode("Pending upload processing failed", string(errors.ErrSyncFailed), err, nil)
		return
	}
	ok = true

	logging.Info("Upload pass completed",
		map[string]interface{}{
			"queued":   queued,
			"uploaded": uploaded,
		})
}

// runDownloads flags server-newer records and downloads them.
func (s *Scheduler) runDownloads(ctx context.Context) {
	if !s.active() {
		logging.Debug("Skipping download pass - offline or not configured", nil)
		return
	}
	if !s.claim(&s.downloadActive) {
		logging.Debug("Download pass already in progress, skipping", nil)
		return
	}
	ok := false
	defer func() { s.release(&s.downloadActive, &s.lastDownloadTime, ok) }()

	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	flagged, err := s.server.CheckAllServerUpdates(passCtx)
	if err != nil {
		logging.ErrorWithCode("Server update check failed", string(errors.ErrSyncFailed), err, nil)
		return
	}
	downloaded, err := s.orchestrator.DownloadPendingServerSaves(passCtx)
	if err != nil {
		logging.ErrorWithCode("Server save download failed", string(errors.ErrSyncFailed), err, nil)
		return
	}
	ok = true

	logging.Info("Download pass completed",
		map[string]interface{}{
			"flagged":    len(flagged),
			"downloaded": downloaded,
		})
}

// TriggerSync starts both passes immediately in the background.
// Returns false if either pass is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	busy := s.uploadInProgress || s.downloadActive
	s.mu.RUnlock()

	if busy {
		return false
	}

	go s.SyncNow(ctx)
	return true
}

// SyncNow runs an upload pass followed by a download pass and waits for
// both.
func (s *Scheduler) SyncNow(ctx context.Context) {
	s.runUploads(ctx)
	s.runDownloads(ctx)
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning          bool        `json:"is_running"`
	IsOnline           bool        `json:"is_online"`
	LastUploadTime     *time.Time  `json:"last_upload_time,omitempty"`
	LastDownloadTime   *time.Time  `json:"last_download_time,omitempty"`
	UploadInProgress   bool        `json:"upload_in_progress"`
	DownloadInProgress bool        `json:"download_in_progress"`
	Queue              queue.Stats `json:"queue"`
}

// Status returns the current status of the scheduler.
func (s *Scheduler) Status(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:          s.isRunning,
		IsOnline:           s.isOnline,
		UploadInProgress:   s.uploadInProgress,
		DownloadInProgress: s.downloadActive,
	}
	if !s.lastUploadTime.IsZero() {
		t := s.lastUploadTime
		status.LastUploadTime = &t
	}
	if !s.lastDownloadTime.IsZero() {
		t := s.lastDownloadTime
		status.LastDownloadTime = &t
	}
	s.mu.RUnlock()

	if stats, err := s.orchestrator.Stats(ctx); err == nil {
		status.Queue = stats
	} else {
		logging.Warn("Failed to read queue stats", map[string]interface{}{"error": err.Error()})
	}
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
