// Package scheduler tests for background sync scheduling functionality.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/queue"
)

// =====================================================
// Test Helpers
// =====================================================

type fakeOrchestrator struct {
	scans     atomic.Int32
	processes atomic.Int32
	downloads atomic.Int32
	scanErr   error
	block     chan struct{}
	stats     queue.Stats
}

func (f *fakeOrchestrator) ScanAndQueueLocalChanges(context.Context) (int, error) {
	f.scans.Add(1)
	if f.block != nil {
		<-f.block
	}
	return 1, f.scanErr
}

func (f *fakeOrchestrator) ProcessPendingUploads(context.Context) (int, error) {
	f.processes.Add(1)
	return 1, nil
}

func (f *fakeOrchestrator) DownloadPendingServerSaves(context.Context) (int, error) {
	f.downloads.Add(1)
	return 0, nil
}

func (f *fakeOrchestrator) Stats(context.Context) (queue.Stats, error) {
	return f.stats, nil
}

type fakeServer struct {
	configured bool
	checks     atomic.Int32
}

func (f *fakeServer) Configured() bool { return f.configured }

func (f *fakeServer) CheckAllServerUpdates(context.Context) ([]*models.SyncRecord, error) {
	f.checks.Add(1)
	return nil, nil
}

// createTestScheduler creates a scheduler with fast intervals and fakes.
func createTestScheduler(t *testing.T) (*fakeOrchestrator, *fakeServer, *Scheduler) {
	t.Helper()
	orch := &fakeOrchestrator{}
	server := &fakeServer{configured: true}

	config := &SchedulerConfig{
		UploadInterval:   20 * time.Millisecond,
		DownloadInterval: 20 * time.Millisecond,
		PassTimeout:      time.Second,
	}

	return orch, server, NewScheduler(orch, server, config)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// =====================================================
// DefaultSchedulerConfig Tests
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	if config.UploadInterval != 5*time.Minute {
		t.Errorf("UploadInterval = %v, want 5m", config.UploadInterval)
	}

	if config.DownloadInterval != 15*time.Minute {
		t.Errorf("DownloadInterval = %v, want 15m", config.DownloadInterval)
	}
}

// TestNewScheduler_nilConfig verifies default config is used.
func TestNewScheduler_nilConfig(t *testing.T) {
	scheduler := NewScheduler(&fakeOrchestrator{}, &fakeServer{}, nil)

	if scheduler.uploadInterval != 5*time.Minute {
		t.Errorf("uploadInterval = %v, want 5m (default)", scheduler.uploadInterval)
	}

	if scheduler.downloadInterval != 15*time.Minute {
		t.Errorf("downloadInterval = %v, want 15m (default)", scheduler.downloadInterval)
	}

	if !scheduler.isOnline {
		t.Error("isOnline should be true by default")
	}
}

// TestNewScheduler_zeroIntervals verifies zero intervals fall back to defaults.
func TestNewScheduler_zeroIntervals(t *testing.T) {
	scheduler := NewScheduler(&fakeOrchestrator{}, &fakeServer{}, &SchedulerConfig{UploadInterval: time.Second})

	if scheduler.uploadInterval != time.Second {
		t.Errorf("uploadInterval = %v, want 1s", scheduler.uploadInterval)
	}
	if scheduler.downloadInterval != 15*time.Minute {
		t.Errorf("downloadInterval = %v, want 15m", scheduler.downloadInterval)
	}
}

// =====================================================
// Start/Stop Tests
// =====================================================

// TestScheduler_runsBothLoops verifies ticks drive both passes.
func TestScheduler_runsBothLoops(t *testing.T) {
	orch, server, scheduler := createTestScheduler(t)

	scheduler.Start(context.Background())
	defer scheduler.Stop()

	waitFor(t, func() bool {
		return orch.processes.Load() > 0 && orch.downloads.Load() > 0 && server.checks.Load() > 0
	})
}

// TestScheduler_Start_idempotent verifies Start can be called multiple times.
func TestScheduler_Start_idempotent(t *testing.T) {
	_, _, scheduler := createTestScheduler(t)
	scheduler.SetOnlineStatus(false)

	ctx := context.Background()
	scheduler.Start(ctx)
	scheduler.Start(ctx)

	if !scheduler.IsRunning() {
		t.Error("Second Start() should be ignored but keep scheduler running")
	}

	scheduler.Stop()
}

// TestScheduler_Stop_idempotent verifies Stop can be called multiple times.
func TestScheduler_Stop_idempotent(t *testing.T) {
	_, _, scheduler := createTestScheduler(t)
	scheduler.SetOnlineStatus(false)

	scheduler.Start(context.Background())
	scheduler.Stop()
	scheduler.Stop()

	if scheduler.IsRunning() {
		t.Error("Second Stop() should keep scheduler stopped")
	}
}

// TestScheduler_Stop_withoutStart verifies Stop works without Start.
func TestScheduler_Stop_withoutStart(t *testing.T) {
	_, _, scheduler := createTestScheduler(t)

	scheduler.Stop()

	if scheduler.IsRunning() {
		t.Error("Stop() without Start should keep scheduler not running")
	}
}

// TestScheduler_restart verifies a stopped scheduler can start again.
func TestScheduler_restart(t *testing.T) {
	orch, _, scheduler := createTestScheduler(t)

	scheduler.Start(context.Background())
	scheduler.Stop()
	before := orch.scans.Load()

	scheduler.Start(context.Background())
	defer scheduler.Stop()
	waitFor(t, func() bool { return orch.scans.Load() > before })
}

// TestScheduler_contextCancel verifies loops exit with their context.
func TestScheduler_contextCancel(t *testing.T) {
	_, _, scheduler := createTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())

	scheduler.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		scheduler.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loops did not exit after cancel")
	}
	scheduler.Stop()
}

// =====================================================
// Gating Tests
// =====================================================

// TestScheduler_offlineSkipsPasses verifies nothing runs while offline.
func TestScheduler_offlineSkipsPasses(t *testing.T) {
	orch, server, scheduler := createTestScheduler(t)
	scheduler.SetOnlineStatus(false)

	scheduler.SyncNow(context.Background())

	if orch.scans.Load() != 0 || server.checks.Load() != 0 {
		t.Error("offline scheduler should not run passes")
	}
}

// TestScheduler_notConfiguredSkipsPasses verifies nothing runs without a
// server.
func TestScheduler_notConfiguredSkipsPasses(t *testing.T) {
	orch, server, scheduler := createTestScheduler(t)
	server.configured = false

	scheduler.SyncNow(context.Background())

	if orch.scans.Load() != 0 || orch.downloads.Load() != 0 {
		t.Error("unconfigured scheduler should not run passes")
	}
}

// TestScheduler_SetOnlineStatus verifies online status change.
func TestScheduler_SetOnlineStatus(t *testing.T) {
	_, _, scheduler := createTestScheduler(t)

	if !scheduler.IsOnline() {
		t.Error("Should be online initially")
	}

	scheduler.SetOnlineStatus(false)
	if scheduler.IsOnline() {
		t.Error("Should be offline after SetOnlineStatus(false)")
	}

	scheduler.SetOnlineStatus(true)
	if !scheduler.IsOnline() {
		t.Error("Should be online after SetOnlineStatus(true)")
	}
}

// =====================================================
// SyncNow / TriggerSync Tests
// =====================================================

// TestScheduler_SyncNow verifies a manual sync runs both passes in order.
func TestScheduler_SyncNow(t *testing.T) {
	orch, server, scheduler := createTestScheduler(t)

	scheduler.SyncNow(context.Background())

	if orch.scans.Load() != 1 || orch.processes.Load() != 1 {
		t.Errorf("upload pass: scans=%d processes=%d, want 1/1", orch.scans.Load(), orch.processes.Load())
	}
	if server.checks.Load() != 1 || orch.downloads.Load() != 1 {
		t.Errorf("download pass: checks=%d downloads=%d, want 1/1", server.checks.Load(), orch.downloads.Load())
	}

	status := scheduler.Status(context.Background())
	if status.LastUploadTime == nil || status.LastDownloadTime == nil {
		t.Error("last pass times should be set after SyncNow")
	}
}

// TestScheduler_scanFailureStopsPass verifies the queue is not drained after
// a failed scan and the pass time is not recorded.
func TestScheduler_scanFailureStopsPass(t *testing.T) {
	orch, _, scheduler := createTestScheduler(t)
	orch.scanErr = errors.New("database locked")

	scheduler.runUploads(context.Background())

	if orch.processes.Load() != 0 {
		t.Error("ProcessPendingUploads should not run after a failed scan")
	}
	if scheduler.Status(context.Background()).LastUploadTime != nil {
		t.Error("LastUploadTime should stay unset after a failed pass")
	}
}

// TestScheduler_TriggerSync_busy verifies a trigger is refused while a pass
// runs.
func TestScheduler_TriggerSync_busy(t *testing.T) {
	orch, _, scheduler := createTestScheduler(t)
	orch.block = make(chan struct{})

	if !scheduler.TriggerSync(context.Background()) {
		t.Fatal("first TriggerSync should start")
	}
	waitFor(t, func() bool { return orch.scans.Load() == 1 })

	if scheduler.TriggerSync(context.Background()) {
		t.Error("TriggerSync should refuse while a pass is running")
	}
	if !scheduler.Status(context.Background()).UploadInProgress {
		t.Error("UploadInProgress should be reported")
	}

	close(orch.block)
	waitFor(t, func() bool { return orch.downloads.Load() == 1 })
}

// =====================================================
// Status Tests
// =====================================================

// TestScheduler_Status_default verifies default status.
func TestScheduler_Status_default(t *testing.T) {
	orch, _, scheduler := createTestScheduler(t)
	orch.stats = queue.Stats{Pending: 2, Failed: 1, Total: 3}

	status := scheduler.Status(context.Background())

	if status.IsRunning {
		t.Error("IsRunning should be false initially")
	}
	if !status.IsOnline {
		t.Error("IsOnline should be true initially")
	}
	if status.LastUploadTime != nil || status.LastDownloadTime != nil {
		t.Error("pass times should be nil initially")
	}
	if status.Queue != orch.stats {
		t.Errorf("Queue = %+v, want %+v", status.Queue, orch.stats)
	}
}

// TestScheduler_concurrentAccess verifies status reads race-free with
// online toggles.
func TestScheduler_concurrentAccess(t *testing.T) {
	_, _, scheduler := createTestScheduler(t)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(online bool) {
			defer wg.Done()
			scheduler.SetOnlineStatus(online)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_ = scheduler.Status(context.Background())
		}()
	}
	wg.Wait()
}
