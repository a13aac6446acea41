package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r0xsh/spotizerr/api"
	"github.com/r0xsh/spotizerr/config"
	"github.com/r0xsh/spotizerr/types"
)

// pollStep is one scripted backend response; the last step repeats
type pollStep struct {
	result *api.PollResult
	err    error
}

// stubBackend is a scriptable ProgressClient
type stubBackend struct {
	mu      sync.Mutex
	scripts map[string][]pollStep
	calls   map[string]int
	cancels []string
	retries map[string]string // handle -> new handle

	// When set for a handle, the first GetProgress call signals
	// started and blocks until release is closed
	gated   string
	started chan struct{}
	release chan struct{}
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		scripts: make(map[string][]pollStep),
		calls:   make(map[string]int),
		retries: make(map[string]string),
	}
}

func (s *stubBackend) script(handle string, steps ...pollStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[handle] = steps
}

func (s *stubBackend) callCount(handle string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[handle]
}

func (s *stubBackend) GetProgress(ctx context.Context, handle string) (*api.PollResult, error) {
	s.mu.Lock()
	n := s.calls[handle]
	s.calls[handle] = n + 1
	steps := s.scripts[handle]
	gate := s.gated == handle && n == 0
	s.mu.Unlock()

	if gate {
		close(s.started)
		<-s.release
	}

	if len(steps) == 0 {
		return progressing(0), nil
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	return steps[n].result, steps[n].err
}

func (s *stubBackend) Cancel(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels = append(s.cancels, handle)
	return nil
}

func (s *stubBackend) Retry(ctx context.Context, handle string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newHandle, ok := s.retries[handle]; ok {
		return newHandle, nil
	}
	return handle, nil
}

func progressing(percent float64) *api.PollResult {
	return &api.PollResult{
		Status:    types.JobStatusProgressing,
		RawStatus: "progress",
		Snapshot: types.ProgressSnapshot{
			Percent:   percent,
			Timestamp: time.Now(),
		},
	}
}

func completed() *api.PollResult {
	return &api.PollResult{
		Status:    types.JobStatusComplete,
		RawStatus: "complete",
		Snapshot: types.ProgressSnapshot{
			Percent:   100,
			Timestamp: time.Now(),
		},
	}
}

func failed(msg string) *api.PollResult {
	return &api.PollResult{
		Status:    types.JobStatusError,
		RawStatus: "error",
		ErrorMsg:  msg,
		Snapshot:  types.ProgressSnapshot{Timestamp: time.Now()},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		BackendURL:      "http://stub",
		DBPath:          filepath.Join(t.TempDir(), "queue.db"),
		PollInterval:    10 * time.Millisecond,
		FirstPollDelay:  time.Millisecond,
		RequestTimeout:  time.Second,
		RetryCeiling:    3,
		MaxActivePolls:  4,
		RetentionWindow: 24 * time.Hour,
		PendingTimeout:  30 * time.Minute,
		SweepInterval:   time.Hour,
	}
}

func newTestQueue(t *testing.T, cfg *config.Config, backend *stubBackend) (QueueManager, QueueStore) {
	t.Helper()

	store, err := NewQueueStore(cfg.DBPath)
	require.NoError(t, err)

	queue, err := NewQueueManager(cfg, store, backend, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		queue.Shutdown()
		store.Close()
	})
	return queue, store
}

func meta(name string) types.DisplayMetadata {
	return types.DisplayMetadata{Name: name, Artist: "Test Artist"}
}

func TestAddDownloadCreatesPendingRecord(t *testing.T) {
	queue, _ := newTestQueue(t, testConfig(t), newStubBackend())

	id, err := queue.AddDownload(meta("Test Track"), types.JobKindTrack, "handle-1", nil, false)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	record, exists := queue.GetRecord(id)
	require.True(t, exists)
	assert.Equal(t, types.JobStatusPending, record.Status)
	assert.Equal(t, "handle-1", record.ProgressHandle)
	assert.Equal(t, types.JobKindTrack, record.Kind)
	assert.Equal(t, "Test Track", record.Name)
	assert.Nil(t, record.Progress)
	assert.Zero(t, record.RetryCount)
}

func TestAddDownloadUniqueIDs(t *testing.T) {
	queue, _ := newTestQueue(t, testConfig(t), newStubBackend())

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, err := queue.AddDownload(meta("Track"), types.JobKindTrack, "same-handle", nil, false)
		require.NoError(t, err)
		assert.False(t, seen[id], "ID should be unique: %s", id)
		seen[id] = true
	}
}

func TestAddDownloadValidation(t *testing.T) {
	queue, _ := newTestQueue(t, testConfig(t), newStubBackend())

	tests := []struct {
		name    string
		kind    types.JobKind
		handle  string
		wantErr error
	}{
		{"empty handle", types.JobKindTrack, "", ErrEmptyProgressHandle},
		{"unknown kind", types.JobKind("podcast"), "handle-1", ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := queue.AddDownload(meta("x"), tt.kind, tt.handle, nil, false)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// No records should have been created
	assert.Empty(t, queue.Records())
}

func TestStartEntryMonitoringIdempotent(t *testing.T) {
	// Long grace delay keeps the first poll from firing mid-test
	cfg := testConfig(t)
	cfg.FirstPollDelay = time.Minute
	queue, _ := newTestQueue(t, cfg, newStubBackend())

	id, err := queue.AddDownload(meta("Track"), types.JobKindTrack, "handle-1", nil, false)
	require.NoError(t, err)

	require.NoError(t, queue.StartEntryMonitoring(id))
	require.NoError(t, queue.StartEntryMonitoring(id))

	qm := queue.(*queueManager)
	qm.mu.Lock()
	active := len(qm.pollers)
	qm.mu.Unlock()
	assert.Equal(t, 1, active, "double start must leave exactly one poller")

	record, _ := queue.GetRecord(id)
	assert.Equal(t, types.JobStatusMonitoring, record.Status)
}

func TestStartEntryMonitoringUnknownRecord(t *testing.T) {
	queue, _ := newTestQueue(t, testConfig(t), newStubBackend())

	err := queue.StartEntryMonitoring("no-such-id")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestPollDrivesRecordToComplete(t *testing.T) {
	backend := newStubBackend()
	backend.script("handle-1",
		pollStep{result: progressing(40)},
		pollStep{result: progressing(80)},
		pollStep{result: completed()},
	)
	queue, _ := newTestQueue(t, testConfig(t), backend)

	id, err := queue.AddDownload(meta("Album"), types.JobKindAlbum, "handle-1", nil, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		record, _ := queue.GetRecord(id)
		return record.Status == types.JobStatusComplete
	}, 2*time.Second, 5*time.Millisecond)

	record, _ := queue.GetRecord(id)
	require.NotNil(t, record.Progress)
	assert.Equal(t, float64(100), record.Progress.Percent)
	assert.NotNil(t, record.CompletedAt)
}

func TestNoPollAfterTerminal(t *testing.T) {
	backend := newStubBackend()
	backend.script("handle-1", pollStep{result: completed()})
	cfg := testConfig(t)
	queue, _ := newTestQueue(t, cfg, backend)

	id, err := queue.AddDownload(meta("Track"), types.JobKindTrack, "handle-1", nil, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		record, _ := queue.GetRecord(id)
		return record.Status.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)

	settled := backend.callCount("handle-1")
	time.Sleep(10 * cfg.PollInterval)
	assert.Equal(t, settled, backend.callCount("handle-1"),
		"no status request may be issued after a terminal transition")
}

func TestRetryCeilingTransitionsToError(t *testing.T) {
	backend := newStubBackend()
	backend.script("handle-1", pollStep{err: context.DeadlineExceeded})
	cfg := testConfig(t)
	queue, _ := newTestQueue(t, cfg, backend)

	id, err := queue.AddDownload(meta("Track"), types.JobKindTrack, "handle-1", nil, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		record, _ := queue.GetRecord(id)
		return record.Status == types.JobStatusError
	}, 2*time.Second, 5*time.Millisecond)

	record, _ := queue.GetRecord(id)
	assert.Equal(t, cfg.RetryCeiling, record.RetryCount)
	assert.Contains(t, record.Error, "failed status checks")

	settled := backend.callCount("handle-1")
	time.Sleep(10 * cfg.PollInterval)
	assert.Equal(t, settled, backend.callCount("handle-1"))
}

func TestRetryCountResetsOnSuccess(t *testing.T) {
	backend := newStubBackend()
	// Ceiling is 3: two failures then recovery must not kill the record
	backend.script("handle-1",
		pollStep{err: context.DeadlineExceeded},
		pollStep{err: context.DeadlineExceeded},
		pollStep{result: progressing(10)},
	)
	queue, _ := newTestQueue(t, testConfig(t), backend)

	id, err := queue.AddDownload(meta("Track"), types.JobKindTrack, "handle-1", nil, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		record, _ := queue.GetRecord(id)
		return record.Status == types.JobStatusProgressing
	}, 2*time.Second, 5*time.Millisecond)

	record, _ := queue.GetRecord(id)
	assert.Zero(t, record.RetryCount, "retry count must reset on any success")
	assert.False(t, record.Status.IsTerminal())
}

func TestArtistFanOut(t *testing.T) {
	backend := newStubBackend()
	queue, _ := newTestQueue(t, testConfig(t), backend)

	handles := []string{"album-h1", "album-h2", "album-h3"}
	ids, err := queue.AddArtistDownload(meta("Discography"), handles, nil, true)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	for i, id := range ids {
		record, exists := queue.GetRecord(id)
		require.True(t, exists)
		assert.Equal(t, types.JobKindAlbum, record.Kind, "fan-out children are plain album jobs")
		assert.Equal(t, handles[i], record.ProgressHandle)
	}

	// Each child is monitored independently
	require.Eventually(t, func() bool {
		for _, handle := range handles {
			if backend.callCount(handle) == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestArtistFanOutRejectsEmptyHandles(t *testing.T) {
	queue, _ := newTestQueue(t, testConfig(t), newStubBackend())

	_, err := queue.AddArtistDownload(meta("x"), nil, nil, false)
	assert.ErrorIs(t, err, ErrEmptyProgressHandle)

	_, err = queue.AddArtistDownload(meta("x"), []string{"ok", ""}, nil, false)
	assert.ErrorIs(t, err, ErrEmptyProgressHandle)
}

func TestRemoveStopsPollingAndDiscardsLateResult(t *testing.T) {
	backend := newStubBackend()
	backend.gated = "slow-handle"
	backend.started = make(chan struct{})
	backend.release = make(chan struct{})
	backend.script("slow-handle", pollStep{result: completed()})

	queue, store := newTestQueue(t, testConfig(t), backend)

	id, err := queue.AddDownload(meta("Track"), types.JobKindTrack, "slow-handle", nil, true)
	require.NoError(t, err)

	// Wait until a poll is in flight, then dismiss the record
	<-backend.started
	require.NoError(t, queue.Remove(id))
	close(backend.release)

	time.Sleep(50 * time.Millisecond)

	_, exists := queue.GetRecord(id)
	assert.False(t, exists, "removed record must not reappear")

	persisted, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persisted, "late poll result must not mutate the store")

	// Dismissing an active record triggers a best-effort backend cancel
	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.cancels) == 1 && backend.cancels[0] == "slow-handle"
	}, time.Second, 5*time.Millisecond)
}

func TestRemoveUnknownRecord(t *testing.T) {
	queue, _ := newTestQueue(t, testConfig(t), newStubBackend())
	assert.ErrorIs(t, queue.Remove("no-such-id"), ErrRecordNotFound)
}

func TestReloadResumesNonTerminalRecords(t *testing.T) {
	cfg := testConfig(t)
	backend := newStubBackend()

	store, err := NewQueueStore(cfg.DBPath)
	require.NoError(t, err)

	now := time.Now()
	inFlight := &types.JobRecord{
		ID:             "rec-progressing",
		ProgressHandle: "handle-live",
		Kind:           types.JobKindAlbum,
		Name:           "Live Album",
		Status:         types.JobStatusProgressing,
		CreatedAt:      now,
	}
	done := &types.JobRecord{
		ID:             "rec-complete",
		ProgressHandle: "handle-done",
		Kind:           types.JobKindTrack,
		Name:           "Done Track",
		Status:         types.JobStatusComplete,
		CreatedAt:      now,
		CompletedAt:    &now,
	}
	require.NoError(t, store.Save(context.Background(), inFlight))
	require.NoError(t, store.Save(context.Background(), done))

	queue, err := NewQueueManager(cfg, store, backend, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		queue.Shutdown()
		store.Close()
	})

	// Both records rehydrated
	require.Len(t, queue.Records(), 2)

	// The in-flight record resumes polling, the finished one does not
	require.Eventually(t, func() bool {
		return backend.callCount("handle-live") > 0
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(5 * cfg.PollInterval)
	assert.Zero(t, backend.callCount("handle-done"),
		"terminal records must not be polled after reload")
}

func TestRetryResetsErrorRecord(t *testing.T) {
	backend := newStubBackend()
	backend.script("handle-1", pollStep{result: failed("remote exploded")})
	backend.retries["handle-1"] = "handle-2"
	backend.script("handle-2", pollStep{result: progressing(5)})

	queue, _ := newTestQueue(t, testConfig(t), backend)

	id, err := queue.AddDownload(meta("Track"), types.JobKindTrack, "handle-1", nil, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		record, _ := queue.GetRecord(id)
		return record.Status == types.JobStatusError
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, queue.Retry(id))

	record, _ := queue.GetRecord(id)
	assert.Equal(t, "handle-2", record.ProgressHandle, "backend may issue a fresh handle on retry")
	assert.Empty(t, record.Error)

	require.Eventually(t, func() bool {
		record, _ := queue.GetRecord(id)
		return record.Status == types.JobStatusProgressing
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRetryRequiresErrorState(t *testing.T) {
	queue, _ := newTestQueue(t, testConfig(t), newStubBackend())

	id, err := queue.AddDownload(meta("Track"), types.JobKindTrack, "handle-1", nil, false)
	require.NoError(t, err)

	assert.ErrorIs(t, queue.Retry(id), ErrNotRetryable)
	assert.ErrorIs(t, queue.Retry("no-such-id"), ErrRecordNotFound)
}

func TestToggleVisibility(t *testing.T) {
	queue, _ := newTestQueue(t, testConfig(t), newStubBackend())

	assert.False(t, queue.Visible())
	assert.True(t, queue.ToggleVisibility())
	assert.False(t, queue.ToggleVisibility())
	assert.True(t, queue.ToggleVisibility(true))
	assert.True(t, queue.ToggleVisibility(true))
	assert.True(t, queue.Visible())
}

func TestSweepRemovesExpiredTerminalRecords(t *testing.T) {
	backend := newStubBackend()
	backend.script("handle-1", pollStep{result: completed()})
	cfg := testConfig(t)
	queue, store := newTestQueue(t, cfg, backend)

	id, err := queue.AddDownload(meta("Track"), types.JobKindTrack, "handle-1", nil, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		record, _ := queue.GetRecord(id)
		return record.Status == types.JobStatusComplete
	}, 2*time.Second, 5*time.Millisecond)

	qm := queue.(*queueManager)

	// Inside the retention window the record stays
	qm.sweep(time.Now())
	_, exists := queue.GetRecord(id)
	assert.True(t, exists)

	// Past the retention window it is removed from memory and store
	qm.sweep(time.Now().Add(cfg.RetentionWindow + time.Minute))
	_, exists = queue.GetRecord(id)
	assert.False(t, exists)

	persisted, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestSweepFailsStalePendingRecords(t *testing.T) {
	cfg := testConfig(t)
	queue, _ := newTestQueue(t, cfg, newStubBackend())

	id, err := queue.AddDownload(meta("Track"), types.JobKindTrack, "handle-1", nil, false)
	require.NoError(t, err)

	qm := queue.(*queueManager)

	qm.sweep(time.Now())
	record, _ := queue.GetRecord(id)
	assert.Equal(t, types.JobStatusPending, record.Status)

	qm.sweep(time.Now().Add(cfg.PendingTimeout + time.Minute))
	record, _ = queue.GetRecord(id)
	assert.Equal(t, types.JobStatusError, record.Status)
	assert.Contains(t, record.Error, "never started")
}

func TestRecordsOrderedByCreation(t *testing.T) {
	queue, _ := newTestQueue(t, testConfig(t), newStubBackend())

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := queue.AddDownload(meta("Track"), types.JobKindTrack, "h", nil, false)
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(time.Millisecond)
	}

	records := queue.Records()
	require.Len(t, records, 5)
	for i, record := range records {
		assert.Equal(t, ids[i], record.ID)
	}
}
