package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r0xsh/spotizerr/api"
	"github.com/r0xsh/spotizerr/config"
	"github.com/r0xsh/spotizerr/types"
	"github.com/r0xsh/spotizerr/websocket"
)

// Errors returned for invalid use of the queue's public API. Transient
// runtime conditions (failed polls, backend hiccups) never surface
// here; they show up on the record's status instead.
var (
	ErrEmptyProgressHandle = errors.New("progress handle must not be empty")
	ErrUnknownKind         = errors.New("unknown download kind")
	ErrRecordNotFound      = errors.New("record not found")
	ErrRecordFinished      = errors.New("record already reached a terminal state")
	ErrNotRetryable        = errors.New("only records in error state can be retried")
)

// ProgressClient is the backend-facing surface the queue needs. It is
// satisfied by api.Client.
type ProgressClient interface {
	GetProgress(ctx context.Context, handle string) (*api.PollResult, error)
	Cancel(ctx context.Context, handle string) error
	Retry(ctx context.Context, handle string) (string, error)
}

// QueueManager interface defines the public surface of the download
// queue. Collaborators create records with a backend-issued progress
// handle and start monitoring once they have confirmed the handle
// exists server-side.
type QueueManager interface {
	AddDownload(meta types.DisplayMetadata, kind types.JobKind, progressHandle string, request *types.RequestDescriptor, autoStart bool) (string, error)
	AddArtistDownload(meta types.DisplayMetadata, progressHandles []string, request *types.RequestDescriptor, autoStart bool) ([]string, error)
	StartEntryMonitoring(id string) error
	ToggleVisibility(forceOpen ...bool) bool
	Visible() bool
	GetRecord(id string) (*types.JobRecord, bool)
	Records() []*types.JobRecord
	Remove(id string) error
	Retry(id string) error
	Shutdown()
}

// queueManager orchestrates the record set and its pollers. Every
// mutation happens under the mutex and is persisted before the lock is
// released, so an abrupt shutdown never loses state.
type queueManager struct {
	mu      sync.Mutex
	records map[string]*types.JobRecord
	pollers map[string]*statusPoller

	store  QueueStore
	client ProgressClient
	hub    websocket.Hub

	pollInterval   time.Duration
	firstPollDelay time.Duration
	requestTimeout time.Duration
	retryCeiling   int
	retention      time.Duration
	pendingTimeout time.Duration
	sweepInterval  time.Duration

	// Bounds concurrent in-flight status requests across all pollers
	pollSlots chan struct{}

	visible bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueueManager loads the persisted record set and resumes
// monitoring for every non-terminal record so in-flight server jobs
// are not orphaned by a restart.
func NewQueueManager(cfg *config.Config, store QueueStore, client ProgressClient, hub websocket.Hub) (QueueManager, error) {
	ctx, cancel := context.WithCancel(context.Background())

	q := &queueManager{
		records:        make(map[string]*types.JobRecord),
		pollers:        make(map[string]*statusPoller),
		store:          store,
		client:         client,
		hub:            hub,
		pollInterval:   cfg.PollInterval,
		firstPollDelay: cfg.FirstPollDelay,
		requestTimeout: cfg.RequestTimeout,
		retryCeiling:   cfg.RetryCeiling,
		retention:      cfg.RetentionWindow,
		pendingTimeout: cfg.PendingTimeout,
		sweepInterval:  cfg.SweepInterval,
		pollSlots:      make(chan struct{}, cfg.MaxActivePolls),
		ctx:            ctx,
		cancel:         cancel,
	}

	persisted, err := store.LoadAll(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("rehydrate queue: %w", err)
	}

	q.mu.Lock()
	for _, record := range persisted {
		q.records[record.ID] = record
	}
	for _, record := range persisted {
		if record.Status.IsTerminal() {
			continue
		}
		if err := q.startMonitoringLocked(record); err != nil {
			log.Printf("Could not resume monitoring for record %s: %v", record.ID, err)
		}
	}
	q.mu.Unlock()

	q.wg.Add(1)
	go q.sweepLoop()

	return q, nil
}

// AddDownload creates a record in pending state, persists it, and
// returns its id synchronously. No network access happens here. With
// autoStart the record moves straight to monitoring; the UI call sites
// deliberately defer that until the server job is confirmed.
func (q *queueManager) AddDownload(meta types.DisplayMetadata, kind types.JobKind, progressHandle string, request *types.RequestDescriptor, autoStart bool) (string, error) {
	if progressHandle == "" {
		return "", ErrEmptyProgressHandle
	}
	if !types.KnownKind(kind) {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	record := q.newRecordLocked(meta, kind, progressHandle, request)
	if err := q.persistLocked(record); err != nil {
		delete(q.records, record.ID)
		return "", err
	}
	q.notifyLocked("created", record)

	if autoStart {
		if err := q.startMonitoringLocked(record); err != nil {
			return record.ID, err
		}
	}
	return record.ID, nil
}

// AddArtistDownload fans an artist request out into one album record
// per progress handle. The artist-level request itself is not tracked;
// each child is an ordinary album job monitored independently.
func (q *queueManager) AddArtistDownload(meta types.DisplayMetadata, progressHandles []string, request *types.RequestDescriptor, autoStart bool) ([]string, error) {
	if len(progressHandles) == 0 {
		return nil, ErrEmptyProgressHandle
	}
	for _, handle := range progressHandles {
		if handle == "" {
			return nil, ErrEmptyProgressHandle
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, 0, len(progressHandles))
	for _, handle := range progressHandles {
		record := q.newRecordLocked(meta, types.JobKindAlbum, handle, request)
		if err := q.persistLocked(record); err != nil {
			delete(q.records, record.ID)
			return ids, err
		}
		q.notifyLocked("created", record)
		ids = append(ids, record.ID)

		if autoStart {
			if err := q.startMonitoringLocked(record); err != nil {
				return ids, err
			}
		}
	}
	return ids, nil
}

// newRecordLocked builds and registers a fresh pending record
func (q *queueManager) newRecordLocked(meta types.DisplayMetadata, kind types.JobKind, progressHandle string, request *types.RequestDescriptor) *types.JobRecord {
	name := meta.Name
	if name == "" {
		name = "Unknown"
	}

	record := &types.JobRecord{
		ID:             uuid.New().String(),
		ProgressHandle: progressHandle,
		Kind:           kind,
		Name:           name,
		Artist:         meta.Artist,
		Request:        request,
		Status:         types.JobStatusPending,
		Visible:        true,
		CreatedAt:      time.Now(),
	}
	q.records[record.ID] = record
	return record
}

// StartEntryMonitoring spawns the poller for a record. Calling it for
// a record that is already monitored is a no-op, not an error: several
// collaborators may race to start the same record after independent
// confirmation checks.
func (q *queueManager) StartEntryMonitoring(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	record, ok := q.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return q.startMonitoringLocked(record)
}

func (q *queueManager) startMonitoringLocked(record *types.JobRecord) error {
	if q.closed {
		return errors.New("queue is shut down")
	}
	if _, active := q.pollers[record.ID]; active {
		return nil
	}
	if record.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrRecordFinished, record.ID)
	}

	if record.Status == types.JobStatusPending {
		record.Status = types.JobStatusMonitoring
		if err := q.persistLocked(record); err != nil {
			return err
		}
		q.notifyLocked("status", record)
	}

	ctx, cancel := context.WithCancel(q.ctx)
	poller := &statusPoller{
		recordID: record.ID,
		handle:   record.ProgressHandle,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	q.pollers[record.ID] = poller

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		poller.run(ctx, q)
	}()
	return nil
}

// applyPollResult folds one poll outcome into the record. Returns
// false when the poller should stop. A result that arrives after the
// record was removed is discarded here.
func (q *queueManager) applyPollResult(id string, result *api.PollResult, pollErr error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	record, ok := q.records[id]
	if !ok {
		return false
	}
	if record.Status.IsTerminal() {
		return false
	}

	if pollErr != nil {
		record.RetryCount++
		if record.RetryCount >= q.retryCeiling {
			log.Printf("Record %s exceeded retry ceiling (%d): %v", id, q.retryCeiling, pollErr)
			q.finishLocked(record, types.JobStatusError,
				fmt.Sprintf("giving up after %d failed status checks", record.RetryCount))
			return false
		}
		// Transient failure: keep the loop going, persist the count
		if err := q.persistLocked(record); err != nil {
			log.Printf("Persist record %s: %v", id, err)
		}
		return true
	}

	record.RetryCount = 0
	snapshot := result.Snapshot
	record.Progress = &snapshot

	switch result.Status {
	case types.JobStatusComplete, types.JobStatusCancelled:
		q.finishLocked(record, result.Status, "")
		return false
	case types.JobStatusError:
		q.finishLocked(record, types.JobStatusError, result.ErrorMsg)
		return false
	default:
		record.Status = types.JobStatusProgressing
		if err := q.persistLocked(record); err != nil {
			log.Printf("Persist record %s: %v", id, err)
		}
		q.notifyLocked("progress", record)
		return true
	}
}

// finishLocked moves a record into a terminal state and persists it
func (q *queueManager) finishLocked(record *types.JobRecord, status types.JobStatus, errorMsg string) {
	record.Status = status
	record.Error = errorMsg
	now := time.Now()
	record.CompletedAt = &now

	if err := q.persistLocked(record); err != nil {
		log.Printf("Persist record %s: %v", record.ID, err)
	}

	msgType := "status"
	switch status {
	case types.JobStatusComplete:
		msgType = "complete"
	case types.JobStatusError:
		msgType = "error"
	}
	q.notifyLocked(msgType, record)
}

// clearPoller drops the poller map entry once its loop has exited
func (q *queueManager) clearPoller(id string, p *statusPoller) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if current, ok := q.pollers[id]; ok && current == p {
		delete(q.pollers, id)
	}
}

// GetRecord returns a copy of one record
func (q *queueManager) GetRecord(id string) (*types.JobRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record, ok := q.records[id]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Records returns copies of all records ordered by creation time
func (q *queueManager) Records() []*types.JobRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	records := make([]*types.JobRecord, 0, len(q.records))
	for _, record := range q.records {
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

// Remove dismisses a record: its poller is stopped synchronously so no
// further poll fires for the id, a non-terminal record is cancelled
// (with a best-effort cancel sent to the backend), and the record
// leaves the live set and the store.
func (q *queueManager) Remove(id string) error {
	q.mu.Lock()

	record, ok := q.records[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	if poller, active := q.pollers[id]; active {
		poller.Stop()
		delete(q.pollers, id)
	}

	wasActive := !record.Status.IsTerminal()
	if wasActive {
		record.Status = types.JobStatusCancelled
		now := time.Now()
		record.CompletedAt = &now
		q.notifyLocked("status", record)
	}

	delete(q.records, id)
	if err := q.store.Delete(q.ctx, id); err != nil {
		log.Printf("Delete record %s from store: %v", id, err)
	}
	q.notifyLocked("removed", record)

	handle := record.ProgressHandle
	q.mu.Unlock()

	if wasActive {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), q.requestTimeout)
			defer cancel()
			if err := q.client.Cancel(ctx, handle); err != nil {
				log.Printf("Backend cancel for %s failed: %v", handle, err)
			}
		}()
	}
	return nil
}

// Retry asks the backend to retry a failed job and resumes monitoring.
// Retries are always user-initiated; the queue never re-sends the
// original request on its own.
func (q *queueManager) Retry(id string) error {
	q.mu.Lock()
	record, ok := q.records[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if record.Status != types.JobStatusError {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, record.Status)
	}
	handle := record.ProgressHandle
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(q.ctx, q.requestTimeout)
	defer cancel()
	newHandle, err := q.client.Retry(ctx, handle)
	if err != nil {
		return fmt.Errorf("backend retry for %s: %w", id, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	record, ok = q.records[id]
	if !ok {
		// Dismissed while the retry request was in flight
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	record.ProgressHandle = newHandle
	record.Status = types.JobStatusPending
	record.Progress = nil
	record.Error = ""
	record.RetryCount = 0
	record.CompletedAt = nil
	if err := q.persistLocked(record); err != nil {
		return err
	}
	q.notifyLocked("status", record)

	return q.startMonitoringLocked(record)
}

// ToggleVisibility flips (or forces) the queue panel visibility flag.
// It exists purely as a notification hook for the UI panel and touches
// neither monitoring nor persistence.
func (q *queueManager) ToggleVisibility(forceOpen ...bool) bool {
	q.mu.Lock()
	if len(forceOpen) > 0 {
		q.visible = forceOpen[0]
	} else {
		q.visible = !q.visible
	}
	visible := q.visible
	q.mu.Unlock()

	if q.hub != nil {
		q.hub.BroadcastQueue(types.QueueMessage{
			Type:      "visibility",
			Visible:   &visible,
			Timestamp: time.Now(),
		})
	}
	return visible
}

// Visible reports the current panel visibility flag
func (q *queueManager) Visible() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.visible
}

// Shutdown cancels every poller and the maintenance sweep, then waits
// for them to drain. Records are already persisted on every mutation,
// so there is nothing further to flush.
func (q *queueManager) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// sweepLoop periodically enforces the retention window for terminal
// records and the pending timeout for records that never started
// monitoring.
func (q *queueManager) sweepLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.sweep(time.Now())
		}
	}
}

// sweep removes expired terminal records and fails stale pending ones
func (q *queueManager) sweep(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, record := range q.records {
		switch {
		case record.Status.IsTerminal():
			if record.CompletedAt != nil && now.Sub(*record.CompletedAt) > q.retention {
				delete(q.records, id)
				if err := q.store.Delete(q.ctx, id); err != nil {
					log.Printf("Delete expired record %s: %v", id, err)
				}
				q.notifyLocked("removed", record)
			}
		case record.Status == types.JobStatusPending:
			if _, active := q.pollers[id]; !active && now.Sub(record.CreatedAt) > q.pendingTimeout {
				log.Printf("Record %s never started monitoring, marking as error", id)
				q.finishLocked(record, types.JobStatusError, "monitoring was never started")
			}
		}
	}
}

// persistLocked writes one record to the store before the mutation's
// caller can observe it
func (q *queueManager) persistLocked(record *types.JobRecord) error {
	if err := q.store.Save(q.ctx, record); err != nil {
		return fmt.Errorf("persist record %s: %w", record.ID, err)
	}
	return nil
}

// notifyLocked pushes a queue update to the websocket hub
func (q *queueManager) notifyLocked(msgType string, record *types.JobRecord) {
	if q.hub == nil {
		return
	}

	msg := types.QueueMessage{
		RecordID:  record.ID,
		Type:      msgType,
		Status:    string(record.Status),
		Record:    record.Clone(),
		Timestamp: time.Now(),
	}
	if record.Progress != nil {
		msg.Percent = record.Progress.Percent
		msg.Message = record.Progress.Message
	}
	if record.Error != "" {
		msg.Message = record.Error
	}
	q.hub.BroadcastQueue(msg)
}
