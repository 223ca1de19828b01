package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/remote"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrUploadFailed indicates the audio transfer to the durable store did not
	// complete; no remote record was created.
	ErrUploadFailed = errors.New("syncer: upload failed")
	// ErrAlreadySynced indicates the record already has a durable-store copy.
	ErrAlreadySynced = errors.New("syncer: record already synced")

	errMissingStore   = errors.New("syncer: local store is required")
	errMissingDurable = errors.New("syncer: durable store client is required")
)

// DurableStore is the subset of the durable-store API the coordinator uses.
type DurableStore interface {
	RequestUploadTarget(ctx context.Context) (remote.UploadTarget, error)
	UploadBytes(ctx context.Context, target remote.UploadTarget, audio []byte, contentType string) (string, error)
	CreateRecord(ctx context.Context, request remote.CreateRecordRequest) (memo.RemoteMemoRecord, error)
	TranscribeByRemoteID(ctx context.Context, remoteID string) (remote.TranscriptionResult, error)
}

// CoordinatorConfig describes coordinator dependencies.
type CoordinatorConfig struct {
	Store   *store.Service
	Durable DurableStore
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Coordinator uploads local-only records to the durable store. The five-step
// sequence in SyncOne is strictly ordered so a crash mid-way never leaves a
// remote record without audio; the worst case is an orphaned uploaded blob,
// which is acceptable garbage.
type Coordinator struct {
	store   *store.Service
	durable DurableStore
	clock   func() time.Time
	logger  *zap.Logger

	background sync.WaitGroup
}

// NewCoordinator constructs the sync coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Durable == nil {
		return nil, errMissingDurable
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: cfg.Store, durable: cfg.Durable, clock: clock, logger: logger}, nil
}

// SyncOne uploads one local record and creates its durable-store copy.
// Steps: request target, transfer bytes, create remote record, flag the local
// record, then fire a best-effort server-side transcription without waiting.
func (c *Coordinator) SyncOne(ctx context.Context, record memo.LocalMemoRecord) error {
	if record.SyncedToRemote {
		return fmt.Errorf("%w: %s", ErrAlreadySynced, record.ID)
	}

	target, err := c.durable.RequestUploadTarget(ctx)
	if err != nil {
		return fmt.Errorf("%w: request target: %v", ErrUploadFailed, err)
	}

	targetID, err := c.durable.UploadBytes(ctx, target, record.AudioBytes, record.MimeType)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	remoteRecord, err := c.durable.CreateRecord(ctx, remote.CreateRecordRequest{
		LocalID:           record.ID,
		DisplayName:       record.DisplayName,
		DurationMs:        memo.DurationToMs(record.DurationSeconds),
		ClientCreatedAtMs: record.CreatedAtEpochMs,
		UploadTargetID:    targetID,
	})
	if err != nil {
		return fmt.Errorf("%w: create record: %v", ErrUploadFailed, err)
	}

	id, err := memo.NewMemoID(record.ID)
	if err != nil {
		return err
	}
	synced := true
	if err := c.store.Update(ctx, id, store.FieldPatch{
		SyncedToRemote: &synced,
		RemoteID:       &remoteRecord.RemoteID,
	}); err != nil {
		return err
	}

	c.logger.Info("memo synced",
		zap.String("memo_id", record.ID),
		zap.String("remote_id", remoteRecord.RemoteID))

	// Best effort: the transcription outcome never reaches this caller.
	c.background.Add(1)
	go c.transcribeRemote(remoteRecord.RemoteID)

	return nil
}

// transcribeRemote runs detached from the triggering call; its context is
// independent so navigation away from the UI does not cancel it.
func (c *Coordinator) transcribeRemote(remoteID string) {
	defer c.background.Done()
	result, err := c.durable.TranscribeByRemoteID(context.Background(), remoteID)
	if err != nil {
		c.logger.Warn("background transcription request failed",
			zap.String("remote_id", remoteID), zap.Error(err))
		return
	}
	if !result.Success {
		reason := ""
		if result.Error != nil {
			reason = *result.Error
		}
		c.logger.Warn("background transcription rejected",
			zap.String("remote_id", remoteID), zap.String("reason", reason))
	}
}

// WaitBackground blocks until all fire-and-forget work has finished. Used by
// tests and graceful shutdown.
func (c *Coordinator) WaitBackground() {
	c.background.Wait()
}

// Progress is the side channel for bulk sync. Failures are recorded here,
// never raised to the caller.
type Progress struct {
	mu        sync.Mutex
	Total     int
	Completed int
	Skipped   int
	Failed    []string
}

func (p *Progress) markCompleted() {
	p.mu.Lock()
	p.Completed++
	p.mu.Unlock()
}

func (p *Progress) markSkipped() {
	p.mu.Lock()
	p.Skipped++
	p.mu.Unlock()
}

func (p *Progress) markFailed(id string) {
	p.mu.Lock()
	p.Failed = append(p.Failed, id)
	p.mu.Unlock()
}

// SyncAll uploads the given records one at a time. Sequential on purpose:
// bounded pressure on the upload target and simple per-item failure
// attribution. Already-synced records are skipped, failures isolated.
func (c *Coordinator) SyncAll(ctx context.Context, records []memo.LocalMemoRecord) *Progress {
	progress := &Progress{Total: len(records)}
	for _, record := range records {
		if record.SyncedToRemote {
			progress.markSkipped()
			continue
		}
		if err := c.SyncOne(ctx, record); err != nil {
			c.logger.Warn("bulk sync item failed",
				zap.String("memo_id", record.ID), zap.Error(err))
			progress.markFailed(record.ID)
			continue
		}
		progress.markCompleted()
	}
	return progress
}
