package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/store"
	"go.uber.org/zap"
)

var (
	errMissingStore  = errors.New("transcribe: local store is required")
	errMissingClient = errors.New("transcribe: provider client is required")
)

// CoordinatorConfig describes coordinator dependencies.
type CoordinatorConfig struct {
	Store  *store.Service
	Client *Client
	Clock  func() time.Time
	Logger *zap.Logger
}

// Coordinator transcribes locally held memos through the provider client and
// persists results back onto the owning records. Already-synced records get
// their cloud transcript through the server-side path during sync; this
// coordinator only serves the client-side path.
type Coordinator struct {
	store  *store.Service
	client *Client
	clock  func() time.Time
	logger *zap.Logger
}

// NewCoordinator constructs the transcription coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: cfg.Store, client: cfg.Client, clock: clock, logger: logger}, nil
}

// TranscribeOne transcribes a single local record and persists the transcript
// fields onto it.
func (c *Coordinator) TranscribeOne(ctx context.Context, id memo.MemoID) error {
	record, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}

	filenameHint := fmt.Sprintf("%s.%s", record.ID, record.FileExtension)
	result, err := c.client.Transcribe(ctx, record.AudioBytes, filenameHint)
	if err != nil {
		return err
	}

	transcribedAt := c.clock().UnixMilli()
	patch := store.FieldPatch{
		TranscriptText:       &result.Text,
		TranscriptLanguage:   &result.Language,
		TranscribedAtEpochMs: &transcribedAt,
	}
	if err := c.store.Update(ctx, id, patch); err != nil {
		return err
	}

	c.logger.Info("memo transcribed",
		zap.String("memo_id", id.String()),
		zap.String("language", result.Language))
	return nil
}

// Progress is the side channel for bulk transcription. Failures are counted,
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

// TranscribeAll walks the merged list sequentially, transcribing every memo
// whose audio is locally available and which has no transcript yet.
// Cloud-only memos are skipped: their audio is not on this device. Per-item
// failures are isolated; the walk always finishes.
func (c *Coordinator) TranscribeAll(ctx context.Context, merged []memo.MergedMemo) *Progress {
	progress := &Progress{Total: len(merged)}
	for _, entry := range merged {
		if _, ok := entry.Audio.(memo.OwnedBytesAccessor); !ok {
			progress.markSkipped()
			continue
		}
		if entry.TranscriptText != nil {
			progress.markSkipped()
			continue
		}
		id, err := memo.NewMemoID(entry.ID)
		if err != nil {
			progress.markFailed(entry.ID)
			continue
		}
		if err := c.TranscribeOne(ctx, id); err != nil {
			c.logger.Warn("bulk transcription item failed",
				zap.String("memo_id", entry.ID), zap.Error(err))
			progress.markFailed(entry.ID)
			continue
		}
		progress.markCompleted()
	}
	return progress
}
