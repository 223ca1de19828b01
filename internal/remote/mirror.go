package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"go.uber.org/zap"
)

var errMissingClient = errors.New("remote: client is required")

const defaultRefreshInterval = 30 * time.Second

// MirrorConfig describes the read-only durable-store projection.
type MirrorConfig struct {
	Client          *Client
	Day             memo.Day
	RefreshInterval time.Duration
	Logger          *zap.Logger
	// OnSnapshot receives every refreshed record list. Reconciliation wires
	// this to View.SetRemote.
	OnSnapshot func(records []memo.RemoteMemoRecord)
}

// Mirror holds the latest remote record list for one calendar date. Until the
// first successful refresh the snapshot reports loaded=false, which the merge
// treats as an absent source rather than an empty one.
type Mirror struct {
	client     *Client
	interval   time.Duration
	logger     *zap.Logger
	onSnapshot func(records []memo.RemoteMemoRecord)

	mu      sync.RWMutex
	day     memo.Day
	records []memo.RemoteMemoRecord
	loaded  bool
}

// NewMirror constructs a mirror scoped to the configured calendar date.
func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	interval := cfg.RefreshInterval
	if interval == 0 {
		interval = defaultRefreshInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		client:     cfg.Client,
		interval:   interval,
		logger:     logger,
		onSnapshot: cfg.OnSnapshot,
		day:        cfg.Day,
	}, nil
}

// Snapshot returns the latest record list and whether any refresh has
// completed for the current date scope.
func (m *Mirror) Snapshot() ([]memo.RemoteMemoRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.loaded {
		return nil, false
	}
	records := make([]memo.RemoteMemoRecord, len(m.records))
	copy(records, m.records)
	return records, true
}

// SetDay changes the date scope and discards the previous snapshot.
func (m *Mirror) SetDay(day memo.Day) {
	m.mu.Lock()
	m.day = day
	m.records = nil
	m.loaded = false
	m.mu.Unlock()
}

// Refresh queries the durable store and replaces the snapshot. A failed
// refresh keeps the previous snapshot; the mirror is best-effort by design.
func (m *Mirror) Refresh(ctx context.Context) error {
	m.mu.RLock()
	day := m.day
	m.mu.RUnlock()

	records, err := m.client.QueryByDate(ctx, day)
	if err != nil {
		m.logger.Warn("remote mirror refresh failed",
			zap.String("day", day.String()), zap.Error(err))
		return err
	}

	m.mu.Lock()
	if m.day != day {
		// Scope changed while the query was in flight; drop the stale result.
		m.mu.Unlock()
		return nil
	}
	m.records = records
	m.loaded = true
	m.mu.Unlock()

	if m.onSnapshot != nil {
		m.onSnapshot(records)
	}
	return nil
}

// Run refreshes immediately and then on the configured interval until ctx is
// done. Individual refresh failures are logged and do not stop the loop.
func (m *Mirror) Run(ctx context.Context) {
	_ = m.Refresh(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.Refresh(ctx)
		}
	}
}
