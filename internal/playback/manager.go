package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrFileReadFailed indicates an external media-library file could not be
	// read into a playable resource.
	ErrFileReadFailed = errors.New("playback: file read failed")

	errMissingFactory = errors.New("playback: handle factory is required")
	errMissingReader  = errors.New("playback: file reader is required")
)

// Handle is a playable resource. SourceURL feeds the audio element; Release
// frees whatever platform resource backs it. Release is idempotent only if
// the factory makes it so; the manager calls it exactly once per handle.
type Handle interface {
	SourceURL() string
	Release()
}

// HandleFactory materializes platform handles from raw audio. The engine does
// not know whether that means an object URL, a temp file or something else.
type HandleFactory interface {
	FromBytes(audio []byte, mimeType string) (Handle, error)
}

// FileReader is the subset of the external import source the manager uses.
type FileReader interface {
	ReadFileBytes(ctx context.Context, fileHandle string) ([]byte, error)
}

// ManagerConfig describes manager dependencies.
type ManagerConfig struct {
	Factory HandleFactory
	Files   FileReader
	Logger  *zap.Logger
}

// Manager owns playable handles for the merged list. One handle per memo id,
// created on first resolve and reused until the memo leaves the list. Loads
// for the same id are collapsed so a double-tap never materializes two
// resources for one memo.
type Manager struct {
	factory HandleFactory
	files   FileReader
	logger  *zap.Logger
	flight  singleflight.Group

	mu      sync.Mutex
	handles map[string]Handle
}

// NewManager constructs the playback resource manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Factory == nil {
		return nil, errMissingFactory
	}
	if cfg.Files == nil {
		return nil, errMissingReader
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		factory: cfg.Factory,
		files:   cfg.Files,
		logger:  logger,
		handles: make(map[string]Handle),
	}, nil
}

// remoteHandle streams straight from the durable store; nothing to release.
type remoteHandle struct {
	url string
}

func (h remoteHandle) SourceURL() string { return h.url }
func (h remoteHandle) Release()          {}

// Resolve returns the playable handle for a merged memo, creating it on first
// use. Cloud-only memos resolve to their streaming URL without touching the
// cache.
func (m *Manager) Resolve(ctx context.Context, entry memo.MergedMemo) (Handle, error) {
	if accessor, ok := entry.Audio.(memo.RemoteURLAccessor); ok {
		return remoteHandle{url: accessor.URL}, nil
	}

	m.mu.Lock()
	if handle, ok := m.handles[entry.ID]; ok {
		m.mu.Unlock()
		return handle, nil
	}
	m.mu.Unlock()

	result, err, _ := m.flight.Do(entry.ID, func() (interface{}, error) {
		m.mu.Lock()
		if handle, ok := m.handles[entry.ID]; ok {
			m.mu.Unlock()
			return handle, nil
		}
		m.mu.Unlock()

		handle, err := m.materialize(ctx, entry)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.handles[entry.ID] = handle
		m.mu.Unlock()
		return handle, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(Handle), nil
}

func (m *Manager) materialize(ctx context.Context, entry memo.MergedMemo) (Handle, error) {
	switch accessor := entry.Audio.(type) {
	case memo.OwnedBytesAccessor:
		handle, err := m.factory.FromBytes(accessor.Bytes, accessor.MimeType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFileReadFailed, err)
		}
		return handle, nil
	case memo.LazyFileAccessor:
		audio, err := m.files.ReadFileBytes(ctx, accessor.FileHandle)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrFileReadFailed, accessor.FileHandle, err)
		}
		handle, err := m.factory.FromBytes(audio, "")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFileReadFailed, err)
		}
		return handle, nil
	default:
		return nil, fmt.Errorf("%w: memo %s has no playable source", ErrFileReadFailed, entry.ID)
	}
}

// Evict releases the handle for a memo that left the merged list. Safe to
// call for ids that were never resolved.
func (m *Manager) Evict(memoID string) {
	m.mu.Lock()
	handle, ok := m.handles[memoID]
	if ok {
		delete(m.handles, memoID)
	}
	m.mu.Unlock()

	if ok {
		handle.Release()
		m.logger.Debug("playback handle released", zap.String("memo_id", memoID))
	}
}

// Teardown releases every live handle. Called when the merged view goes away.
func (m *Manager) Teardown() {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]Handle)
	m.mu.Unlock()

	for memoID, handle := range handles {
		handle.Release()
		m.logger.Debug("playback handle released", zap.String("memo_id", memoID))
	}
}
