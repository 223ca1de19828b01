package external

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
)

// ErrUnavailable indicates the platform has no external media library.
var ErrUnavailable = errors.New("external: import source unavailable on this platform")

// Source enumerates recordings owned by an external device media library.
// Best-effort and read-only: the engine never mutates external records, and
// the capability may be entirely absent on some platforms.
type Source interface {
	// ListAllRecordings returns every recording the library exposes. An
	// unavailable source returns ErrUnavailable; callers degrade to an empty
	// external list.
	ListAllRecordings(ctx context.Context) ([]memo.ExternalMemoRecord, error)
	// ReadFileBytes resolves a record's file handle to audio bytes.
	ReadFileBytes(ctx context.Context, fileHandle string) ([]byte, error)
}

// UnavailableSource is the Source for platforms without a media library.
type UnavailableSource struct{}

// ListAllRecordings always reports the capability as absent.
func (UnavailableSource) ListAllRecordings(ctx context.Context) ([]memo.ExternalMemoRecord, error) {
	return nil, ErrUnavailable
}

// ReadFileBytes always reports the capability as absent.
func (UnavailableSource) ReadFileBytes(ctx context.Context, fileHandle string) ([]byte, error) {
	return nil, ErrUnavailable
}
