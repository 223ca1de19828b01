package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"go.uber.org/zap"
)

const libraryIndexFile = "library.json"

// ErrInvalidLibrary indicates the library directory or its index is unreadable.
var ErrInvalidLibrary = errors.New("external: invalid media library")

// LibrarySource reads an external media-library directory: a folder of audio
// files described by a JSON sidecar index. It stands in for the platform
// media API on platforms that expose recordings through the filesystem.
type LibrarySource struct {
	dir    string
	logger *zap.Logger
}

// LibrarySourceConfig describes the media-library location.
type LibrarySourceConfig struct {
	Dir    string
	Logger *zap.Logger
}

// NewLibrarySource constructs a directory-backed import source.
func NewLibrarySource(cfg LibrarySourceConfig) (*LibrarySource, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: directory is required", ErrInvalidLibrary)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LibrarySource{dir: cfg.Dir, logger: logger}, nil
}

type libraryEntry struct {
	UUID               string  `json:"uuid"`
	Label              *string `json:"label,omitempty"`
	DurationSeconds    float64 `json:"duration_s"`
	OccurredAtEpochMs  int64   `json:"occurred_at_ms"`
	TranscriptText     *string `json:"transcript,omitempty"`
	TranscriptLanguage *string `json:"language,omitempty"`
	File               string  `json:"file,omitempty"`
}

// ListAllRecordings reads the sidecar index and returns one record per entry.
// Entries whose audio file is missing on disk are returned without a file
// handle; reconciliation drops them from the merged view.
func (s *LibrarySource) ListAllRecordings(ctx context.Context) ([]memo.ExternalMemoRecord, error) {
	indexPath := filepath.Join(s.dir, libraryIndexFile)
	raw, err := os.ReadFile(indexPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLibrary, err)
	}

	var entries []libraryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLibrary, err)
	}

	records := make([]memo.ExternalMemoRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.UUID == "" {
			continue
		}
		record := memo.ExternalMemoRecord{
			ExternalUUID:       entry.UUID,
			DisplayLabel:       entry.Label,
			DurationSeconds:    entry.DurationSeconds,
			OccurredAtEpochMs:  entry.OccurredAtEpochMs,
			TranscriptText:     entry.TranscriptText,
			TranscriptLanguage: entry.TranscriptLanguage,
		}
		if entry.File != "" {
			path := filepath.Join(s.dir, entry.File)
			if _, statErr := os.Stat(path); statErr == nil {
				record.LocalFileHandle = &path
			} else {
				s.logger.Warn("media library entry missing audio file",
					zap.String("uuid", entry.UUID), zap.String("file", entry.File))
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// ReadFileBytes loads a recording's audio from disk.
func (s *LibrarySource) ReadFileBytes(ctx context.Context, fileHandle string) ([]byte, error) {
	return os.ReadFile(fileHandle)
}
