package memo

// SyncStatus classifies which sources hold a copy of a merged memo.
type SyncStatus string

const (
	// SyncStatusLocal marks a recording that exists solely in the on-device store.
	SyncStatusLocal SyncStatus = "local"
	// SyncStatusCloud marks a durable-store record with no on-device byte copy.
	SyncStatusCloud SyncStatus = "cloud"
	// SyncStatusSynced marks a local recording with a matched durable-store copy.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusExported marks a recording owned by an external media library.
	SyncStatusExported SyncStatus = "exported"
)

// AudioAccessor describes how a merged memo's audio is reached. It is a
// closed sum: OwnedBytesAccessor, RemoteURLAccessor or LazyFileAccessor.
// Playback switches on the concrete type, so every path is handled
// exhaustively at compile time.
type AudioAccessor interface {
	audioAccessor()
}

// OwnedBytesAccessor carries the audio buffer held in memory by the local
// record store.
type OwnedBytesAccessor struct {
	Bytes    []byte
	MimeType string
}

func (OwnedBytesAccessor) audioAccessor() {}

// RemoteURLAccessor points at a durable-store streaming reference. There is
// no local resource to manage for this case.
type RemoteURLAccessor struct {
	URL string
}

func (RemoteURLAccessor) audioAccessor() {}

// LazyFileAccessor names an external media-library file that must be read
// asynchronously before playback.
type LazyFileAccessor struct {
	FileHandle string
}

func (LazyFileAccessor) audioAccessor() {}

// MergedMemo is the derived view entity produced by reconciliation. It is
// constructed fresh on every recomputation pass and never mutated in place;
// the ID is stable across passes so presentation layers can key on it.
type MergedMemo struct {
	ID                 string
	DisplayName        string
	DurationSeconds    float64
	CreatedAtEpochMs   int64
	TranscriptText     *string
	TranscriptLanguage *string
	SyncStatus         SyncStatus
	Audio              AudioAccessor
	IsExternal         bool
	// HasCloudCopy reports that a durable-store record matched this memo.
	// For exported memos it is the backup badge; the external record's own
	// presentation is unchanged by the match.
	HasCloudCopy bool
}
