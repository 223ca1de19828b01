package memo

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidMemoID indicates that a memo identifier is empty or exceeds storage bounds.
	ErrInvalidMemoID = errors.New("memo: invalid memo id")
	// ErrInvalidDay indicates that a calendar date string is not ISO formatted.
	ErrInvalidDay = errors.New("memo: invalid calendar date")
	// ErrInvalidDuration indicates a negative duration value.
	ErrInvalidDuration = errors.New("memo: invalid duration")
)

// MemoID represents a validated memo identifier. Identifiers are caller
// generated and stable for the record's lifetime.
type MemoID string

// NewMemoID validates raw input and returns a MemoID.
func NewMemoID(rawInput string) (MemoID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMemoID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidMemoID, maxIdentifierLength)
	}
	return MemoID(trimmed), nil
}

// String returns the underlying string identifier.
func (id MemoID) String() string {
	return string(id)
}

const dayLayout = "2006-01-02"

// Day represents a validated ISO calendar date (YYYY-MM-DD) used to scope
// store queries.
type Day string

// NewDay validates raw input and returns a Day.
func NewDay(rawInput string) (Day, error) {
	trimmed := strings.TrimSpace(rawInput)
	if _, err := time.Parse(dayLayout, trimmed); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDay, rawInput)
	}
	return Day(trimmed), nil
}

// DayOfEpochMs returns the UTC calendar date containing the provided epoch
// millisecond timestamp.
func DayOfEpochMs(epochMs int64) Day {
	return Day(time.UnixMilli(epochMs).UTC().Format(dayLayout))
}

// String returns the underlying date string.
func (d Day) String() string {
	return string(d)
}

// DurationFromMs converts a remote duration in integer milliseconds to the
// engine's float seconds representation. The unit difference between the
// remote store (ms) and the local store (s) is a designed contract; every
// conversion goes through this pair.
func DurationFromMs(durationMs int64) float64 {
	return float64(durationMs) / 1000.0
}

// DurationToMs converts float seconds to integer milliseconds for the remote
// store.
func DurationToMs(durationSeconds float64) int64 {
	return int64(durationSeconds * 1000.0)
}

// TranscriptionStatus enumerates the remote store's transcript lifecycle.
type TranscriptionStatus string

const (
	// TranscriptionPending marks a remote record whose transcription has not started.
	TranscriptionPending TranscriptionStatus = "pending"
	// TranscriptionProcessing marks a remote record with transcription in flight.
	TranscriptionProcessing TranscriptionStatus = "processing"
	// TranscriptionCompleted marks a remote record with a finished transcript.
	TranscriptionCompleted TranscriptionStatus = "completed"
)

// LocalMemoRecord is the device-local persisted memo. Owned exclusively by the
// local record store. AudioBytes is immutable once created; edits replace the
// whole record so no partial-write state is observable.
type LocalMemoRecord struct {
	ID                   string  `gorm:"column:memo_id;primaryKey;size:190;not null"`
	Day                  string  `gorm:"column:day;size:10;not null;index:idx_voice_memos_day,priority:1"`
	DisplayName          string  `gorm:"column:display_name;size:320;not null"`
	AudioBytes           []byte  `gorm:"column:audio_bytes;type:blob;not null"`
	MimeType             string  `gorm:"column:mime_type;size:64;not null"`
	FileExtension        string  `gorm:"column:file_extension;size:16;not null"`
	DurationSeconds      float64 `gorm:"column:duration_s;not null"`
	CreatedAtEpochMs     int64   `gorm:"column:created_at_ms;not null;index:idx_voice_memos_day,priority:2"`
	TranscriptText       *string `gorm:"column:transcript_text;type:text"`
	TranscriptLanguage   *string `gorm:"column:transcript_language;size:16"`
	TranscribedAtEpochMs *int64  `gorm:"column:transcribed_at_ms"`
	SyncedToRemote       bool    `gorm:"column:synced_to_remote;not null;default:false"`
	RemoteID             *string `gorm:"column:remote_id;size:190"`
}

// TableName provides the explicit table binding for GORM.
func (LocalMemoRecord) TableName() string {
	return "voice_memos"
}

// Validate checks the record's own invariants before persistence.
// SyncedToRemote is true iff RemoteID is set.
func (r LocalMemoRecord) Validate() error {
	if _, err := NewMemoID(r.ID); err != nil {
		return err
	}
	if r.DurationSeconds < 0 {
		return fmt.Errorf("%w: %f", ErrInvalidDuration, r.DurationSeconds)
	}
	if r.SyncedToRemote != (r.RemoteID != nil && *r.RemoteID != "") {
		return fmt.Errorf("memo: synced flag and remote id disagree for %s", r.ID)
	}
	return nil
}

// RemoteMemoRecord is the durable store's projection of a memo, read via a
// range query by date. The engine never writes these directly; mutation goes
// through the durable store API.
type RemoteMemoRecord struct {
	RemoteID            string              `json:"remote_id"`
	LocalID             *string             `json:"local_id,omitempty"`
	DisplayName         string              `json:"display_name"`
	DurationMs          int64               `json:"duration_ms"`
	ClientCreatedAtMs   int64               `json:"client_created_at_ms"`
	TranscriptText      *string             `json:"transcript_text,omitempty"`
	TranscriptLanguage  *string             `json:"transcript_language,omitempty"`
	TranscriptionStatus TranscriptionStatus `json:"transcription_status"`
	StreamableAudioURL  *string             `json:"streamable_audio_url,omitempty"`
}

// ExternalMemoRecord is a recording owned by an external device media
// library. Read-only; never mutated by the engine. A nil LocalFileHandle
// means the recording's audio is not available on this device.
type ExternalMemoRecord struct {
	ExternalUUID       string
	DisplayLabel       *string
	DurationSeconds    float64
	OccurredAtEpochMs  int64
	TranscriptText     *string
	TranscriptLanguage *string
	LocalFileHandle    *string
}
