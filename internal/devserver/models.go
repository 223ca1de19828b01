package devserver

import "github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"

// uploadBlobRow is a one-shot upload target. Audio bytes arrive via PUT and
// are folded into the memo row at create time.
type uploadBlobRow struct {
	UploadID    string `gorm:"column:upload_id;primaryKey;size:190"`
	AudioBytes  []byte `gorm:"column:audio_bytes"`
	ContentType string `gorm:"column:content_type;size:255"`
	IssuedAtMs  int64  `gorm:"column:issued_at_ms"`
}

func (uploadBlobRow) TableName() string {
	return "upload_blobs"
}

// remoteMemoRow is the durable copy of a memo. local_id carries a uniqueness
// constraint so one local recording can never claim two remote records.
type remoteMemoRow struct {
	RemoteID            string  `gorm:"column:remote_id;primaryKey;size:190"`
	LocalID             string  `gorm:"column:local_id;size:190;uniqueIndex"`
	Day                 string  `gorm:"column:day;size:10;index"`
	DisplayName         string  `gorm:"column:display_name;size:512"`
	DurationMs          int64   `gorm:"column:duration_ms"`
	ClientCreatedAtMs   int64   `gorm:"column:client_created_at_ms"`
	TranscriptText      *string `gorm:"column:transcript_text"`
	TranscriptLanguage  *string `gorm:"column:transcript_language;size:32"`
	TranscriptionStatus string  `gorm:"column:transcription_status;size:32"`
	AudioBytes          []byte  `gorm:"column:audio_bytes"`
	ContentType         string  `gorm:"column:content_type;size:255"`
	CreatedAtMs         int64   `gorm:"column:created_at_ms"`
}

func (remoteMemoRow) TableName() string {
	return "remote_memos"
}

func (r remoteMemoRow) toRecord() memo.RemoteMemoRecord {
	localID := r.LocalID
	streamURL := "/v1/memos/" + r.RemoteID + "/audio"
	return memo.RemoteMemoRecord{
		RemoteID:            r.RemoteID,
		LocalID:             &localID,
		DisplayName:         r.DisplayName,
		DurationMs:          r.DurationMs,
		ClientCreatedAtMs:   r.ClientCreatedAtMs,
		TranscriptText:      r.TranscriptText,
		TranscriptLanguage:  r.TranscriptLanguage,
		TranscriptionStatus: memo.TranscriptionStatus(r.TranscriptionStatus),
		StreamableAudioURL:  &streamURL,
	}
}
