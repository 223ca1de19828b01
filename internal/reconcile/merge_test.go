package reconcile

import (
	"reflect"
	"testing"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
)

func strPtr(value string) *string {
	return &value
}

func localRecord(id string, createdAtMs int64) memo.LocalMemoRecord {
	return memo.LocalMemoRecord{
		ID:               id,
		DisplayName:      "Memo " + id,
		AudioBytes:       []byte{0x01, 0x02},
		MimeType:         "audio/webm",
		DurationSeconds:  42,
		CreatedAtEpochMs: createdAtMs,
	}
}

func TestMergeLocalOnlyRecord(t *testing.T) {
	merged := Merge(
		[]memo.LocalMemoRecord{localRecord("voice_100", 1000)},
		nil,
		nil,
	)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged memo, got %d", len(merged))
	}
	entry := merged[0]
	if entry.SyncStatus != memo.SyncStatusLocal {
		t.Fatalf("expected local status, got %s", entry.SyncStatus)
	}
	if entry.DurationSeconds != 42 {
		t.Fatalf("expected 42s duration, got %f", entry.DurationSeconds)
	}
	if _, ok := entry.Audio.(memo.OwnedBytesAccessor); !ok {
		t.Fatalf("expected owned-bytes accessor, got %T", entry.Audio)
	}
}

func TestMergeMatchesLocalAndRemoteByLocalID(t *testing.T) {
	merged := Merge(
		[]memo.LocalMemoRecord{localRecord("voice_100", 1000)},
		[]memo.RemoteMemoRecord{{
			RemoteID:           "r1",
			LocalID:            strPtr("voice_100"),
			DurationMs:         42000,
			StreamableAudioURL: strPtr("https://store.example/r1.webm"),
		}},
		nil,
	)
	if len(merged) != 1 {
		t.Fatalf("expected one synced entry, not separate local and cloud entries; got %d", len(merged))
	}
	if merged[0].SyncStatus != memo.SyncStatusSynced {
		t.Fatalf("expected synced status, got %s", merged[0].SyncStatus)
	}
	if merged[0].ID != "voice_100" {
		t.Fatalf("merge must anchor on the local id, got %s", merged[0].ID)
	}
	if !merged[0].HasCloudCopy {
		t.Fatalf("expected cloud copy provenance")
	}
}

func TestMergeMatchesLocalAndRemoteByRemoteID(t *testing.T) {
	local := localRecord("voice_100", 1000)
	local.SyncedToRemote = true
	local.RemoteID = strPtr("r1")

	merged := Merge(
		[]memo.LocalMemoRecord{local},
		[]memo.RemoteMemoRecord{{
			RemoteID:   "r1",
			DurationMs: 42000,
		}},
		nil,
	)
	if len(merged) != 1 || merged[0].SyncStatus != memo.SyncStatusSynced {
		t.Fatalf("expected single synced entry, got %#v", merged)
	}
}

func TestMergeSyncedEntryPrefersRemoteTranscript(t *testing.T) {
	local := localRecord("voice_100", 1000)
	local.TranscriptText = strPtr("local draft")
	local.TranscriptLanguage = strPtr("en")

	merged := Merge(
		[]memo.LocalMemoRecord{local},
		[]memo.RemoteMemoRecord{{
			RemoteID:           "r1",
			LocalID:            strPtr("voice_100"),
			TranscriptText:     strPtr("cloud transcript"),
			TranscriptLanguage: strPtr("de"),
		}},
		nil,
	)
	if *merged[0].TranscriptText != "cloud transcript" {
		t.Fatalf("expected remote transcript to win, got %q", *merged[0].TranscriptText)
	}
	if *merged[0].TranscriptLanguage != "de" {
		t.Fatalf("expected remote language to win, got %q", *merged[0].TranscriptLanguage)
	}
}

func TestMergeSyncedEntryKeepsLocalTranscriptWhenRemoteHasNone(t *testing.T) {
	local := localRecord("voice_100", 1000)
	local.TranscriptText = strPtr("local draft")

	merged := Merge(
		[]memo.LocalMemoRecord{local},
		[]memo.RemoteMemoRecord{{RemoteID: "r1", LocalID: strPtr("voice_100")}},
		nil,
	)
	if *merged[0].TranscriptText != "local draft" {
		t.Fatalf("expected local transcript fallback, got %q", *merged[0].TranscriptText)
	}
}

func TestMergeCloudOnlyRecordConvertsDuration(t *testing.T) {
	merged := Merge(nil,
		[]memo.RemoteMemoRecord{{
			RemoteID:           "r2",
			DurationMs:         9000,
			ClientCreatedAtMs:  2000,
			StreamableAudioURL: strPtr("https://store.example/r2.webm"),
		}},
		nil,
	)
	if len(merged) != 1 {
		t.Fatalf("expected 1 cloud entry, got %d", len(merged))
	}
	if merged[0].SyncStatus != memo.SyncStatusCloud {
		t.Fatalf("expected cloud status, got %s", merged[0].SyncStatus)
	}
	if merged[0].DurationSeconds != 9 {
		t.Fatalf("expected ms to seconds conversion, got %f", merged[0].DurationSeconds)
	}
	accessor, ok := merged[0].Audio.(memo.RemoteURLAccessor)
	if !ok {
		t.Fatalf("expected remote-url accessor, got %T", merged[0].Audio)
	}
	if accessor.URL != "https://store.example/r2.webm" {
		t.Fatalf("unexpected url %s", accessor.URL)
	}
}

func TestMergeDropsCloudRecordWithoutStreamableAudio(t *testing.T) {
	merged := Merge(nil,
		[]memo.RemoteMemoRecord{{RemoteID: "r2", DurationMs: 9000}},
		nil,
	)
	if len(merged) != 0 {
		t.Fatalf("cloud record without playable audio must be dropped, got %d entries", len(merged))
	}
}

func TestMergeExportedRecordMatchedToRemote(t *testing.T) {
	merged := Merge(nil,
		[]memo.RemoteMemoRecord{{
			RemoteID:   "r2",
			LocalID:    strPtr("ext-9"),
			DurationMs: 9000,
		}},
		[]memo.ExternalMemoRecord{{
			ExternalUUID:    "ext-9",
			DurationSeconds: 9,
			LocalFileHandle: strPtr("/path"),
		}},
	)
	if len(merged) != 1 {
		t.Fatalf("expected exactly one merged memo, got %d", len(merged))
	}
	entry := merged[0]
	if entry.SyncStatus != memo.SyncStatusExported {
		t.Fatalf("expected exported status, got %s", entry.SyncStatus)
	}
	if !entry.HasCloudCopy {
		t.Fatalf("expected cloud backup badge")
	}
	if !entry.IsExternal {
		t.Fatalf("expected external provenance flag")
	}
	if _, ok := entry.Audio.(memo.LazyFileAccessor); !ok {
		t.Fatalf("expected lazy-file accessor, got %T", entry.Audio)
	}
}

func TestMergeExportedTranscriptFallsBackToCloudCopy(t *testing.T) {
	merged := Merge(nil,
		[]memo.RemoteMemoRecord{{
			RemoteID:           "r2",
			LocalID:            strPtr("ext-9"),
			TranscriptText:     strPtr("cloud transcript"),
			TranscriptLanguage: strPtr("en"),
		}},
		[]memo.ExternalMemoRecord{{
			ExternalUUID:    "ext-9",
			LocalFileHandle: strPtr("/path"),
		}},
	)
	if merged[0].TranscriptText == nil || *merged[0].TranscriptText != "cloud transcript" {
		t.Fatalf("expected cloud transcript fallback, got %#v", merged[0].TranscriptText)
	}
}

func TestMergeDropsExternalRecordWithoutFileHandle(t *testing.T) {
	merged := Merge(nil,
		[]memo.RemoteMemoRecord{{
			RemoteID:           "r2",
			LocalID:            strPtr("ext-9"),
			StreamableAudioURL: strPtr("https://store.example/r2.webm"),
		}},
		[]memo.ExternalMemoRecord{{ExternalUUID: "ext-9"}},
	)
	// The external record is unplayable and dropped; its cloud backup still
	// has streamable audio, so it surfaces as a plain cloud entry.
	if len(merged) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(merged))
	}
	if merged[0].SyncStatus != memo.SyncStatusCloud {
		t.Fatalf("expected cloud status for orphaned backup, got %s", merged[0].SyncStatus)
	}
}

func TestMergeFirstMatchWinsOnDuplicateLocalIDClaims(t *testing.T) {
	merged := Merge(
		[]memo.LocalMemoRecord{localRecord("voice_100", 1000)},
		[]memo.RemoteMemoRecord{
			{RemoteID: "r1", LocalID: strPtr("voice_100"), TranscriptText: strPtr("first")},
			{RemoteID: "r2", LocalID: strPtr("voice_100"), TranscriptText: strPtr("second"), StreamableAudioURL: strPtr("https://store.example/r2.webm")},
		},
		nil,
	)
	if len(merged) != 2 {
		t.Fatalf("expected synced entry plus unconsumed duplicate as cloud entry, got %d", len(merged))
	}
	var synced *memo.MergedMemo
	for i := range merged {
		if merged[i].SyncStatus == memo.SyncStatusSynced {
			synced = &merged[i]
		}
	}
	if synced == nil {
		t.Fatalf("expected a synced entry")
	}
	if *synced.TranscriptText != "first" {
		t.Fatalf("first remote match must win, got %q", *synced.TranscriptText)
	}
}

func TestMergeSortsByCreatedAtDescending(t *testing.T) {
	merged := Merge(
		[]memo.LocalMemoRecord{localRecord("voice_old", 1000), localRecord("voice_new", 3000)},
		[]memo.RemoteMemoRecord{{
			RemoteID:           "r-mid",
			ClientCreatedAtMs:  2000,
			StreamableAudioURL: strPtr("https://store.example/r.webm"),
		}},
		nil,
	)
	if len(merged) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(merged))
	}
	gotOrder := []string{merged[0].ID, merged[1].ID, merged[2].ID}
	wantOrder := []string{"voice_new", "r-mid", "voice_old"}
	if !reflect.DeepEqual(gotOrder, wantOrder) {
		t.Fatalf("unexpected order %v", gotOrder)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	local := []memo.LocalMemoRecord{localRecord("voice_100", 1000), localRecord("voice_101", 5000)}
	remote := []memo.RemoteMemoRecord{
		{RemoteID: "r1", LocalID: strPtr("voice_100"), DurationMs: 42000},
		{RemoteID: "r2", ClientCreatedAtMs: 3000, StreamableAudioURL: strPtr("https://store.example/r2.webm")},
	}
	external := []memo.ExternalMemoRecord{
		{ExternalUUID: "ext-9", DurationSeconds: 9, OccurredAtEpochMs: 2000, LocalFileHandle: strPtr("/path")},
	}

	first := Merge(local, remote, external)
	second := Merge(local, remote, external)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("merge must be idempotent for unchanged inputs")
	}
}

func TestMergeOutputHasUniqueIDsAndSingleStatus(t *testing.T) {
	local := []memo.LocalMemoRecord{localRecord("voice_100", 1000)}
	remote := []memo.RemoteMemoRecord{
		{RemoteID: "r1", LocalID: strPtr("voice_100"), StreamableAudioURL: strPtr("https://store.example/r1.webm")},
		{RemoteID: "r2", LocalID: strPtr("ext-9"), StreamableAudioURL: strPtr("https://store.example/r2.webm")},
		{RemoteID: "r3", StreamableAudioURL: strPtr("https://store.example/r3.webm")},
	}
	external := []memo.ExternalMemoRecord{
		{ExternalUUID: "ext-9", LocalFileHandle: strPtr("/path")},
	}

	merged := Merge(local, remote, external)
	seen := map[string]bool{}
	for _, entry := range merged {
		if seen[entry.ID] {
			t.Fatalf("duplicate id %s in merged output", entry.ID)
		}
		seen[entry.ID] = true
		switch entry.SyncStatus {
		case memo.SyncStatusLocal, memo.SyncStatusCloud, memo.SyncStatusSynced, memo.SyncStatusExported:
		default:
			t.Fatalf("entry %s has invalid status %q", entry.ID, entry.SyncStatus)
		}
	}
}
