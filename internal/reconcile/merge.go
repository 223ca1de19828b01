package reconcile

import (
	"sort"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
)

const importedDisplayName = "Imported recording"

// Merge unifies the three memo sources into one ordered, de-duplicated list.
// It is a pure function: callers re-invoke it whenever any input changes, and
// unchanged inputs produce identical output in content and ordering.
//
// A nil remote slice means the durable-store projection has not loaded yet;
// it behaves as an empty source, so every local record surfaces as `local`
// until the mirror delivers its first snapshot.
//
// Identity ties (two remote records claiming the same local or external id)
// resolve to the first match in source iteration order. The durable store is
// expected to keep one remote record per local id; the merge tolerates a
// violation rather than enforcing it.
func Merge(local []memo.LocalMemoRecord, remote []memo.RemoteMemoRecord, external []memo.ExternalMemoRecord) []memo.MergedMemo {
	merged := make([]memo.MergedMemo, 0, len(local)+len(remote)+len(external))
	consumedRemote := make(map[string]bool, len(remote))
	seen := make(map[string]bool, len(local)+len(remote)+len(external))

	for _, localRecord := range local {
		if seen[localRecord.ID] {
			continue
		}
		matched, found := matchRemoteForLocal(localRecord, remote)
		entry := memo.MergedMemo{
			ID:                 localRecord.ID,
			DisplayName:        localRecord.DisplayName,
			DurationSeconds:    localRecord.DurationSeconds,
			CreatedAtEpochMs:   localRecord.CreatedAtEpochMs,
			TranscriptText:     localRecord.TranscriptText,
			TranscriptLanguage: localRecord.TranscriptLanguage,
			SyncStatus:         memo.SyncStatusLocal,
			Audio: memo.OwnedBytesAccessor{
				Bytes:    localRecord.AudioBytes,
				MimeType: localRecord.MimeType,
			},
		}
		if found {
			consumedRemote[matched.RemoteID] = true
			entry.SyncStatus = memo.SyncStatusSynced
			entry.HasCloudCopy = true
			if matched.TranscriptText != nil {
				entry.TranscriptText = matched.TranscriptText
			}
			if matched.TranscriptLanguage != nil {
				entry.TranscriptLanguage = matched.TranscriptLanguage
			}
		}
		seen[localRecord.ID] = true
		merged = append(merged, entry)
	}

	// Externals without a resolvable file handle are dropped: an unplayable
	// phantom memo is worse than an absent one. Remotes claiming a dropped
	// external therefore surface as plain cloud entries.
	presentedExternal := make(map[string]bool, len(external))
	for _, externalRecord := range external {
		if externalRecord.LocalFileHandle != nil && *externalRecord.LocalFileHandle != "" {
			presentedExternal[externalRecord.ExternalUUID] = true
		}
	}

	for _, remoteRecord := range remote {
		if consumedRemote[remoteRecord.RemoteID] {
			continue
		}
		if remoteRecord.LocalID != nil && presentedExternal[*remoteRecord.LocalID] {
			continue
		}
		// A cloud record is not worth presenting without playable audio.
		if remoteRecord.StreamableAudioURL == nil || *remoteRecord.StreamableAudioURL == "" {
			continue
		}
		if seen[remoteRecord.RemoteID] {
			continue
		}
		seen[remoteRecord.RemoteID] = true
		merged = append(merged, memo.MergedMemo{
			ID:                 remoteRecord.RemoteID,
			DisplayName:        remoteRecord.DisplayName,
			DurationSeconds:    memo.DurationFromMs(remoteRecord.DurationMs),
			CreatedAtEpochMs:   remoteRecord.ClientCreatedAtMs,
			TranscriptText:     remoteRecord.TranscriptText,
			TranscriptLanguage: remoteRecord.TranscriptLanguage,
			SyncStatus:         memo.SyncStatusCloud,
			Audio:              memo.RemoteURLAccessor{URL: *remoteRecord.StreamableAudioURL},
			HasCloudCopy:       true,
		})
	}

	for _, externalRecord := range external {
		if !presentedExternal[externalRecord.ExternalUUID] {
			continue
		}
		if seen[externalRecord.ExternalUUID] {
			continue
		}
		seen[externalRecord.ExternalUUID] = true

		entry := memo.MergedMemo{
			ID:                 externalRecord.ExternalUUID,
			DisplayName:        importedDisplayName,
			DurationSeconds:    externalRecord.DurationSeconds,
			CreatedAtEpochMs:   externalRecord.OccurredAtEpochMs,
			TranscriptText:     externalRecord.TranscriptText,
			TranscriptLanguage: externalRecord.TranscriptLanguage,
			SyncStatus:         memo.SyncStatusExported,
			Audio:              memo.LazyFileAccessor{FileHandle: *externalRecord.LocalFileHandle},
			IsExternal:         true,
		}
		if externalRecord.DisplayLabel != nil && *externalRecord.DisplayLabel != "" {
			entry.DisplayName = *externalRecord.DisplayLabel
		}
		if matched, found := matchRemoteForExternal(externalRecord, remote); found {
			entry.HasCloudCopy = true
			if entry.TranscriptText == nil && matched.TranscriptText != nil {
				entry.TranscriptText = matched.TranscriptText
				entry.TranscriptLanguage = matched.TranscriptLanguage
			}
		}
		merged = append(merged, entry)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAtEpochMs > merged[j].CreatedAtEpochMs
	})
	return merged
}

// matchRemoteForLocal applies the reconciliation identity rule: a remote
// record matches a local one when its local id echo equals the local id, or
// when both carry the same remote id. First match wins.
func matchRemoteForLocal(localRecord memo.LocalMemoRecord, remote []memo.RemoteMemoRecord) (memo.RemoteMemoRecord, bool) {
	for _, remoteRecord := range remote {
		if remoteRecord.LocalID != nil && *remoteRecord.LocalID == localRecord.ID {
			return remoteRecord, true
		}
		if localRecord.RemoteID != nil && remoteRecord.RemoteID == *localRecord.RemoteID {
			return remoteRecord, true
		}
	}
	return memo.RemoteMemoRecord{}, false
}

func matchRemoteForExternal(externalRecord memo.ExternalMemoRecord, remote []memo.RemoteMemoRecord) (memo.RemoteMemoRecord, bool) {
	for _, remoteRecord := range remote {
		if remoteRecord.LocalID != nil && *remoteRecord.LocalID == externalRecord.ExternalUUID {
			return remoteRecord, true
		}
	}
	return memo.RemoteMemoRecord{}, false
}
