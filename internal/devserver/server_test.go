package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/remote"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func newTestHandler(t *testing.T, apiToken string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:devserver_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		Database: db,
		APIToken: apiToken,
		IDs:      memo.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}

func newTestClient(t *testing.T, server *httptest.Server, apiToken string) *remote.Client {
	t.Helper()
	client, err := remote.NewClient(remote.ClientConfig{BaseURL: server.URL, APIToken: apiToken})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	return client
}

func syncRecording(t *testing.T, client *remote.Client, localID string, createdAtMs int64) memo.RemoteMemoRecord {
	t.Helper()
	ctx := context.Background()

	target, err := client.RequestUploadTarget(ctx)
	if err != nil {
		t.Fatalf("unexpected target error: %v", err)
	}
	targetID, err := client.UploadBytes(ctx, target, []byte{0x01, 0x02, 0x03}, "audio/webm")
	if err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}
	record, err := client.CreateRecord(ctx, remote.CreateRecordRequest{
		LocalID:           localID,
		DisplayName:       "Memo " + localID,
		DurationMs:        42000,
		ClientCreatedAtMs: createdAtMs,
		UploadTargetID:    targetID,
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return record
}

func TestUploadAndCreateRoundTrip(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "dev-token"))
	defer server.Close()
	client := newTestClient(t, server, "dev-token")

	record := syncRecording(t, client, "voice_100", 1787479200000)

	if record.RemoteID == "" {
		t.Fatalf("expected a remote id")
	}
	if record.LocalID == nil || *record.LocalID != "voice_100" {
		t.Fatalf("expected local id claim, got %#v", record.LocalID)
	}
	if record.TranscriptionStatus != memo.TranscriptionPending {
		t.Fatalf("new record must start pending, got %s", record.TranscriptionStatus)
	}
	if record.StreamableAudioURL == nil || !strings.Contains(*record.StreamableAudioURL, record.RemoteID) {
		t.Fatalf("expected streamable url, got %#v", record.StreamableAudioURL)
	}

	day, _ := memo.NewDay("2026-08-23")
	listed, err := client.QueryByDate(context.Background(), day)
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(listed) != 1 || listed[0].RemoteID != record.RemoteID {
		t.Fatalf("unexpected listing %#v", listed)
	}
}

func TestCreateRejectsDuplicateLocalIDClaim(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "dev-token"))
	defer server.Close()
	client := newTestClient(t, server, "dev-token")

	syncRecording(t, client, "voice_100", 1787479200000)

	target, err := client.RequestUploadTarget(context.Background())
	if err != nil {
		t.Fatalf("unexpected target error: %v", err)
	}
	targetID, err := client.UploadBytes(context.Background(), target, []byte{0x04}, "audio/webm")
	if err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}
	_, err = client.CreateRecord(context.Background(), remote.CreateRecordRequest{
		LocalID:           "voice_100",
		DisplayName:       "Duplicate",
		DurationMs:        1000,
		ClientCreatedAtMs: 1787486400000,
		UploadTargetID:    targetID,
	})
	if !errors.Is(err, remote.ErrRequestFailed) {
		t.Fatalf("expected second claim to be rejected, got %v", err)
	}
}

func TestCreateRejectsUnknownUploadTarget(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "dev-token"))
	defer server.Close()
	client := newTestClient(t, server, "dev-token")

	_, err := client.CreateRecord(context.Background(), remote.CreateRecordRequest{
		LocalID:           "voice_100",
		DisplayName:       "Memo",
		DurationMs:        1000,
		ClientCreatedAtMs: 1787479200000,
		UploadTargetID:    "never-issued",
	})
	if !errors.Is(err, remote.ErrRequestFailed) {
		t.Fatalf("expected unknown target rejection, got %v", err)
	}
}

func TestListScopesByDate(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "dev-token"))
	defer server.Close()
	client := newTestClient(t, server, "dev-token")

	syncRecording(t, client, "voice_today", 1787479200000)
	syncRecording(t, client, "voice_tomorrow", 1787572800000)

	day, _ := memo.NewDay("2026-08-24")
	listed, err := client.QueryByDate(context.Background(), day)
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(listed) != 1 || listed[0].LocalID == nil || *listed[0].LocalID != "voice_tomorrow" {
		t.Fatalf("unexpected listing %#v", listed)
	}
}

func TestPatchUpdatesTranscriptFields(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "dev-token"))
	defer server.Close()
	client := newTestClient(t, server, "dev-token")

	record := syncRecording(t, client, "voice_100", 1787479200000)

	text := "patched transcript"
	language := "en"
	status := memo.TranscriptionCompleted
	err := client.UpdateRecord(context.Background(), record.RemoteID, remote.RecordPatch{
		TranscriptText:      &text,
		TranscriptLanguage:  &language,
		TranscriptionStatus: &status,
	})
	if err != nil {
		t.Fatalf("unexpected patch error: %v", err)
	}

	day, _ := memo.NewDay("2026-08-23")
	listed, err := client.QueryByDate(context.Background(), day)
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if listed[0].TranscriptText == nil || *listed[0].TranscriptText != text {
		t.Fatalf("transcript not persisted: %#v", listed[0])
	}
	if listed[0].TranscriptionStatus != memo.TranscriptionCompleted {
		t.Fatalf("status not persisted: %s", listed[0].TranscriptionStatus)
	}
}

func TestPatchUnknownRecordReturnsNotFound(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "dev-token"))
	defer server.Close()
	client := newTestClient(t, server, "dev-token")

	text := "orphan"
	err := client.UpdateRecord(context.Background(), "missing", remote.RecordPatch{TranscriptText: &text})
	if !errors.Is(err, remote.ErrRequestFailed) {
		t.Fatalf("expected not-found rejection, got %v", err)
	}
}

func TestTranscribeCompletesRecord(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "dev-token"))
	defer server.Close()
	client := newTestClient(t, server, "dev-token")

	record := syncRecording(t, client, "voice_100", 1787479200000)

	result, err := client.TranscribeByRemoteID(context.Background(), record.RemoteID)
	if err != nil {
		t.Fatalf("unexpected transcribe error: %v", err)
	}
	if !result.Success || result.Text == nil {
		t.Fatalf("unexpected result %#v", result)
	}

	day, _ := memo.NewDay("2026-08-23")
	listed, err := client.QueryByDate(context.Background(), day)
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if listed[0].TranscriptionStatus != memo.TranscriptionCompleted {
		t.Fatalf("expected completed status, got %s", listed[0].TranscriptionStatus)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "dev-token"))
	defer server.Close()

	response, err := http.Post(server.URL+"/v1/uploads", "application/json", http.NoBody)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", response.StatusCode)
	}
}

func TestStreamAudioServesUploadedBytes(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "dev-token"))
	defer server.Close()
	client := newTestClient(t, server, "dev-token")

	record := syncRecording(t, client, "voice_100", 1787479200000)

	request, err := http.NewRequest(http.MethodGet, server.URL+*record.StreamableAudioURL, http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer dev-token")
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected ok, got %d", response.StatusCode)
	}
	if got := response.Header.Get("Content-Type"); !strings.HasPrefix(got, "audio/webm") {
		t.Fatalf("unexpected content type %q", got)
	}
}
