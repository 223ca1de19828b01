package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"github.com/stretchr/testify/assert"
)

func TestMirrorStartsUnloaded(t *testing.T) {
	client, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:0"})
	assert.NoError(t, err)

	mirror, err := NewMirror(MirrorConfig{Client: client, Day: mustDay(t, "2026-08-23")})
	assert.NoError(t, err)

	records, loaded := mirror.Snapshot()
	assert.Nil(t, records)
	assert.False(t, loaded)
}

func TestMirrorRefreshDeliversSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]memo.RemoteMemoRecord{{RemoteID: "r1"}})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	assert.NoError(t, err)

	var delivered []memo.RemoteMemoRecord
	mirror, err := NewMirror(MirrorConfig{
		Client:     client,
		Day:        mustDay(t, "2026-08-23"),
		OnSnapshot: func(records []memo.RemoteMemoRecord) { delivered = records },
	})
	assert.NoError(t, err)

	assert.NoError(t, mirror.Refresh(context.Background()))

	records, loaded := mirror.Snapshot()
	assert.True(t, loaded)
	assert.Len(t, records, 1)
	assert.Len(t, delivered, 1)
}

func TestMirrorFailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	failing := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]memo.RemoteMemoRecord{{RemoteID: "r1"}})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	assert.NoError(t, err)
	mirror, err := NewMirror(MirrorConfig{Client: client, Day: mustDay(t, "2026-08-23")})
	assert.NoError(t, err)

	assert.NoError(t, mirror.Refresh(context.Background()))
	failing = true
	assert.Error(t, mirror.Refresh(context.Background()))

	records, loaded := mirror.Snapshot()
	assert.True(t, loaded)
	assert.Len(t, records, 1)
}

func TestMirrorSetDayDiscardsSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]memo.RemoteMemoRecord{{RemoteID: "r1"}})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	assert.NoError(t, err)
	mirror, err := NewMirror(MirrorConfig{Client: client, Day: mustDay(t, "2026-08-23")})
	assert.NoError(t, err)

	assert.NoError(t, mirror.Refresh(context.Background()))
	mirror.SetDay(mustDay(t, "2026-08-24"))

	_, loaded := mirror.Snapshot()
	assert.False(t, loaded)
}
