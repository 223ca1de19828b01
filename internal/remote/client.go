package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	// ErrRequestFailed indicates the durable store answered with a non-success status.
	ErrRequestFailed = errors.New("remote: request failed")

	errMissingBaseURL = errors.New("remote: base url is required")
)

const defaultRequestTimeout = 30 * time.Second

// ClientConfig describes the durable-store connection.
type ClientConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Client is the HTTP client for the durable memo store. It owns no state
// beyond the connection; all records live on the server side.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient constructs a durable-store client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)
	if cfg.APIToken != "" {
		httpClient.SetAuthToken(cfg.APIToken)
	}

	return &Client{http: httpClient, logger: logger}, nil
}

// UploadTarget is a one-shot destination for audio bytes issued by the store.
type UploadTarget struct {
	UploadID  string `json:"upload_id"`
	UploadURL string `json:"upload_url"`
}

// RequestUploadTarget asks the durable store for an upload destination.
func (c *Client) RequestUploadTarget(ctx context.Context) (UploadTarget, error) {
	var target UploadTarget
	response, err := c.http.R().
		SetContext(ctx).
		SetResult(&target).
		Post("/v1/uploads")
	if err != nil {
		return UploadTarget{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if response.IsError() {
		return UploadTarget{}, fmt.Errorf("%w: status %d", ErrRequestFailed, response.StatusCode())
	}
	return target, nil
}

type uploadResponse struct {
	TargetID string `json:"target_id"`
}

// UploadBytes transfers audio bytes to a previously issued upload target and
// returns the stored target identifier.
func (c *Client) UploadBytes(ctx context.Context, target UploadTarget, audio []byte, contentType string) (string, error) {
	var result uploadResponse
	response, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(audio).
		SetResult(&result).
		Put(target.UploadURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if response.IsError() {
		return "", fmt.Errorf("%w: status %d", ErrRequestFailed, response.StatusCode())
	}
	return result.TargetID, nil
}

// CreateRecordRequest carries the fields of a new remote memo record.
type CreateRecordRequest struct {
	LocalID           string `json:"local_id"`
	DisplayName       string `json:"display_name"`
	DurationMs        int64  `json:"duration_ms"`
	ClientCreatedAtMs int64  `json:"client_created_at_ms"`
	UploadTargetID    string `json:"upload_target_id"`
}

// CreateRecord creates a remote memo record referencing uploaded audio.
func (c *Client) CreateRecord(ctx context.Context, request CreateRecordRequest) (memo.RemoteMemoRecord, error) {
	var record memo.RemoteMemoRecord
	response, err := c.http.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&record).
		Post("/v1/memos")
	if err != nil {
		return memo.RemoteMemoRecord{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if response.IsError() {
		return memo.RemoteMemoRecord{}, fmt.Errorf("%w: status %d", ErrRequestFailed, response.StatusCode())
	}
	return record, nil
}

// QueryByDate lists the remote records created on the given calendar date.
func (c *Client) QueryByDate(ctx context.Context, day memo.Day) ([]memo.RemoteMemoRecord, error) {
	var records []memo.RemoteMemoRecord
	response, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("date", day.String()).
		SetResult(&records).
		Get("/v1/memos")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if response.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, response.StatusCode())
	}
	return records, nil
}

// RecordPatch names the mutable subset of a remote record.
type RecordPatch struct {
	TranscriptText      *string                   `json:"transcript_text,omitempty"`
	TranscriptLanguage  *string                   `json:"transcript_language,omitempty"`
	TranscriptionStatus *memo.TranscriptionStatus `json:"transcription_status,omitempty"`
}

// UpdateRecord applies a partial patch to a remote record.
func (c *Client) UpdateRecord(ctx context.Context, remoteID string, patch RecordPatch) error {
	response, err := c.http.R().
		SetContext(ctx).
		SetBody(patch).
		Patch("/v1/memos/" + remoteID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if response.IsError() {
		return fmt.Errorf("%w: status %d", ErrRequestFailed, response.StatusCode())
	}
	return nil
}

// TranscriptionResult is the outcome of a server-side transcription request.
type TranscriptionResult struct {
	Success bool    `json:"success"`
	Text    *string `json:"text,omitempty"`
	Error   *string `json:"error,omitempty"`
}

// TranscribeByRemoteID asks the durable store to transcribe an already
// uploaded record on the server side.
func (c *Client) TranscribeByRemoteID(ctx context.Context, remoteID string) (TranscriptionResult, error) {
	var result TranscriptionResult
	response, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Post("/v1/memos/" + remoteID + "/transcribe")
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if response.IsError() {
		return TranscriptionResult{}, fmt.Errorf("%w: status %d", ErrRequestFailed, response.StatusCode())
	}
	return result, nil
}
