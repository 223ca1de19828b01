package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	// ErrMissingCredential indicates no provider API key is configured.
	ErrMissingCredential = errors.New("transcribe: missing credential")
	// ErrTranscriptionFailed indicates a transport or provider error.
	ErrTranscriptionFailed = errors.New("transcribe: transcription failed")

	errMissingBaseURL = errors.New("transcribe: base url is required")
)

const (
	defaultRequestTimeout = 60 * time.Second
	providerModel         = "whisper-1"
)

// Result is a finished transcription.
type Result struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// ClientConfig describes the speech-to-text provider connection. The API key
// is user supplied; an empty key leaves the client constructed but every
// request fails with ErrMissingCredential.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client calls a hosted speech-to-text provider with audio bytes and returns
// the transcript and detected language.
type Client struct {
	http   *resty.Client
	apiKey string
	logger *zap.Logger
}

// NewClient constructs a provider client.
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
	return &Client{
		http:   resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(timeout),
		apiKey: cfg.APIKey,
		logger: logger,
	}, nil
}

// Transcribe uploads audio to the provider and returns the transcript. The
// filename hint carries the container extension so the provider can pick a
// decoder.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filenameHint string) (Result, error) {
	if c.apiKey == "" {
		return Result{}, ErrMissingCredential
	}

	var result Result
	response, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetFileReader("file", filenameHint, bytes.NewReader(audio)).
		SetFormData(map[string]string{"model": providerModel}).
		SetResult(&result).
		Post("")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if response.IsError() {
		return Result{}, fmt.Errorf("%w: status %d", ErrTranscriptionFailed, response.StatusCode())
	}
	if result.Text == "" {
		return Result{}, fmt.Errorf("%w: empty transcript", ErrTranscriptionFailed)
	}
	return result, nil
}
