package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrPermissionDenied indicates the platform refused microphone access.
	ErrPermissionDenied = errors.New("capture: permission denied")
	// ErrDeviceUnavailable indicates no usable input device exists.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")
	// ErrNotStarted indicates Stop was called on a session that is not recording.
	ErrNotStarted = errors.New("capture: session not started")

	errMissingDevice = errors.New("capture: input device is required")
)

// SpeechBitrate is the fixed encoder bitrate in bits per second. Tuned low
// for speech to bound storage cost per memo.
const SpeechBitrate = 32000

// chunkInterval is the cadence at which encoded chunks are pulled from the
// device while a session runs.
const chunkInterval = 250 * time.Millisecond

// preferredEncodings is tried in order; the first the device supports wins.
var preferredEncodings = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/mp4",
	"audio/ogg;codecs=opus",
}

const fallbackEncoding = "audio/webm"

// InputDevice abstracts the platform's audio input. Open may fail with
// ErrPermissionDenied or ErrDeviceUnavailable; ReadChunk returns the next
// encoded audio fragment.
type InputDevice interface {
	Open(ctx context.Context, mimeType string, bitrate int) error
	ReadChunk(ctx context.Context) ([]byte, error)
	SupportsEncoding(mimeType string) bool
	Close() error
}

// Recording is the immutable product of a stopped session.
type Recording struct {
	AudioBytes      []byte
	MimeType        string
	FileExtension   string
	DurationSeconds float64
}

// RecorderConfig describes recorder dependencies.
type RecorderConfig struct {
	Device InputDevice
	Clock  func() time.Time
	Logger *zap.Logger
}

// Recorder owns at most one live capture session. Start while a session is
// already running is a no-op that returns the existing session.
type Recorder struct {
	device InputDevice
	clock  func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	active *Session
}

// NewRecorder constructs a recorder around the platform input device.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Device == nil {
		return nil, errMissingDevice
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{device: cfg.Device, clock: clock, logger: logger}, nil
}

// Session accumulates encoded audio chunks from the input device on a fixed
// interval and tracks elapsed duration at one-second resolution.
type Session struct {
	recorder *Recorder
	mimeType string

	mu        sync.Mutex
	startTime time.Time
	chunks    [][]byte
	stopped   bool

	cancelPull context.CancelFunc
	pullDone   chan struct{}
}

// Start acquires the input device and begins a capture session. Encoding is
// negotiated by trying the preference list and taking the first the device
// supports, falling back to a default when none report support.
func (r *Recorder) Start(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return r.active, nil
	}

	mimeType := negotiateEncoding(r.device)
	if err := r.device.Open(ctx, mimeType, SpeechBitrate); err != nil {
		return nil, fmt.Errorf("capture: open device: %w", err)
	}

	pullCtx, cancel := context.WithCancel(context.Background())
	session := &Session{
		recorder:   r,
		mimeType:   mimeType,
		startTime:  r.clock(),
		cancelPull: cancel,
		pullDone:   make(chan struct{}),
	}
	r.active = session
	go session.pull(pullCtx)

	r.logger.Info("capture session started", zap.String("mime_type", mimeType))
	return session, nil
}

// Active returns the running session, if any.
func (r *Recorder) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func negotiateEncoding(device InputDevice) string {
	for _, candidate := range preferredEncodings {
		if device.SupportsEncoding(candidate) {
			return candidate
		}
	}
	return fallbackEncoding
}

func (s *Session) pull(ctx context.Context) {
	defer close(s.pullDone)
	ticker := time.NewTicker(chunkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			chunk, err := s.recorder.device.ReadChunk(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.recorder.logger.Warn("capture chunk read failed", zap.Error(err))
				}
				continue
			}
			if len(chunk) == 0 {
				continue
			}
			// Copy to avoid device buffer reuse.
			buf := make([]byte, len(chunk))
			copy(buf, chunk)
			s.mu.Lock()
			s.chunks = append(s.chunks, buf)
			s.mu.Unlock()
		}
	}
}

// DurationSeconds reports elapsed recording time at one-second resolution.
func (s *Session) DurationSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}
	return int(s.recorder.clock().Sub(s.startTime) / time.Second)
}

// MimeType returns the negotiated encoding for this session.
func (s *Session) MimeType() string {
	return s.mimeType
}

// Stop finalizes the chunk sequence into one immutable buffer, stops the
// duration counter and releases the input device. Only valid while started.
func (s *Session) Stop() (Recording, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Recording{}, ErrNotStarted
	}
	s.stopped = true
	elapsed := s.recorder.clock().Sub(s.startTime)
	s.mu.Unlock()

	s.cancelPull()
	<-s.pullDone

	s.mu.Lock()
	var buffer bytes.Buffer
	for _, chunk := range s.chunks {
		buffer.Write(chunk)
	}
	s.chunks = nil
	s.mu.Unlock()

	s.recorder.mu.Lock()
	if s.recorder.active == s {
		s.recorder.active = nil
	}
	s.recorder.mu.Unlock()

	if err := s.recorder.device.Close(); err != nil {
		s.recorder.logger.Warn("input device close failed", zap.Error(err))
	}

	recording := Recording{
		AudioBytes:      buffer.Bytes(),
		MimeType:        s.mimeType,
		FileExtension:   extensionFor(s.mimeType),
		DurationSeconds: float64(int(elapsed / time.Second)),
	}
	s.recorder.logger.Info("capture session stopped",
		zap.Float64("duration_s", recording.DurationSeconds),
		zap.Int("bytes", len(recording.AudioBytes)))
	return recording, nil
}

func extensionFor(mimeType string) string {
	switch {
	case mimeType == "audio/mp4":
		return "m4a"
	case len(mimeType) >= 9 && mimeType[:9] == "audio/ogg":
		return "ogg"
	default:
		return "webm"
	}
}
