// Package devserver is a self-contained durable-store backend for local
// development and integration tests. It implements the same HTTP surface the
// remote.Client speaks, backed by sqlite, with a static bearer token instead
// of a real account system.
package devserver

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxUploadBytes = 64 << 20

var (
	errMissingDatabase   = errors.New("devserver: database dependency required")
	errMissingIDProvider = errors.New("devserver: id provider dependency required")
)

// Dependencies wires the dev server.
type Dependencies struct {
	Database *gorm.DB
	APIToken string
	IDs      memo.IDProvider
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewHTTPHandler builds the dev durable-store router. An empty APIToken
// disables the bearer check, which is convenient for throwaway local runs.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Database == nil {
		return nil, errMissingDatabase
	}
	if deps.IDs == nil {
		return nil, errMissingIDProvider
	}
	if err := deps.Database.AutoMigrate(&uploadBlobRow{}, &remoteMemoRow{}); err != nil {
		return nil, err
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		db:       deps.Database,
		apiToken: deps.APIToken,
		ids:      deps.IDs,
		clock:    clock,
		logger:   logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/v1/uploads", handler.handleIssueUploadTarget)
	protected.PUT("/v1/uploads/:uploadID", handler.handleReceiveUpload)
	protected.POST("/v1/memos", handler.handleCreateMemo)
	protected.GET("/v1/memos", handler.handleListMemos)
	protected.PATCH("/v1/memos/:remoteID", handler.handlePatchMemo)
	protected.POST("/v1/memos/:remoteID/transcribe", handler.handleTranscribeMemo)
	protected.GET("/v1/memos/:remoteID/audio", handler.handleStreamAudio)

	return router, nil
}

type httpHandler struct {
	db       *gorm.DB
	apiToken string
	ids      memo.IDProvider
	clock    func() time.Time
	logger   *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if h.apiToken == "" {
		c.Next()
		return
	}
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token != h.apiToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (h *httpHandler) handleIssueUploadTarget(c *gin.Context) {
	uploadID, err := h.ids.NewID()
	if err != nil {
		h.logger.Error("failed to issue upload id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "id_issue_failed"})
		return
	}
	row := uploadBlobRow{UploadID: uploadID, IssuedAtMs: h.clock().UnixMilli()}
	if err := h.db.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		h.logger.Error("failed to persist upload target", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"upload_id":  uploadID,
		"upload_url": "/v1/uploads/" + uploadID,
	})
}

func (h *httpHandler) handleReceiveUpload(c *gin.Context) {
	uploadID := c.Param("uploadID")

	var row uploadBlobRow
	err := h.db.WithContext(c.Request.Context()).Take(&row, "upload_id = ?", uploadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_upload_target"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load upload target", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}

	audio, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	if err != nil || len(audio) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updates := map[string]interface{}{
		"audio_bytes":  audio,
		"content_type": c.ContentType(),
	}
	if err := h.db.WithContext(c.Request.Context()).Model(&uploadBlobRow{}).Where("upload_id = ?", uploadID).Updates(updates).Error; err != nil {
		h.logger.Error("failed to persist uploaded audio", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"target_id": uploadID})
}

type createMemoPayload struct {
	LocalID           string `json:"local_id"`
	DisplayName       string `json:"display_name"`
	DurationMs        int64  `json:"duration_ms"`
	ClientCreatedAtMs int64  `json:"client_created_at_ms"`
	UploadTargetID    string `json:"upload_target_id"`
}

func (h *httpHandler) handleCreateMemo(c *gin.Context) {
	var request createMemoPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.LocalID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()

	var claimed int64
	if err := h.db.WithContext(ctx).Model(&remoteMemoRow{}).Where("local_id = ?", request.LocalID).Count(&claimed).Error; err != nil {
		h.logger.Error("failed to check local id claim", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}
	if claimed > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "local_id_already_claimed"})
		return
	}

	var blob uploadBlobRow
	err := h.db.WithContext(ctx).Take(&blob, "upload_id = ?", request.UploadTargetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && len(blob.AudioBytes) == 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_upload_target"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load uploaded audio", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}

	remoteID, err := h.ids.NewID()
	if err != nil {
		h.logger.Error("failed to issue remote id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "id_issue_failed"})
		return
	}

	row := remoteMemoRow{
		RemoteID:            remoteID,
		LocalID:             request.LocalID,
		Day:                 memo.DayOfEpochMs(request.ClientCreatedAtMs).String(),
		DisplayName:         request.DisplayName,
		DurationMs:          request.DurationMs,
		ClientCreatedAtMs:   request.ClientCreatedAtMs,
		TranscriptionStatus: string(memo.TranscriptionPending),
		AudioBytes:          blob.AudioBytes,
		ContentType:         blob.ContentType,
		CreatedAtMs:         h.clock().UnixMilli(),
	}
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		h.logger.Error("failed to persist remote memo", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}
	// The blob has been folded into the memo row; the target is one-shot.
	if err := h.db.WithContext(ctx).Delete(&uploadBlobRow{}, "upload_id = ?", request.UploadTargetID).Error; err != nil {
		h.logger.Warn("failed to discard consumed upload target", zap.Error(err))
	}

	c.JSON(http.StatusOK, row.toRecord())
}

func (h *httpHandler) handleListMemos(c *gin.Context) {
	day, err := memo.NewDay(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date"})
		return
	}

	var rows []remoteMemoRow
	if err := h.db.WithContext(c.Request.Context()).
		Where("day = ?", day.String()).
		Order("client_created_at_ms DESC").
		Find(&rows).Error; err != nil {
		h.logger.Error("failed to list remote memos", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}

	records := make([]memo.RemoteMemoRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	c.JSON(http.StatusOK, records)
}

type patchMemoPayload struct {
	TranscriptText      *string `json:"transcript_text"`
	TranscriptLanguage  *string `json:"transcript_language"`
	TranscriptionStatus *string `json:"transcription_status"`
}

func (h *httpHandler) handlePatchMemo(c *gin.Context) {
	remoteID := c.Param("remoteID")

	var request patchMemoPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updates := map[string]interface{}{}
	if request.TranscriptText != nil {
		updates["transcript_text"] = *request.TranscriptText
	}
	if request.TranscriptLanguage != nil {
		updates["transcript_language"] = *request.TranscriptLanguage
	}
	if request.TranscriptionStatus != nil {
		updates["transcription_status"] = *request.TranscriptionStatus
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_patch"})
		return
	}

	result := h.db.WithContext(c.Request.Context()).Model(&remoteMemoRow{}).Where("remote_id = ?", remoteID).Updates(updates)
	if result.Error != nil {
		h.logger.Error("failed to patch remote memo", zap.Error(result.Error))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// handleTranscribeMemo fakes the server-side transcription: the record moves
// to completed with a canned transcript so sync and merge flows can be
// exercised without a speech-to-text provider.
func (h *httpHandler) handleTranscribeMemo(c *gin.Context) {
	remoteID := c.Param("remoteID")
	ctx := c.Request.Context()

	var row remoteMemoRow
	err := h.db.WithContext(ctx).Take(&row, "remote_id = ?", remoteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load remote memo", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}

	text := row.TranscriptText
	if text == nil {
		canned := "(transcribed by devserver)"
		text = &canned
	}
	updates := map[string]interface{}{
		"transcript_text":      *text,
		"transcription_status": string(memo.TranscriptionCompleted),
	}
	if err := h.db.WithContext(ctx).Model(&remoteMemoRow{}).Where("remote_id = ?", remoteID).Updates(updates).Error; err != nil {
		h.logger.Error("failed to persist transcript", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "text": *text})
}

func (h *httpHandler) handleStreamAudio(c *gin.Context) {
	var row remoteMemoRow
	err := h.db.WithContext(c.Request.Context()).Take(&row, "remote_id = ?", c.Param("remoteID")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load remote memo", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}
	contentType := row.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, row.AudioBytes)
}
