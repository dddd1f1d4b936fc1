package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"aicaptcha/internal/classifier"
	"aicaptcha/internal/metrics"
	"aicaptcha/internal/middleware"
	"aicaptcha/internal/service"
)

// CookieOptions controls the session cookie.
type CookieOptions struct {
	Name     string
	MaxAge   int
	Secure   bool
	HTTPOnly bool
}

// Options are the credentials and cookie settings of the API.
type Options struct {
	AuthToken   string // admin endpoints
	PublicToken string // challenge endpoint
	Cookie      CookieOptions
}

// PublicKeyProvider exposes the verification key.
type PublicKeyProvider interface {
	PublicKeyPEM() string
}

// ModelProvider exposes the active model.
type ModelProvider interface {
	Current() *classifier.Artifact
}

// RetrainRequester queues an out-of-line retrain.
type RetrainRequester interface {
	Request(reason string) bool
}

// Handler handles HTTP requests
type Handler struct {
	challenges *service.ChallengeService
	records    *service.RecordService
	keys       PublicKeyProvider
	model      ModelProvider
	retrainer  RetrainRequester
	opts       Options
	logger     *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	challenges *service.ChallengeService,
	records *service.RecordService,
	keys PublicKeyProvider,
	model ModelProvider,
	retrainer RetrainRequester,
	opts Options,
	logger *zap.Logger,
) *Handler {
	if opts.Cookie.Name == "" {
		opts.Cookie.Name = "session_id"
	}
	return &Handler{
		challenges: challenges,
		records:    records,
		keys:       keys,
		model:      model,
		retrainer:  retrainer,
		opts:       opts,
		logger:     logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	publicAuth := middleware.BearerAuth(h.opts.PublicToken, h.logger)
	adminAuth := middleware.BearerAuth(h.opts.AuthToken, h.logger)

	api := r.Group("/api")
	{
		api.GET("/public_key", h.PublicKey)
		api.POST("/challenge", countRejected(publicAuth), h.Challenge)

		admin := api.Group("", adminAuth)
		admin.POST("/store", h.Store)
		admin.POST("/update", h.UpdateLabel)
		admin.GET("/interactions/:id", h.GetInteraction)
		admin.GET("/labels", h.Labels)
		admin.POST("/retrain", h.Retrain)
		admin.GET("/model", h.ModelInfo)
	}

	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// countRejected records unauthorized challenges.
func countRejected(auth gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth(c)
		if c.IsAborted() {
			metrics.RecordChallenge(metrics.OutcomeUnauthorized, 0)
		}
	}
}

type challengeRequest struct {
	Data json.RawMessage `json:"data"`
	Save bool            `json:"save"`
}

// Challenge scores a client session and returns a signed attestation.
func (h *Handler) Challenge(c *gin.Context) {
	var req challengeRequest
	if !h.decodeJSON(c, &req) {
		metrics.RecordChallenge(metrics.OutcomeInvalid, 0)
		return
	}

	sessionID, _ := c.Cookie(h.opts.Cookie.Name)
	res, err := h.challenges.Challenge(c.Request.Context(), service.ChallengeRequest{
		Data:      req.Data,
		Save:      req.Save,
		SessionID: sessionID,
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidPayload) {
			metrics.RecordChallenge(metrics.OutcomeInvalid, 0)
		} else {
			metrics.RecordChallenge(metrics.OutcomeError, 0)
		}
		h.writeError(c, err)
		return
	}

	metrics.RecordChallenge(metrics.OutcomeIssued, res.Score)
	h.setSessionCookie(c, res.SessionID)
	c.JSON(http.StatusOK, gin.H{"token": res.Token})
}

type storeRequest struct {
	Data      string   `json:"data"`
	SessionID string   `json:"session_id"`
	Label     *float64 `json:"label"`
}

// Store saves an interaction outside the challenge flow.
func (h *Handler) Store(c *gin.Context) {
	var req storeRequest
	if !h.decodeJSON(c, &req) {
		return
	}
	if req.Data == "" {
		h.writeError(c, fmt.Errorf("%w: No data provided", service.ErrInvalidPayload))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID, _ = c.Cookie(h.opts.Cookie.Name)
	}

	rec, err := h.records.Store(c.Request.Context(), service.StoreRequest{
		Data:      req.Data,
		SessionID: sessionID,
		Label:     req.Label,
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.setSessionCookie(c, rec.SessionID)
	c.JSON(http.StatusOK, gin.H{
		"message":        "Data stored successfully",
		"interaction_id": rec.InteractionID,
	})
}

type updateRequest struct {
	InteractionID string   `json:"interaction_id"`
	Label         *float64 `json:"label"`
}

// UpdateLabel relabels a stored interaction.
func (h *Handler) UpdateLabel(c *gin.Context) {
	var req updateRequest
	if !h.decodeJSON(c, &req) {
		return
	}
	if req.InteractionID == "" || req.Label == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interaction_id and label are required"})
		return
	}

	if err := h.records.UpdateLabel(c.Request.Context(), req.InteractionID, *req.Label); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Label updated successfully"})
}

// GetInteraction returns a stored interaction.
func (h *Handler) GetInteraction(c *gin.Context) {
	rec, err := h.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Labels returns the label histogram.
func (h *Handler) Labels(c *gin.Context) {
	summary, err := h.records.Labels(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Retrain queues a retrain without touching the request counter.
func (h *Handler) Retrain(c *gin.Context) {
	queued := h.retrainer.Request("manual")
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Retrain requested",
		"queued":  queued,
	})
}

// ModelInfo describes the active model.
func (h *Handler) ModelInfo(c *gin.Context) {
	a := h.model.Current()
	if a == nil {
		c.JSON(http.StatusOK, gin.H{"loaded": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"loaded":          true,
		"version":         a.Version,
		"created_at":      a.CreatedAt,
		"input_size":      a.InputSize,
		"layers":          len(a.Layers),
		"device_families": a.DeviceFamilies,
	})
}

// PublicKey returns the PEM encoded verification key.
func (h *Handler) PublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"public_key": h.keys.PublicKeyPEM()})
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"service":      "aicaptcha",
		"model_loaded": h.model.Current() != nil,
	})
}

func (h *Handler) decodeJSON(c *gin.Context, v interface{}) bool {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
		return false
	}
	return true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON validation error: " + err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Interaction ID not found"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (h *Handler) setSessionCookie(c *gin.Context, sessionID string) {
	co := h.opts.Cookie
	c.SetCookie(co.Name, sessionID, co.MaxAge, "/", "", co.Secure, co.HTTPOnly)
}
