package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/idcheck/internal/auth"
	"github.com/example/idcheck/internal/fusion"
	"github.com/example/idcheck/internal/normalize"
	"github.com/example/idcheck/internal/usecase"
	"github.com/example/idcheck/internal/version"
)

// MaxUploadSize is the default limit for an uploaded card image.
const MaxUploadSize = 10 << 20

// multipart and base64 framing on top of the raw image
const envelopeOverhead = 1 << 20

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/bmp":  {},
	"image/tiff": {},
	"image/webp": {},
}

// Service is the verification surface exposed over HTTP.
type Service interface {
	ValidateID(ctx context.Context, ownerID, userID string, data []byte) (*usecase.ValidationResponse, error)
	GetResult(ctx context.Context, ownerID, requestID string) (*usecase.ValidationResponse, error)
	GetDuplicateReport(ctx context.Context, ownerID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type options struct {
	maxUploadBytes int64
}

// Option customizes route registration.
type Option func(*options)

// WithMaxUploadSize overrides MaxUploadSize.
func WithMaxUploadSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxUploadBytes = n
		}
	}
}

type validateRequest struct {
	ImageBase64 string `json:"image_base64" binding:"required"`
	UserID      string `json:"user_id" binding:"required"`
}

type handler struct {
	svc  Service
	opts options
}

// RegisterRoutes wires the HTTP handlers to the Gin router. A nil
// authMiddleware leaves the verification routes unauthenticated.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc, info version.Info, opts ...Option) {
	h := &handler{svc: svc, opts: options{maxUploadBytes: MaxUploadSize}}
	for _, opt := range opts {
		opt(&h.opts)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, info)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/")
	if authMiddleware != nil {
		protected.Use(authMiddleware)
	}
	protected.POST("/validate-id", h.validateJSON)
	protected.POST("/validate-id/upload", h.validateUpload)
	protected.GET("/results/:id", h.getResult)
	protected.GET("/results/:id/duplicates", h.getDuplicates)
	protected.GET("/metrics/summary", h.metricsSummary)
}

func (h *handler) validateJSON(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(base64.StdEncoding.EncodedLen(int(h.opts.maxUploadBytes)))+envelopeOverhead)

	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image_base64 and user_id are required"})
		return
	}

	data, err := decodeBase64(req.ImageBase64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, &usecase.ValidationResponse{
			UserID:    req.UserID,
			Verdict:   fusion.InvalidImage(),
			CreatedAt: time.Now().UTC(),
		})
		return
	}
	if int64(len(data)) > h.opts.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}

	h.validate(c, req.UserID, data)
}

func (h *handler) validateUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.maxUploadBytes+envelopeOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > h.opts.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}
	if !isAllowedImageType(file.Header.Get("Content-Type")) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image content type"})
		return
	}

	userID := strings.TrimSpace(c.PostForm("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	h.validate(c, userID, data)
}

func (h *handler) validate(c *gin.Context, userID string, data []byte) {
	ownerID, _ := auth.GetUserID(c.Request.Context())

	resp, err := h.svc.ValidateID(c.Request.Context(), ownerID, userID, data)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, normalize.ErrDecode) && resp != nil:
		c.JSON(http.StatusUnprocessableEntity, resp)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "validation failed"})
	}
}

func (h *handler) getResult(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c.Request.Context())

	resp, err := h.svc.GetResult(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) getDuplicates(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c.Request.Context())

	report, err := h.svc.GetDuplicateReport(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) metricsSummary(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, usecase.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
}

// decodeBase64 accepts standard or raw base64, optionally as a data URL.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func isAllowedImageType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	_, ok := allowedImageTypes[strings.ToLower(mediaType)]
	return ok
}
