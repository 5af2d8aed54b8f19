package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/idcheck/internal/classifier"
	"github.com/example/idcheck/internal/fusion"
	"github.com/example/idcheck/internal/logging"
	"github.com/example/idcheck/internal/pipeline"
	"github.com/example/idcheck/internal/repository"
)

// ErrNotFound is returned when a verification does not exist for the caller.
var ErrNotFound = repository.ErrNotFound

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestIDAndOwner(ctx context.Context, requestID, ownerID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, ownerID, hash, excludeRequestID string, limit int) ([]repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsSummary, error)
}

// Validator runs the validation pipeline.
type Validator interface {
	Run(ctx context.Context, userID string, data []byte) (*pipeline.Result, error)
}

// ValidationResponse is the verdict returned to callers plus audit metadata.
type ValidationResponse struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	fusion.Verdict
	OCR            *pipeline.TextOutcome `json:"ocr,omitempty"`
	Classification *classifier.Result    `json:"classification,omitempty"`
	ImageHash      string                `json:"image_hash"`
	CreatedAt      time.Time             `json:"created_at"`
}

// DuplicateReport lists earlier validations of the same image by the same caller.
type DuplicateReport struct {
	Request    *ValidationResponse  `json:"request"`
	Duplicates []ValidationResponse `json:"duplicates"`
}

// VerificationUseCase wires the pipeline to caching and the audit log.
type VerificationUseCase struct {
	repo           VerificationRepository
	cache          Cache
	validator      Validator
	logger         *zap.Logger
	cacheTTL       time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(repo VerificationRepository, cache Cache, validator Validator, cacheTTL time.Duration, logger *zap.Logger) *VerificationUseCase {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &VerificationUseCase{
		repo:           repo,
		cache:          cache,
		validator:      validator,
		logger:         logger.Named("verification_usecase"),
		cacheTTL:       cacheTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func cacheKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

// ValidateID validates one card image for ownerID, who expects the card to
// belong to userID. Decode failures return the error verdict together with
// an error matching normalize.ErrDecode. Caching and audit failures are
// logged and never change the verdict.
func (uc *VerificationUseCase) ValidateID(ctx context.Context, ownerID, userID string, data []byte) (*ValidationResponse, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.validate_id", requestID)

	result, runErr := uc.validator.Run(pipeline.WithRequestID(ctx, requestID), userID, data)
	if result == nil {
		if runErr == nil {
			runErr = errors.New("pipeline returned no result")
		}
		return nil, logging.NewOperationError("usecase.validate_id", requestID, runErr)
	}

	hash := sha256.Sum256(data)
	resp := &ValidationResponse{
		RequestID: requestID,
		UserID:    userID,
		Verdict:   result.Verdict,
		ImageHash: hex.EncodeToString(hash[:]),
		CreatedAt: time.Now().UTC(),
	}
	text := result.Text
	resp.OCR = &text
	resp.Classification = result.Classification.Result

	uc.persist(ctx, ownerID, resp, result, opLogger)
	uc.store(ctx, ownerID, resp, opLogger)

	return resp, runErr
}

func (uc *VerificationUseCase) persist(ctx context.Context, ownerID string, resp *ValidationResponse, result *pipeline.Result, opLogger *zap.Logger) {
	details, err := json.Marshal(struct {
		OCR            *pipeline.TextOutcome `json:"ocr"`
		Classification *classifier.Result    `json:"classification,omitempty"`
	}{resp.OCR, resp.Classification})
	if err != nil {
		opLogger.Warn("failed to serialize verification details", zap.Error(err))
	}

	log := &repository.VerificationLog{
		RequestID:     resp.RequestID,
		OwnerID:       ownerID,
		UserID:        resp.UserID,
		ImageHash:     resp.ImageHash,
		Label:         resp.Label,
		Status:        resp.Status,
		Score:         resp.Score,
		Reason:        resp.Reason,
		IsFake:        resp.IsFake,
		OCRConfidence: result.Text.OCRConfidence,
		OCRStatus:     result.Text.Status,
		LatencyMs:     result.Duration.Milliseconds(),
		Details:       string(details),
		CreatedAt:     resp.CreatedAt,
	}
	if c := result.Classification.Result; c != nil {
		log.GenuineConfidence = c.GenuineConfidence()
	}
	if rec := result.Text.Record; rec != nil {
		log.FacePhotoFound = rec.FacePhotoFound
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist verification log", zap.Error(err))
	}
}

func (uc *VerificationUseCase) store(ctx context.Context, ownerID string, resp *ValidationResponse, opLogger *zap.Logger) {
	serialized, err := json.Marshal(cachedVerification{OwnerID: ownerID, Response: resp})
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, resp.RequestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey(resp.RequestID), string(serialized), uc.cacheTTL)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
	}
}

// GetResult retrieves a verification outcome from the cache or the audit log.
func (uc *VerificationUseCase) GetResult(ctx context.Context, ownerID, requestID string) (*ValidationResponse, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey(requestID)); err == nil {
		var payload cachedVerification
		if err := json.Unmarshal([]byte(cached), &payload); err != nil || payload.Response == nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else if payload.OwnerID == ownerID {
			return payload.Response, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndOwner(ctx, requestID, ownerID)
	if err != nil {
		return nil, err
	}
	return responseFromLog(log), nil
}

// GetDuplicateReport lists earlier validations of the same image by the caller.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, ownerID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndOwner(ctx, requestID, ownerID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, ownerID, log.ImageHash, log.RequestID, 20)
	if err != nil {
		return nil, err
	}

	report := &DuplicateReport{Request: responseFromLog(log), Duplicates: make([]ValidationResponse, 0, len(duplicates))}
	for i := range duplicates {
		report.Duplicates = append(report.Duplicates, *responseFromLog(&duplicates[i]))
	}
	return report, nil
}

func responseFromLog(log *repository.VerificationLog) *ValidationResponse {
	resp := &ValidationResponse{
		RequestID: log.RequestID,
		UserID:    log.UserID,
		Verdict: fusion.Verdict{
			Label:     log.Label,
			Status:    log.Status,
			Score:     log.Score,
			Reason:    log.Reason,
			Threshold: fusion.ReportedThreshold,
			IsFake:    log.IsFake,
		},
		ImageHash: log.ImageHash,
		CreatedAt: log.CreatedAt,
	}
	var details struct {
		OCR            *pipeline.TextOutcome `json:"ocr"`
		Classification *classifier.Result    `json:"classification"`
	}
	if log.Details != "" && json.Unmarshal([]byte(log.Details), &details) == nil {
		resp.OCR = details.OCR
		resp.Classification = details.Classification
	}
	return resp
}
