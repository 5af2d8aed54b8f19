package repository

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/idcheck/internal/logging"
)

// ErrNotFound is returned when no verification matches a lookup.
var ErrNotFound = errors.New("verification not found")

// VerificationLog represents a persisted ID card validation. OwnerID is the
// authenticated caller; UserID is the id expected on the card.
type VerificationLog struct {
	ID                uint      `gorm:"primaryKey"`
	RequestID         string    `gorm:"column:request_id;uniqueIndex;size:64"`
	OwnerID           string    `gorm:"column:owner_id;size:64;index:idx_owner_hash"`
	UserID            string    `gorm:"column:user_id;size:64"`
	ImageHash         string    `gorm:"column:image_hash;size:64;index:idx_owner_hash"`
	Label             string    `gorm:"column:label;size:16"`
	Status            string    `gorm:"column:status;size:16;index"`
	Score             float64   `gorm:"column:score"`
	Reason            string    `gorm:"column:reason;size:128"`
	IsFake            bool      `gorm:"column:is_fake"`
	GenuineConfidence float64   `gorm:"column:genuine_confidence"`
	OCRConfidence     float64   `gorm:"column:ocr_confidence"`
	OCRStatus         string    `gorm:"column:ocr_status;size:16"`
	FacePhotoFound    bool      `gorm:"column:face_photo_found"`
	LatencyMs         int64     `gorm:"column:latency_ms"`
	Details           string    `gorm:"column:details;type:text"`
	CreatedAt         time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}

// MetricsSummary aggregates stored verifications.
type MetricsSummary struct {
	Total        int64   `json:"total"`
	Approved     int64   `json:"approved"`
	Rejected     int64   `json:"rejected"`
	ManualReview int64   `json:"manual_review"`
	Errors       int64   `json:"errors"`
	AvgScore     float64 `json:"avg_score"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// VerificationRepository provides persistence APIs for verification logs.
type VerificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:             db,
		logger:         logger.Named("repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     500 * time.Millisecond,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&VerificationLog{})
	})
}

// SaveLog persists a verification log entry.
func (r *VerificationRepository) SaveLog(ctx context.Context, log *VerificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndOwner retrieves a verification log matching the request and owner.
func (r *VerificationRepository) FindByRequestIDAndOwner(ctx context.Context, requestID, ownerID string) (*VerificationLog, error) {
	var log VerificationLog
	err := r.executeWithRetry(ctx, "repository.find_by_request", requestID, func() error {
		err := r.db.WithContext(ctx).First(&log, "request_id = ? AND owner_id = ?", requestID, ownerID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists the owner's other validations of the same image, newest first.
func (r *VerificationRepository) FindDuplicatesByHash(ctx context.Context, ownerID, imageHash, excludeRequestID string, limit int) ([]VerificationLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []VerificationLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("owner_id = ? AND image_hash = ? AND request_id <> ?", ownerID, imageHash, excludeRequestID).
			Order("created_at DESC").
			Limit(limit).
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics summarizes every stored verification.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsSummary, error) {
	var summary MetricsSummary
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationLog{}).
			Select(`COUNT(*) AS total,
				COALESCE(SUM(CASE WHEN status = 'approved' THEN 1 ELSE 0 END), 0) AS approved,
				COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0) AS rejected,
				COALESCE(SUM(CASE WHEN status = 'manual_review' THEN 1 ELSE 0 END), 0) AS manual_review,
				COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) AS errors,
				COALESCE(AVG(score), 0) AS avg_score,
				COALESCE(AVG(latency_ms), 0) AS avg_latency_ms`).
			Scan(&summary).Error
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// executeWithRetry retries fn while it fails with a transient error. The
// final error is wrapped in a logging.OperationError.
func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := r.initialBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || !isTransient(err) || attempt == attempts {
			break
		}

		r.logger.Warn("transient database error, retrying",
			zap.String("operation", operation),
			zap.String("request_id", requestID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return logging.NewOperationError(operation, requestID, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if r.maxBackoff > 0 && backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
	return logging.NewOperationError(operation, requestID, err)
}

type temporary interface {
	Temporary() bool
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var tmp temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return true
	}
	return errors.Is(err, gorm.ErrInvalidTransaction)
}
