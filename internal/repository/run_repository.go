package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"go-receipt-forensics/pkg/models"
)

const (
	stateComplete = "complete"
	stateFailed   = "failed"
)

// RunRecord is the table row for one terminal run. The full result is kept
// as JSON text next to the columns used for lookups.
type RunRecord struct {
	RunID             string `gorm:"primaryKey;size:64"`
	ReceiptID         string `gorm:"size:128;index"`
	State             string `gorm:"size:16"`
	ManipulationScore *int
	VerdictBand       string `gorm:"size:16"`
	ErrorKind         string `gorm:"size:32"`
	Message           string `gorm:"type:text"`
	Payload           string `gorm:"type:text"`
	CreatedAt         time.Time
	CompletedAt       time.Time
}

func (RunRecord) TableName() string { return "verification_runs" }

// Open connects to a postgres or mysql database and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// GormRunRepository implements RunRepository on gorm.
type GormRunRepository struct {
	DB *gorm.DB
}

func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{DB: db}
}

func (r *GormRunRepository) SaveResult(ctx context.Context, result *models.VerificationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	score := result.ManipulationScore
	return r.upsert(ctx, &RunRecord{
		RunID:             result.RunID,
		ReceiptID:         result.ReceiptID,
		State:             stateComplete,
		ManipulationScore: &score,
		VerdictBand:       result.VerdictBand,
		Payload:           string(payload),
		CompletedAt:       result.Timestamp,
	})
}

func (r *GormRunRepository) SaveFailure(ctx context.Context, failure *models.FailureResult) error {
	payload, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}
	return r.upsert(ctx, &RunRecord{
		RunID:       failure.RunID,
		ReceiptID:   failure.ReceiptID,
		State:       stateFailed,
		ErrorKind:   failure.ErrorKind,
		Message:     failure.Message,
		Payload:     string(payload),
		CompletedAt: failure.Timestamp,
	})
}

func (r *GormRunRepository) upsert(ctx context.Context, rec *RunRecord) error {
	err := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.RunID, err)
	}
	return nil
}

func (r *GormRunRepository) Get(ctx context.Context, runID string) (*models.RunStatus, error) {
	var rec RunRecord
	err := r.DB.WithContext(ctx).Where("run_id = ?", runID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return rec.Status()
}

func (r *GormRunRepository) ListByReceipt(ctx context.Context, receiptID string, limit int) ([]*models.RunStatus, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []RunRecord
	err := r.DB.WithContext(ctx).
		Where("receipt_id = ?", receiptID).
		Order("completed_at desc").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for %s: %w", receiptID, err)
	}
	out := make([]*models.RunStatus, 0, len(recs))
	for i := range recs {
		st, err := recs[i].Status()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Status decodes the stored payload.
func (rec *RunRecord) Status() (*models.RunStatus, error) {
	st := &models.RunStatus{
		RunID:     rec.RunID,
		ReceiptID: rec.ReceiptID,
		State:     rec.State,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.CompletedAt,
	}
	switch rec.State {
	case stateComplete:
		st.Result = &models.VerificationResult{}
		if err := json.Unmarshal([]byte(rec.Payload), st.Result); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", rec.RunID, err)
		}
	case stateFailed:
		st.Failure = &models.FailureResult{}
		if err := json.Unmarshal([]byte(rec.Payload), st.Failure); err != nil {
			return nil, fmt.Errorf("decode failure %s: %w", rec.RunID, err)
		}
	}
	return st, nil
}
