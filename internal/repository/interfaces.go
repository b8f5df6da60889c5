package repository

import (
	"context"

	"go-receipt-forensics/pkg/models"
)

// RunRepository persists the terminal record of each verification run.
// Saves are idempotent per run ID, so redelivered jobs may save again.
type RunRepository interface {
	SaveResult(ctx context.Context, result *models.VerificationResult) error
	SaveFailure(ctx context.Context, failure *models.FailureResult) error

	// Get returns the stored record or ErrRunNotFound.
	Get(ctx context.Context, runID string) (*models.RunStatus, error)

	// ListByReceipt returns the most recent runs for a receipt, newest first.
	ListByReceipt(ctx context.Context, receiptID string, limit int) ([]*models.RunStatus, error)
}
