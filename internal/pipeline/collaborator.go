package pipeline

import (
	"context"

	"go-receipt-forensics/internal/imaging"
	"go-receipt-forensics/internal/progress"
	"go-receipt-forensics/internal/scoring"
)

// Collaborator is an external context source (OCR, reputation lookup)
// consulted while the detectors run. Its output only enriches findings.
type Collaborator interface {
	Name() string
	Collect(ctx context.Context, img *imaging.Raster, req Request) ([]scoring.ContextCheck, progress.Details, error)
}

// CollaboratorFunc adapts a function to Collaborator.
type CollaboratorFunc struct {
	ID string
	Fn func(ctx context.Context, img *imaging.Raster, req Request) ([]scoring.ContextCheck, progress.Details, error)
}

func (c CollaboratorFunc) Name() string { return c.ID }

func (c CollaboratorFunc) Collect(ctx context.Context, img *imaging.Raster, req Request) ([]scoring.ContextCheck, progress.Details, error) {
	return c.Fn(ctx, img, req)
}
