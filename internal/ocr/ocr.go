// Package ocr reads receipt text and compares it with what the caller
// claims about the receipt. Its output enriches findings only.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"go-receipt-forensics/internal/imaging"
	"go-receipt-forensics/internal/pipeline"
	"go-receipt-forensics/internal/progress"
	"go-receipt-forensics/internal/scoring"
)

// TextExtractor turns an encoded image into text.
type TextExtractor interface {
	Extract(ctx context.Context, img []byte) (string, error)
}

type tesseractExtractor struct {
	language string
}

// NewTesseractExtractor returns an extractor backed by the local
// Tesseract installation.
func NewTesseractExtractor(language string) TextExtractor {
	if language == "" {
		language = "eng"
	}
	return &tesseractExtractor{language: language}
}

func (t *tesseractExtractor) Extract(ctx context.Context, img []byte) (string, error) {
	type out struct {
		text string
		err  error
	}
	done := make(chan out, 1)
	go func() {
		client := gosseract.NewClient()
		defer client.Close()
		if err := client.SetLanguage(t.language); err != nil {
			done <- out{err: err}
			return
		}
		if err := client.SetImageFromBytes(img); err != nil {
			done <- out{err: err}
			return
		}
		text, err := client.Text()
		done <- out{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("tesseract: %w", r.err)
		}
		return r.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Collaborator extracts receipt text during analysis and compares it with
// the caller's claims.
type Collaborator struct {
	extractor TextExtractor
}

var _ pipeline.Collaborator = (*Collaborator)(nil)

// NewCollaborator wraps an extractor as a pipeline collaborator.
func NewCollaborator(extractor TextExtractor) *Collaborator {
	return &Collaborator{extractor: extractor}
}

// NewTesseractCollaborator is NewCollaborator over Tesseract.
func NewTesseractCollaborator(language string) *Collaborator {
	return NewCollaborator(NewTesseractExtractor(language))
}

func (c *Collaborator) Name() string { return "ocr" }

func (c *Collaborator) Collect(ctx context.Context, img *imaging.Raster, req pipeline.Request) ([]scoring.ContextCheck, progress.Details, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.Clone()); err != nil {
		return nil, nil, fmt.Errorf("encode raster: %w", err)
	}
	text, err := c.extractor.Extract(ctx, buf.Bytes())
	if err != nil {
		return nil, nil, err
	}

	checks, stats := CompareClaims(Claims{
		MerchantName:  req.Context.MerchantName,
		ClaimedAmount: req.Context.ClaimedAmount,
		ReferenceText: req.OCRText,
	}, text)

	details := progress.Details{
		"ocr_chars": progress.Int(int64(len(strings.TrimSpace(text)))),
		"ocr_words": progress.Int(int64(len(strings.Fields(text)))),
	}
	if stats.HasMerchant {
		details["merchant_similarity"] = progress.Float(stats.MerchantSimilarity)
	}
	if stats.HasWER {
		details["word_error_rate"] = progress.Float(stats.WER)
	}
	return checks, details, nil
}
