package validation

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/pkg/models"
)

const maxReceiptIDLength = 128

var receiptIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

// RequestValidator checks verification requests before any image is
// fetched.
type RequestValidator struct {
	allowedSchemes []string
	allowedHosts   []string
	objectSchemes  []string
	maxBase64Bytes int
}

// NewRequestValidator creates a validator with default settings
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		allowedSchemes: []string{"http", "https"},
		allowedHosts:   []string{}, // empty means all hosts allowed
		objectSchemes:  []string{"s3", "azure"},
		maxBase64Bytes: 28 << 20,
	}
}

// NewRequestValidatorWithOptions restricts image URLs to the given
// schemes and hosts.
func NewRequestValidatorWithOptions(schemes []string, hosts []string) *RequestValidator {
	v := NewRequestValidator()
	v.allowedSchemes = schemes
	v.allowedHosts = hosts
	return v
}

// Validate returns a validation error describing the first problem found.
func (v *RequestValidator) Validate(req models.VerifyRequest) error {
	if errs := v.Check(req); len(errs) > 0 {
		return apperrors.NewValidationError(errs[0].Field+": "+errs[0].Message, nil)
	}
	return nil
}

// Check returns every problem with req.
func (v *RequestValidator) Check(req models.VerifyRequest) []models.ValidationError {
	var errs []models.ValidationError
	add := func(field, code, msg string) {
		errs = append(errs, models.ValidationError{Field: field, Code: code, Message: msg})
	}

	if req.ReceiptID != "" {
		if len(req.ReceiptID) > maxReceiptIDLength {
			add("receipt_id", "too_long", "must be at most 128 characters")
		} else if !receiptIDPattern.MatchString(req.ReceiptID) {
			add("receipt_id", "invalid_format", "may contain only letters, digits and . _ : -")
		}
	}

	sources := 0
	for _, s := range []string{req.ImageURL, req.ImageBase64, req.ObjectKey} {
		if strings.TrimSpace(s) != "" {
			sources++
		}
	}
	if sources != 1 {
		add("image", "invalid_source", "exactly one of image_url, image_base64 or object_key is required")
	}

	if req.ImageURL != "" {
		if err := v.ValidateImageURL(req.ImageURL); err != nil {
			add("image_url", "invalid_url", messageOf(err))
		}
	}
	if req.ObjectKey != "" {
		if err := v.ValidateObjectKey(req.ObjectKey); err != nil {
			add("object_key", "invalid_key", messageOf(err))
		}
	}
	if len(req.ImageBase64) > v.maxBase64Bytes {
		add("image_base64", "too_large", "encoded image exceeds the size limit")
	}

	if req.ClaimedAmount != "" {
		amount := strings.ReplaceAll(strings.TrimSpace(req.ClaimedAmount), ",", "")
		if f, err := strconv.ParseFloat(amount, 64); err != nil || f < 0 {
			add("claimed_amount", "invalid_amount", "must be a non-negative number")
		}
	}
	return errs
}

// ValidateImageURL validates if the provided URL is acceptable for image processing
func (v *RequestValidator) ValidateImageURL(imageURL string) error {
	if strings.TrimSpace(imageURL) == "" {
		return apperrors.NewValidationError("URL cannot be empty", nil)
	}

	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return apperrors.NewValidationError("Invalid URL format", err)
	}

	if !contains(v.allowedSchemes, parsedURL.Scheme) {
		return apperrors.NewValidationError("URL scheme not allowed", nil)
	}

	if parsedURL.Host == "" {
		return apperrors.NewValidationError("URL must have a valid host", nil)
	}

	if len(v.allowedHosts) > 0 && !contains(v.allowedHosts, parsedURL.Hostname()) {
		return apperrors.NewValidationError("URL host not allowed", nil)
	}

	return nil
}

// ValidateObjectKey accepts plain keys and "s3://" or "azure://" references
// with a bucket and key.
func (v *RequestValidator) ValidateObjectKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return apperrors.NewValidationError("object key cannot be empty", nil)
	}
	i := strings.Index(key, "://")
	if i < 0 {
		if strings.HasSuffix(key, "/") {
			return apperrors.NewValidationError("object key must name an object", nil)
		}
		return nil
	}
	if !contains(v.objectSchemes, strings.ToLower(key[:i])) {
		return apperrors.NewValidationError("object scheme not allowed", nil)
	}
	rest := key[i+3:]
	j := strings.Index(rest, "/")
	if j <= 0 || j == len(rest)-1 {
		return apperrors.NewValidationError("object reference must be scheme://bucket/key", nil)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, allowed := range list {
		if s == allowed {
			return true
		}
	}
	return false
}

func messageOf(err error) string {
	if appErr, ok := err.(*apperrors.AppError); ok {
		return appErr.Message
	}
	return err.Error()
}
