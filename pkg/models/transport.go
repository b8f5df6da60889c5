package models

// VerifyRequest asks for one receipt image to be verified. Exactly one of
// ImageURL, ImageBase64 or ObjectKey must be set.
type VerifyRequest struct {
	ReceiptID   string `json:"receipt_id,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	// ObjectKey names an object in the configured bucket or container,
	// optionally prefixed with "s3://" or "azure://".
	ObjectKey string `json:"object_key,omitempty"`

	MerchantName  string `json:"merchant_name,omitempty"`
	ClaimedAmount string `json:"claimed_amount,omitempty"`
	OCRText       string `json:"ocr_text,omitempty"`

	// Async returns a run ID immediately instead of waiting for the result.
	Async bool `json:"async,omitempty"`
}

// SubmitResponse is returned for asynchronous submissions.
type SubmitResponse struct {
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
	EventsURL string `json:"events_url"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ValidationError represents a structured validation error
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}
