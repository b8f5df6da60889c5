package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	apperrors "go-receipt-forensics/internal/errors"
)

// ImageSource fetches the raw bytes of a receipt image. Decoding is left
// to the normalizer so that metadata survives.
type ImageSource interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Router dispatches references to sources by URL scheme. References without
// a scheme go to the default source.
type Router struct {
	sources  map[string]ImageSource
	fallback string
}

// NewRouter creates an empty router whose scheme-less references go to the
// source registered under fallback.
func NewRouter(fallback string) *Router {
	return &Router{sources: make(map[string]ImageSource), fallback: fallback}
}

// Register binds a scheme such as "https" or "s3" to a source.
func (r *Router) Register(scheme string, src ImageSource) {
	if src != nil {
		r.sources[strings.ToLower(scheme)] = src
	}
}

// SetFallback changes the source used for scheme-less references.
func (r *Router) SetFallback(scheme string) { r.fallback = strings.ToLower(scheme) }

// Fallback returns the scheme used for scheme-less references.
func (r *Router) Fallback() string { return r.fallback }

// Schemes lists registered schemes.
func (r *Router) Schemes() []string {
	out := make([]string, 0, len(r.sources))
	for s := range r.sources {
		out = append(out, s)
	}
	return out
}

func (r *Router) Fetch(ctx context.Context, ref string) ([]byte, error) {
	scheme := r.fallback
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		scheme = strings.ToLower(u.Scheme)
	}
	src, ok := r.sources[scheme]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("no image source configured for %q", scheme), nil)
	}
	return src.Fetch(ctx, ref)
}

// splitObjectRef turns "scheme://bucket/key" into bucket and key. Plain
// keys return an empty bucket.
func splitObjectRef(ref string) (bucket, key string) {
	if i := strings.Index(ref, "://"); i >= 0 {
		rest := ref[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return rest[:j], rest[j+1:]
		}
		return rest, ""
	}
	return "", strings.TrimPrefix(ref, "/")
}
