package repository

import "errors"

var (
	// ErrRunNotFound indicates no terminal record exists for a run
	ErrRunNotFound = errors.New("verification run not found")

	// ErrRepositoryUnavailable indicates the repository is unavailable
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
