package domain

import "errors"

var (
	// ErrValidation marks a file rejected before upload (not an image or video).
	ErrValidation = errors.New("only images and videos are allowed")

	// ErrBackendUnavailable marks a listing that could not reach its backend.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrWriteRejected marks an add or delete refused by the backend
	// (quota, permission or network failure).
	ErrWriteRejected = errors.New("write rejected")

	ErrNotFound = errors.New("record not found")
)
