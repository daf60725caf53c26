package share

import "errors"

// Validation errors, reported to the client as 400.
var (
	ErrInvalidID       = errors.New("invalid file id")
	ErrMissingCode     = errors.New("code is required")
	ErrNoFiles         = errors.New("no files uploaded")
	ErrTooManyFiles    = errors.New("too many files")
	ErrUnexpectedField = errors.New("unexpected file field")
)

// ErrFileTooLarge is returned when a staged part exceeds the per-file limit.
var ErrFileTooLarge = errors.New("file too large")

// Retrieval errors.
var (
	ErrNotFound    = errors.New("file not found")
	ErrExpired     = errors.New("link expired")
	ErrInvalidCode = errors.New("invalid code")
)

// Storage-side errors, reported as 500.
var (
	ErrStorage      = errors.New("blob storage failure")
	ErrMetadata     = errors.New("metadata persistence failure")
	ErrUploadFailed = errors.New("upload failed")
)

// ErrDuplicateID signals an identifier collision on insert; the uploader retries with a new id.
var ErrDuplicateID = errors.New("duplicate file id")
