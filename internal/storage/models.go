package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested document or file does not exist.
var ErrNotFound = errors.New("not found")

// ErrDirectoryNotFound is returned when a configured directory is missing.
// It indicates misconfiguration and is surfaced rather than retried.
var ErrDirectoryNotFound = errors.New("directory not found")

// ErrCorruptMetadata is returned when the metadata file exists but cannot be
// parsed. Reads fall back to an empty mapping; writes are refused until
// Reconcile rebuilds the file from the filesystem.
var ErrCorruptMetadata = errors.New("corrupt metadata file")

// ErrInvalidFilename is returned for empty names, path traversal attempts,
// and files outside the supported extension allow-list.
var ErrInvalidFilename = errors.New("invalid filename")

// DocumentMetadata is one tracked document, keyed by its filename relative
// to the raw directory.
type DocumentMetadata struct {
	ID              string     `json:"id"`
	Filename        string     `json:"filename"`
	ContentHash     string     `json:"content_hash"`
	SizeBytes       int64      `json:"size_bytes"`
	RawPath         string     `json:"raw_path"`
	ProcessedPath   string     `json:"processed_path,omitempty"`
	LastSeenRawHash string     `json:"last_seen_raw_hash,omitempty"`
	FirstSeenAt     time.Time  `json:"first_seen_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// metadataFile is the on-disk envelope for the filename → metadata mapping.
// Version 1 is the only version; legacy bare-map files load as version 1.
type metadataFile struct {
	Version   int                         `json:"version"`
	Documents map[string]DocumentMetadata `json:"documents"`
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	FilesSeen int
	Created   int
	Updated   int
	Removed   int
	Saved     bool // whether the metadata file was rewritten
}

// Status is an aggregate view of the store for status reporting.
type Status struct {
	RawFiles         int    `json:"raw_files"`
	ProcessedFiles   int    `json:"processed_files"`
	PendingFiles     int    `json:"pending_files"`
	TrackedDocuments int    `json:"tracked_documents"`
	MetadataHealthy  bool   `json:"metadata_healthy"`
	RawDir           string `json:"raw_dir"`
	ProcessedDir     string `json:"processed_dir"`
	IndexDir         string `json:"index_dir"`
}
