package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const metadataFileName = "document_metadata.json"

const metadataVersion = 1

// Store is the single source of truth for tracked documents. It maps raw
// filenames to DocumentMetadata, persisted as a single JSON file in the
// index directory. All mutating operations write through saveLocked, which
// replaces the file atomically.
type Store struct {
	rawDir       string
	processedDir string
	indexDir     string
	metadataPath string

	mu      sync.Mutex
	docs    map[string]DocumentMetadata
	corrupt bool

	logger *slog.Logger
}

// Open resolves the three directories to absolute paths and loads the
// metadata file. A missing metadata file yields an empty mapping (first
// run); an unparseable one is logged, left untouched on disk, and the
// store starts read-only until Reconcile rebuilds it.
func Open(rawDir, processedDir, indexDir string) (*Store, error) {
	var err error
	if rawDir, err = filepath.Abs(rawDir); err != nil {
		return nil, fmt.Errorf("resolving raw directory: %w", err)
	}
	if processedDir, err = filepath.Abs(processedDir); err != nil {
		return nil, fmt.Errorf("resolving processed directory: %w", err)
	}
	if indexDir, err = filepath.Abs(indexDir); err != nil {
		return nil, fmt.Errorf("resolving index directory: %w", err)
	}

	s := &Store{
		rawDir:       rawDir,
		processedDir: processedDir,
		indexDir:     indexDir,
		metadataPath: filepath.Join(indexDir, metadataFileName),
		logger:       slog.Default(),
	}

	docs, err := s.LoadMetadata()
	if err != nil {
		if !errors.Is(err, ErrCorruptMetadata) {
			return nil, err
		}
		s.logger.Warn("metadata file is corrupt, starting read-only with empty mapping",
			"path", s.metadataPath, "error", err)
		s.corrupt = true
	}
	s.docs = docs
	return s, nil
}

// RawDir returns the absolute raw notes directory.
func (s *Store) RawDir() string { return s.rawDir }

// ProcessedDir returns the absolute processed notes directory.
func (s *Store) ProcessedDir() string { return s.processedDir }

// IndexDir returns the absolute index directory.
func (s *Store) IndexDir() string { return s.indexDir }

// Healthy reports whether the metadata file loaded cleanly. It turns false
// when the file was corrupt at load time and true again after Reconcile.
func (s *Store) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.corrupt
}

// LoadMetadata reads and parses the metadata file. A missing file is not an
// error and yields an empty mapping. A file that exists but cannot be parsed
// yields an empty mapping and an error wrapping ErrCorruptMetadata.
func (s *Store) LoadMetadata() (map[string]DocumentMetadata, error) {
	data, err := os.ReadFile(s.metadataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]DocumentMetadata{}, nil
		}
		return map[string]DocumentMetadata{}, fmt.Errorf("reading metadata file %s: %w", s.metadataPath, err)
	}

	var envelope metadataFile
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Documents != nil {
			return envelope.Documents, nil
		}
		if envelope.Version == 0 {
			// Possibly a legacy bare mapping without the envelope.
			var legacy map[string]DocumentMetadata
			if err := json.Unmarshal(data, &legacy); err == nil && legacy != nil {
				return legacy, nil
			}
		}
		return map[string]DocumentMetadata{}, nil
	}

	return map[string]DocumentMetadata{}, fmt.Errorf("parsing metadata file %s: %w", s.metadataPath, ErrCorruptMetadata)
}

// saveLocked serializes the mapping to a temp file in the index directory
// and renames it over the metadata file, so a crash mid-write leaves the
// last-known-good file intact. Callers must hold s.mu. While the corrupt
// flag is set the save is refused; only Reconcile clears it.
func (s *Store) saveLocked() error {
	if s.corrupt {
		return fmt.Errorf("refusing to overwrite %s until reconcile is run: %w", s.metadataPath, ErrCorruptMetadata)
	}

	if err := os.MkdirAll(s.indexDir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	envelope := metadataFile{Version: metadataVersion, Documents: s.docs}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.indexDir, metadataFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp metadata file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp metadata file: %w", err)
	}
	if err := os.Rename(tmpPath, s.metadataPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing metadata file: %w", err)
	}
	return nil
}

// ComputeHash reads the file fully and returns the sha256 hex digest of its
// bytes. The digest depends only on content, never on path or mtime.
func ComputeHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ScanRawDirectory lists allow-listed files in the raw directory, sorted.
// A missing directory is surfaced as ErrDirectoryNotFound since it
// indicates misconfiguration.
func (s *Store) ScanRawDirectory() ([]string, error) {
	return scanDir(s.rawDir)
}

// ScanProcessedDirectory lists allow-listed files in the processed
// directory, sorted.
func (s *Store) ScanProcessedDirectory() ([]string, error) {
	return scanDir(s.processedDir)
}

func scanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrDirectoryNotFound)
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadRawFile returns the content of an allow-listed file in the raw
// directory. The filename is validated before any filesystem access.
func (s *Store) ReadRawFile(filename string) (string, error) {
	return readFileIn(s.rawDir, filename)
}

// ReadProcessedFile returns the content of an allow-listed file in the
// processed directory.
func (s *Store) ReadProcessedFile(filename string) (string, error) {
	return readFileIn(s.processedDir, filename)
}

func readFileIn(dir, filename string) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", filename, ErrNotFound)
		}
		return "", fmt.Errorf("reading %s: %w", filename, err)
	}
	return string(data), nil
}

// WriteProcessedFile writes content to the processed directory under the
// given (validated) filename.
func (s *Store) WriteProcessedFile(filename, content string) error {
	if err := ValidateFilename(filename); err != nil {
		return err
	}
	if err := os.MkdirAll(s.processedDir, 0o755); err != nil {
		return fmt.Errorf("creating processed directory: %w", err)
	}
	path := filepath.Join(s.processedDir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	return nil
}

// GetDocumentInfo returns the metadata record for one filename.
func (s *Store) GetDocumentInfo(filename string) (DocumentMetadata, error) {
	if err := ValidateFilename(filename); err != nil {
		return DocumentMetadata{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[filename]
	if !ok {
		return DocumentMetadata{}, fmt.Errorf("document %s: %w", filename, ErrNotFound)
	}
	return doc, nil
}

// ListAllDocuments returns all metadata records sorted by filename.
func (s *Store) ListAllDocuments() []DocumentMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]DocumentMetadata, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })
	return docs
}

// FileNeedsProcessing reports whether a raw file is new, changed since it
// was last processed, or has no processed counterpart recorded. The current
// hash is always recomputed from the raw file bytes before comparing; a
// raw file that no longer exists never needs processing.
func (s *Store) FileNeedsProcessing(filename string) (bool, error) {
	if err := ValidateFilename(filename); err != nil {
		return false, err
	}

	rawPath := filepath.Join(s.rawDir, filename)
	if _, err := os.Stat(rawPath); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	current, err := ComputeHash(rawPath)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[filename]
	if !ok || doc.ProcessedPath == "" {
		return true, nil
	}
	return current != doc.LastSeenRawHash, nil
}

// FilesNeedingProcessing scans the raw directory and returns the names of
// files that need processing, sorted.
func (s *Store) FilesNeedingProcessing() ([]string, error) {
	names, err := s.ScanRawDirectory()
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, name := range names {
		needs, err := s.FileNeedsProcessing(name)
		if err != nil {
			return nil, err
		}
		if needs {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// MarkProcessed records that a processed counterpart exists for filename,
// pinning the raw hash it was produced from. The processed file itself is
// written separately via WriteProcessedFile.
func (s *Store) MarkProcessed(filename string) error {
	if err := ValidateFilename(filename); err != nil {
		return err
	}

	rawPath := filepath.Join(s.rawDir, filename)
	hash, err := ComputeHash(rawPath)
	if err != nil {
		return err
	}
	var size int64
	if info, err := os.Stat(rawPath); err == nil {
		size = info.Size()
	}

	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.corrupt {
		return fmt.Errorf("refusing to overwrite %s until reconcile is run: %w", s.metadataPath, ErrCorruptMetadata)
	}

	doc, ok := s.docs[filename]
	if !ok {
		doc = DocumentMetadata{
			ID:          uuid.New().String(),
			Filename:    filename,
			FirstSeenAt: now,
		}
	}
	doc.ContentHash = hash
	doc.LastSeenRawHash = hash
	doc.SizeBytes = size
	doc.RawPath = rawPath
	doc.ProcessedPath = filepath.Join(s.processedDir, filename)
	doc.ProcessedAt = &now
	doc.UpdatedAt = now
	s.docs[filename] = doc

	if err := s.saveLocked(); err != nil {
		return err
	}
	s.logger.Info("marked file as processed", "filename", filename, "hash", hash)
	return nil
}

// Reconcile re-scans the raw directory, recomputes every file's hash,
// creates or updates records, prunes records whose raw file is gone, and
// persists only if anything changed. Running it twice with no filesystem
// change in between writes nothing the second time.
func (s *Store) Reconcile() (ReconcileReport, error) {
	names, err := s.ScanRawDirectory()
	if err != nil {
		return ReconcileReport{}, err
	}
	processed, err := s.ScanProcessedDirectory()
	if err != nil {
		return ReconcileReport{}, err
	}
	processedSet := make(map[string]bool, len(processed))
	for _, name := range processed {
		processedSet[name] = true
	}

	now := time.Now().UTC()
	var report ReconcileReport
	report.FilesSeen = len(names)
	changed := false

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		seen[name] = true
		rawPath := filepath.Join(s.rawDir, name)

		hash, err := ComputeHash(rawPath)
		if err != nil {
			// File vanished or became unreadable between listing and
			// reading; keep the existing record as-is for this pass.
			s.logger.Warn("skipping unreadable raw file", "filename", name, "error", err)
			continue
		}
		var size int64
		if info, err := os.Stat(rawPath); err == nil {
			size = info.Size()
		}

		doc, ok := s.docs[name]
		if !ok {
			doc = DocumentMetadata{
				ID:          uuid.New().String(),
				Filename:    name,
				ContentHash: hash,
				SizeBytes:   size,
				RawPath:     rawPath,
				FirstSeenAt: now,
				UpdatedAt:   now,
			}
			report.Created++
			changed = true
		} else {
			updated := false
			if doc.ContentHash != hash {
				doc.ContentHash = hash
				doc.SizeBytes = size
				updated = true
			}
			if doc.RawPath != rawPath {
				doc.RawPath = rawPath
				updated = true
			}
			if updated {
				doc.UpdatedAt = now
				report.Updated++
				changed = true
			}
		}

		procPath := filepath.Join(s.processedDir, name)
		switch {
		case processedSet[name] && doc.ProcessedPath != procPath:
			doc.ProcessedPath = procPath
			doc.UpdatedAt = now
			changed = true
		case !processedSet[name] && doc.ProcessedPath != "":
			doc.ProcessedPath = ""
			doc.UpdatedAt = now
			changed = true
		}

		s.docs[name] = doc
	}

	// Prune orphaned records for raw files that no longer exist.
	for name := range s.docs {
		if !seen[name] {
			delete(s.docs, name)
			report.Removed++
			changed = true
		}
	}

	// Reconcile is the one entry point allowed to replace a corrupt file.
	wasCorrupt := s.corrupt
	s.corrupt = false

	if changed || wasCorrupt {
		if err := s.saveLocked(); err != nil {
			s.corrupt = wasCorrupt
			return report, err
		}
		report.Saved = true
	}

	s.logger.Info("reconcile complete",
		"files_seen", report.FilesSeen,
		"created", report.Created,
		"updated", report.Updated,
		"removed", report.Removed,
		"saved", report.Saved)
	return report, nil
}

// Status returns aggregate counts and store health.
func (s *Store) Status() (Status, error) {
	raw, err := s.ScanRawDirectory()
	if err != nil {
		return Status{}, err
	}
	processed, err := s.ScanProcessedDirectory()
	if err != nil {
		return Status{}, err
	}
	pending, err := s.FilesNeedingProcessing()
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	tracked := len(s.docs)
	healthy := !s.corrupt
	s.mu.Unlock()

	return Status{
		RawFiles:         len(raw),
		ProcessedFiles:   len(processed),
		PendingFiles:     len(pending),
		TrackedDocuments: tracked,
		MetadataHealthy:  healthy,
		RawDir:           s.rawDir,
		ProcessedDir:     s.processedDir,
		IndexDir:         s.indexDir,
	}, nil
}
