// Package store persists downloaded documents and their metadata
// records as an atomic pair on the local filesystem, and keeps the
// append-only failure log that drives selective retry runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/policycheck/policy-ingest/internal/ingest"
	"github.com/policycheck/policy-ingest/internal/metrics"
)

const (
	documentsDir = "raw_documents"
	metadataDir  = "metadata"
	failureFile  = "failures.jsonl"
)

// ErrAlreadyStored is returned when a record for the canonical URL is
// already on disk. The scheduler's seen-set makes this a logic error,
// never an expected path.
var ErrAlreadyStored = errors.New("artifact already stored for canonical URL")

// ErrTooManyStoreFailures escalates a run of consecutive write failures
// into a fatal condition: the environment (disk full, permissions) is
// broken and further fetching is waste.
var ErrTooManyStoreFailures = errors.New("too many consecutive store failures")

// Config captures the store's on-disk layout and failure tolerance.
type Config struct {
	OutputDir string
	// MaxConsecutiveFailures before Persist starts returning
	// ErrTooManyStoreFailures. Zero means 5.
	MaxConsecutiveFailures int
}

// Store owns the write path of the artifact directory. No other
// component writes there.
type Store struct {
	docDir  string
	metaDir string
	logger  *zap.Logger

	mu          sync.Mutex
	consecFails int
	maxConsec   int

	failures *FailureLog
}

// New prepares the output directory pair and verifies it is writable.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	docDir := filepath.Join(cfg.OutputDir, documentsDir)
	metaDir := filepath.Join(cfg.OutputDir, metadataDir)
	for _, dir := range []string{docDir, metaDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}

	// Probe writability up front so a bad output dir fails the run
	// before any fetching starts.
	probe := filepath.Join(docDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}

	failures, err := NewFailureLog(filepath.Join(cfg.OutputDir, failureFile))
	if err != nil {
		return nil, err
	}

	maxFails := cfg.MaxConsecutiveFailures
	if maxFails <= 0 {
		maxFails = 5
	}
	return &Store{
		docDir:    docDir,
		metaDir:   metaDir,
		logger:    logger,
		maxConsec: maxFails,
		failures:  failures,
	}, nil
}

// Failures exposes the run's failure log.
func (s *Store) Failures() *FailureLog {
	return s.failures
}

// DocumentPath returns where the artifact for a canonical URL lives.
func (s *Store) DocumentPath(canonical string) string {
	return filepath.Join(s.docDir, DocumentFileName(canonical))
}

// MetadataPath returns where the metadata record for a canonical URL lives.
func (s *Store) MetadataPath(canonical string) string {
	return filepath.Join(s.metaDir, MetadataFileName(canonical))
}

// Persist writes the document bytes and the metadata record as one
// logical unit. Both land on temporary paths first and are committed by
// rename, artifact before metadata; a failed metadata commit rolls the
// artifact back so neither half ever exists alone.
func (s *Store) Persist(ctx context.Context, body []byte, record ingest.ArtifactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("persist canceled: %w", err)
	}

	docPath := s.DocumentPath(record.CanonicalURL)
	metaPath := s.MetadataPath(record.CanonicalURL)

	if _, err := os.Stat(metaPath); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyStored, record.CanonicalURL)
	}

	if record.FileName == "" {
		record.FileName = DocumentFileName(record.CanonicalURL)
	}

	if err := s.commitPair(docPath, metaPath, body, record); err != nil {
		metrics.ObserveStoreFailure()
		s.consecFails++
		if s.consecFails >= s.maxConsec {
			return fmt.Errorf("%w (last: %v)", ErrTooManyStoreFailures, err)
		}
		return err
	}
	s.consecFails = 0
	return nil
}

func (s *Store) commitPair(docPath, metaPath string, body []byte, record ingest.ArtifactRecord) error {
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	docTmp, err := writeTemp(s.docDir, body)
	if err != nil {
		return fmt.Errorf("stage document: %w", err)
	}
	metaTmp, err := writeTemp(s.metaDir, payload)
	if err != nil {
		removeQuiet(s.logger, docTmp)
		return fmt.Errorf("stage metadata: %w", err)
	}

	if err := os.Rename(docTmp, docPath); err != nil {
		removeQuiet(s.logger, docTmp, metaTmp)
		return fmt.Errorf("commit document: %w", err)
	}
	if err := os.Rename(metaTmp, metaPath); err != nil {
		// Roll the artifact back so no document exists without its record.
		removeQuiet(s.logger, docPath, metaTmp)
		return fmt.Errorf("commit metadata: %w", err)
	}
	return nil
}

// ScanExisting loads the canonical URLs of every record already on
// disk, so a re-run never fetches a prior success again.
func (s *Store) ScanExisting() ([]string, error) {
	entries, err := os.ReadDir(s.metaDir)
	if err != nil {
		return nil, fmt.Errorf("scan metadata dir: %w", err)
	}

	var canonicals []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.metaDir, entry.Name())
		data, err := os.ReadFile(path) // #nosec G304 -- path is inside the store-owned metadata dir.
		if err != nil {
			s.logger.Warn("skipping unreadable metadata file", zap.String("path", path), zap.Error(err))
			continue
		}
		var record ingest.ArtifactRecord
		if err := json.Unmarshal(data, &record); err != nil || record.CanonicalURL == "" {
			s.logger.Warn("skipping malformed metadata file", zap.String("path", path))
			continue
		}
		canonicals = append(canonicals, record.CanonicalURL)
	}
	return canonicals, nil
}

// Close releases the failure log handle.
func (s *Store) Close() error {
	return s.failures.Close()
}

func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

func removeQuiet(logger *zap.Logger, paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn("cleanup failed", zap.String("path", p), zap.Error(err))
		}
	}
}
