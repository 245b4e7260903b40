package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/policycheck/policy-ingest/internal/ingest"
)

// FailureLog appends one JSON line per failed URL. The log from a prior
// run can be fed back as input for a selective retry.
type FailureLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewFailureLog opens (or creates) the log at path for appending.
func NewFailureLog(path string) (*FailureLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- path comes from validated run config.
	if err != nil {
		return nil, fmt.Errorf("open failure log %s: %w", path, err)
	}
	return &FailureLog{file: f, path: path}, nil
}

// Append records one failure. Entries from concurrent workers are
// serialized so lines never interleave.
func (l *FailureLog) Append(record ingest.FailureRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal failure record: %w", err)
	}
	payload = append(payload, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(payload); err != nil {
		return fmt.Errorf("append failure log: %w", err)
	}
	return nil
}

// Path returns the log file location.
func (l *FailureLog) Path() string {
	return l.path
}

// Close flushes and closes the log file.
func (l *FailureLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close failure log: %w", err)
	}
	return nil
}

// ReadFailureURLs extracts the requested URLs from a failure log
// written by a prior run. Malformed lines are skipped rather than
// aborting the retry.
func ReadFailureURLs(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied retry input.
	if err != nil {
		return nil, fmt.Errorf("open failure log %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var urls []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record ingest.FailureRecord
		if err := json.Unmarshal(line, &record); err != nil || record.RequestedURL == "" {
			continue
		}
		if _, dup := seen[record.RequestedURL]; dup {
			continue
		}
		seen[record.RequestedURL] = struct{}{}
		urls = append(urls, record.RequestedURL)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read failure log %s: %w", path, err)
	}
	return urls, nil
}
