package ingest

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadURLList loads the candidate URL file produced by the discovery
// and filter stages: one URL per line, UTF-8, blank lines and
// #-comments ignored. A missing or effectively empty file is a startup
// error, never a silent no-op.
func ReadURLList(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied input path.
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("input file not found: %s (run the URL discovery stage first)", path)
		}
		return nil, fmt.Errorf("open input file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var urls []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input file %s: %w", path, err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("input file %s contains no URLs", path)
	}
	return urls, nil
}
