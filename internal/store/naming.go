package store

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/policycheck/policy-ingest/internal/hash/sha256"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// baseName derives a deterministic, filesystem-safe base name from a
// canonical URL. The short hash suffix keeps two URLs with the same
// sanitized host/path from colliding.
func baseName(canonical string) string {
	hasher := sha256.New()
	shortHash := hasher.HashString(canonical)[:16]

	u, err := url.Parse(canonical)
	if err != nil {
		return shortHash
	}
	host := invalidFilenameChars.ReplaceAllString(u.Hostname(), "_")
	p := strings.Trim(u.EscapedPath(), "/")
	if p == "" {
		p = "root"
	}
	p = strings.TrimSuffix(p, ".pdf")
	p = invalidFilenameChars.ReplaceAllString(p, "_")
	if len(p) > 120 {
		p = p[:120]
	}
	return fmt.Sprintf("%s_%s_%s", host, p, shortHash)
}

// DocumentFileName returns the artifact file name for a canonical URL.
func DocumentFileName(canonical string) string {
	return baseName(canonical) + ".pdf"
}

// MetadataFileName returns the metadata file name for a canonical URL.
func MetadataFileName(canonical string) string {
	return baseName(canonical) + ".json"
}
