package ingest

import (
	"bytes"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// pdfMagic is the signature every genuine PDF starts with.
var pdfMagic = []byte("%PDF")

// ValidatorConfig bounds acceptable artifact sizes.
type ValidatorConfig struct {
	MinBytes int64
	MaxBytes int64
}

// Validator classifies an HTTP response as a genuine PDF or a typed
// rejection. It performs no I/O; the fetcher hands it status, headers
// and a peeked byte window so cheap checks run before any streaming.
type Validator struct {
	cfg    ValidatorConfig
	logger *zap.Logger
}

// NewValidator constructs a Validator.
func NewValidator(cfg ValidatorConfig, logger *zap.Logger) *Validator {
	return &Validator{cfg: cfg, logger: logger}
}

// CheckHead applies the pre-stream rules: status must be 200 and a
// declared Content-Length must not exceed the ceiling. declaredLen < 0
// means the header was absent.
func (v *Validator) CheckHead(status int, declaredLen int64) (RejectReason, bool) {
	if status != http.StatusOK {
		return RejectHTTPStatus, false
	}
	if declaredLen > v.cfg.MaxBytes {
		return RejectTooLarge, false
	}
	return "", true
}

// CheckSignature inspects the first streamed chunk. An empty body is a
// rejection, never a fault. The Content-Type header is advisory only:
// a mismatch is logged but cannot override the magic-byte verdict in
// either direction.
func (v *Validator) CheckSignature(url string, header http.Header, peeked []byte) (RejectReason, bool) {
	if len(peeked) == 0 {
		return RejectEmptyBody, false
	}
	if !bytes.HasPrefix(peeked, pdfMagic) {
		return RejectBadSignature, false
	}
	if ct := contentTypeBase(header.Get("Content-Type")); ct != "" && !strings.Contains(ct, "pdf") {
		v.logger.Warn("Content-Type disagrees with PDF signature",
			zap.String("url", url),
			zap.String("content_type", ct),
		)
	}
	return "", true
}

// CheckSize applies the post-stream rule on the final byte count.
func (v *Validator) CheckSize(total int64) (RejectReason, bool) {
	if total > v.cfg.MaxBytes {
		return RejectTooLarge, false
	}
	if total < v.cfg.MinBytes {
		return RejectTooSmall, false
	}
	return "", true
}

// contentTypeBase lowercases a Content-Type value and strips any
// parameter suffix such as "; charset=utf-8".
func contentTypeBase(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
