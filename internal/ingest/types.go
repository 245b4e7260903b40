// Package ingest implements the concurrent fetch-validate-persist
// engine: a bounded worker pool drains a deduplicated URL stream,
// validates each response as a genuine PDF, and hands the bytes to the
// artifact store.
package ingest

import (
	"fmt"
	"time"
)

// OutcomeKind is the four-way classification of a single fetch attempt.
type OutcomeKind string

// Outcome kinds recorded per URL.
const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeRejected  OutcomeKind = "rejected"
	OutcomeTransient OutcomeKind = "transient_error"
	OutcomePermanent OutcomeKind = "permanent_error"

	// OutcomeStoreError only appears in failure records: the fetch
	// succeeded but the artifact could not be persisted.
	OutcomeStoreError OutcomeKind = "store_error"
)

// RejectReason identifies why the validator refused a response.
type RejectReason string

// Validator rejection reasons.
const (
	RejectHTTPStatus   RejectReason = "http_status"
	RejectTooLarge     RejectReason = "too_large"
	RejectTooSmall     RejectReason = "too_small"
	RejectEmptyBody    RejectReason = "empty_body"
	RejectBadSignature RejectReason = "bad_signature"
)

// FetchOutcome is the result of one fetch attempt. It is created by the
// fetcher, consumed exactly once by the store or the failure log, and
// never mutated afterwards.
type FetchOutcome struct {
	RequestedURL string
	CanonicalURL string
	FinalURL     string
	HTTPStatus   int
	ContentType  string
	ByteSize     int64
	SignatureOK  bool
	Kind         OutcomeKind
	Reason       RejectReason
	ErrorDetail  string
	Duration     time.Duration
	Body         []byte
}

// Detail renders the human-readable failure cause for logs and the
// failure record.
func (o FetchOutcome) Detail() string {
	if o.Kind == OutcomeRejected && o.Reason == RejectHTTPStatus {
		return fmt.Sprintf("HTTP %d", o.HTTPStatus)
	}
	if o.Kind == OutcomeRejected {
		return string(o.Reason)
	}
	return o.ErrorDetail
}

// ArtifactRecord is the metadata persisted next to each downloaded
// document. One record exists per canonical URL; it is written once and
// only a later classification stage may amend it.
type ArtifactRecord struct {
	CanonicalURL string    `json:"canonical_url"`
	RequestedURL string    `json:"requested_url"`
	FinalURL     string    `json:"final_url"`
	FileName     string    `json:"file_name"`
	DownloadedAt time.Time `json:"downloaded_at"`
	HTTPStatus   int       `json:"http_status"`
	SizeBytes    int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type"`
	ContentHash  string    `json:"content_sha256"`

	// Placeholder fields for the later classification stage.
	Country              string `json:"country"`
	Insurer              string `json:"insurer"`
	InsuranceLine        string `json:"insurance_line"`
	ProductName          string `json:"product_name"`
	ClassificationStatus string `json:"status"`
}

// ClassificationPending is the status every fresh record carries until
// the classification stage runs.
const ClassificationPending = "needs_classification"

// Unclassified is the placeholder value for classification fields.
const Unclassified = "Unknown"

// FailureRecord is appended to the failure log for every URL that did
// not produce an artifact. The log doubles as input for a selective
// retry run.
type FailureRecord struct {
	RequestedURL string      `json:"requested_url"`
	CanonicalURL string      `json:"canonical_url"`
	Kind         OutcomeKind `json:"outcome"`
	ErrorDetail  string      `json:"error"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}
