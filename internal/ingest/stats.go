package ingest

import (
	"sort"
	"sync"
	"time"
)

// Stats aggregates run counters across workers. All increments take the
// mutex so no update is lost under any worker count; the summary is
// read only after the pool has drained.
type Stats struct {
	mu         sync.Mutex
	start      time.Time
	dispatched int
	skipped    int
	succeeded  int
	transient  int
	permanent  int
	storeErrs  int
	bytes      int64
	rejected   map[RejectReason]int
	errors     map[string]int
}

// NewStats starts the wall clock for a run.
func NewStats(clock Clock) *Stats {
	return &Stats{
		start:    clock.Now(),
		rejected: make(map[RejectReason]int),
		errors:   make(map[string]int),
	}
}

// AddDispatched counts a canonical URL handed to a worker.
func (s *Stats) AddDispatched() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched++
}

// AddSkipped counts a URL dropped as a duplicate or prior success.
func (s *Stats) AddSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
}

// AddStoreError counts a URL whose fetch succeeded but whose persist
// did not.
func (s *Stats) AddStoreError(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeErrs++
	s.errors[detail]++
}

// AddOutcome folds one completed fetch into the counters.
func (s *Stats) AddOutcome(o FetchOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch o.Kind {
	case OutcomeSuccess:
		s.succeeded++
		s.bytes += o.ByteSize
	case OutcomeRejected:
		s.rejected[o.Reason]++
		s.errors[o.Detail()]++
	case OutcomeTransient:
		s.transient++
		s.errors[o.Detail()]++
	case OutcomePermanent:
		s.permanent++
		s.errors[o.Detail()]++
	}
}

// Summary is the immutable end-of-run report.
type Summary struct {
	Dispatched int
	Skipped    int
	Succeeded  int
	Rejected   int
	Transient   int
	Permanent   int
	StoreErrors int
	Bytes       int64
	Elapsed    time.Duration
	// Throughput is successful downloads per second.
	Throughput float64
	// RejectedByReason breaks rejections down per validator reason.
	RejectedByReason map[RejectReason]int
	// TopErrors lists error details ordered by descending count.
	TopErrors []ErrorCount
}

// ErrorCount pairs an error detail with its occurrence count.
type ErrorCount struct {
	Detail string
	Count  int
}

// Summarize snapshots the counters. Call after all workers finish.
func (s *Stats) Summarize(clock Clock) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := clock.Now().Sub(s.start)
	rejectedTotal := 0
	byReason := make(map[RejectReason]int, len(s.rejected))
	for r, n := range s.rejected {
		byReason[r] = n
		rejectedTotal += n
	}

	top := make([]ErrorCount, 0, len(s.errors))
	for detail, n := range s.errors {
		top = append(top, ErrorCount{Detail: detail, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Detail < top[j].Detail
	})

	throughput := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		throughput = float64(s.succeeded) / secs
	}

	return Summary{
		Dispatched:       s.dispatched,
		Skipped:          s.skipped,
		Succeeded:        s.succeeded,
		Rejected:         rejectedTotal,
		Transient:        s.transient,
		Permanent:        s.permanent,
		StoreErrors:      s.storeErrs,
		Bytes:            s.bytes,
		Elapsed:          elapsed,
		Throughput:       throughput,
		RejectedByReason: byReason,
		TopErrors:        top,
	}
}
