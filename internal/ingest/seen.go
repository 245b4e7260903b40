package ingest

import "sync"

// SeenSet tracks canonical URLs already dispatched in this run or
// persisted by a prior one. MarkIfNew is the single linearizable step
// guaranteeing at most one in-flight fetch per canonical URL.
type SeenSet struct {
	seen sync.Map
}

// NewSeenSet returns an empty SeenSet.
func NewSeenSet() *SeenSet {
	return &SeenSet{}
}

// MarkIfNew stores the canonical URL if it has not been seen before and
// returns true exactly once per key across any number of callers.
func (s *SeenSet) MarkIfNew(canonical string) bool {
	if canonical == "" {
		return false
	}
	_, loaded := s.seen.LoadOrStore(canonical, struct{}{})
	return !loaded
}

// Preload marks canonical URLs from a prior run so their documents are
// never re-fetched.
func (s *SeenSet) Preload(canonicals []string) {
	for _, c := range canonicals {
		if c != "" {
			s.seen.Store(c, struct{}{})
		}
	}
}

// Len counts the stored keys. Intended for startup logging, not for
// coordination.
func (s *SeenSet) Len() int {
	n := 0
	s.seen.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
