// Package urlkey derives canonical string identities for URLs.
// The canonical form is the deduplication key for the whole pipeline:
// seen-set membership, in-flight tracking, and storage naming all key
// off the value returned by Canonicalize.
package urlkey

import (
	"net/url"
	"sort"
	"strings"
)

// DefaultTrackingParams lists the query keys stripped during
// canonicalization. Two URLs that differ only by these keys identify
// the same document.
var DefaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term",
	"gclid", "fbclid", "ref", "v", "version",
}

// Normalizer canonicalizes URLs with a configurable tracking-parameter set.
type Normalizer struct {
	tracking map[string]struct{}
}

// New builds a Normalizer. An empty trackingParams slice falls back to
// DefaultTrackingParams.
func New(trackingParams []string) *Normalizer {
	if len(trackingParams) == 0 {
		trackingParams = DefaultTrackingParams
	}
	set := make(map[string]struct{}, len(trackingParams))
	for _, p := range trackingParams {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return &Normalizer{tracking: set}
}

// Canonicalize returns the canonical identity for rawURL. It is total:
// input that does not parse is returned trimmed rather than rejected,
// since rejecting bad URLs is the fetcher's job.
func (n *Normalizer) Canonicalize(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = NormalizeHost(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = n.normalizeQuery(u.Query())

	return u.String()
}

// normalizeQuery drops tracking keys and re-encodes the remainder with
// keys in lexicographic order. Path and value casing are untouched.
func (n *Normalizer) normalizeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		if _, drop := n.tracking[strings.ToLower(k)]; drop {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// NormalizeHost lowercases a host and strips a single leading "www."
// label. Other subdomains are significant and kept.
func NormalizeHost(host string) string {
	host = strings.ToLower(host)
	if strings.HasPrefix(host, "www.") && len(host) > len("www.") {
		host = host[len("www."):]
	}
	return host
}

// SameHost reports whether two raw URLs resolve to the same normalized
// host. Used by the external crawler for same-site boundary decisions.
func SameHost(a, b string) bool {
	ua, err := url.Parse(strings.TrimSpace(a))
	if err != nil {
		return false
	}
	ub, err := url.Parse(strings.TrimSpace(b))
	if err != nil {
		return false
	}
	ha := NormalizeHost(ua.Hostname())
	hb := NormalizeHost(ub.Hostname())
	return ha != "" && ha == hb
}

// Host extracts the normalized host of rawURL, or "" if it cannot be
// parsed. Politeness delays are tracked per value returned here.
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return NormalizeHost(u.Hostname())
}
