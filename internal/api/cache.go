package api

import (
	"os"
	"sync"
	"time"

	"github.com/jmerrifield20/linechain/internal/chain"
)

// fingerprint identifies the on-disk state of a log and its artifact.
// A report is only reused while both files are unchanged.
type fingerprint struct {
	logSize, artifactSize   int64
	logMtime, artifactMtime time.Time
}

func (f fingerprint) same(o fingerprint) bool {
	return f.logSize == o.logSize && f.artifactSize == o.artifactSize &&
		f.logMtime.Equal(o.logMtime) && f.artifactMtime.Equal(o.artifactMtime)
}

func takeFingerprint(logPath, artifactPath string) (fingerprint, bool) {
	li, err := os.Stat(logPath)
	if err != nil {
		return fingerprint{}, false
	}
	ai, err := os.Stat(artifactPath)
	if err != nil {
		return fingerprint{}, false
	}
	return fingerprint{
		logSize:       li.Size(),
		logMtime:      li.ModTime(),
		artifactSize:  ai.Size(),
		artifactMtime: ai.ModTime(),
	}, true
}

// reportEntry holds a cached verification report.
type reportEntry struct {
	report    *chain.Report
	fp        fingerprint
	expiresAt time.Time
}

func (e *reportEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// reportCache is a thread-safe in-memory cache of verification reports.
// Entries expire after a TTL or as soon as either file changes.
type reportCache struct {
	mu      sync.RWMutex
	entries map[string]*reportEntry
	ttl     time.Duration
}

func newReportCache(ttl time.Duration) *reportCache {
	return &reportCache{
		entries: make(map[string]*reportEntry),
		ttl:     ttl,
	}
}

// get looks up a report by key, valid only for fingerprint fp.
func (c *reportCache) get(key string, fp fingerprint) (*chain.Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired() || !e.fp.same(fp) {
		return nil, false
	}
	return e.report, true
}

// set stores a report in the cache.
func (c *reportCache) set(key string, fp fingerprint, report *chain.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &reportEntry{
		report:    report,
		fp:        fp,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// evict removes all expired entries.
func (c *reportCache) evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.expired() {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
