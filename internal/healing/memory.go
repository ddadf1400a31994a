// Package healing maintains the persistent memory of previously recovered
// actions. Each entry maps (targetKey, url) to an action that worked after a
// failure, with a confidence score driven by post-recovery successes and
// failures. The store is a single JSON file shared by all runs in a process.
package healing

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kairi-dev/kairi/internal/recipe"
)

// DefaultMinConfidence is the findMatch threshold when the caller does not
// override it.
const DefaultMinConfidence = 0.6

// Evidence records the context in which a heal was observed.
type Evidence struct {
	OriginalSelector string `json:"originalSelector,omitempty"`
	HealedSelector   string `json:"healedSelector,omitempty"`
	DOMContext       string `json:"domContext,omitempty"`
	PageTitle        string `json:"pageTitle,omitempty"`
	PageURL          string `json:"pageUrl,omitempty"`
	Method           string `json:"method,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
}

// Entry is one healing memory record.
type Entry struct {
	TargetKey     string           `json:"targetKey"`
	Domain        string           `json:"domain"`
	URL           string           `json:"url"`
	Action        recipe.ActionRef `json:"action"`
	SuccessCount  int              `json:"successCount"`
	FailCount     int              `json:"failCount"`
	Confidence    float64          `json:"confidence"`
	LastSuccessAt string           `json:"lastSuccessAt,omitempty"`
	LastFailAt    string           `json:"lastFailAt,omitempty"`
	Evidence      Evidence         `json:"evidence"`

	// HealedAt survives from the legacy record shape; retained only so
	// migrated files keep their original timestamp.
	HealedAt string `json:"healedAt,omitempty"`
}

// Stats summarizes the store and its per-process hit rate.
type Stats struct {
	TotalRecords       int            `json:"totalRecords"`
	AvgConfidence      float64        `json:"avgConfidence"`
	HitRate            float64        `json:"hitRate"`
	DomainDistribution map[string]int `json:"domainDistribution"`
}

// PruneOptions selects which entries Prune removes. Zero values disable the
// corresponding predicate.
type PruneOptions struct {
	MinConfidence float64
	MaxAgeDays    int
}

// storeFile is the on-disk shape.
type storeFile struct {
	SchemaVersion int     `json:"schemaVersion"`
	Entries       []Entry `json:"entries"`
}

const schemaVersion = 2

// Memory is the shared healing store. All operations serialize on one lock,
// and mutations only update the in-memory view after the new state has been
// persisted, so concurrent records never lose an increment and a failed
// write never corrupts the view.
type Memory struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	hits    int
	misses  int

	// now is injectable for tests.
	now func() time.Time
}

// Open loads (or initializes) the healing memory at path, transparently
// migrating legacy records to the current shape.
func Open(path string) (*Memory, error) {
	m := &Memory{path: path, now: time.Now}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read healing memory: %w", err)
	}

	var sf storeFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse healing memory: %w", err)
	}

	for i := range sf.Entries {
		migrate(&sf.Entries[i])
	}
	m.entries = sf.Entries
	return m, nil
}

// migrate upgrades a legacy record {successCount, healedAt} to the full
// shape: zero fail count, full confidence, and migration evidence.
func migrate(e *Entry) {
	if e.Confidence != 0 || e.FailCount != 0 {
		return // already current shape
	}
	if e.SuccessCount == 0 {
		e.SuccessCount = 1
	}
	e.FailCount = 0
	e.Confidence = 1.0
	if e.Evidence.Method == "" {
		e.Evidence = Evidence{
			Method:         "migration",
			HealedSelector: e.Action.Selector,
			PageURL:        e.URL,
			Timestamp:      e.HealedAt,
		}
	}
	if e.LastSuccessAt == "" {
		e.LastSuccessAt = e.HealedAt
	}
	if e.Domain == "" {
		e.Domain = domainOf(e.URL)
	}
}

// FindMatch looks up a healed action for (targetKey, url). Same-domain
// entries above minConfidence are preferred; when none exist, any-domain
// entries above the threshold are considered. Within the chosen set, higher
// confidence wins, ties broken by success count.
func (m *Memory) FindMatch(targetKey, pageURL string, minConfidence float64) (*recipe.ActionRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	domain := domainOf(pageURL)

	pick := func(sameDomainOnly bool) *Entry {
		var matched []*Entry
		for i := range m.entries {
			e := &m.entries[i]
			if e.TargetKey != targetKey || e.Confidence < minConfidence {
				continue
			}
			if sameDomainOnly && e.Domain != domain {
				continue
			}
			matched = append(matched, e)
		}
		if len(matched) == 0 {
			return nil
		}
		sort.SliceStable(matched, func(a, b int) bool {
			if matched[a].Confidence != matched[b].Confidence {
				return matched[a].Confidence > matched[b].Confidence
			}
			return matched[a].SuccessCount > matched[b].SuccessCount
		})
		return matched[0]
	}

	best := pick(true)
	if best == nil {
		best = pick(false)
	}
	if best == nil {
		m.misses++
		return nil, false
	}

	m.hits++
	action := best.Action
	return &action, true
}

// Record stores a successful heal. An existing entry with the same
// (targetKey, action.selector, url) gains a success; otherwise a fresh entry
// starts at full confidence. The change is persisted before the in-memory
// view updates.
func (m *Memory) Record(targetKey string, action recipe.ActionRef, pageURL string, ev Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC().Format(time.RFC3339)
	next := cloneEntries(m.entries)

	found := false
	for i := range next {
		e := &next[i]
		if e.TargetKey == targetKey && e.Action.Selector == action.Selector && e.URL == pageURL {
			e.SuccessCount++
			e.LastSuccessAt = now
			e.Confidence = confidence(e.SuccessCount, e.FailCount)
			found = true
			break
		}
	}
	if !found {
		if ev.Timestamp == "" {
			ev.Timestamp = now
		}
		next = append(next, Entry{
			TargetKey:     targetKey,
			Domain:        domainOf(pageURL),
			URL:           pageURL,
			Action:        action,
			SuccessCount:  1,
			FailCount:     0,
			Confidence:    1.0,
			LastSuccessAt: now,
			Evidence:      ev,
		})
	}

	if err := m.persist(next); err != nil {
		return err
	}
	m.entries = next
	return nil
}

// RecordFailure marks every entry for (targetKey, url) as having failed
// once, lowering confidence accordingly.
func (m *Memory) RecordFailure(targetKey, pageURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC().Format(time.RFC3339)
	next := cloneEntries(m.entries)

	changed := false
	for i := range next {
		e := &next[i]
		if e.TargetKey == targetKey && e.URL == pageURL {
			e.FailCount++
			e.LastFailAt = now
			e.Confidence = confidence(e.SuccessCount, e.FailCount)
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if err := m.persist(next); err != nil {
		return err
	}
	m.entries = next
	return nil
}

// Prune removes entries below the confidence floor or older than the age
// limit, returning how many were removed.
func (m *Memory) Prune(opts PruneOptions) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Time{}
	if opts.MaxAgeDays > 0 {
		cutoff = m.now().AddDate(0, 0, -opts.MaxAgeDays)
	}

	var kept []Entry
	for _, e := range m.entries {
		if opts.MinConfidence > 0 && e.Confidence < opts.MinConfidence {
			continue
		}
		if !cutoff.IsZero() && lastTouched(&e).Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}

	removed := len(m.entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if err := m.persist(kept); err != nil {
		return 0, err
	}
	m.entries = kept
	return removed, nil
}

// Stats returns store totals and the per-process hit rate since Open.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		TotalRecords:       len(m.entries),
		DomainDistribution: make(map[string]int),
	}
	var sum float64
	for _, e := range m.entries {
		sum += e.Confidence
		s.DomainDistribution[e.Domain]++
	}
	if len(m.entries) > 0 {
		s.AvgConfidence = sum / float64(len(m.entries))
	}
	if total := m.hits + m.misses; total > 0 {
		s.HitRate = float64(m.hits) / float64(total)
	}
	return s
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// persist writes entries to disk atomically: temp file in the same
// directory, then rename.
func (m *Memory) persist(entries []Entry) error {
	data, err := json.MarshalIndent(storeFile{SchemaVersion: schemaVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal healing memory: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".healing-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write healing memory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close healing memory: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace healing memory: %w", err)
	}
	return nil
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

func confidence(success, fail int) float64 {
	total := success + fail
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total)
}

func lastTouched(e *Entry) time.Time {
	for _, ts := range []string{e.LastSuccessAt, e.LastFailAt, e.HealedAt, e.Evidence.Timestamp} {
		if ts == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}

// domainOf extracts the host from a URL, tolerating bare hosts.
func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
