// Package learning adjusts classification, routing, and parsing
// confidence from outcome feedback.
package learning

import (
	"sync"
	"time"
)

// OutcomeKind namespaces feedback keys by the component they belong to.
type OutcomeKind string

const (
	KindClassification OutcomeKind = "classification"
	KindRouting        OutcomeKind = "routing"
	KindParsing        OutcomeKind = "parsing"
)

// Outcome is one success/failure report, optionally carrying a corrected
// label for supervised adjustment.
type Outcome struct {
	Kind           OutcomeKind
	Key            string
	Success        bool
	CorrectedLabel string
	ReportedAt     time.Time
}

type stats struct {
	successes int64
	failures  int64
	corrected map[string]int64
}

// PatternLearner accumulates per-key outcome statistics and produces
// bounded confidence adjustment factors. A key is whatever granularity
// the caller scores at: a domain for classification, a backend id for
// routing, an intent type for parsing.
type PatternLearner struct {
	mu      sync.RWMutex
	stats   map[OutcomeKind]map[string]*stats
	history map[string][]time.Time
	window  time.Duration
	clock   func() time.Time
}

// New creates a pattern learner. window bounds how far back the access
// history used for tier inference reaches.
func New(window time.Duration) *PatternLearner {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &PatternLearner{
		stats:   make(map[OutcomeKind]map[string]*stats),
		history: make(map[string][]time.Time),
		window:  window,
		clock:   time.Now,
	}
}

// Report folds one outcome into the learner.
func (l *PatternLearner) Report(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byKey, ok := l.stats[o.Kind]
	if !ok {
		byKey = make(map[string]*stats)
		l.stats[o.Kind] = byKey
	}
	s, ok := byKey[o.Key]
	if !ok {
		s = &stats{corrected: make(map[string]int64)}
		byKey[o.Key] = s
	}
	if o.Success {
		s.successes++
	} else {
		s.failures++
	}
	if o.CorrectedLabel != "" {
		s.corrected[o.CorrectedLabel]++
	}
}

// AdjustmentFor returns a multiplicative confidence factor in [0.5, 1.5]
// for the given key. With no history the factor is 1.0 (no adjustment);
// it increases monotonically with the observed success rate.
func (l *PatternLearner) AdjustmentFor(kind OutcomeKind, key string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byKey, ok := l.stats[kind]
	if !ok {
		return 1.0
	}
	s, ok := byKey[key]
	if !ok {
		return 1.0
	}
	total := s.successes + s.failures
	if total == 0 {
		return 1.0
	}
	rate := float64(s.successes) / float64(total)
	return 0.5 + rate
}

// CorrectedLabel returns the most frequent corrected label reported for a
// key, or "" when none dominates.
func (l *PatternLearner) CorrectedLabel(kind OutcomeKind, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byKey, ok := l.stats[kind]
	if !ok {
		return ""
	}
	s, ok := byKey[key]
	if !ok {
		return ""
	}
	var (
		best  string
		count int64
	)
	for label, n := range s.corrected {
		if n > count {
			best, count = label, n
		}
	}
	return best
}

// RecordAccess appends an access event for a domain, feeding recency into
// tier inference.
func (l *PatternLearner) RecordAccess(domain string) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	events := append(l.history[domain], now)
	cutoff := now.Add(-l.window)
	for len(events) > 0 && events[0].Before(cutoff) {
		events = events[1:]
	}
	l.history[domain] = events
}

// AccessRate returns accesses per hour for a domain over the window.
func (l *PatternLearner) AccessRate(domain string) float64 {
	now := l.clock()
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.history[domain]
	cutoff := now.Add(-l.window)
	n := 0
	for _, t := range events {
		if !t.Before(cutoff) {
			n++
		}
	}
	return float64(n) / l.window.Hours()
}
