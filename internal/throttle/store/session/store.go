// Package session tracks per-client request behaviour and its sticky legitimacy classification.
package session

import (
	"slices"
	"sort"
	"strings"
	"time"

	"throttleguard/internal/throttle/models"
	psync "throttleguard/pkg/platform/sync"
)

// Classifier reports whether a snapshot currently matches any suspicious pattern.
// It runs under the session's shard lock and must not call back into the Store.
type Classifier func(models.SessionSnapshot) (suspicious bool)

type sample struct {
	at   time.Time
	hash string
}

type entry struct {
	samples        []sample
	total          int64
	firstSeenAt    time.Time
	lastActivityAt time.Time
	legitimate     bool
}

func (e *entry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(e.samples); i++ {
		if e.samples[i].at.After(cutoff) {
			break
		}
	}
	e.samples = e.samples[i:]
}

func (e *entry) snapshot(key string, grace time.Duration) models.SessionSnapshot {
	snap := models.SessionSnapshot{
		ClientKey:             key,
		RecentCount:           len(e.samples),
		AvgInterval:           grace,
		TotalRequestsEverSeen: e.total,
		FirstSeenAt:           e.firstSeenAt,
		LastActivityAt:        e.lastActivityAt,
		Legitimate:            e.legitimate,
	}
	if snap.RecentCount == 0 {
		return snap
	}

	unique := make(map[string]struct{}, len(e.samples))
	for _, s := range e.samples {
		unique[s.hash] = struct{}{}
	}
	snap.UniqueCount = len(unique)
	snap.RepetitionRatio = float64(snap.RecentCount-snap.UniqueCount) / float64(snap.RecentCount)

	// samples are ordered, so the mean of consecutive deltas telescopes to span/(n-1)
	if n := len(e.samples); n >= 2 {
		snap.AvgInterval = e.samples[n-1].at.Sub(e.samples[0].at) / time.Duration(n-1)
	}
	return snap
}

// Store owns the session map.
type Store struct {
	entries       *psync.ShardedMap[*entry]
	window        time.Duration
	grace         time.Duration
	recoveryFloor int
}

// New creates a Store. grace is reported as the average interval until a
// session has two samples; recoveryFloor is the recent-request count a
// suspicious session must drop below before it can be trusted again.
func New(window, grace time.Duration, recoveryFloor int) *Store {
	return &Store{
		entries:       psync.NewShardedMap[*entry](),
		window:        window,
		grace:         grace,
		recoveryFloor: recoveryFloor,
	}
}

// Record appends a request to the session and returns the classified snapshot.
//
// classify sees the snapshot including this request. A match marks the session
// suspicious immediately. A suspicious session only recovers when classify finds
// nothing AND its recent count is below the recovery floor, so borderline
// traffic cannot flip the classification back and forth. A nil classify leaves
// the classification untouched.
func (s *Store) Record(clientKey, fingerprintHash string, now time.Time, classify Classifier) models.SessionSnapshot {
	var snap models.SessionSnapshot
	s.entries.Compute(clientKey, func(e *entry, exists bool) (*entry, bool) {
		if !exists {
			e = &entry{firstSeenAt: now, legitimate: true}
		}

		e.prune(now, s.window)
		i := sort.Search(len(e.samples), func(i int) bool { return e.samples[i].at.After(now) })
		e.samples = slices.Insert(e.samples, i, sample{at: now, hash: fingerprintHash})
		e.total++
		if now.After(e.lastActivityAt) {
			e.lastActivityAt = now
		}

		snap = e.snapshot(clientKey, s.grace)
		if classify == nil {
			return e, true
		}

		suspicious := classify(snap)
		switch {
		case suspicious:
			e.legitimate = false
		case !e.legitimate && snap.RecentCount < s.recoveryFloor:
			e.legitimate = true
		}
		snap.Legitimate = e.legitimate
		return e, true
	})
	return snap
}

// EvictIdle removes sessions with no activity for longer than maxIdle.
func (s *Store) EvictIdle(now time.Time, maxIdle time.Duration) int {
	return s.entries.DeleteIf(func(_ string, e *entry) bool {
		return now.Sub(e.lastActivityAt) > maxIdle
	})
}

// ResetClient removes every session for clientIP, whatever its user agent.
func (s *Store) ResetClient(clientIP string) int {
	prefix := models.SessionClientPrefix(clientIP)
	return s.entries.DeleteIf(func(key string, _ *entry) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// Stats returns the number of tracked and currently suspicious sessions.
func (s *Store) Stats() (tracked, suspicious int) {
	s.entries.Range(func(_ string, e *entry) bool {
		tracked++
		if !e.legitimate {
			suspicious++
		}
		return true
	})
	return tracked, suspicious
}

func (s *Store) Len() int {
	return s.entries.Len()
}
