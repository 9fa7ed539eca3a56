// Package fingerprint tracks sliding-window counts and block state per request fingerprint.
package fingerprint

import (
	"slices"
	"sort"
	"strings"
	"time"

	"throttleguard/internal/throttle/models"
	dErrors "throttleguard/pkg/domain-errors"
	psync "throttleguard/pkg/platform/sync"
)

// Observation is the tracker state returned by Observe.
type Observation struct {
	// Count is the number of requests inside the window, including this one
	// unless the fingerprint is blocked.
	Count   int
	Blocked bool
	// Block is set when Blocked is true.
	Block models.BlockInfo
	// PreviousAt is the last in-window timestamp before this request; zero if none.
	PreviousAt time.Time
}

// entry is the per-fingerprint aggregate. It is only touched under its shard lock.
type entry struct {
	timestamps  []time.Time
	firstSeenAt time.Time
	lastSeenAt  time.Time
	block       *models.BlockInfo
}

func (e *entry) pruneExpired(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(e.timestamps); i++ {
		if e.timestamps[i].After(cutoff) {
			break
		}
	}
	e.timestamps = e.timestamps[i:]
}

func (e *entry) activeBlock(now time.Time) bool {
	return e.block != nil && now.Before(e.block.ExpiresAt)
}

// Store owns the fingerprint map.
type Store struct {
	entries *psync.ShardedMap[*entry]
}

func New() *Store {
	return &Store{entries: psync.NewShardedMap[*entry]()}
}

// Observe records a request for key at now.
//
// While a block is active the request is not recorded: neither the window nor
// lastSeenAt advances, so hammering a blocked fingerprint cannot extend or
// refresh its state. The first observation at or after expiry clears the block
// and restarts the window at now.
func (s *Store) Observe(key string, window time.Duration, now time.Time) Observation {
	var obs Observation
	s.entries.Compute(key, func(e *entry, exists bool) (*entry, bool) {
		if !exists {
			e = &entry{firstSeenAt: now}
		}

		if e.block != nil {
			if e.activeBlock(now) {
				obs = Observation{Count: len(e.timestamps), Blocked: true, Block: *e.block}
				return e, true
			}
			e.block = nil
			e.timestamps = append(e.timestamps[:0], now)
			e.lastSeenAt = now
			obs = Observation{Count: 1}
			return e, true
		}

		e.pruneExpired(now, window)
		// callers may race between reading the clock and taking the lock; keep order
		i := sort.Search(len(e.timestamps), func(i int) bool { return e.timestamps[i].After(now) })
		if i > 0 {
			obs.PreviousAt = e.timestamps[i-1]
		}
		e.timestamps = slices.Insert(e.timestamps, i, now)
		if now.After(e.lastSeenAt) {
			e.lastSeenAt = now
		}
		obs.Count = len(e.timestamps)
		return e, true
	})
	return obs
}

// SetBlocked moves key to BLOCKED until block.ExpiresAt.
// transitioned is false when another request already blocked the key, so only
// one caller reports the transition. A missing key (evicted between Observe and
// SetBlocked) is a transient-state error.
func (s *Store) SetBlocked(key string, block models.BlockInfo, now time.Time) (transitioned bool, err error) {
	missing := false
	s.entries.Compute(key, func(e *entry, exists bool) (*entry, bool) {
		if !exists {
			missing = true
			return nil, false
		}
		if e.activeBlock(now) {
			return e, true
		}
		b := block
		e.block = &b
		transitioned = true
		return e, true
	})
	if missing {
		return false, dErrors.New(dErrors.CodeTransientState, "fingerprint missing when applying block")
	}
	return transitioned, nil
}

// EvictIdle removes entries idle for longer than maxIdle, blocked or not.
func (s *Store) EvictIdle(now time.Time, maxIdle time.Duration) int {
	return s.entries.DeleteIf(func(_ string, e *entry) bool {
		return now.Sub(e.lastSeenAt) > maxIdle
	})
}

// ResetClient removes every fingerprint belonging to clientID.
func (s *Store) ResetClient(clientID string) int {
	prefix := models.FingerprintClientPrefix(clientID)
	return s.entries.DeleteIf(func(key string, _ *entry) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// Stats returns the number of tracked and currently blocked fingerprints.
func (s *Store) Stats(now time.Time) (tracked, blocked int) {
	s.entries.Range(func(_ string, e *entry) bool {
		tracked++
		if e.activeBlock(now) {
			blocked++
		}
		return true
	})
	return tracked, blocked
}

func (s *Store) Len() int {
	return s.entries.Len()
}
