package rebalance

import (
	"sort"
	"sync"
	"time"
)

// ExclusionEntry is the cool-down state of one channel pair.
type ExclusionEntry struct {
	Pair       PairKey   `json:"pair"`
	Failures   int       `json:"failures"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Permanent  bool      `json:"permanent"`
	LastReason string    `json:"last_reason,omitempty"`
}

type ControllerParams struct {
	CooldownBase time.Duration
	CooldownMax  time.Duration
	FailureCap   int
	// PermanentAtCap: whether reaching the failure cap excludes the pair
	// until an external reset, or just applies the maximum cool-down.
	PermanentAtCap bool
}

// Controller tracks per-pair failure history and exclusion state.
type Controller struct {
	params ControllerParams
	now    func() time.Time

	mu      sync.Mutex
	entries map[PairKey]*ExclusionEntry
}

func NewController(params ControllerParams) *Controller {
	return &Controller{
		params:  params,
		now:     time.Now,
		entries: map[PairKey]*ExclusionEntry{},
	}
}

// CooldownAfter is the cool-down applied after the n-th consecutive
// failure: min(base << n, max). Monotonically non-decreasing in n.
func CooldownAfter(base, max time.Duration, failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	cooldown := base
	for i := 0; i < failures; i++ {
		cooldown *= 2
		if cooldown >= max || cooldown <= 0 {
			return max
		}
	}
	if cooldown > max {
		return max
	}
	return cooldown
}

func (c *Controller) Excluded(pair PairKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[pair]
	if !ok {
		return false
	}
	if entry.Permanent {
		return true
	}
	if c.now().Before(entry.ExpiresAt) {
		return true
	}
	// Cool-down expired: back to idle, failure count retained.
	return false
}

// RecordSuccess clears the failure count and applies a minimal cool-down so
// the same pair is not reselected in the immediately following pass.
func (c *Controller) RecordSuccess(pair PairKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[pair] = &ExclusionEntry{
		Pair:      pair,
		ExpiresAt: c.now().Add(c.params.CooldownBase),
	}
}

// RecordFailure increments the consecutive-failure count and extends the
// cool-down. The expiry never moves backwards. At the failure cap the pair
// becomes permanently excluded when so configured.
func (c *Controller) RecordFailure(pair PairKey, reason string) ExclusionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[pair]
	if !ok {
		entry = &ExclusionEntry{Pair: pair}
		c.entries[pair] = entry
	}
	entry.Failures++
	entry.LastReason = reason
	if c.params.PermanentAtCap && entry.Failures >= c.params.FailureCap {
		entry.Permanent = true
		return *entry
	}
	failures := entry.Failures
	if failures > c.params.FailureCap {
		failures = c.params.FailureCap
	}
	expiry := c.now().Add(CooldownAfter(c.params.CooldownBase, c.params.CooldownMax, failures))
	if expiry.After(entry.ExpiresAt) {
		entry.ExpiresAt = expiry
	}
	return *entry
}

// Exclude marks a pair excluded until an external reset, without touching
// its failure count. Used for unresolved ambiguous attempts.
func (c *Controller) Exclude(pair PairKey, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[pair]
	if !ok {
		entry = &ExclusionEntry{Pair: pair}
		c.entries[pair] = entry
	}
	entry.Permanent = true
	entry.LastReason = reason
}

// Reset clears a pair's exclusion state. This is the external/manual action
// that reopens a permanently excluded pair.
func (c *Controller) Reset(pair PairKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[pair]; !ok {
		return false
	}
	delete(c.entries, pair)
	return true
}

// Entries returns the current exclusion table, expired cool-downs pruned,
// ordered by pair for stable output.
func (c *Controller) Entries() []ExclusionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]ExclusionEntry, 0, len(c.entries))
	for pair, entry := range c.entries {
		if !entry.Permanent && !now.Before(entry.ExpiresAt) && entry.Failures == 0 {
			delete(c.entries, pair)
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair.Source != out[j].Pair.Source {
			return out[i].Pair.Source < out[j].Pair.Source
		}
		return out[i].Pair.Target < out[j].Pair.Target
	})
	return out
}

// Restore seeds the table from persisted state.
func (c *Controller) Restore(entries []ExclusionEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range entries {
		copied := entry
		c.entries[entry.Pair] = &copied
	}
}
