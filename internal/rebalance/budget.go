package rebalance

import (
	"math"
	"sync"
	"time"
)

type BudgetParams struct {
	FlatCapSat      int64
	PctCap          float64
	EpochCapSat     int64
	EpochLength     time.Duration
	MinViableFeeSat int64
}

// Budget tracks cumulative fee spend against the current epoch and computes
// the fee allowance per attempt. Ambiguous attempts hold their fee ceiling
// until reconciliation confirms the true cost.
type Budget struct {
	params BudgetParams
	now    func() time.Time

	mu          sync.Mutex
	epochStart  time.Time
	spentSat    int64
	reservedSat int64
}

type BudgetSnapshot struct {
	EpochStart  time.Time `json:"epoch_start"`
	EpochCapSat int64     `json:"epoch_cap_sat"`
	SpentSat    int64     `json:"spent_sat"`
	ReservedSat int64     `json:"reserved_sat"`
}

func NewBudget(params BudgetParams) *Budget {
	b := &Budget{params: params, now: time.Now}
	b.epochStart = b.epochBoundary(b.now())
	return b
}

// Epochs are aligned to multiples of the epoch length since the Unix epoch,
// so a restart inside an epoch resumes the same window.
func (b *Budget) epochBoundary(t time.Time) time.Time {
	secs := int64(b.params.EpochLength / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return time.Unix(t.Unix()-t.Unix()%secs, 0).UTC()
}

// Roll advances to a new epoch if the boundary has passed, resetting spend.
// Held reservations for unresolved attempts carry over; the sats are spoken
// for regardless of which epoch the payment settles in.
func (b *Budget) Roll() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	boundary := b.epochBoundary(b.now())
	if !boundary.After(b.epochStart) {
		return false
	}
	b.epochStart = boundary
	b.spentSat = 0
	return true
}

// Authorize returns the allowed max fee for an attempt of the given amount:
// min(flat cap, percentage cap, remaining epoch budget). ErrNoBudget when
// the allowance falls below the minimum viable fee.
func (b *Budget) Authorize(amountSat int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	allowed := b.params.FlatCapSat
	if pctCap := int64(math.Floor(float64(amountSat) * b.params.PctCap / 100)); pctCap < allowed {
		allowed = pctCap
	}
	remaining := b.params.EpochCapSat - b.spentSat - b.reservedSat
	if remaining < allowed {
		allowed = remaining
	}
	if allowed < b.params.MinViableFeeSat {
		return 0, ErrNoBudget
	}
	return allowed, nil
}

// SettleSuccess deducts the actually-reported fee of a succeeded attempt.
func (b *Budget) SettleSuccess(feeSat int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if feeSat > 0 {
		b.spentSat += feeSat
	}
}

// HoldCeiling reserves the fee ceiling of an ambiguous attempt.
func (b *Budget) HoldCeiling(feeCeilingSat int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if feeCeilingSat > 0 {
		b.reservedSat += feeCeilingSat
	}
}

// ResolveHold corrects the ledger once an ambiguous attempt reaches a
// terminal state: the reservation is released and, if the payment in fact
// succeeded, the actual fee is deducted. Pass actualFeeSat < 0 for a
// payment that turned out to have failed.
func (b *Budget) ResolveHold(feeCeilingSat, actualFeeSat int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if feeCeilingSat > 0 {
		b.reservedSat -= feeCeilingSat
		if b.reservedSat < 0 {
			b.reservedSat = 0
		}
	}
	if actualFeeSat > 0 {
		b.spentSat += actualFeeSat
	}
}

// Restore seeds spend state persisted for the current epoch. State from an
// older epoch is discarded.
func (b *Budget) Restore(epochStart time.Time, spentSat, reservedSat int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !epochStart.Equal(b.epochStart) {
		return false
	}
	b.spentSat = spentSat
	b.reservedSat = reservedSat
	return true
}

func (b *Budget) Snapshot() BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BudgetSnapshot{
		EpochStart:  b.epochStart,
		EpochCapSat: b.params.EpochCapSat,
		SpentSat:    b.spentSat,
		ReservedSat: b.reservedSat,
	}
}
