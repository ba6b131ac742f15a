package rebalance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rorp/rebalance-eclair/internal/config"
)

func testWorkerConfig() config.Config {
	return config.Config{
		PollInterval:       10 * time.Minute,
		MaxCandidates:      3,
		RatioLow:           0.4,
		RatioHigh:          0.6,
		MaxAmountSat:       1_000_000,
		MinAmountSat:       10_000,
		FeeCapSat:          100,
		FeeCapPct:          0.05,
		EpochBudgetSat:     2_000,
		EpochLength:        24 * time.Hour,
		MinViableFeeSat:    1,
		CooldownBase:       10 * time.Minute,
		CooldownMax:        24 * time.Hour,
		FailureCap:         5,
		ExclusionPermanent: true,
		StatusPollInterval: time.Millisecond,
		StatusPollTimeout:  0,
		ReconcileAttempts:  0,
		ReconcileInterval:  time.Millisecond,
	}
}

func imbalancedPair() []Channel {
	return []Channel{
		chanWith("src", "p1", 1_000_000, 900_000),
		chanWith("dst", "p2", 1_000_000, 100_000),
	}
}

func TestWorkerPassSuccess(t *testing.T) {
	node := &fakeNode{channels: imbalancedPair()}
	node.setStatuses(PaymentStatus{State: PaymentSucceeded, FeePaidSat: 9})
	w := NewWorker(testWorkerConfig(), node, nil, zerolog.Nop())

	w.runPass()

	overview := w.Overview()
	require.Equal(t, "completed", overview.LastPassStatus)
	require.EqualValues(t, 1, overview.PassCount)
	require.EqualValues(t, 1, overview.AttemptCount)
	require.EqualValues(t, 1, overview.SuccessCount)
	require.EqualValues(t, 9, overview.Budget.SpentSat)
	require.Equal(t, 1, node.payCalls)

	// The pair sits in the post-success cool-down, so the next pass finds
	// nothing to do and no second payment goes out.
	w.runPass()
	require.Equal(t, 1, node.payCalls)
	require.Equal(t, "no_candidates", w.Overview().LastPassStatus)
}

func TestWorkerBudgetDeferralSendsNothing(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.EpochBudgetSat = 0
	node := &fakeNode{channels: imbalancedPair()}
	w := NewWorker(cfg, node, nil, zerolog.Nop())

	w.runPass()

	require.Zero(t, node.createCalls)
	require.Zero(t, node.payCalls)
	overview := w.Overview()
	require.Equal(t, "budget_deferred", overview.LastPassStatus)
	require.Zero(t, overview.AttemptCount)
	// No exclusion: the pair stays eligible for the next pass.
	require.Empty(t, w.Exclusions())
}

func TestWorkerFailuresAccumulateToPermanent(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.FailureCap = 2
	node := &fakeNode{channels: imbalancedPair()}
	node.setStatuses(PaymentStatus{State: PaymentFailed, FailureReason: "route not found"})
	w := NewWorker(cfg, node, nil, zerolog.Nop())

	// Cool-downs are driven by the controller clock; step it past each one.
	clock := time.Unix(1_700_000_000, 0)
	w.ctrl.now = func() time.Time { return clock }

	w.runPass()
	require.Equal(t, 1, node.payCalls)

	clock = clock.Add(48 * time.Hour)
	w.runPass()
	require.Equal(t, 2, node.payCalls)

	entries := w.Exclusions()
	require.Len(t, entries, 1)
	require.True(t, entries[0].Permanent)
	require.Equal(t, 2, entries[0].Failures)

	// Permanently excluded: no further attempts no matter how much time passes.
	clock = clock.Add(30 * 24 * time.Hour)
	w.runPass()
	require.Equal(t, 2, node.payCalls)
	require.Equal(t, "no_candidates", w.Overview().LastPassStatus)
}

func TestWorkerResetReopensPair(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.FailureCap = 1
	node := &fakeNode{channels: imbalancedPair()}
	node.setStatuses(PaymentStatus{State: PaymentFailed, FailureReason: "route not found"})
	w := NewWorker(cfg, node, nil, zerolog.Nop())

	w.runPass()
	require.Equal(t, 1, node.payCalls)
	w.runPass()
	require.Equal(t, 1, node.payCalls)

	pair := PairKey{Source: "src", Target: "dst"}
	require.True(t, w.ResetPair(context.Background(), pair))
	require.False(t, w.ResetPair(context.Background(), pair))

	w.runPass()
	require.Equal(t, 2, node.payCalls)
}

func TestWorkerAmbiguousHoldAndReconciliation(t *testing.T) {
	node := &fakeNode{channels: imbalancedPair()}
	node.setStatuses(
		PaymentStatus{State: PaymentPending},
		PaymentStatus{State: PaymentSucceeded, FeePaidSat: 12},
	)
	w := NewWorker(testWorkerConfig(), node, nil, zerolog.Nop())

	w.runPass()

	overview := w.Overview()
	require.Equal(t, 1, overview.Unresolved)
	// The fee ceiling (flat cap 100 vs 0.05% of 300k = 150) is held.
	require.EqualValues(t, 100, overview.Budget.ReservedSat)
	require.Zero(t, overview.Budget.SpentSat)
	entries := w.Exclusions()
	require.Len(t, entries, 1)
	require.True(t, entries[0].Permanent)

	// The next pass reconciles: the hold is released and spend grows by the
	// actual fee, not the ceiling.
	w.runPass()

	overview = w.Overview()
	require.Zero(t, overview.Unresolved)
	require.Zero(t, overview.Budget.ReservedSat)
	require.EqualValues(t, 12, overview.Budget.SpentSat)
	// Still a single payment on the node.
	require.Equal(t, 1, node.payCalls)
}

func TestWorkerPassStatusReflectsLaterSuccess(t *testing.T) {
	// The top-ranked candidate is deferred for budget (its small amount
	// yields a percentage allowance below the viable fee), a later candidate
	// succeeds: the pass reports completed, not budget_deferred.
	cfg := testWorkerConfig()
	cfg.MinViableFeeSat = 50
	node := &fakeNode{channels: []Channel{
		chanWith("s-small", "pA", 1_000_000, 620_000),
		chanWith("s-big", "pShared", 1_000_000, 900_000),
		chanWith("d-big", "pShared", 1_000_000, 50_000),
		chanWith("d-small", "pB", 1_000_000, 395_000),
	}}
	node.setStatuses(PaymentStatus{State: PaymentSucceeded, FeePaidSat: 4})
	w := NewWorker(cfg, node, nil, zerolog.Nop())

	w.runPass()

	require.Equal(t, 1, node.payCalls)
	overview := w.Overview()
	require.Equal(t, "completed", overview.LastPassStatus)
	require.EqualValues(t, 1, overview.SuccessCount)
	require.EqualValues(t, 4, overview.Budget.SpentSat)
}

func TestWorkerNodeUnreachableAbortsPass(t *testing.T) {
	node := &fakeNode{listErr: errors.New("dial tcp: connection refused")}
	w := NewWorker(testWorkerConfig(), node, nil, zerolog.Nop())

	w.runPass()

	require.Equal(t, "node_unreachable", w.Overview().LastPassStatus)
	require.Zero(t, node.createCalls)
}

func TestWorkerMaxCandidatesPerPass(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.MaxCandidates = 1
	node := &fakeNode{channels: []Channel{
		chanWith("s1", "p1", 1_000_000, 900_000),
		chanWith("s2", "p2", 1_000_000, 850_000),
		chanWith("d1", "p3", 1_000_000, 100_000),
		chanWith("d2", "p4", 1_000_000, 150_000),
	}}
	node.setStatuses(PaymentStatus{State: PaymentSucceeded, FeePaidSat: 3})
	w := NewWorker(cfg, node, nil, zerolog.Nop())

	w.runPass()

	require.Equal(t, 1, node.payCalls)
	require.EqualValues(t, 1, w.Overview().AttemptCount)
}

func TestWorkerStartStop(t *testing.T) {
	node := &fakeNode{channels: imbalancedPair()}
	node.setStatuses(PaymentStatus{State: PaymentSucceeded, FeePaidSat: 2})
	w := NewWorker(testWorkerConfig(), node, nil, zerolog.Nop())

	w.Start()
	w.Start() // idempotent
	require.Eventually(t, func() bool {
		return w.Overview().PassCount >= 1
	}, 5*time.Second, 10*time.Millisecond)
	w.Stop()

	// Stopped: a trigger is a no-op and Stop again does not block.
	w.TriggerPass()
	w.Stop()
}

func TestWorkerEventsBroadcast(t *testing.T) {
	node := &fakeNode{channels: imbalancedPair()}
	node.setStatuses(PaymentStatus{State: PaymentSucceeded, FeePaidSat: 5})
	w := NewWorker(testWorkerConfig(), node, nil, zerolog.Nop())

	events := w.Subscribe()
	defer w.Unsubscribe(events)

	w.runPass()

	types := map[string]bool{}
	for len(events) > 0 {
		types[(<-events).Type] = true
	}
	require.True(t, types["attempt"])
	require.True(t, types["pass"])
}
