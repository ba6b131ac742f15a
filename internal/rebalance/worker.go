package rebalance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rorp/rebalance-eclair/internal/config"
)

// Worker drives fixed-interval rebalance passes. Exactly one attempt is
// ever in flight: candidates are processed strictly sequentially, which
// keeps liquidity observations and fee accounting consistent without
// cross-attempt locking.
type Worker struct {
	cfg     config.Config
	monitor *Monitor
	exec    *Executor
	budget  *Budget
	ctrl    *Controller
	store   *Store
	logger  zerolog.Logger

	mu             sync.Mutex
	started        bool
	stop           chan struct{}
	done           chan struct{}
	wake           chan struct{}
	subs           map[chan Event]struct{}
	channels       []Channel
	outstanding    []*Attempt
	lastPassAt     time.Time
	lastPassStatus string
	passCount      int64
	attemptCount   int64
	successCount   int64
}

type Overview struct {
	LastPassAt     time.Time      `json:"last_pass_at,omitempty"`
	LastPassStatus string         `json:"last_pass_status,omitempty"`
	PassCount      int64          `json:"pass_count"`
	AttemptCount   int64          `json:"attempt_count"`
	SuccessCount   int64          `json:"success_count"`
	Unresolved     int            `json:"unresolved_attempts"`
	Budget         BudgetSnapshot `json:"budget"`
}

func NewWorker(cfg config.Config, node Node, store *Store, logger zerolog.Logger) *Worker {
	return &Worker{
		cfg:     cfg,
		monitor: NewMonitor(node, logger),
		exec: NewExecutor(node, ExecutorParams{
			StatusPollInterval: cfg.StatusPollInterval,
			StatusPollTimeout:  cfg.StatusPollTimeout,
			ReconcileAttempts:  cfg.ReconcileAttempts,
			ReconcileInterval:  cfg.ReconcileInterval,
		}, logger),
		budget: NewBudget(BudgetParams{
			FlatCapSat:      cfg.FeeCapSat,
			PctCap:          cfg.FeeCapPct,
			EpochCapSat:     cfg.EpochBudgetSat,
			EpochLength:     cfg.EpochLength,
			MinViableFeeSat: cfg.MinViableFeeSat,
		}),
		ctrl: NewController(ControllerParams{
			CooldownBase:   cfg.CooldownBase,
			CooldownMax:    cfg.CooldownMax,
			FailureCap:     cfg.FailureCap,
			PermanentAtCap: cfg.ExclusionPermanent,
		}),
		store:  store,
		logger: logger,
		subs:   map[chan Event]struct{}{},
	}
}

func (w *Worker) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.wake = make(chan struct{}, 1)
	w.mu.Unlock()

	go w.runLoop()
}

// Stop requests shutdown and blocks until the loop has drained: an attempt
// in flight always runs to a terminal or ambiguous-resolved state first.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	stop := w.stop
	done := w.done
	w.mu.Unlock()

	close(stop)
	<-done
}

// TriggerPass requests an immediate pass outside the fixed interval.
func (w *Worker) TriggerPass() {
	w.mu.Lock()
	wake := w.wake
	w.mu.Unlock()
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (w *Worker) runLoop() {
	defer close(w.done)
	// First pass immediately, then on the fixed interval.
	w.runPass()
	for {
		timer := time.NewTimer(w.cfg.PollInterval)
		select {
		case <-timer.C:
			w.runPass()
		case <-w.wake:
			if !timer.Stop() {
				<-timer.C
			}
			w.runPass()
		case <-w.stop:
			if !timer.Stop() {
				<-timer.C
			}
			return
		}
	}
}

func (w *Worker) stopRequested() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Worker) runPass() {
	ctx := context.Background()
	status := "completed"
	defer func() {
		w.mu.Lock()
		w.lastPassAt = time.Now().UTC()
		w.lastPassStatus = status
		w.passCount++
		w.mu.Unlock()
		w.broadcast(Event{Type: "pass", Status: status})
	}()

	if w.budget.Roll() {
		w.logger.Info().Time("epoch_start", w.budget.Snapshot().EpochStart).Msg("fee budget epoch reset")
		w.persistBudget(ctx)
	}

	w.reconcileOutstanding(ctx)

	channels, err := w.monitor.Refresh(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("pass aborted")
		status = "node_unreachable"
		return
	}
	w.mu.Lock()
	w.channels = channels
	w.mu.Unlock()

	band := Band{Low: w.cfg.RatioLow, High: w.cfg.RatioHigh}
	candidates := SelectCandidates(channels, band, w.ctrl.Excluded, SelectorOptions{
		AllowSamePeer: w.cfg.AllowSamePeer,
		IncludePeers:  w.cfg.IncludePeers,
		ExcludePeers:  w.cfg.ExcludePeers,
	})
	if len(candidates) == 0 {
		status = "no_candidates"
		return
	}

	attempted := 0
	succeeded := false
	for _, candidate := range candidates {
		if attempted >= w.cfg.MaxCandidates {
			break
		}
		if w.stopRequested() {
			status = "stopping"
			return
		}

		plan, ok := PlanAttempt(candidate, band, PlannerParams{
			ReserveSat:   w.cfg.ReserveSat,
			MaxAmountSat: w.cfg.MaxAmountSat,
			MinAmountSat: w.cfg.MinAmountSat,
		})
		if !ok {
			continue
		}
		attempt := plan.Attempt

		allowance, err := w.budget.Authorize(attempt.AmountSat)
		if errors.Is(err, ErrNoBudget) {
			// Deferred, not failed: no exclusion, retried next pass or epoch.
			w.logger.Info().
				Str("pair", attempt.Pair().String()).
				Int64("amount_sat", attempt.AmountSat).
				Msg("attempt deferred: insufficient fee budget")
			if !succeeded {
				status = "budget_deferred"
			}
			continue
		}
		attempt.FeeCeilingSat = allowance
		attempted++

		execErr := w.exec.Execute(ctx, attempt, plan.Hints)
		w.settleAttempt(ctx, attempt, execErr)
		if execErr == nil {
			succeeded = true
			status = "completed"
		}

		var connErr *ConnectivityError
		if errors.As(execErr, &connErr) {
			status = "node_unreachable"
			return
		}
	}
}

// settleAttempt converts the executor's classification into budget and
// backoff state transitions, and records the outcome.
func (w *Worker) settleAttempt(ctx context.Context, attempt *Attempt, execErr error) {
	pair := attempt.Pair()
	w.mu.Lock()
	w.attemptCount++
	w.mu.Unlock()

	var connErr *ConnectivityError
	switch {
	case execErr == nil:
		w.budget.SettleSuccess(attempt.FeePaidSat)
		w.ctrl.RecordSuccess(pair)
		w.markRebalanced(pair)
		w.mu.Lock()
		w.successCount++
		w.mu.Unlock()
		w.logger.Info().
			Str("pair", pair.String()).
			Int64("amount_sat", attempt.AmountSat).
			Int64("fee_sat", attempt.FeePaidSat).
			Msg("rebalance succeeded")
	case errors.As(execErr, &connErr):
		// Nothing was submitted; not counted against the pair.
		w.logger.Warn().Err(execErr).Str("pair", pair.String()).Msg("attempt aborted")
		return
	case errors.Is(execErr, ErrNoRoute):
		entry := w.ctrl.RecordFailure(pair, attempt.FailReason)
		w.logger.Info().
			Str("pair", pair.String()).
			Int("failures", entry.Failures).
			Msg("no route, pair cooled down")
	case errors.Is(execErr, ErrAmbiguous):
		w.budget.HoldCeiling(attempt.FeeCeilingSat)
		w.ctrl.Exclude(pair, "unresolved attempt "+attempt.ID)
		w.mu.Lock()
		w.outstanding = append(w.outstanding, attempt)
		w.mu.Unlock()
	default:
		entry := w.ctrl.RecordFailure(pair, attempt.FailReason)
		w.logger.Info().
			Err(execErr).
			Str("pair", pair.String()).
			Int64("amount_sat", attempt.AmountSat).
			Int64("fee_ceiling_sat", attempt.FeeCeilingSat).
			Int("failures", entry.Failures).
			Bool("permanent", entry.Permanent).
			Msg("rebalance failed")
	}

	w.store.RecordAttempt(ctx, attempt)
	w.persistBudget(ctx)
	w.store.SaveExclusions(ctx, w.ctrl.Entries())
	w.broadcast(Event{
		Type:      "attempt",
		Pair:      pair.String(),
		AmountSat: attempt.AmountSat,
		FeeSat:    attempt.FeePaidSat,
		Status:    attempt.Status,
		Message:   attempt.FailReason,
	})
}

// reconcileOutstanding retries one status-reconciliation round for attempts
// left ambiguous by earlier passes, correcting the budget ledger once the
// true cost is known.
func (w *Worker) reconcileOutstanding(ctx context.Context) {
	w.mu.Lock()
	pending := w.outstanding
	w.outstanding = nil
	w.mu.Unlock()

	for _, attempt := range pending {
		err := w.exec.Reconcile(ctx, attempt)
		var connErr *ConnectivityError
		if errors.Is(err, ErrAmbiguous) || errors.As(err, &connErr) {
			w.mu.Lock()
			w.outstanding = append(w.outstanding, attempt)
			w.mu.Unlock()
			continue
		}
		pair := attempt.Pair()
		if err == nil {
			w.budget.ResolveHold(attempt.FeeCeilingSat, attempt.FeePaidSat)
			w.ctrl.Reset(pair)
			w.ctrl.RecordSuccess(pair)
			w.markRebalanced(pair)
			w.logger.Info().
				Str("pair", pair.String()).
				Int64("fee_sat", attempt.FeePaidSat).
				Msg("ambiguous payment resolved: succeeded")
		} else {
			w.budget.ResolveHold(attempt.FeeCeilingSat, -1)
			w.ctrl.Reset(pair)
			w.ctrl.RecordFailure(pair, attempt.FailReason)
			w.logger.Info().
				Str("pair", pair.String()).
				Str("reason", attempt.FailReason).
				Msg("ambiguous payment resolved: failed")
		}
		w.store.RecordAttempt(ctx, attempt)
		w.persistBudget(ctx)
		w.store.SaveExclusions(ctx, w.ctrl.Entries())
		w.broadcast(Event{
			Type:    "reconciled",
			Pair:    pair.String(),
			FeeSat:  attempt.FeePaidSat,
			Status:  attempt.Status,
			Message: attempt.FailReason,
		})
	}
}

func (w *Worker) markRebalanced(pair PairKey) {
	now := time.Now().UTC()
	w.mu.Lock()
	for i := range w.channels {
		if w.channels[i].ChannelID == pair.Source || w.channels[i].ChannelID == pair.Target {
			w.channels[i].LastRebalancedAt = now
		}
	}
	w.mu.Unlock()
}

func (w *Worker) persistBudget(ctx context.Context) {
	snapshot := w.budget.Snapshot()
	w.store.SaveEpochBudget(ctx, snapshot.EpochStart, snapshot.SpentSat, snapshot.ReservedSat)
}

// RestoreState loads persisted exclusion and budget state. Called once
// before Start.
func (w *Worker) RestoreState(ctx context.Context) {
	if entries, err := w.store.LoadExclusions(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("failed to restore exclusions")
	} else if len(entries) > 0 {
		w.ctrl.Restore(entries)
		w.logger.Info().Int("pairs", len(entries)).Msg("restored exclusion table")
	}

	epochStart := w.budget.Snapshot().EpochStart
	spent, reserved, ok, err := w.store.LoadEpochBudget(ctx, epochStart)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to restore epoch budget")
		return
	}
	if ok && w.budget.Restore(epochStart, spent, reserved) {
		w.logger.Info().Int64("spent_sat", spent).Msg("restored epoch fee spend")
	}
}

// PersistState writes exclusion and budget state. Called once at shutdown.
func (w *Worker) PersistState(ctx context.Context) {
	w.store.SaveExclusions(ctx, w.ctrl.Entries())
	w.persistBudget(ctx)
}

func (w *Worker) Overview() Overview {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Overview{
		LastPassAt:     w.lastPassAt,
		LastPassStatus: w.lastPassStatus,
		PassCount:      w.passCount,
		AttemptCount:   w.attemptCount,
		SuccessCount:   w.successCount,
		Unresolved:     len(w.outstanding),
		Budget:         w.budget.Snapshot(),
	}
}

func (w *Worker) Channels() []Channel {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Channel, len(w.channels))
	copy(out, w.channels)
	return out
}

func (w *Worker) Exclusions() []ExclusionEntry {
	return w.ctrl.Entries()
}

// ResetPair is the manual action reopening an excluded pair.
func (w *Worker) ResetPair(ctx context.Context, pair PairKey) bool {
	if !w.ctrl.Reset(pair) {
		return false
	}
	w.store.SaveExclusions(ctx, w.ctrl.Entries())
	return true
}
