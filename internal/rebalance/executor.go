package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type ExecutorParams struct {
	StatusPollInterval time.Duration
	StatusPollTimeout  time.Duration
	ReconcileAttempts  int
	ReconcileInterval  time.Duration
}

// Executor issues a single self-payment and resolves its terminal outcome.
// A payment whose status cannot be confirmed is never resubmitted; it is
// reconciled with status queries until resolved or the bounded number of
// reconciliation attempts runs out.
type Executor struct {
	node   Node
	params ExecutorParams
	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) bool
}

func NewExecutor(node Node, params ExecutorParams, logger zerolog.Logger) *Executor {
	return &Executor{
		node:   node,
		params: params,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Execute runs the attempt to a terminal or ambiguous-unresolved state,
// mutating it in place. The returned error classifies the outcome:
// nil for success, ErrNoRoute / *PaymentError for definite failures,
// ErrAmbiguous when reconciliation was exhausted, *ConnectivityError when
// the node could not be reached before any payment was submitted.
func (e *Executor) Execute(ctx context.Context, attempt *Attempt, hints RouteHints) error {
	memo := fmt.Sprintf("rebalance %s %s->%s", attempt.ID, attempt.SourceChannelID, attempt.TargetChannelID)
	invoice, err := e.node.CreateInvoice(ctx, attempt.AmountSat, memo)
	if err != nil {
		return &ConnectivityError{Op: "create invoice", Err: err}
	}
	attempt.PaymentHash = invoice.PaymentHash

	paymentID, err := e.node.PayInvoice(ctx, invoice.ID, attempt.FeeCeilingSat, attempt.ID, hints)
	if err != nil {
		if errors.Is(err, ErrSubmitUnknown) {
			// The payment may exist on the node. Reconcile by payment hash;
			// resubmitting here could double-pay.
			e.logger.Warn().Err(err).Str("attempt", attempt.ID).Msg("payment submission unconfirmed")
			attempt.Status = StatusAmbiguous
			return e.reconcile(ctx, attempt)
		}
		return e.fail(attempt, err.Error())
	}
	attempt.PaymentID = paymentID
	attempt.Status = StatusInFlight

	deadline := e.now().Add(e.params.StatusPollTimeout)
	for {
		status, err := e.node.GetPaymentStatus(ctx, paymentID, attempt.PaymentHash)
		if err == nil {
			switch status.State {
			case PaymentSucceeded:
				return e.succeed(attempt, status.FeePaidSat)
			case PaymentFailed:
				return e.fail(attempt, status.FailureReason)
			}
		} else {
			e.logger.Warn().Err(err).Str("attempt", attempt.ID).Msg("status poll failed")
		}
		if e.now().After(deadline) {
			break
		}
		if !e.sleep(ctx, e.params.StatusPollInterval) {
			break
		}
	}

	attempt.Status = StatusAmbiguous
	return e.reconcile(ctx, attempt)
}

// reconcile issues bounded status-reconciliation queries for an ambiguous
// attempt. Returns ErrAmbiguous if the outcome remains unknown.
func (e *Executor) reconcile(ctx context.Context, attempt *Attempt) error {
	for i := 0; i < e.params.ReconcileAttempts; i++ {
		if !e.sleep(ctx, e.params.ReconcileInterval) {
			break
		}
		status, err := e.node.GetPaymentStatus(ctx, attempt.PaymentID, attempt.PaymentHash)
		if err != nil {
			e.logger.Warn().Err(err).Str("attempt", attempt.ID).Int("try", i+1).Msg("reconciliation query failed")
			continue
		}
		switch status.State {
		case PaymentSucceeded:
			return e.succeed(attempt, status.FeePaidSat)
		case PaymentFailed:
			return e.fail(attempt, status.FailureReason)
		}
	}
	e.logger.Error().
		Str("attempt", attempt.ID).
		Str("pair", attempt.Pair().String()).
		Int64("amount_sat", attempt.AmountSat).
		Int64("fee_ceiling_sat", attempt.FeeCeilingSat).
		Msg("payment outcome unresolved after reconciliation")
	return ErrAmbiguous
}

// Reconcile runs one reconciliation round for an attempt left ambiguous by
// an earlier pass. Returns the classification once terminal, ErrAmbiguous
// while still unknown.
func (e *Executor) Reconcile(ctx context.Context, attempt *Attempt) error {
	status, err := e.node.GetPaymentStatus(ctx, attempt.PaymentID, attempt.PaymentHash)
	if err != nil {
		return &ConnectivityError{Op: "reconcile payment", Err: err}
	}
	switch status.State {
	case PaymentSucceeded:
		return e.succeed(attempt, status.FeePaidSat)
	case PaymentFailed:
		return e.fail(attempt, status.FailureReason)
	}
	return ErrAmbiguous
}

func (e *Executor) succeed(attempt *Attempt, feeSat int64) error {
	attempt.Status = StatusSucceeded
	attempt.FeePaidSat = feeSat
	attempt.ResolvedAt = e.now().UTC()
	return nil
}

func (e *Executor) fail(attempt *Attempt, reason string) error {
	attempt.Status = StatusFailed
	attempt.FailReason = reason
	attempt.ResolvedAt = e.now().UTC()
	return classifyFailure(reason)
}
