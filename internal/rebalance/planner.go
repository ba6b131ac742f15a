package rebalance

import (
	"time"

	"github.com/google/uuid"
)

type PlannerParams struct {
	ReserveSat   int64
	MaxAmountSat int64
	MinAmountSat int64
}

// Plan couples a prepared attempt with the route hints that pin its first
// and last hop.
type Plan struct {
	Attempt *Attempt
	Hints   RouteHints
}

// PlanAttempt derives a viable amount for the candidate pair:
// min(source surplus above the band, destination headroom up to the band,
// per-attempt cap), each side keeping a reserve margin. Returns false when
// the amount would fall below the minimum viable unit; the pair is then
// skipped for this pass without being excluded.
func PlanAttempt(c Candidate, band Band, params PlannerParams) (Plan, bool) {
	srcSpare := c.Source.LocalBalanceSat - band.highBoundarySat(c.Source.CapacitySat) - params.ReserveSat
	dstRoom := band.highBoundarySat(c.Target.CapacitySat) - c.Target.LocalBalanceSat - params.ReserveSat

	amount := srcSpare
	if dstRoom < amount {
		amount = dstRoom
	}
	if params.MaxAmountSat > 0 && amount > params.MaxAmountSat {
		amount = params.MaxAmountSat
	}
	if amount < params.MinAmountSat {
		return Plan{}, false
	}

	attempt := &Attempt{
		ID:              uuid.NewString(),
		SourceChannelID: c.Source.ChannelID,
		TargetChannelID: c.Target.ChannelID,
		AmountSat:       amount,
		Status:          StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	hints := RouteHints{
		OutgoingChannelID: c.Source.ChannelID,
		IncomingChannelID: c.Target.ChannelID,
		IncomingPeer:      c.Target.PeerPubkey,
	}
	return Plan{Attempt: attempt, Hints: hints}, true
}
