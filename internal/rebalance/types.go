package rebalance

import "time"

// Channel is a normalized view of one payment channel as reported by the
// node. Local + remote never exceeds capacity; the difference is reserve
// and in-flight value held by the commitment transaction.
type Channel struct {
	ChannelID        string    `json:"channel_id"`
	PeerPubkey       string    `json:"peer_pubkey"`
	CapacitySat      int64     `json:"capacity_sat"`
	LocalBalanceSat  int64     `json:"local_balance_sat"`
	RemoteBalanceSat int64     `json:"remote_balance_sat"`
	Active           bool      `json:"active"`
	LastRebalancedAt time.Time `json:"last_rebalanced_at,omitempty"`
}

func (c Channel) LocalRatio() float64 {
	if c.CapacitySat <= 0 {
		return 0
	}
	return float64(c.LocalBalanceSat) / float64(c.CapacitySat)
}

// PairKey identifies a (source, destination) channel pair.
type PairKey struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (k PairKey) String() string {
	return k.Source + "->" + k.Target
}

const (
	StatusPending   = "pending"
	StatusInFlight  = "in_flight"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAmbiguous = "ambiguous"
)

// Attempt is one self-payment attempt. Created by the planner, mutated only
// by the executor, kept in history once it reaches a terminal status.
type Attempt struct {
	ID              string    `json:"id"`
	SourceChannelID string    `json:"source_channel_id"`
	TargetChannelID string    `json:"target_channel_id"`
	AmountSat       int64     `json:"amount_sat"`
	FeeCeilingSat   int64     `json:"fee_ceiling_sat"`
	FeePaidSat      int64     `json:"fee_paid_sat"`
	Status          string    `json:"status"`
	PaymentID       string    `json:"payment_id,omitempty"`
	PaymentHash     string    `json:"payment_hash,omitempty"`
	FailReason      string    `json:"fail_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ResolvedAt      time.Time `json:"resolved_at,omitempty"`
}

func (a *Attempt) Pair() PairKey {
	return PairKey{Source: a.SourceChannelID, Target: a.TargetChannelID}
}

func (a *Attempt) Terminal() bool {
	return a.Status == StatusSucceeded || a.Status == StatusFailed
}

// RouteHints pins the first and last hop of the self-payment to the selected
// channels. Intermediate hops are left to the node's own pathfinding.
type RouteHints struct {
	OutgoingChannelID string
	IncomingChannelID string
	IncomingPeer      string
}

// Invoice references a self-addressed invoice created on the node.
type Invoice struct {
	ID          string
	PaymentHash string
}

const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// PaymentStatus is the node's view of a submitted payment.
type PaymentStatus struct {
	State         string
	FeePaidSat    int64
	FailureReason string
}
