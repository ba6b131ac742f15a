package rebalance

import "sort"

// Band is the target local-balance ratio band. Channels above High are
// rebalance sources, channels below Low are destinations.
type Band struct {
	Low  float64
	High float64
}

func (b Band) highBoundarySat(capacitySat int64) int64 {
	return int64(b.High * float64(capacitySat))
}

func (b Band) lowBoundarySat(capacitySat int64) int64 {
	return int64(b.Low * float64(capacitySat))
}

// Candidate is a ranked (source, destination) pair. SurplusSat is how far
// the source sits above the band, DeficitSat how far the destination sits
// below it; their sum is the ranking key.
type Candidate struct {
	Source     Channel
	Target     Channel
	SurplusSat int64
	DeficitSat int64
}

func (c Candidate) Pair() PairKey {
	return PairKey{Source: c.Source.ChannelID, Target: c.Target.ChannelID}
}

func (c Candidate) score() int64 {
	return c.SurplusSat + c.DeficitSat
}

type SelectorOptions struct {
	AllowSamePeer bool
	IncludePeers  []string
	ExcludePeers  []string
}

func (o SelectorOptions) peerAllowed(pubkey string) bool {
	for _, p := range o.ExcludePeers {
		if p == pubkey {
			return false
		}
	}
	if len(o.IncludePeers) == 0 {
		return true
	}
	for _, p := range o.IncludePeers {
		if p == pubkey {
			return true
		}
	}
	return false
}

// SelectCandidates ranks the channel pairs needing a rebalance. Pairs in
// cool-down are skipped entirely, not down-ranked. The ordering is
// deterministic: combined deficiency descending, then source and target
// channel id ascending.
func SelectCandidates(channels []Channel, band Band, excluded func(PairKey) bool, opts SelectorOptions) []Candidate {
	var sources, targets []Channel
	for _, ch := range channels {
		if !ch.Active || !opts.peerAllowed(ch.PeerPubkey) {
			continue
		}
		ratio := ch.LocalRatio()
		switch {
		case ratio > band.High:
			sources = append(sources, ch)
		case ratio < band.Low:
			targets = append(targets, ch)
		}
	}

	candidates := make([]Candidate, 0, len(sources)*len(targets))
	for _, src := range sources {
		for _, dst := range targets {
			if src.ChannelID == dst.ChannelID {
				continue
			}
			if !opts.AllowSamePeer && src.PeerPubkey == dst.PeerPubkey {
				continue
			}
			pair := PairKey{Source: src.ChannelID, Target: dst.ChannelID}
			if excluded != nil && excluded(pair) {
				continue
			}
			candidates = append(candidates, Candidate{
				Source:     src,
				Target:     dst,
				SurplusSat: src.LocalBalanceSat - band.highBoundarySat(src.CapacitySat),
				DeficitSat: band.lowBoundarySat(dst.CapacitySat) - dst.LocalBalanceSat,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := candidates[i].score(), candidates[j].score()
		if si != sj {
			return si > sj
		}
		if candidates[i].Source.ChannelID != candidates[j].Source.ChannelID {
			return candidates[i].Source.ChannelID < candidates[j].Source.ChannelID
		}
		return candidates[i].Target.ChannelID < candidates[j].Target.ChannelID
	})
	return candidates
}
