package rebalance

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
)

// Monitor fetches the channel set from the node and normalizes it for the
// selector. Channels violating the balance invariant are dropped rather than
// propagated; a broken report from the node must not poison a pass.
type Monitor struct {
	node   Node
	logger zerolog.Logger
}

func NewMonitor(node Node, logger zerolog.Logger) *Monitor {
	return &Monitor{node: node, logger: logger}
}

func (m *Monitor) Refresh(ctx context.Context) ([]Channel, error) {
	channels, err := m.node.ListChannels(ctx)
	if err != nil {
		return nil, &ConnectivityError{Op: "list channels", Err: err}
	}

	valid := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.ChannelID == "" || ch.CapacitySat <= 0 {
			continue
		}
		if ch.LocalBalanceSat < 0 || ch.RemoteBalanceSat < 0 ||
			ch.LocalBalanceSat+ch.RemoteBalanceSat > ch.CapacitySat {
			m.logger.Warn().
				Str("channel", ch.ChannelID).
				Int64("local", ch.LocalBalanceSat).
				Int64("remote", ch.RemoteBalanceSat).
				Int64("capacity", ch.CapacitySat).
				Msg("dropping channel with inconsistent balances")
			continue
		}
		valid = append(valid, ch)
	}

	sort.Slice(valid, func(i, j int) bool {
		return valid[i].ChannelID < valid[j].ChannelID
	})
	return valid, nil
}
