package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/memoryless"
)

// pinger sends a single PING.
type pinger interface {
	SendPing(iface int, size int, seq uint16) (uint32, error)
}

// sendProbes sends count rounds of PINGs, one per interface and round.
// Rounds are spaced by memoryless intervals averaging interval. It returns
// the first send error.
func sendProbes(ctx context.Context, p pinger, ifaces, count int, interval time.Duration,
	size int) error {
	var seq uint16
	round := func() error {
		for i := 0; i < ifaces; i++ {
			ts, err := p.SendPing(i, size, seq)
			if err != nil {
				return fmt.Errorf("iface %d: %w", i, err)
			}
			log.Info("probe sent", "iface", i, "seq", seq, "size", size, "timestamp", ts)
		}
		seq++
		return nil
	}
	if err := round(); err != nil {
		return err
	}
	if count <= 1 {
		return nil
	}

	t, err := memoryless.NewTicker(ctx, memoryless.Config{
		Min:      interval / 2,
		Expected: interval,
		Max:      interval * 2,
	})
	if err != nil {
		return err
	}
	defer t.Stop()
	for sent := 1; sent < count; sent++ {
		select {
		case <-t.C:
		case <-ctx.Done():
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := round(); err != nil {
			return err
		}
	}
	return nil
}
