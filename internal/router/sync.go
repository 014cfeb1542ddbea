package router

import (
	"context"
	"fmt"
	"time"

	"github.com/wavecache/wavecache/internal/config"
	"github.com/wavecache/wavecache/pkg/types"
)

// SynchronizeTiers verifies that every tier holding an entry stores the
// same payload and repairs divergence. Checksums are compared across the
// holding tiers; on mismatch the copy with the most recent write wins and
// is pushed to the others. Tiers that fail to answer are reported in the
// notes and left untouched.
func (r *Router) SynchronizeTiers(ctx context.Context, key string, stores map[types.Tier]types.TierStore, state map[types.Tier]*types.TierPresence, timeouts config.TierTimeouts) types.SyncReport {
	report := types.SyncReport{Key: key}

	type holding struct {
		tier      types.Tier
		checksum  uint64
		writtenAt time.Time
	}

	var holders []holding
	for _, tier := range types.Tiers() {
		presence, ok := state[tier]
		if !ok || !presence.Present {
			continue
		}
		store, ok := stores[tier]
		if !ok {
			continue
		}

		opCtx, cancel := context.WithTimeout(ctx, timeouts.For(tier))
		sum, err := store.Checksum(opCtx, key)
		cancel()
		if err != nil {
			report.Notes = append(report.Notes,
				fmt.Sprintf("checksum unavailable on %s: %v", tier, err))
			continue
		}
		holders = append(holders, holding{tier: tier, checksum: sum, writtenAt: presence.WrittenAt})
	}

	if len(holders) < 2 {
		for _, h := range holders {
			report.TiersSynced = append(report.TiersSynced, h.tier)
		}
		return report
	}

	consistent := true
	for _, h := range holders[1:] {
		if h.checksum != holders[0].checksum {
			consistent = false
			break
		}
	}
	if consistent {
		for _, h := range holders {
			report.TiersSynced = append(report.TiersSynced, h.tier)
		}
		return report
	}

	// Divergence: the most recently written copy is authoritative.
	winner := holders[0]
	for _, h := range holders[1:] {
		if h.writtenAt.After(winner.writtenAt) {
			winner = h
		}
	}
	report.Resolution = fmt.Sprintf("most_recent_write_wins:%s", winner.tier)

	readCtx, cancel := context.WithTimeout(ctx, timeouts.For(winner.tier))
	payload, err := stores[winner.tier].Read(readCtx, key)
	cancel()
	if err != nil {
		report.Notes = append(report.Notes,
			fmt.Sprintf("failed to read winning copy from %s: %v", winner.tier, err))
		return report
	}

	for _, h := range holders {
		if h.tier == winner.tier || h.checksum == winner.checksum {
			report.TiersSynced = append(report.TiersSynced, h.tier)
			continue
		}
		report.Conflicts = append(report.Conflicts, h.tier)

		writeCtx, cancel := context.WithTimeout(ctx, timeouts.For(h.tier))
		err := stores[h.tier].Write(writeCtx, key, payload)
		cancel()
		if err != nil {
			report.Notes = append(report.Notes,
				fmt.Sprintf("failed to repair %s: %v", h.tier, err))
			continue
		}
		if presence, ok := state[h.tier]; ok {
			presence.WrittenAt = time.Now()
			presence.SizeOnTier = int64(len(payload))
		}
		report.TiersSynced = append(report.TiersSynced, h.tier)
	}

	r.logger.Warn().
		Str("key", key).
		Str("resolution", report.Resolution).
		Int("conflicts", len(report.Conflicts)).
		Msg("cross-tier divergence repaired")
	return report
}
