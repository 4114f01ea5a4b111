// Package retention caps the operational data that has no natural TTL.
// Chat turns expire through the store itself (a MongoDB TTL index, or
// the in-memory store's eviction pass); analytics snapshots and idea
// batches do not, so a background janitor sweeps them: every channel
// keeps only its newest captures, and recommendation batches past
// their shelf life are purged.
//
// Sweeps are fail-safe: an error on one channel is logged and counted,
// never fatal to the cycle or the process.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/internal/store"
)

// DefaultInterval is how often the janitor sweeps.
const DefaultInterval = 6 * time.Hour

// DefaultKeepSnapshots is how many captures each channel retains.
const DefaultKeepSnapshots = 30

// DefaultRecommendationAge is how long idea batches stay retrievable.
const DefaultRecommendationAge = 90 * 24 * time.Hour

// CycleStats reports what one sweep removed.
type CycleStats struct {
	Channels              int
	SnapshotsPurged       int64
	RecommendationsPurged int64
	Errors                []error
}

// Janitor periodically prunes analytics snapshots and stale
// recommendation batches.
type Janitor struct {
	store         store.Store
	interval      time.Duration
	keepSnapshots int
	recAge        time.Duration
}

// New returns a janitor sweeping on the given interval. Out-of-range
// settings fall back to the defaults rather than erroring: retention
// must never be the reason the server refuses to start.
func New(s store.Store, interval time.Duration, keepSnapshots int, recAge time.Duration) *Janitor {
	if interval < time.Minute {
		interval = DefaultInterval
	}
	if keepSnapshots <= 0 {
		keepSnapshots = DefaultKeepSnapshots
	}
	if recAge <= 0 {
		recAge = DefaultRecommendationAge
	}
	return &Janitor{
		store:         s,
		interval:      interval,
		keepSnapshots: keepSnapshots,
		recAge:        recAge,
	}
}

// Start blocks, sweeping immediately and then on every tick, until ctx
// is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Int("keep_snapshots", j.keepSnapshots).
		Dur("recommendation_age", j.recAge).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep and reports what it removed.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	var stats CycleStats

	channels, err := j.store.SnapshotChannels(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Retention sweep skipped, channel listing failed")
		stats.Errors = append(stats.Errors, err)
		return stats
	}
	stats.Channels = len(channels)

	for _, channelID := range channels {
		removed, err := j.store.PruneSnapshots(ctx, channelID, j.keepSnapshots)
		if err != nil {
			log.Warn().Err(err).Str("channel", channelID).Msg("Snapshot prune failed")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.SnapshotsPurged += removed
	}

	cutoff := time.Now().UTC().Add(-j.recAge)
	removed, err := j.store.PruneRecommendations(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("Recommendation prune failed")
		stats.Errors = append(stats.Errors, err)
	} else {
		stats.RecommendationsPurged = removed
	}

	if stats.SnapshotsPurged > 0 || stats.RecommendationsPurged > 0 {
		log.Info().
			Int64("snapshots", stats.SnapshotsPurged).
			Int64("recommendations", stats.RecommendationsPurged).
			Int("channels", stats.Channels).
			Dur("elapsed", time.Since(start)).
			Msg("Retention sweep complete")
	}
	return stats
}
