// Package retention purges stale agent progress records.
//
// Records are kept indefinitely by default. When a retention window is
// configured, the janitor runs on a cron schedule and removes every record
// whose lastSeenAt is older than the window. If an archiver is registered,
// expired records are archived first; archive failures are fail-safe and
// nothing is deleted in that cycle.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arachnid-agents/mission-control/internal/config"
	"github.com/arachnid-agents/mission-control/internal/store"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSchedule is used when no schedule is configured.
const DefaultSchedule = "@daily"

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Archiver stores expired records somewhere durable before they are purged.
type Archiver interface {
	Kind() string
	Archive(ctx context.Context, records []models.AgentProgressRecord) (string, error)
	HealthCheck(ctx context.Context) error
}

// CycleStats describes one retention sweep.
type CycleStats struct {
	CycleID     string
	Cutoff      time.Time
	Scanned     int
	Expired     int
	Archived    int
	Purged      int
	Refreshed   int
	ArchivePath string
	DryRun      bool
	Errors      []error
}

// Janitor sweeps expired agent records on a cron schedule.
type Janitor struct {
	store    store.Store
	days     int
	dryRun   bool
	schedule cronlib.Schedule
	expr     string
	archiver Archiver
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a janitor from cfg. archiver may be nil.
func NewJanitor(s store.Store, cfg config.RetentionConfig, archiver Archiver) (*Janitor, error) {
	expr := cfg.Schedule
	if expr == "" {
		expr = DefaultSchedule
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", expr, err)
	}
	return &Janitor{
		store:    s,
		days:     cfg.Days,
		dryRun:   cfg.DryRun,
		schedule: sched,
		expr:     expr,
		archiver: archiver,
		now:      time.Now,
	}, nil
}

// SetClock overrides the janitor's clock.
func (j *Janitor) SetClock(now func() time.Time) { j.now = now }

// Enabled reports whether a retention window is configured.
func (j *Janitor) Enabled() bool { return j.days > 0 }

// Next returns the next scheduled sweep after t.
func (j *Janitor) Next(t time.Time) time.Time { return j.schedule.Next(t) }

// Start runs one sweep immediately and then one per schedule tick, in a
// background goroutine, until ctx is canceled or Stop is called. It does
// nothing when retention is disabled.
func (j *Janitor) Start(ctx context.Context) {
	if !j.Enabled() {
		log.Info().Msg("🗄️  Retention disabled, agent records are kept indefinitely")
		return
	}
	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go j.loop(ctx)

	archiver := "none"
	if j.archiver != nil {
		archiver = j.archiver.Kind()
	}
	log.Info().
		Int("days", j.days).
		Str("schedule", j.expr).
		Str("archiver", archiver).
		Bool("dry_run", j.dryRun).
		Msg("🧹 Retention janitor started")
}

// Stop cancels the loop and waits for it to exit.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	j.runLogged(ctx)
	for {
		now := j.now()
		timer := time.NewTimer(j.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Retention janitor stopped")
			return
		case <-timer.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Janitor) runLogged(ctx context.Context) {
	start := time.Now()
	stats, err := j.RunCycle(ctx)
	if err != nil {
		log.Warn().Err(err).Str("cycle", stats.CycleID).Msg("Retention cycle failed")
		return
	}
	for _, e := range stats.Errors {
		log.Warn().Err(e).Str("cycle", stats.CycleID).Msg("Retention cycle error")
	}
	if stats.Expired > 0 {
		log.Info().
			Str("cycle", stats.CycleID).
			Int("scanned", stats.Scanned).
			Int("expired", stats.Expired).
			Int("archived", stats.Archived).
			Int("purged", stats.Purged).
			Int("refreshed", stats.Refreshed).
			Bool("dry_run", stats.DryRun).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
}

// RunCycle performs one sweep. A disabled janitor returns empty stats.
// Each expired record is reloaded right before deletion; one whose agent
// was seen in the meantime is counted as Refreshed and kept. It may
// already be in the cycle's archive.
func (j *Janitor) RunCycle(ctx context.Context) (CycleStats, error) {
	stats := CycleStats{CycleID: uuid.NewString(), DryRun: j.dryRun}
	if !j.Enabled() {
		return stats, nil
	}
	stats.Cutoff = j.now().AddDate(0, 0, -j.days)

	recs, err := j.store.ListByPrefix(ctx, store.KeyPrefix)
	if err != nil {
		return stats, fmt.Errorf("list agents: %w", err)
	}
	stats.Scanned = len(recs)

	var expired []models.AgentProgressRecord
	for _, rec := range recs {
		if Expired(rec, stats.Cutoff) {
			expired = append(expired, rec)
		}
	}
	stats.Expired = len(expired)
	if len(expired) == 0 || j.dryRun {
		return stats, nil
	}

	if j.archiver != nil {
		path, err := j.archiver.Archive(ctx, expired)
		if err != nil {
			return stats, fmt.Errorf("archive expired agents (nothing purged): %w", err)
		}
		stats.Archived = len(expired)
		stats.ArchivePath = path
	}

	for _, rec := range expired {
		// An agent seen since the listing keeps its record.
		cur, err := j.store.Get(ctx, rec.Token)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("reload %s: %w", rec.Token, err))
			continue
		}
		if cur == nil {
			continue
		}
		if !Expired(*cur, stats.Cutoff) {
			stats.Refreshed++
			continue
		}
		if err := j.store.Delete(ctx, rec.Token); err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("delete %s: %w", rec.Token, err))
			continue
		}
		stats.Purged++
	}
	return stats, nil
}

// Expired reports whether rec was last seen before cutoff. A record with no
// lastSeenAt falls back to updatedAt, then createdAt.
func Expired(rec models.AgentProgressRecord, cutoff time.Time) bool {
	seen := rec.LastSeenAt
	if seen.IsZero() {
		seen = rec.UpdatedAt
	}
	if seen.IsZero() {
		seen = rec.CreatedAt
	}
	if seen.IsZero() {
		return false
	}
	return seen.Before(cutoff)
}
