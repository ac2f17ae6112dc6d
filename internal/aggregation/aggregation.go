// Package aggregation rolls raw visitor sessions up into hourly dimensional
// stats and deletes the source rows, anonymizing the data set. A run groups
// every session older than the cutoff by its dimensional key, merges each
// group into the stats table and removes the group's raw rows in the same
// transaction, so a session is only ever deleted after its metrics are
// safely persisted.
package aggregation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"visitly/internal/sessions"
	"visitly/internal/stats"
)

// ErrAlreadyRunning is returned when a run is requested while another run
// is still in flight. Only one aggregation may execute at a time, otherwise
// the same raw sessions would be merged twice before deletion.
var ErrAlreadyRunning = errors.New("aggregation run already in progress")

// Result summarizes one aggregation run.
type Result struct {
	Aggregated int `json:"aggregated"` // raw sessions rolled up
	Inserted   int `json:"inserted"`   // new stats rows created
	Updated    int `json:"updated"`    // existing stats rows merged into
	Deleted    int `json:"deleted"`    // raw sessions removed
}

// Status describes the current pipeline state for the admin API.
type Status struct {
	PendingAggregation int64 `json:"pendingAggregation"`
	RecentSessions     int64 `json:"recentSessions"`
	TotalStatsRecords  int64 `json:"totalStatsRecords"`
}

// Aggregator executes rollup runs. The running flag enforces single-flight
// within this process; deployments running multiple server processes against
// one database need an external lease on top.
type Aggregator struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	cutoff    time.Duration

	mu      sync.Mutex
	running bool

	now func() time.Time // overridable for tests
}

// New creates an Aggregator. cutoff is the minimum age a raw session must
// reach before it is rolled up.
func New(dbManager cartridge.DBManager, logger *slog.Logger, cutoff time.Duration) *Aggregator {
	return &Aggregator{
		dbManager: dbManager,
		logger:    logger,
		cutoff:    cutoff,
		now:       time.Now,
	}
}

// SetNowFunc overrides the aggregator's clock; intended for tests.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	a.now = now
}

// group collects the raw sessions sharing one dimensional key.
type group struct {
	key      stats.Key
	ids      []uint
	visitors map[string]struct{}

	sessionCount  int
	pageViews     int
	bounces       int
	totalDuration int
}

// Run executes one aggregation pass. Returns ErrAlreadyRunning if another
// run is in flight. A group that fails to persist is logged and skipped; its
// raw sessions stay untouched and are retried on the next run.
func (a *Aggregator) Run() (*Result, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	started := a.now()
	cutoff := started.UTC().Add(-a.cutoff)
	db := a.dbManager.GetConnection()

	pending, err := sessions.PendingAggregation(db, cutoff)
	if err != nil {
		return nil, fmt.Errorf("aggregation failed to load pending sessions: %w", err)
	}
	if len(pending) == 0 {
		a.logger.Debug("Aggregation run found nothing to do")
		return &Result{}, nil
	}

	groups := groupSessions(pending)
	result := &Result{}
	failed := 0

	for _, g := range groups {
		metrics := stats.GroupMetrics{
			Sessions:           g.sessionCount,
			Visitors:           len(g.visitors),
			PageViews:          g.pageViews,
			Bounces:            g.bounces,
			AvgSessionDuration: float64(g.totalDuration) / float64(g.sessionCount),
		}

		var inserted bool
		err := sqlite.PerformWrite(a.logger, db, func(tx *gorm.DB) error {
			var mergeErr error
			inserted, mergeErr = stats.MergeGroup(tx, g.key, metrics)
			if mergeErr != nil {
				return mergeErr
			}
			// Delete only inside the same transaction as the merge: if the
			// delete fails the merge rolls back and nothing is lost.
			return sessions.DeleteByIDs(tx, g.ids)
		})
		if err != nil {
			failed++
			a.logger.Error("Failed to aggregate group, will retry next run",
				slog.String("date", g.key.Date),
				slog.Int("hour", g.key.Hour),
				slog.String("country", g.key.Country),
				slog.Any("error", err))
			continue
		}

		result.Aggregated += g.sessionCount
		result.Deleted += len(g.ids)
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	a.logger.Info("Aggregation run completed",
		slog.Int("aggregated", result.Aggregated),
		slog.Int("inserted", result.Inserted),
		slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted),
		slog.Int("failed_groups", failed),
		slog.Duration("took", time.Since(started)))

	return result, nil
}

// groupSessions buckets raw sessions by their dimensional key. Iterating the
// input in creation order keeps group contents deterministic.
func groupSessions(pending []sessions.VisitorSession) []*group {
	byKey := make(map[stats.Key]*group)
	var ordered []*group

	for _, s := range pending {
		key := stats.KeyOf(s.CreatedAt, s.Country, s.DeviceType, s.Browser, s.OS, s.ReferrerCategory)

		g, ok := byKey[key]
		if !ok {
			g = &group{key: key, visitors: make(map[string]struct{})}
			byKey[key] = g
			ordered = append(ordered, g)
		}

		g.ids = append(g.ids, s.ID)
		g.visitors[s.VisitorID] = struct{}{}
		g.sessionCount++
		g.pageViews += s.PageViews
		g.totalDuration += s.SessionDuration
		if s.IsBounce {
			g.bounces++
		}
	}

	return ordered
}

// Status reports the pipeline state: raw sessions awaiting rollup, the raw
// tail still inside the cutoff window, and the stats table size.
func (a *Aggregator) Status() (*Status, error) {
	cutoff := a.now().UTC().Add(-a.cutoff)
	db := a.dbManager.GetConnection()

	pending, err := sessions.CountPendingAggregation(db, cutoff)
	if err != nil {
		return nil, err
	}
	recent, err := sessions.CountRecent(db, cutoff)
	if err != nil {
		return nil, err
	}
	total, err := stats.Count(db)
	if err != nil {
		return nil, err
	}

	return &Status{
		PendingAggregation: pending,
		RecentSessions:     recent,
		TotalStatsRecords:  total,
	}, nil
}

// Cutoff returns the aggregator's configured session age threshold.
func (a *Aggregator) Cutoff() time.Duration {
	return a.cutoff
}

// CutoffTime returns the instant separating aggregatable sessions from the
// raw tail, as of now.
func (a *Aggregator) CutoffTime() time.Time {
	return a.now().UTC().Add(-a.cutoff)
}
