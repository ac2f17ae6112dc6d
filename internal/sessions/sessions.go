// Package sessions stores raw visitor sessions: the short-lived, per-visit
// rows the ingestion endpoint writes and the aggregation job later rolls up
// and deletes. A raw session carries a visitor id and per-visit metrics;
// everything that survives aggregation is dimensional only.
package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// VisitorSession is a raw session row awaiting aggregation.
// Dimension fields are immutable after creation; metric fields are updated
// in place as the client reports activity for the same session id.
type VisitorSession struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"uniqueIndex;size:64;not null"`
	VisitorID string `gorm:"index;size:64;not null"`

	// Dimensions, fixed at session creation
	Country          string `gorm:"size:64;not null"`
	DeviceType       string `gorm:"size:32;not null"`
	Browser          string `gorm:"size:64;not null"`
	BrowserVersion   string `gorm:"size:32"`
	OS               string `gorm:"size:64;not null"`
	OSVersion        string `gorm:"size:32"`
	Referrer         string `gorm:"size:255"`
	ReferrerCategory string `gorm:"size:32;not null"`
	EntryPage        string `gorm:"size:512"`

	// Metrics, updated on subsequent reports for the same session
	ExitPage        string `gorm:"size:512"`
	PageViews       int    `gorm:"not null;default:1"`
	SessionDuration int    `gorm:"not null;default:0"` // seconds
	IsBounce        bool   `gorm:"not null;default:true"`

	LastActivity time.Time `gorm:"not null"`
	CreatedAt    time.Time `gorm:"index;not null"`
}

// TrackInput carries one ingest payload. Dimension fields apply only when
// the session is created; pointer metric fields distinguish "not provided"
// from zero values so updates only touch what the client sent.
type TrackInput struct {
	SessionID string
	VisitorID string

	Country          string
	DeviceType       string
	Browser          string
	BrowserVersion   string
	OS               string
	OSVersion        string
	Referrer         string
	ReferrerCategory string
	EntryPage        string

	ExitPage        string
	PageViews       *int
	SessionDuration *int
	IsBounce        *bool

	Timestamp time.Time
}

// Track inserts a new session or updates the metrics of an existing one,
// keyed by SessionID. It reports created=true when a new row was inserted.
// Dimension fields of an existing session are never modified; the client is
// authoritative for its own metric values, so later reports win.
func Track(dbManager cartridge.DBManager, logger *slog.Logger, input *TrackInput) (bool, error) {
	if input.SessionID == "" {
		return false, fmt.Errorf("session id is required")
	}

	now := input.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	db := dbManager.GetConnection()

	updated, err := updateExisting(logger, db, input, now)
	if err != nil {
		return false, err
	}
	if updated {
		return false, nil
	}

	session := newSessionFromInput(input, now)
	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(session).Error
	})
	if err != nil {
		// A concurrent insert for the same session id can slip in between
		// the update attempt and ours; fall back to updating that row.
		if isUniqueConstraintError(err) {
			updated, retryErr := updateExisting(logger, db, input, now)
			if retryErr != nil {
				return false, retryErr
			}
			if updated {
				return false, nil
			}
		}
		logger.Error("Failed to store visitor session",
			slog.String("session_id", input.SessionID),
			slog.Any("error", err))
		return false, fmt.Errorf("failed to store visitor session: %w", err)
	}

	return true, nil
}

// updateExisting applies the provided metric fields to the session row for
// input.SessionID in a single conditional UPDATE. Reports whether a row
// matched.
func updateExisting(logger *slog.Logger, db *gorm.DB, input *TrackInput, now time.Time) (bool, error) {
	changes := map[string]interface{}{
		"last_activity": now,
	}
	if input.ExitPage != "" {
		changes["exit_page"] = input.ExitPage
	}
	if input.PageViews != nil {
		changes["page_views"] = *input.PageViews
	}
	if input.SessionDuration != nil {
		changes["session_duration"] = *input.SessionDuration
	}
	if input.IsBounce != nil {
		changes["is_bounce"] = *input.IsBounce
	}

	var matched int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&VisitorSession{}).
			Where("session_id = ?", input.SessionID).
			Updates(changes)
		matched = result.RowsAffected
		return result.Error
	})
	if err != nil {
		logger.Error("Failed to update visitor session",
			slog.String("session_id", input.SessionID),
			slog.Any("error", err))
		return false, fmt.Errorf("failed to update visitor session: %w", err)
	}
	return matched > 0, nil
}

func newSessionFromInput(input *TrackInput, now time.Time) *VisitorSession {
	session := &VisitorSession{
		SessionID:        input.SessionID,
		VisitorID:        input.VisitorID,
		Country:          orUnknown(input.Country),
		DeviceType:       orUnknown(input.DeviceType),
		Browser:          orUnknown(input.Browser),
		BrowserVersion:   input.BrowserVersion,
		OS:               orUnknown(input.OS),
		OSVersion:        input.OSVersion,
		Referrer:         input.Referrer,
		ReferrerCategory: orUnknown(input.ReferrerCategory),
		EntryPage:        input.EntryPage,
		ExitPage:         input.ExitPage,
		PageViews:        1,
		IsBounce:         true,
		LastActivity:     now,
		CreatedAt:        now,
	}
	if input.PageViews != nil {
		session.PageViews = *input.PageViews
	}
	if input.SessionDuration != nil {
		session.SessionDuration = *input.SessionDuration
	}
	if input.IsBounce != nil {
		session.IsBounce = *input.IsBounce
	}
	return session
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func isUniqueConstraintError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// FindBySessionID returns the raw session for a session id, or
// gorm.ErrRecordNotFound.
func FindBySessionID(db *gorm.DB, sessionID string) (*VisitorSession, error) {
	var session VisitorSession
	if err := db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// PendingAggregation returns the raw sessions older than the cutoff, the set
// the next aggregation run will roll up and delete. Ordered by creation time
// so groups form deterministically.
func PendingAggregation(db *gorm.DB, cutoff time.Time) ([]VisitorSession, error) {
	var pending []VisitorSession
	err := db.Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Find(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending sessions: %w", err)
	}
	return pending, nil
}

// CountPendingAggregation counts raw sessions older than the cutoff.
func CountPendingAggregation(db *gorm.DB, cutoff time.Time) (int64, error) {
	var count int64
	err := db.Model(&VisitorSession{}).
		Where("created_at < ?", cutoff).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending sessions: %w", err)
	}
	return count, nil
}

// RecentTail returns every raw session created within the range: the not yet
// aggregated tail that reports merge with aggregated stats. A row still in
// this table has never been folded into stats, so rows left behind by a
// lagging or failed rollup belong in the tail too.
func RecentTail(db *gorm.DB, rangeStart, rangeEnd time.Time) ([]VisitorSession, error) {
	var tail []VisitorSession
	err := db.Where("created_at >= ? AND created_at < ?", rangeStart, rangeEnd).
		Order("created_at ASC").
		Find(&tail).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent sessions: %w", err)
	}
	return tail, nil
}

// CountRecent counts raw sessions at or after the cutoff.
func CountRecent(db *gorm.DB, cutoff time.Time) (int64, error) {
	var count int64
	err := db.Model(&VisitorSession{}).
		Where("created_at >= ?", cutoff).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count recent sessions: %w", err)
	}
	return count, nil
}

// DeleteByIDs removes raw session rows inside the caller's transaction.
// Used by the aggregation job after a group's stats have been persisted.
func DeleteByIDs(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("id IN ?", ids).Delete(&VisitorSession{}).Error; err != nil {
		return fmt.Errorf("failed to delete aggregated sessions: %w", err)
	}
	return nil
}
