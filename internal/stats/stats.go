// Package stats stores hourly aggregated visitor statistics: the anonymous,
// dimensional rows that survive after raw sessions are rolled up and
// deleted. Rows are only ever inserted or merged into, never removed by the
// rollup itself.
package stats

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Key is the composite dimensional key identifying one stats row: an hour
// bucket plus the session dimensions.
type Key struct {
	Date             string // YYYY-MM-DD, UTC
	Hour             int    // 0-23
	Country          string
	DeviceType       string
	Browser          string
	OS               string
	ReferrerCategory string
}

// AggregatedStat is one dimensional bucket of merged session metrics.
// AvgSessionDuration is kept as a float so repeated merges stay
// count-weighted without accumulating integer truncation error.
type AggregatedStat struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	Date             string `gorm:"index:idx_stat_key,unique;size:10;not null"`
	Hour             int    `gorm:"index:idx_stat_key,unique;not null"`
	Country          string `gorm:"index:idx_stat_key,unique;size:64;not null"`
	DeviceType       string `gorm:"index:idx_stat_key,unique;size:32;not null"`
	Browser          string `gorm:"index:idx_stat_key,unique;size:64;not null"`
	OS               string `gorm:"index:idx_stat_key,unique;size:64;not null"`
	ReferrerCategory string `gorm:"index:idx_stat_key,unique;size:32;not null"`

	Sessions           int     `gorm:"not null"`
	Visitors           int     `gorm:"not null"`
	PageViews          int     `gorm:"not null"`
	Bounces            int     `gorm:"not null"`
	AvgSessionDuration float64 `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GroupMetrics holds the metrics of one rollup group about to be merged.
type GroupMetrics struct {
	Sessions           int
	Visitors           int
	PageViews          int
	Bounces            int
	AvgSessionDuration float64
}

// KeyOf derives the dimensional key of a stats row for a session created at
// the given time. The hour bucket always comes from UTC.
func KeyOf(createdAt time.Time, country, deviceType, browser, os, referrerCategory string) Key {
	utc := createdAt.UTC()
	return Key{
		Date:             utc.Format("2006-01-02"),
		Hour:             utc.Hour(),
		Country:          country,
		DeviceType:       deviceType,
		Browser:          browser,
		OS:               os,
		ReferrerCategory: referrerCategory,
	}
}

// MergeGroup upserts one group's metrics into the stats table inside the
// caller's transaction. Counters add; the average session duration merges
// count-weighted, never as a naive mean of the two averages. Reports
// whether a new row was inserted.
func MergeGroup(tx *gorm.DB, key Key, metrics GroupMetrics) (bool, error) {
	var existing AggregatedStat
	err := tx.Where(
		"date = ? AND hour = ? AND country = ? AND device_type = ? AND browser = ? AND os = ? AND referrer_category = ?",
		key.Date, key.Hour, key.Country, key.DeviceType, key.Browser, key.OS, key.ReferrerCategory,
	).First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		stat := AggregatedStat{
			Date:               key.Date,
			Hour:               key.Hour,
			Country:            key.Country,
			DeviceType:         key.DeviceType,
			Browser:            key.Browser,
			OS:                 key.OS,
			ReferrerCategory:   key.ReferrerCategory,
			Sessions:           metrics.Sessions,
			Visitors:           metrics.Visitors,
			PageViews:          metrics.PageViews,
			Bounces:            metrics.Bounces,
			AvgSessionDuration: metrics.AvgSessionDuration,
		}
		if err := tx.Create(&stat).Error; err != nil {
			return false, fmt.Errorf("failed to insert stats row: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up stats row: %w", err)
	}

	merged := WeightedAverage(
		existing.AvgSessionDuration, existing.Sessions,
		metrics.AvgSessionDuration, metrics.Sessions,
	)

	changes := map[string]interface{}{
		"sessions":             existing.Sessions + metrics.Sessions,
		"visitors":             existing.Visitors + metrics.Visitors,
		"page_views":           existing.PageViews + metrics.PageViews,
		"bounces":              existing.Bounces + metrics.Bounces,
		"avg_session_duration": merged,
	}
	if err := tx.Model(&AggregatedStat{}).Where("id = ?", existing.ID).Updates(changes).Error; err != nil {
		return false, fmt.Errorf("failed to merge stats row: %w", err)
	}
	return false, nil
}

// WeightedAverage merges two averages by their sample counts.
func WeightedAverage(avgA float64, countA int, avgB float64, countB int) float64 {
	total := countA + countB
	if total == 0 {
		return 0
	}
	return (avgA*float64(countA) + avgB*float64(countB)) / float64(total)
}

// InRange returns the stats rows whose date falls inside [start, end), both
// interpreted as UTC instants on whole-day boundaries.
func InRange(db *gorm.DB, start, end time.Time) ([]AggregatedStat, error) {
	startDate := start.UTC().Format("2006-01-02")
	// end is exclusive, so the last included date is one day earlier
	endDate := end.UTC().Add(-24 * time.Hour).Format("2006-01-02")

	var rows []AggregatedStat
	err := db.Where("date >= ? AND date <= ?", startDate, endDate).
		Order("date ASC, hour ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load stats range: %w", err)
	}
	return rows, nil
}

// Count returns the total number of stats rows.
func Count(db *gorm.DB) (int64, error) {
	var count int64
	if err := db.Model(&AggregatedStat{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count stats rows: %w", err)
	}
	return count, nil
}

// DeleteOlderThan prunes stats rows with a date before the cutoff day.
// Only the opt-in retention job calls this; the rollup itself never deletes.
func DeleteOlderThan(db *gorm.DB, cutoff time.Time) (int64, error) {
	cutoffDate := cutoff.UTC().Format("2006-01-02")
	result := db.Where("date < ?", cutoffDate).Delete(&AggregatedStat{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune stats rows: %w", result.Error)
	}
	return result.RowsAffected, nil
}
