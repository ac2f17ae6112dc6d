// Package timeframe resolves report range parameters into UTC day-aligned
// time windows.
package timeframe

import (
	"fmt"
	"time"
)

// RangeLabel represents the available preset range options.
type RangeLabel string

const (
	RangeLabelToday      RangeLabel = "today"
	RangeLabelLast7Days  RangeLabel = "last_7_days"
	RangeLabelLast30Days RangeLabel = "last_30_days"
	RangeLabelCustom     RangeLabel = "custom"
)

const dateLayout = "2006-01-02"

// Range is a half-open window [Start, End) on whole UTC day boundaries.
type Range struct {
	Start time.Time
	End   time.Time
	Label RangeLabel
}

// Days returns the number of whole days the range spans.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start) / (24 * time.Hour))
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(r.Start) && t.Before(r.End)
}

// Parse resolves the query parameters of a report request into a Range.
// A preset label wins when present; otherwise startDate/endDate (inclusive,
// YYYY-MM-DD) define a custom range. With nothing provided, defaults to the
// last 7 days.
func Parse(label, startDate, endDate string, now time.Time) (Range, error) {
	today := truncateToDay(now.UTC())

	switch RangeLabel(label) {
	case RangeLabelToday:
		return Range{Start: today, End: today.AddDate(0, 0, 1), Label: RangeLabelToday}, nil
	case RangeLabelLast7Days:
		return Range{Start: today.AddDate(0, 0, -6), End: today.AddDate(0, 0, 1), Label: RangeLabelLast7Days}, nil
	case RangeLabelLast30Days:
		return Range{Start: today.AddDate(0, 0, -29), End: today.AddDate(0, 0, 1), Label: RangeLabelLast30Days}, nil
	case "":
		// fall through to custom dates below
	default:
		return Range{}, fmt.Errorf("unknown range label: %s", label)
	}

	if startDate == "" && endDate == "" {
		return Range{Start: today.AddDate(0, 0, -6), End: today.AddDate(0, 0, 1), Label: RangeLabelLast7Days}, nil
	}
	if startDate == "" || endDate == "" {
		return Range{}, fmt.Errorf("both startDate and endDate are required for a custom range")
	}

	start, err := time.ParseInLocation(dateLayout, startDate, time.UTC)
	if err != nil {
		return Range{}, fmt.Errorf("invalid startDate: %w", err)
	}
	end, err := time.ParseInLocation(dateLayout, endDate, time.UTC)
	if err != nil {
		return Range{}, fmt.Errorf("invalid endDate: %w", err)
	}
	if end.Before(start) {
		return Range{}, fmt.Errorf("endDate must not be before startDate")
	}

	// endDate is inclusive: the window extends to the start of the next day
	return Range{Start: start, End: end.AddDate(0, 0, 1), Label: RangeLabelCustom}, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
