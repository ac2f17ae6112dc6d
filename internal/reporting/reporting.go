// Package reporting builds the merged analytics report served by the
// privileged API: aggregated stats for the bulk of the range plus the raw
// session tail that has not been rolled up yet.
//
// Visitor counts are additive across hourly buckets and between the two
// sources: the raw tail contributes the size of its distinct visitor set,
// but that set is not deduplicated against the aggregated buckets — the
// per-visitor identity needed for that is destroyed by the rollup on
// purpose. The visitors number is an upper bound, not a distinct count.
package reporting

import (
	"math"
	"sort"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"visitly/internal/sessions"
	"visitly/internal/stats"
	"visitly/internal/timeframe"
)

// topCountriesLimit caps the country breakdown; other breakdowns are small
// closed sets and stay uncapped.
const topCountriesLimit = 10

// Summary holds the range totals.
type Summary struct {
	Sessions           int     `json:"totalSessions"`
	Visitors           int     `json:"totalVisitors"`
	PageViews          int     `json:"totalPageViews"`
	BounceRate         float64 `json:"bounceRate"`         // percentage, 2 decimals
	AvgSessionDuration int     `json:"avgSessionDuration"` // seconds, floored
}

// BreakdownEntry is one row of a dimensional breakdown.
type BreakdownEntry struct {
	Name     string `json:"name"`
	Sessions int    `json:"sessions"`
}

// Report is the full response payload of the reporting endpoint.
type Report struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"` // inclusive

	Summary   Summary          `json:"summary"`
	Countries []BreakdownEntry `json:"topCountries"`
	Devices   []BreakdownEntry `json:"deviceTypes"`
	Browsers  []BreakdownEntry `json:"browsers"`
	OSes      []BreakdownEntry `json:"operatingSystems"`
	Referrers []BreakdownEntry `json:"referrerSources"`
}

// accumulator merges aggregated rows and raw sessions into one running total.
type accumulator struct {
	sessions      int
	visitors      int
	pageViews     int
	bounces       int
	weightedTotal float64 // sum of sessions * avg duration

	// Distinct visitor ids seen in the raw tail. Repeat sessions from one
	// visitor inside the tail count that visitor once.
	tailVisitors map[string]struct{}

	countries map[string]int
	devices   map[string]int
	browsers  map[string]int
	oses      map[string]int
	referrers map[string]int
}

func newAccumulator() *accumulator {
	return &accumulator{
		tailVisitors: make(map[string]struct{}),
		countries:    make(map[string]int),
		devices:      make(map[string]int),
		browsers:     make(map[string]int),
		oses:         make(map[string]int),
		referrers:    make(map[string]int),
	}
}

func (a *accumulator) addStat(row stats.AggregatedStat) {
	a.sessions += row.Sessions
	a.visitors += row.Visitors
	a.pageViews += row.PageViews
	a.bounces += row.Bounces
	a.weightedTotal += row.AvgSessionDuration * float64(row.Sessions)

	a.countries[row.Country] += row.Sessions
	a.devices[row.DeviceType] += row.Sessions
	a.browsers[row.Browser] += row.Sessions
	a.oses[row.OS] += row.Sessions
	a.referrers[row.ReferrerCategory] += row.Sessions
}

func (a *accumulator) addSession(s sessions.VisitorSession) {
	a.sessions++
	a.tailVisitors[s.VisitorID] = struct{}{}
	a.pageViews += s.PageViews
	if s.IsBounce {
		a.bounces++
	}
	a.weightedTotal += float64(s.SessionDuration)

	a.countries[s.Country]++
	a.devices[s.DeviceType]++
	a.browsers[s.Browser]++
	a.oses[s.OS]++
	a.referrers[s.ReferrerCategory]++
}

// BuildReport assembles the report for a range: aggregated stats rows plus
// every raw session created within the range. A raw row still present has
// never been folded into stats (deletion happens only after a successful
// upsert), so counting the full tail cannot double count a session even
// while a rollup is overdue.
func BuildReport(db *gorm.DB, rng timeframe.Range) (*Report, error) {
	statRows, err := stats.InRange(db, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	tail, err := sessions.RecentTail(db, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}

	acc := newAccumulator()
	for _, row := range statRows {
		acc.addStat(row)
	}
	for _, s := range tail {
		acc.addSession(s)
	}

	summary := Summary{
		Sessions:  acc.sessions,
		Visitors:  acc.visitors + len(acc.tailVisitors),
		PageViews: acc.pageViews,
	}
	if acc.sessions > 0 {
		rate := float64(acc.bounces) / float64(acc.sessions) * 100
		summary.BounceRate = math.Round(rate*100) / 100
		summary.AvgSessionDuration = int(acc.weightedTotal / float64(acc.sessions))
	}

	return &Report{
		StartDate: rng.Start.Format("2006-01-02"),
		EndDate:   rng.End.AddDate(0, 0, -1).Format("2006-01-02"),
		Summary:   summary,
		Countries: topN(convertCountryNames(acc.countries), topCountriesLimit),
		Devices:   toBreakdown(acc.devices),
		Browsers:  toBreakdown(acc.browsers),
		OSes:      toBreakdown(acc.oses),
		Referrers: toBreakdown(acc.referrers),
	}, nil
}

// convertCountryNames maps ISO alpha codes to common country names, keeping
// Unknown as-is and upper-casing codes gountries cannot resolve.
func convertCountryNames(counts map[string]int) []BreakdownEntry {
	caser := cases.Upper(language.AmericanEnglish)
	countries := gountries.New()

	entries := make([]BreakdownEntry, 0, len(counts))
	for code, count := range counts {
		name := code
		if code != "Unknown" {
			if country, err := countries.FindCountryByAlpha(code); err == nil {
				name = country.Name.Common
			} else {
				name = caser.String(code)
			}
		}
		entries = append(entries, BreakdownEntry{Name: name, Sessions: count})
	}
	sortBreakdown(entries)
	return entries
}

func toBreakdown(counts map[string]int) []BreakdownEntry {
	entries := make([]BreakdownEntry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, BreakdownEntry{Name: name, Sessions: count})
	}
	sortBreakdown(entries)
	return entries
}

// sortBreakdown orders by session count descending, ties by name ascending
// so responses are deterministic.
func sortBreakdown(entries []BreakdownEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Sessions != entries[j].Sessions {
			return entries[i].Sessions > entries[j].Sessions
		}
		return entries[i].Name < entries[j].Name
	})
}

func topN(entries []BreakdownEntry, n int) []BreakdownEntry {
	if len(entries) > n {
		return entries[:n]
	}
	return entries
}
