package services

import (
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindlogger/mindlogger-go/internal/models"
)

const civilDate = "2006-01-02"

// ReportStore resolves the requesting subject's profile, which carries the
// list of activities they have completed.
type ReportStore interface {
	GetProfile(appletID, userID primitive.ObjectID) (*models.Profile, error)
}

// Aggregator is the window aggregation the reporter runs once per activity.
type Aggregator interface {
	Aggregate(key AggregateKey, startDate, endDate *time.Time) (*AggregateResult, error)
}

// DatedValue is one value pinned to a plain calendar date.
type DatedValue struct {
	Value any    `json:"value"`
	Date  string `json:"date"`
}

// WeeklyReport is the trailing-seven-day rollup sent to reporting clients.
type WeeklyReport struct {
	StartDate   string                  `json:"schema:startDate"`
	EndDate     string                  `json:"schema:endDate"`
	Duration    string                  `json:"schema:duration"`
	Responses   map[string][]DatedValue `json:"responses"`
	DataSources map[string]any          `json:"dataSources"`
}

// ReportService specializes the aggregator to a trailing 7-day window.
type ReportService struct {
	store ReportStore
	agg   Aggregator
	now   func() time.Time
}

// NewReportService constructs a reporter over the given profile store and
// aggregator.
func NewReportService(store ReportStore, agg Aggregator) *ReportService {
	return &ReportService{
		store: store,
		agg:   agg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Last7Days merges one aggregate per completed activity over the window
// [referenceDate-7d, referenceDate), collapses each item's series to one
// entry per calendar day (latest recording wins), fills missing days with
// empty placeholders and keeps only the data sources the final series still
// reference.
//
// Merging assumes item identifiers are not shared across activities; a
// collision keeps the later activity's series, matching historical
// behavior.
func (s *ReportService) Last7Days(appletID, userID primitive.ObjectID, referenceDate *time.Time) (*WeeklyReport, error) {
	ref := startOfTomorrow(s.now())
	if referenceDate != nil {
		ref = referenceDate.UTC()
	}
	windowStart := ref.AddDate(0, 0, -7)

	profile, err := s.store.GetProfile(appletID, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, NewNotFoundError("profile not found")
	}

	merged := map[string][]TimedValue{}
	sources := map[string]any{}
	for _, activity := range profile.CompletedActivities {
		key := AggregateKey{
			AppletID:   profile.AppletID,
			ActivityID: activity.ActivityID,
			SubjectID:  profile.ID,
		}
		agg, err := s.agg.Aggregate(key, &windowStart, &ref)
		if err != nil {
			return nil, err
		}
		if agg == nil {
			continue
		}
		for item, series := range agg.Responses {
			merged[item] = series
		}
		for id, src := range agg.DataSources {
			sources[id] = src
		}
	}

	endDate := dayOf(ref)
	startDate := endDate.AddDate(0, 0, -7)

	report := &WeeklyReport{
		StartDate:   startDate.Format(civilDate),
		EndDate:     endDate.Format(civilDate),
		Duration:    FormatISODuration(endDate.Sub(startDate)),
		Responses:   map[string][]DatedValue{},
		DataSources: map[string]any{},
	}

	for item, series := range merged {
		report.Responses[item] = oneResponsePerDate(series)
	}
	fillMissingDates(report.Responses, startDate, endDate)

	for _, series := range report.Responses {
		for _, dv := range series {
			if id, ok := sourceRef(dv.Value); ok {
				if src, have := sources[id]; have {
					report.DataSources[id] = src
				}
			}
		}
	}
	return report, nil
}

// oneResponsePerDate collapses a series to a single entry per calendar day.
// The most recently recorded value for a day wins; ties keep the earlier
// entry. Output is ordered by date ascending.
func oneResponsePerDate(series []TimedValue) []DatedValue {
	best := map[string]TimedValue{}
	for _, tv := range series {
		day := tv.Date.UTC().Format(civilDate)
		cur, ok := best[day]
		if !ok || tv.Date.After(cur.Date) {
			best[day] = tv
		}
	}
	days := make([]string, 0, len(best))
	for day := range best {
		days = append(days, day)
	}
	sort.Strings(days)
	out := make([]DatedValue, 0, len(days))
	for _, day := range days {
		out = append(out, DatedValue{Value: best[day].Value, Date: day})
	}
	return out
}

// fillMissingDates inserts an empty placeholder for every window day an
// item has no entry for, so the client always sees a dense series.
func fillMissingDates(responses map[string][]DatedValue, from, to time.Time) {
	days := int(to.Sub(from).Hours() / 24)
	for item, series := range responses {
		present := map[string]struct{}{}
		for _, dv := range series {
			present[dv.Date] = struct{}{}
		}
		for n := 0; n < days; n++ {
			day := to.AddDate(0, 0, -n).Format(civilDate)
			if _, ok := present[day]; !ok {
				series = append(series, DatedValue{Value: []any{}, Date: day})
			}
		}
		sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
		responses[item] = series
	}
}

// sourceRef extracts the data-source record id a response value points at,
// when it carries one.
func sourceRef(value any) (string, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return "", false
	}
	src, ok := m["src"]
	if !ok || src == nil {
		return "", false
	}
	if id, ok := src.(primitive.ObjectID); ok {
		return id.Hex(), true
	}
	return fmt.Sprint(src), true
}

// startOfTomorrow returns midnight after the given instant, so "today" is
// always inside a trailing window anchored there.
func startOfTomorrow(now time.Time) time.Time {
	return dayOf(now.UTC()).AddDate(0, 0, 1)
}
