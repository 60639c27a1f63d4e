package services

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindlogger/mindlogger-go/internal/models"
)

// AggregateStore is the single read the aggregator needs: the subject's
// response records inside a half-open time window, created ascending. A nil
// start means an unbounded lower edge.
type AggregateStore interface {
	ListResponses(appletID, activityID, subjectID primitive.ObjectID, start, end *time.Time) ([]*models.ResponseRecord, error)
}

// AggregateKey scopes one aggregation run.
type AggregateKey struct {
	AppletID   primitive.ObjectID
	ActivityID primitive.ObjectID
	SubjectID  primitive.ObjectID
}

// TimedValue is one recorded value with its record's updated timestamp.
type TimedValue struct {
	Value any       `json:"value"`
	Date  time.Time `json:"date"`
}

// AggregateResult is the per-item time series for one activity and window.
// Derived and ephemeral; never persisted.
type AggregateResult struct {
	StartDate   time.Time               `json:"schema:startDate"`
	EndDate     time.Time               `json:"schema:endDate"`
	Duration    string                  `json:"schema:duration"`
	Responses   map[string][]TimedValue `json:"responses"`
	DataSources map[string]any          `json:"dataSources"`
}

// AggregateService rolls time-series survey responses up into per-item
// series.
type AggregateService struct {
	store AggregateStore
	now   func() time.Time
}

// NewAggregateService constructs an aggregator bound to the provided store.
func NewAggregateService(store AggregateStore) *AggregateService {
	return &AggregateService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Aggregate builds the per-item series for one applet/activity/subject
// window. An empty window is an expected outcome and yields (nil, nil):
// asynchronous writes can legitimately leave a window momentarily empty.
func (s *AggregateService) Aggregate(key AggregateKey, startDate, endDate *time.Time) (*AggregateResult, error) {
	end := s.now().UTC()
	if endDate != nil {
		end = endDate.UTC()
	}
	var start *time.Time
	if startDate != nil {
		t := startDate.UTC()
		start = &t
	}

	records, err := s.store.ListResponses(key.AppletID, key.ActivityID, key.SubjectID, start, &end)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	if start == nil {
		earliest := end
		for _, rec := range records {
			updated := rec.Updated
			if updated.IsZero() {
				updated = end
			}
			if updated.Before(earliest) {
				earliest = updated
			}
		}
		start = &earliest
	}

	result := &AggregateResult{
		StartDate:   *start,
		EndDate:     end,
		Duration:    FormatISODuration(end.Sub(*start)),
		Responses:   map[string][]TimedValue{},
		DataSources: map[string]any{},
	}

	for _, item := range responseItems(records) {
		series := make([]TimedValue, 0, len(records))
		for _, rec := range records {
			if value, ok := rec.Responses[item]; ok {
				series = append(series, TimedValue{Value: value, Date: rec.Updated})
			}
		}
		result.Responses[item] = series
	}

	for _, rec := range records {
		if rec.DataSource != nil {
			result.DataSources[rec.ID.Hex()] = rec.DataSource
		}
	}
	return result, nil
}

// responseItems collects every item identifier referenced across the
// records, in first-seen order.
func responseItems(records []*models.ResponseRecord) []string {
	seen := map[string]struct{}{}
	items := []string{}
	for _, rec := range records {
		for item := range rec.Responses {
			if _, ok := seen[item]; !ok {
				seen[item] = struct{}{}
				items = append(items, item)
			}
		}
	}
	return items
}
