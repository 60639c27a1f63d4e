package services

import (
	"encoding/json"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/blake2b"

	"github.com/mindlogger/mindlogger-go/internal/models"
)

// ResponseHistoryStore abstracts the response reads the history service
// needs. Both listings come back ordered by updated descending.
type ResponseHistoryStore interface {
	ListAppletResponses(appletID, subjectID primitive.ObjectID) ([]*models.ResponseRecord, error)
	ListActivityResponses(appletID, activityID, subjectID primitive.ObjectID) ([]*models.ResponseRecord, error)
}

// ResponseHistoryService answers "when did this subject respond" style
// questions and merges raw responses into daily report rows.
type ResponseHistoryService struct {
	store ResponseHistoryStore
}

// NewResponseHistoryService constructs a service bound to the provided
// store.
func NewResponseHistoryService(store ResponseHistoryStore) *ResponseHistoryService {
	return &ResponseHistoryService{store: store}
}

// ResponseDates returns the distinct calendar dates (ISO strings, newest
// first) on which the subject completed any response for the applet. The
// completion timestamp is preferred, falling back to updated; records with
// neither are skipped rather than failing the listing.
func (s *ResponseHistoryService) ResponseDates(appletID, subjectID primitive.ObjectID) ([]string, error) {
	records, err := s.store.ListAppletResponses(appletID, subjectID)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, rec := range records {
		at := rec.Updated
		if rec.ResponseCompleted != nil {
			at = *rec.ResponseCompleted
		}
		if at.IsZero() {
			continue
		}
		seen[at.UTC().Format(civilDate)] = struct{}{}
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// LatestResponse returns the subject's most recent response for one
// activity, or nil when there is none.
func (s *ResponseHistoryService) LatestResponse(appletID, activityID, subjectID primitive.ObjectID) (*models.ResponseRecord, error) {
	records, err := s.store.ListActivityResponses(appletID, activityID, subjectID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// LatestResponseTime formats the most recent response's updated timestamp
// as ISO-8601 in the given zone. Nil location means UTC. Absence of a
// usable timestamp yields an empty string, never an error: this is a
// decorative field.
func (s *ResponseHistoryService) LatestResponseTime(appletID, activityID, subjectID primitive.ObjectID, loc *time.Location) (string, error) {
	rec, err := s.LatestResponse(appletID, activityID, subjectID)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.Updated.IsZero() {
		return "", nil
	}
	if loc == nil {
		loc = time.UTC
	}
	return rec.Updated.In(loc).Format(time.RFC3339), nil
}

// ActivitySummary maps each of the subject's completed activities to its
// last completion time in the given zone, the shape the mobile client's
// applet overview expects.
func (s *ResponseHistoryService) ActivitySummary(profile *models.Profile, loc *time.Location) map[string]map[string]any {
	if loc == nil {
		loc = time.UTC
	}
	out := map[string]map[string]any{}
	for _, activity := range profile.CompletedActivities {
		var last any
		if activity.CompletedTime != nil {
			last = activity.CompletedTime.In(loc).Format(time.RFC3339)
		}
		out["activity/"+activity.ActivityID.Hex()] = map[string]any{"lastResponse": last}
	}
	return out
}

// DailySource is one data-source blob registered under a public-key index.
type DailySource struct {
	Key  int `json:"key"`
	Data any `json:"data"`
}

// DailyMergedReport accumulates per-item daily values across activities,
// with data sources keyed by record id and deduplicated public keys.
type DailyMergedReport struct {
	Responses   map[string][]DatedValue `json:"responses"`
	DataSources map[string]DailySource  `json:"dataSources"`
	Keys        []any                   `json:"keys"`
}

// NewDailyMergedReport returns an empty accumulator.
func NewDailyMergedReport() *DailyMergedReport {
	return &DailyMergedReport{
		Responses:   map[string][]DatedValue{},
		DataSources: map[string]DailySource{},
		Keys:        []any{},
	}
}

// MergeLatestDaily folds raw responses into the report keeping only the
// first seen response per activity per calendar day; callers pass records
// ordered by updated descending so that the latest one wins. Values landing
// on a day that already has an entry for the item are appended to it.
func (s *ResponseHistoryService) MergeLatestDaily(report *DailyMergedReport, records []*models.ResponseRecord) {
	visited := map[primitive.ObjectID]map[string]struct{}{}
	keyIndex := map[string]int{}

	for _, rec := range records {
		day := rec.Updated.UTC().Format(civilDate)
		if visited[rec.ActivityID] == nil {
			visited[rec.ActivityID] = map[string]struct{}{}
		} else if _, done := visited[rec.ActivityID][day]; done {
			continue
		}
		visited[rec.ActivityID][day] = struct{}{}

		for item, value := range rec.Responses {
			series := report.Responses[item]
			merged := false
			for i := range series {
				if series[i].Date != day {
					continue
				}
				series[i].Value = appendValues(series[i].Value, value)
				merged = true
				break
			}
			if merged {
				continue
			}
			report.Responses[item] = append(series, DatedValue{Date: day, Value: value})

			id := rec.ID.Hex()
			if _, have := report.DataSources[id]; !have && rec.DataSource != nil {
				report.DataSources[id] = DailySource{
					Key:  s.registerKey(report, keyIndex, rec.UserPublicKey),
					Data: rec.DataSource,
				}
			}
		}
	}
}

// registerKey deduplicates user public keys by fingerprint and returns the
// key's index in the report.
func (s *ResponseHistoryService) registerKey(report *DailyMergedReport, index map[string]int, publicKey any) int {
	fp := keyFingerprint(publicKey)
	if idx, ok := index[fp]; ok {
		return idx
	}
	idx := len(report.Keys)
	index[fp] = idx
	report.Keys = append(report.Keys, publicKey)
	return idx
}

// keyFingerprint derives a stable identity for an arbitrary public-key
// blob.
func keyFingerprint(publicKey any) string {
	raw, err := json.Marshal(publicKey)
	if err != nil {
		raw = []byte("null")
	}
	sum := blake2b.Sum256(raw)
	return string(sum[:])
}

// appendValues flattens both sides into one list, preserving order.
func appendValues(existing, incoming any) any {
	out, ok := existing.([]any)
	if !ok {
		out = []any{existing}
	}
	if add, ok := incoming.([]any); ok {
		return append(out, add...)
	}
	return append(out, incoming)
}
