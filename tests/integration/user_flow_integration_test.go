package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindlogger/mindlogger-go/internal/api"
	"github.com/mindlogger/mindlogger-go/internal/middleware"
	"github.com/mindlogger/mindlogger-go/internal/models"
	"github.com/mindlogger/mindlogger-go/internal/notify"
)

// TestScheduleAndReportFlow drives the full subject journey in-process:
// an event is scheduled on an applet, the subject sees it in their schedule
// view, responds over several days and reads back the trailing-week report.
func TestScheduleAndReportFlow(t *testing.T) {
	store := api.NewMemoryStore()
	planner := notify.NewPlanner(store)

	mux := http.NewServeMux()
	api.NewRouter(store, planner).Register(mux)
	srv := httptest.NewServer(middleware.SecureHeaders(middleware.CORS(middleware.WithAuth(mux))))
	defer srv.Close()
	client := srv.Client()

	appletID := primitive.NewObjectID()
	userID := primitive.NewObjectID()
	activityID := primitive.NewObjectID()

	profile, err := store.SaveProfile(&models.Profile{
		AppletID: appletID,
		UserID:   userID,
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("save profile: %v", err)
	}

	// Upsert a daily event with a long open window.
	start := time.Now().UTC().AddDate(0, 0, -30).UnixMilli()
	var event struct {
		ID string `json:"id"`
	}
	doJSON(t, client, http.MethodPut,
		fmt.Sprintf("%s/api/applets/%s/events", srv.URL, appletID.Hex()),
		map[string]any{
			"data":     map[string]any{"title": "Daily mood", "activity_id": activityID.Hex()},
			"schedule": map[string]any{"start": start},
		}, &event)
	if event.ID == "" {
		t.Fatalf("expected event id in upsert response")
	}

	// The subject has no individualized events, so the shared schedule
	// applies and today's day filter keeps the daily event.
	var view struct {
		Type   int              `json:"type"`
		Events []map[string]any `json:"events"`
	}
	day := time.Now().UTC().Format("2006-01-02")
	doJSON(t, client, http.MethodGet,
		fmt.Sprintf("%s/api/applets/%s/schedule/user?user=%s&day=%s", srv.URL, appletID.Hex(), userID.Hex(), day),
		nil, &view)
	if view.Type != 2 {
		t.Fatalf("expected calendar descriptor type 2, got %d", view.Type)
	}
	if len(view.Events) != 1 {
		t.Fatalf("expected 1 active event, got %d", len(view.Events))
	}

	// Respond on three distinct days.
	for i := 3; i >= 1; i-- {
		at := time.Now().UTC().AddDate(0, 0, -i)
		_, err := store.AddResponse(&models.ResponseRecord{
			AppletID:   appletID,
			ActivityID: activityID,
			SubjectID:  profile.ID,
			Created:    at,
			Updated:    at,
			Responses:  map[string]any{"mood": 4 - i},
		})
		if err != nil {
			t.Fatalf("add response: %v", err)
		}
	}
	completed := time.Now().UTC().AddDate(0, 0, -1)
	profile.CompletedActivities = []models.CompletedActivity{
		{ActivityID: activityID, CompletedTime: &completed},
	}
	if _, err := store.SaveProfile(profile); err != nil {
		t.Fatalf("update profile: %v", err)
	}

	var report struct {
		StartDate string                      `json:"schema:startDate"`
		EndDate   string                      `json:"schema:endDate"`
		Duration  string                      `json:"schema:duration"`
		Responses map[string][]map[string]any `json:"responses"`
	}
	doJSON(t, client, http.MethodGet,
		fmt.Sprintf("%s/api/applets/%s/responses/last7Days?user=%s", srv.URL, appletID.Hex(), userID.Hex()),
		nil, &report)
	if report.Duration != "P7D" {
		t.Fatalf("expected P7D window, got %q", report.Duration)
	}
	series, ok := report.Responses["mood"]
	if !ok {
		t.Fatalf("expected mood series in report, got %v", report.Responses)
	}
	// Dense series: one entry per day of the window.
	if len(series) != 7 {
		t.Fatalf("expected 7 daily entries, got %d", len(series))
	}

	var dates struct {
		Dates []string `json:"dates"`
	}
	doJSON(t, client, http.MethodGet,
		fmt.Sprintf("%s/api/applets/%s/responses/dates?user=%s", srv.URL, appletID.Hex(), userID.Hex()),
		nil, &dates)
	if len(dates.Dates) != 3 {
		t.Fatalf("expected 3 response dates, got %v", dates.Dates)
	}

	var latest struct {
		LastResponse string `json:"lastResponse"`
	}
	doJSON(t, client, http.MethodGet,
		fmt.Sprintf("%s/api/applets/%s/activities/%s/latest?user=%s", srv.URL, appletID.Hex(), activityID.Hex(), userID.Hex()),
		nil, &latest)
	if latest.LastResponse == "" {
		t.Fatalf("expected a latest response timestamp")
	}

	// Deleting the applet's events empties the schedule.
	doJSON(t, client, http.MethodDelete,
		fmt.Sprintf("%s/api/applets/%s/events", srv.URL, appletID.Hex()), nil, nil)
	var after struct {
		Events []map[string]any `json:"events"`
	}
	doJSON(t, client, http.MethodGet,
		fmt.Sprintf("%s/api/applets/%s/schedule", srv.URL, appletID.Hex()), nil, &after)
	if len(after.Events) != 0 {
		t.Fatalf("expected empty schedule after delete, got %d events", len(after.Events))
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body, out any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s %s: status %d", method, url, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}
