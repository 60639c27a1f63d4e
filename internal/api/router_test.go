package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newTestServer(t *testing.T) (*httptest.Server, Store) {
	t.Helper()
	store := NewMemoryStore()
	mux := http.NewServeMux()
	NewRouter(store, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func putEvent(t *testing.T, srv *httptest.Server, appletID primitive.ObjectID, body string) *http.Response {
	t.Helper()
	url := fmt.Sprintf("%s/api/applets/%s/events", srv.URL, appletID.Hex())
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("put event: %v", err)
	}
	return resp
}

func TestUpsertEventRejectsEmptyAssignees(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := putEvent(t, srv, primitive.NewObjectID(),
		`{"data":{"users":[]},"schedule":{"start":1704067200000}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty assignee list, got %d", resp.StatusCode)
	}
}

func TestUpsertEventRejectsAmbiguousSchedule(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := putEvent(t, srv, primitive.NewObjectID(),
		`{"data":{"title":"checkup"},"schedule":{"dayOfMonth":[15],"dayOfWeek":[3],"year":[2024],"month":[2]}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for two schedule variants, got %d", resp.StatusCode)
	}
}

func TestUpsertEventAcceptsSingleVariant(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := putEvent(t, srv, primitive.NewObjectID(),
		`{"data":{"title":"checkup"},"schedule":{"dayOfWeek":[3],"start":1704067200000}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for valid upsert, got %d", resp.StatusCode)
	}
	var ev struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ev.ID == "" {
		t.Fatalf("expected event id in response")
	}
}

func TestScheduleWireShapeOmitsInternalKeys(t *testing.T) {
	srv, _ := newTestServer(t)
	appletID := primitive.NewObjectID()
	resp := putEvent(t, srv, appletID,
		`{"data":{"title":"daily mood"},"schedule":{"start":1704067200000}}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	res, err := srv.Client().Get(fmt.Sprintf("%s/api/applets/%s/schedule", srv.URL, appletID.Hex()))
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	defer res.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(res.Body); err != nil {
		t.Fatalf("read schedule: %v", err)
	}
	body := buf.String()
	if strings.Contains(body, `"invalid"`) {
		t.Fatalf("schedule events must not carry the invalid key: %s", body)
	}
	if strings.Contains(body, `"activity_id"`) {
		t.Fatalf("unset activity id must be omitted: %s", body)
	}
}
