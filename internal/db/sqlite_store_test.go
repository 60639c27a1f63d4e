package db

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindlogger/mindlogger-go/internal/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	handle, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() })
	store, err := NewSQLiteStore(handle)
	require.NoError(t, err)
	return store
}

func TestSQLiteEventRoundTrip(t *testing.T) {
	store := openTestStore(t)
	appletID := primitive.NewObjectID()
	subject := primitive.NewObjectID()

	ev, err := store.SaveEvent(&models.Event{
		AppletID:       appletID,
		Individualized: true,
		Data: models.EventData{
			Title: "morning check-in",
			Users: []primitive.ObjectID{subject},
		},
		Schedule: models.Schedule{Times: []string{"09:00"}},
	})
	require.NoError(t, err)
	require.False(t, ev.ID.IsZero())

	got, err := store.GetEvent(ev.ID)
	require.NoError(t, err)
	require.Equal(t, "morning check-in", got.Data.Title)
	require.Equal(t, []string{"09:00"}, got.Schedule.Times)

	// Assignment filtering.
	assigned, err := store.ListEvents(appletID, true, &subject)
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	other := primitive.NewObjectID()
	unassigned, err := store.ListEvents(appletID, true, &other)
	require.NoError(t, err)
	require.Empty(t, unassigned)

	require.NoError(t, store.RemoveEvent(ev.ID))
	gone, err := store.GetEvent(ev.ID)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestSQLiteIncIndividualEvents(t *testing.T) {
	store := openTestStore(t)
	p, err := store.SaveProfile(&models.Profile{
		AppletID: primitive.NewObjectID(),
		UserID:   primitive.NewObjectID(),
	})
	require.NoError(t, err)

	require.NoError(t, store.IncIndividualEvents([]primitive.ObjectID{p.ID}, 2))
	require.NoError(t, store.IncIndividualEvents([]primitive.ObjectID{p.ID}, -1))
	// Unknown profiles are skipped, not an error.
	require.NoError(t, store.IncIndividualEvents([]primitive.ObjectID{primitive.NewObjectID()}, 1))

	got, err := store.GetProfileByID(p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.IndividualEvents)
}

func TestSQLiteListResponsesWindow(t *testing.T) {
	store := openTestStore(t)
	appletID := primitive.NewObjectID()
	activityID := primitive.NewObjectID()
	subjectID := primitive.NewObjectID()

	at := func(day int) time.Time {
		return time.Date(2024, 1, day, 12, 0, 0, 0, time.UTC)
	}
	for _, day := range []int{3, 1, 2} {
		_, err := store.AddResponse(&models.ResponseRecord{
			AppletID:   appletID,
			ActivityID: activityID,
			SubjectID:  subjectID,
			Created:    at(day),
			Updated:    at(day),
			Responses:  map[string]any{"mood": day},
		})
		require.NoError(t, err)
	}

	start, end := at(1), at(3)
	recs, err := store.ListResponses(appletID, activityID, subjectID, &start, &end)
	require.NoError(t, err)
	// Created ascending, end exclusive.
	require.Len(t, recs, 2)
	require.True(t, recs[0].Created.Equal(at(1)))
	require.True(t, recs[1].Created.Equal(at(2)))

	newest, err := store.ListAppletResponses(appletID, subjectID)
	require.NoError(t, err)
	require.Len(t, newest, 3)
	require.True(t, newest[0].Updated.Equal(at(3)))
}

func TestSQLitePlannedSends(t *testing.T) {
	store := openTestStore(t)
	eventID := primitive.NewObjectID()
	due := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.SavePlannedSends([]*models.PlannedSend{
		{ID: "a", EventID: eventID, SendAt: due},
		{ID: "b", EventID: eventID, SendAt: due.Add(48 * time.Hour)},
	}))

	sends, err := store.ListDueSends(due.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, sends, 1)
	require.Equal(t, "a", sends[0].ID)

	require.NoError(t, store.RemoveSends([]string{"a"}))
	require.NoError(t, store.RemovePlannedSends(eventID))
	sends, err = store.ListDueSends(due.Add(30 * 24 * time.Hour))
	require.NoError(t, err)
	require.Empty(t, sends)
}
