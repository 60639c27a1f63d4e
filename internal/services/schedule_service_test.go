package services

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindlogger/mindlogger-go/internal/models"
)

type stubScheduleStore struct {
	events   map[primitive.ObjectID]*models.Event
	profiles []*models.Profile
	incs     map[primitive.ObjectID]int
	removed  []primitive.ObjectID
}

func newStubScheduleStore() *stubScheduleStore {
	return &stubScheduleStore{
		events: map[primitive.ObjectID]*models.Event{},
		incs:   map[primitive.ObjectID]int{},
	}
}

func (s *stubScheduleStore) GetEvent(id primitive.ObjectID) (*models.Event, error) {
	if ev, ok := s.events[id]; ok {
		cp := *ev
		return &cp, nil
	}
	return nil, nil
}

func (s *stubScheduleStore) ListEvents(appletID primitive.ObjectID, individualized bool, profileID *primitive.ObjectID) ([]*models.Event, error) {
	out := []*models.Event{}
	for _, ev := range s.events {
		if ev.AppletID != appletID || ev.Individualized != individualized {
			continue
		}
		if profileID != nil && !containsID(ev.Data.Users, *profileID) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubScheduleStore) ListAppletEvents(appletID primitive.ObjectID) ([]*models.Event, error) {
	out := []*models.Event{}
	for _, ev := range s.events {
		if ev.AppletID == appletID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubScheduleStore) SaveEvent(ev *models.Event) (*models.Event, error) {
	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	cp := *ev
	s.events[ev.ID] = &cp
	return ev, nil
}

func (s *stubScheduleStore) RemoveEvent(id primitive.ObjectID) error {
	delete(s.events, id)
	s.removed = append(s.removed, id)
	return nil
}

func (s *stubScheduleStore) GetProfile(appletID, userID primitive.ObjectID) (*models.Profile, error) {
	for _, p := range s.profiles {
		if p.AppletID == appletID && p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubScheduleStore) IncIndividualEvents(ids []primitive.ObjectID, delta int) error {
	for _, id := range ids {
		s.incs[id] += delta
	}
	return nil
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type stubPlanner struct {
	planned   []primitive.ObjectID
	cancelled []primitive.ObjectID
}

func (p *stubPlanner) PlanEvent(ev *models.Event) ([]string, error) {
	p.planned = append(p.planned, ev.ID)
	return []string{"sched-" + ev.ID.Hex()}, nil
}

func (p *stubPlanner) CancelEvent(id primitive.ObjectID) error {
	p.cancelled = append(p.cancelled, id)
	return nil
}

func TestUpsertAssignmentCounters(t *testing.T) {
	store := newStubScheduleStore()
	svc := NewScheduleService(store, nil)
	appletID := primitive.NewObjectID()
	a, b, c := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()

	ev, err := svc.UpsertEvent(appletID, EventUpsert{
		Data: &models.EventData{Users: []primitive.ObjectID{a, b}},
	}, nil)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if !ev.Individualized {
		t.Fatalf("event with a users list must be individualized")
	}
	if store.incs[a] != 1 || store.incs[b] != 1 {
		t.Fatalf("expected both initial assignees incremented, got %v", store.incs)
	}

	if _, err := svc.UpsertEvent(appletID, EventUpsert{
		Data: &models.EventData{Users: []primitive.ObjectID{b, c}},
	}, &ev.ID); err != nil {
		t.Fatalf("update event: %v", err)
	}
	if store.incs[a] != 0 {
		t.Fatalf("removed assignee must be decremented exactly once, got %d", store.incs[a])
	}
	if store.incs[b] != 1 {
		t.Fatalf("retained assignee must be untouched, got %d", store.incs[b])
	}
	if store.incs[c] != 1 {
		t.Fatalf("added assignee must be incremented exactly once, got %d", store.incs[c])
	}
}

func TestUpsertPreservesIdentityAndSchedulers(t *testing.T) {
	store := newStubScheduleStore()
	planner := &stubPlanner{}
	svc := NewScheduleService(store, planner)
	appletID := primitive.NewObjectID()

	ev, err := svc.UpsertEvent(appletID, EventUpsert{
		Data: &models.EventData{
			UseNotifications: true,
			Notifications:    []models.NotificationWindow{{Start: "09:00"}},
		},
		Schedule: &models.Schedule{Start: msAt(day(2024, time.January, 1))},
	}, nil)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if len(ev.Schedulers) != 1 {
		t.Fatalf("expected one scheduler handle, got %v", ev.Schedulers)
	}

	updated, err := svc.UpsertEvent(appletID, EventUpsert{
		Schedule: &models.Schedule{Start: msAt(day(2024, time.February, 1))},
	}, &ev.ID)
	if err != nil {
		t.Fatalf("update event: %v", err)
	}
	if updated.ID != ev.ID {
		t.Fatalf("upsert must preserve event identity")
	}
	if len(updated.Schedulers) != 1 {
		t.Fatalf("upsert must preserve scheduler handles, got %v", updated.Schedulers)
	}
}

func TestGetScheduleForUserStripsAssignees(t *testing.T) {
	store := newStubScheduleStore()
	svc := NewScheduleService(store, nil)
	appletID := primitive.NewObjectID()
	userID := primitive.NewObjectID()
	profileID := primitive.NewObjectID()
	store.profiles = append(store.profiles, &models.Profile{
		ID: profileID, AppletID: appletID, UserID: userID, IndividualEvents: 1,
	})
	store.events[primitive.NewObjectID()] = &models.Event{
		ID:             primitive.NewObjectID(),
		AppletID:       appletID,
		Individualized: true,
		Data:           models.EventData{Users: []primitive.ObjectID{profileID}},
		Schedule:       models.Schedule{},
	}

	view, err := svc.GetScheduleForUser(appletID, userID, false, nil)
	if err != nil {
		t.Fatalf("GetScheduleForUser: %v", err)
	}
	if len(view.Events) != 1 {
		t.Fatalf("expected 1 individualized event, got %d", len(view.Events))
	}
	if view.Events[0].Data.Users != nil {
		t.Fatalf("assignee list must be stripped from emitted events")
	}
}

func TestGetScheduleForUserSharedFallback(t *testing.T) {
	store := newStubScheduleStore()
	svc := NewScheduleService(store, nil)
	appletID := primitive.NewObjectID()
	userID := primitive.NewObjectID()
	store.profiles = append(store.profiles, &models.Profile{
		ID: primitive.NewObjectID(), AppletID: appletID, UserID: userID,
	})
	shared := &models.Event{ID: primitive.NewObjectID(), AppletID: appletID}
	store.events[shared.ID] = shared

	view, err := svc.GetScheduleForUser(appletID, userID, false, nil)
	if err != nil {
		t.Fatalf("GetScheduleForUser: %v", err)
	}
	if len(view.Events) != 1 {
		t.Fatalf("subject without individualized events must see shared events, got %d", len(view.Events))
	}
}

func TestScheduleViewShape(t *testing.T) {
	view := newScheduleView(nil)
	if view.Type != 2 || view.Size != 1 || !view.Fill || view.MinimumSize != 0 ||
		!view.RepeatCovers || view.ListTimes || !view.EventsOutside ||
		!view.UpdateRows || view.UpdateColumns || view.Around != 1585724400000 {
		t.Fatalf("calendar descriptor layout flags changed: %+v", view)
	}
}

func TestDayFilterOutsideAllEvents(t *testing.T) {
	store := newStubScheduleStore()
	svc := NewScheduleService(store, nil)
	appletID := primitive.NewObjectID()
	store.events[primitive.NewObjectID()] = &models.Event{
		ID:       primitive.NewObjectID(),
		AppletID: appletID,
		Schedule: models.Schedule{
			Year:       []int{2024},
			Month:      []int{0},
			DayOfMonth: []int{10},
		},
	}

	outside := day(2030, time.June, 1)
	view, err := svc.GetScheduleForUser(appletID, primitive.NewObjectID(), true, &outside)
	if err != nil {
		t.Fatalf("GetScheduleForUser: %v", err)
	}
	if len(view.Events) != 0 {
		t.Fatalf("day filter outside every valid range must yield no events, got %d", len(view.Events))
	}
}

func TestDeleteEventReleasesAssignees(t *testing.T) {
	store := newStubScheduleStore()
	planner := &stubPlanner{}
	svc := NewScheduleService(store, planner)
	appletID := primitive.NewObjectID()
	subject := primitive.NewObjectID()
	ev := &models.Event{
		ID:             primitive.NewObjectID(),
		AppletID:       appletID,
		Individualized: true,
		Data:           models.EventData{Users: []primitive.ObjectID{subject}},
	}
	store.events[ev.ID] = ev

	if err := svc.DeleteEvent(ev.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if store.incs[subject] != -1 {
		t.Fatalf("deleting an individualized event must decrement its assignees, got %d", store.incs[subject])
	}
	if len(planner.cancelled) != 1 || planner.cancelled[0] != ev.ID {
		t.Fatalf("deleting an event must cancel its planned sends")
	}
	if len(store.removed) != 1 {
		t.Fatalf("event must be removed from the store")
	}
}
