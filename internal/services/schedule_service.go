package services

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindlogger/mindlogger-go/internal/models"
)

// ScheduleStore abstracts the persistence operations the schedule builder
// needs: event lookup and save, plus the atomic per-profile counter bump.
type ScheduleStore interface {
	GetEvent(id primitive.ObjectID) (*models.Event, error)
	ListEvents(appletID primitive.ObjectID, individualized bool, profileID *primitive.ObjectID) ([]*models.Event, error)
	ListAppletEvents(appletID primitive.ObjectID) ([]*models.Event, error)
	SaveEvent(ev *models.Event) (*models.Event, error)
	RemoveEvent(id primitive.ObjectID) error
	GetProfile(appletID, userID primitive.ObjectID) (*models.Profile, error)
	IncIndividualEvents(profileIDs []primitive.ObjectID, delta int) error
}

// SendPlanner plans and cancels the push deliveries attached to an event.
// Planning returns opaque scheduler handles the event keeps for later
// cancellation.
type SendPlanner interface {
	PlanEvent(ev *models.Event) ([]string, error)
	CancelEvent(eventID primitive.ObjectID) error
}

// EventUpsert is the inbound create/update payload for one event. The
// router validates it before it gets here: a present Users list is
// non-empty and the schedule names at most one recurrence variant.
type EventUpsert struct {
	Data     *models.EventData `json:"data"`
	Schedule *models.Schedule  `json:"schedule"`
}

// ScheduleEvent is one event as emitted inside a schedule view. The
// assignee list is always stripped before it gets here. Invalid marks an
// event filtered by the day filter; emitted events never carry the key.
type ScheduleEvent struct {
	ID       primitive.ObjectID `json:"id"`
	Data     models.EventData   `json:"data"`
	Schedule models.Schedule    `json:"schedule"`
	Invalid  bool               `json:"invalid,omitempty"`
}

// ScheduleView is the calendar-widget descriptor. The static layout flags
// are a boundary contract with the client and must not change.
type ScheduleView struct {
	Type          int              `json:"type"`
	Size          int              `json:"size"`
	Fill          bool             `json:"fill"`
	MinimumSize   int              `json:"minimumSize"`
	RepeatCovers  bool             `json:"repeatCovers"`
	ListTimes     bool             `json:"listTimes"`
	EventsOutside bool             `json:"eventsOutside"`
	UpdateRows    bool             `json:"updateRows"`
	UpdateColumns bool             `json:"updateColumns"`
	Around        int64            `json:"around"`
	Events        []*ScheduleEvent `json:"events"`
}

func newScheduleView(events []*ScheduleEvent) *ScheduleView {
	return &ScheduleView{
		Type:          2,
		Size:          1,
		Fill:          true,
		MinimumSize:   0,
		RepeatCovers:  true,
		ListTimes:     false,
		EventsOutside: true,
		UpdateRows:    true,
		UpdateColumns: false,
		Around:        1585724400000,
		Events:        events,
	}
}

// ScheduleService assembles schedule views and maintains events together
// with the per-subject individualized-event counters.
type ScheduleService struct {
	store   ScheduleStore
	planner SendPlanner
}

// NewScheduleService constructs a service bound to the provided store.
// planner may be nil when push planning is disabled.
func NewScheduleService(store ScheduleStore, planner SendPlanner) *ScheduleService {
	return &ScheduleService{store: store, planner: planner}
}

// GetEvents returns the events visible with the given scoping, with the
// assignee list stripped from each payload.
func (s *ScheduleService) GetEvents(appletID primitive.ObjectID, individualized bool, profileID *primitive.ObjectID) ([]*models.Event, error) {
	if !individualized {
		profileID = nil
	}
	events, err := s.store.ListEvents(appletID, individualized, profileID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Event, 0, len(events))
	for _, ev := range events {
		cp := *ev
		cp.Data.Users = nil
		out = append(out, &cp)
	}
	return out, nil
}

// GetSchedule returns the full calendar descriptor with every event of the
// applet, shared and individualized alike.
func (s *ScheduleService) GetSchedule(appletID primitive.ObjectID) (*ScheduleView, error) {
	events, err := s.store.ListAppletEvents(appletID)
	if err != nil {
		return nil, err
	}
	views := make([]*ScheduleEvent, 0, len(events))
	for _, ev := range events {
		views = append(views, &ScheduleEvent{ID: ev.ID, Data: ev.Data, Schedule: ev.Schedule})
	}
	return newScheduleView(views), nil
}

// GetScheduleForUser builds the calendar descriptor for one requesting user.
// Coordinators see every shared event; regular subjects see their
// individualized events when they have any, shared events otherwise. With a
// day filter only the events active on that date are returned.
func (s *ScheduleService) GetScheduleForUser(appletID, userID primitive.ObjectID, isCoordinator bool, dayFilter *time.Time) (*ScheduleView, error) {
	var events []*models.Event
	var err error
	if isCoordinator {
		events, err = s.GetEvents(appletID, false, nil)
	} else {
		profile, perr := s.store.GetProfile(appletID, userID)
		if perr != nil {
			return nil, perr
		}
		if profile == nil {
			return nil, NewNotFoundError("profile not found")
		}
		individualized := profile.IndividualEvents > 0
		events, err = s.GetEvents(appletID, individualized, &profile.ID)
	}
	if err != nil {
		return nil, err
	}

	views := make([]*ScheduleEvent, 0, len(events))
	for _, ev := range events {
		invalid := false
		if dayFilter != nil {
			invalid = !DateMatch(ev, *dayFilter)
		}
		if invalid {
			continue
		}
		views = append(views, &ScheduleEvent{ID: ev.ID, Data: ev.Data, Schedule: ev.Schedule})
	}
	return newScheduleView(views), nil
}

// UpsertEvent creates or replaces an event. Identity and existing scheduler
// handles survive updates; changes to the assigned-subject set adjust the
// affected subjects' individualized-event counters by the symmetric
// difference of old and new.
func (s *ScheduleService) UpsertEvent(appletID primitive.ObjectID, in EventUpsert, eventID *primitive.ObjectID) (*models.Event, error) {
	ev := &models.Event{
		AppletID:   appletID,
		Schedulers: []string{},
		SendTime:   []string{},
	}

	var existing *models.Event
	if eventID != nil {
		var err error
		existing, err = s.store.GetEvent(*eventID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			ev.ID = existing.ID
			ev.Schedulers = existing.Schedulers
		}
	}

	if in.Data != nil {
		ev.Data = *in.Data
		if in.Data.Users != nil {
			ev.Individualized = true
			if err := s.applyAssignmentDiff(existing, ev.Data.Users); err != nil {
				return nil, err
			}
		}
	}
	if in.Schedule != nil {
		ev.Schedule = *in.Schedule
	}

	saved, err := s.store.SaveEvent(ev)
	if err != nil {
		return nil, err
	}

	if s.planner != nil && wantsNotifications(saved) {
		handles, perr := s.planner.PlanEvent(saved)
		if perr != nil {
			return nil, perr
		}
		saved.Schedulers = handles
		if saved, err = s.store.SaveEvent(saved); err != nil {
			return nil, err
		}
	}
	return saved, nil
}

// DeleteEvent removes one event, cancelling its planned sends and releasing
// the assignees' counters when it was individualized.
func (s *ScheduleService) DeleteEvent(eventID primitive.ObjectID) error {
	ev, err := s.store.GetEvent(eventID)
	if err != nil {
		return err
	}
	if ev == nil {
		return nil
	}
	if ev.Individualized && len(ev.Data.Users) > 0 {
		if err := s.store.IncIndividualEvents(ev.Data.Users, -1); err != nil {
			return err
		}
	}
	if s.planner != nil {
		if err := s.planner.CancelEvent(eventID); err != nil {
			return err
		}
	}
	return s.store.RemoveEvent(eventID)
}

// DeleteAppletEvents removes every event of an applet.
func (s *ScheduleService) DeleteAppletEvents(appletID primitive.ObjectID) error {
	events, err := s.store.ListAppletEvents(appletID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := s.DeleteEvent(ev.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScheduleService) applyAssignmentDiff(existing *models.Event, newUsers []primitive.ObjectID) error {
	var oldUsers []primitive.ObjectID
	if existing != nil {
		oldUsers = existing.Data.Users
	}
	removed, added := diffAssignees(oldUsers, newUsers)
	if len(removed) > 0 {
		if err := s.store.IncIndividualEvents(removed, -1); err != nil {
			return err
		}
	}
	if len(added) > 0 {
		if err := s.store.IncIndividualEvents(added, 1); err != nil {
			return err
		}
	}
	return nil
}

// diffAssignees computes the symmetric difference of two assignee sets.
func diffAssignees(old, new []primitive.ObjectID) (removed, added []primitive.ObjectID) {
	oldSet := make(map[primitive.ObjectID]struct{}, len(old))
	for _, id := range old {
		oldSet[id] = struct{}{}
	}
	newSet := make(map[primitive.ObjectID]struct{}, len(new))
	for _, id := range new {
		newSet[id] = struct{}{}
	}
	for _, id := range old {
		if _, ok := newSet[id]; !ok {
			removed = append(removed, id)
		}
	}
	for _, id := range new {
		if _, ok := oldSet[id]; !ok {
			added = append(added, id)
		}
	}
	return removed, added
}

func wantsNotifications(ev *models.Event) bool {
	return ev.Data.UseNotifications &&
		len(ev.Data.Notifications) > 0 &&
		ev.Data.Notifications[0].Start != ""
}
