package api

import (
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindlogger/mindlogger-go/internal/models"
)

// memoryStore keeps every collection in process memory. It backs tests and
// the dev store mode; the persistent implementations live in internal/db.
type memoryStore struct {
	mu        sync.RWMutex
	events    map[primitive.ObjectID]*models.Event
	profiles  map[primitive.ObjectID]*models.Profile
	responses []*models.ResponseRecord
	sends     map[string]*models.PlannedSend
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		events:   map[primitive.ObjectID]*models.Event{},
		profiles: map[primitive.ObjectID]*models.Profile{},
		sends:    map[string]*models.PlannedSend{},
	}
}

func (s *memoryStore) GetEvent(id primitive.ObjectID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ev, ok := s.events[id]; ok {
		cp := *ev
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) ListEvents(appletID primitive.ObjectID, individualized bool, profileID *primitive.ObjectID) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Event{}
	for _, ev := range s.events {
		if ev.AppletID != appletID || ev.Individualized != individualized {
			continue
		}
		if profileID != nil && !assignedTo(ev, *profileID) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sortEvents(out)
	return out, nil
}

func (s *memoryStore) ListAppletEvents(appletID primitive.ObjectID) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Event{}
	for _, ev := range s.events {
		if ev.AppletID == appletID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *memoryStore) SaveEvent(ev *models.Event) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	cp := *ev
	s.events[ev.ID] = &cp
	return ev, nil
}

func (s *memoryStore) RemoveEvent(id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, id)
	return nil
}

func (s *memoryStore) GetProfile(appletID, userID primitive.ObjectID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.AppletID == appletID && p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) GetProfileByID(id primitive.ObjectID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) SaveProfile(p *models.Profile) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	cp := *p
	s.profiles[p.ID] = &cp
	return p, nil
}

func (s *memoryStore) IncIndividualEvents(profileIDs []primitive.ObjectID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range profileIDs {
		if p, ok := s.profiles[id]; ok {
			p.IndividualEvents += delta
		}
	}
	return nil
}

func (s *memoryStore) AddResponse(rec *models.ResponseRecord) (*models.ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	cp := *rec
	s.responses = append(s.responses, &cp)
	return rec, nil
}

func (s *memoryStore) ListResponses(appletID, activityID, subjectID primitive.ObjectID, start, end *time.Time) ([]*models.ResponseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.ResponseRecord{}
	for _, rec := range s.responses {
		if rec.AppletID != appletID || rec.ActivityID != activityID || rec.SubjectID != subjectID {
			continue
		}
		if start != nil && rec.Created.Before(*start) {
			continue
		}
		if end != nil && !rec.Created.Before(*end) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

func (s *memoryStore) ListAppletResponses(appletID, subjectID primitive.ObjectID) ([]*models.ResponseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.ResponseRecord{}
	for _, rec := range s.responses {
		if rec.AppletID == appletID && rec.SubjectID == subjectID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	return out, nil
}

func (s *memoryStore) ListActivityResponses(appletID, activityID, subjectID primitive.ObjectID) ([]*models.ResponseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.ResponseRecord{}
	for _, rec := range s.responses {
		if rec.AppletID == appletID && rec.ActivityID == activityID && rec.SubjectID == subjectID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	return out, nil
}

func (s *memoryStore) SavePlannedSends(sends []*models.PlannedSend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, send := range sends {
		cp := *send
		s.sends[send.ID] = &cp
	}
	return nil
}

func (s *memoryStore) RemovePlannedSends(eventID primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, send := range s.sends {
		if send.EventID == eventID {
			delete(s.sends, id)
		}
	}
	return nil
}

func (s *memoryStore) ListDueSends(now time.Time) ([]*models.PlannedSend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.PlannedSend{}
	for _, send := range s.sends {
		if !send.SendAt.After(now) {
			cp := *send
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	return out, nil
}

func (s *memoryStore) RemoveSends(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.sends, id)
	}
	return nil
}

func assignedTo(ev *models.Event, profileID primitive.ObjectID) bool {
	for _, id := range ev.Data.Users {
		if id == profileID {
			return true
		}
	}
	return false
}

// sortEvents keeps listings stable across map iteration.
func sortEvents(events []*models.Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].ID.Hex() < events[j].ID.Hex() })
}
