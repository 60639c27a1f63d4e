package api

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindlogger/mindlogger-go/internal/models"
)

// Store is the document-store collaborator behind the REST surface. Every
// method is a thin typed veneer over five collection primitives: find,
// findOne, save, removeWithQuery and an atomic field increment. Listings
// state their ordering; implementations must honor it.
type Store interface {
	// Events.
	GetEvent(id primitive.ObjectID) (*models.Event, error)
	// ListEvents filters by individualized flag and, when profileID is
	// set, by assignment to that profile.
	ListEvents(appletID primitive.ObjectID, individualized bool, profileID *primitive.ObjectID) ([]*models.Event, error)
	ListAppletEvents(appletID primitive.ObjectID) ([]*models.Event, error)
	SaveEvent(ev *models.Event) (*models.Event, error)
	RemoveEvent(id primitive.ObjectID) error

	// Profiles.
	GetProfile(appletID, userID primitive.ObjectID) (*models.Profile, error)
	GetProfileByID(id primitive.ObjectID) (*models.Profile, error)
	SaveProfile(p *models.Profile) (*models.Profile, error)
	// IncIndividualEvents atomically bumps the individualized-event counter
	// on every listed profile.
	IncIndividualEvents(profileIDs []primitive.ObjectID, delta int) error

	// Responses. ListResponses is ordered created ascending over the
	// half-open window [start, end); a nil start leaves the lower edge
	// open. The other two listings are ordered updated descending.
	AddResponse(rec *models.ResponseRecord) (*models.ResponseRecord, error)
	ListResponses(appletID, activityID, subjectID primitive.ObjectID, start, end *time.Time) ([]*models.ResponseRecord, error)
	ListAppletResponses(appletID, subjectID primitive.ObjectID) ([]*models.ResponseRecord, error)
	ListActivityResponses(appletID, activityID, subjectID primitive.ObjectID) ([]*models.ResponseRecord, error)

	// Planned push sends.
	SavePlannedSends(sends []*models.PlannedSend) error
	RemovePlannedSends(eventID primitive.ObjectID) error
	// ListDueSends returns sends with sendTime <= now, oldest first.
	ListDueSends(now time.Time) ([]*models.PlannedSend, error)
	RemoveSends(ids []string) error
}

var _ Store = (*memoryStore)(nil)
