package db

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mindlogger/mindlogger-go/internal/api"
	"github.com/mindlogger/mindlogger-go/internal/models"
)

const mongoTimeout = 10 * time.Second

// MongoStore backs the Store with one mongo database, one collection per
// document kind.
type MongoStore struct {
	events   *mongo.Collection
	profiles *mongo.Collection
	resps    *mongo.Collection
	sends    *mongo.Collection
}

var _ api.Store = (*MongoStore)(nil)

// NewMongoStore connects, pings and prepares the collections.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	db := client.Database(database)
	return &MongoStore{
		events:   db.Collection("events"),
		profiles: db.Collection("profiles"),
		resps:    db.Collection("responses"),
		sends:    db.Collection("planned_sends"),
	}, nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), mongoTimeout)
}

func (s *MongoStore) GetEvent(id primitive.ObjectID) (*models.Event, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var ev models.Event
	err := s.events.FindOne(ctx, bson.M{"_id": id}).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *MongoStore) ListEvents(appletID primitive.ObjectID, individualized bool, profileID *primitive.ObjectID) ([]*models.Event, error) {
	filter := bson.M{"applet_id": appletID, "individualized": individualized}
	if profileID != nil {
		filter["data.users"] = *profileID
	}
	return s.findEvents(filter)
}

func (s *MongoStore) ListAppletEvents(appletID primitive.ObjectID) ([]*models.Event, error) {
	return s.findEvents(bson.M{"applet_id": appletID})
}

func (s *MongoStore) findEvents(filter bson.M) ([]*models.Event, error) {
	ctx, cancel := opCtx()
	defer cancel()
	cur, err := s.events.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := []*models.Event{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) SaveEvent(ev *models.Event) (*models.Event, error) {
	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	ctx, cancel := opCtx()
	defer cancel()
	_, err := s.events.ReplaceOne(ctx, bson.M{"_id": ev.ID}, ev, options.Replace().SetUpsert(true))
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *MongoStore) RemoveEvent(id primitive.ObjectID) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := s.events.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *MongoStore) GetProfile(appletID, userID primitive.ObjectID) (*models.Profile, error) {
	return s.findProfile(bson.M{"appletId": appletID, "userId": userID})
}

func (s *MongoStore) GetProfileByID(id primitive.ObjectID) (*models.Profile, error) {
	return s.findProfile(bson.M{"_id": id})
}

func (s *MongoStore) findProfile(filter bson.M) (*models.Profile, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var p models.Profile
	err := s.profiles.FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MongoStore) SaveProfile(p *models.Profile) (*models.Profile, error) {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	ctx, cancel := opCtx()
	defer cancel()
	_, err := s.profiles.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *MongoStore) IncIndividualEvents(profileIDs []primitive.ObjectID, delta int) error {
	if len(profileIDs) == 0 {
		return nil
	}
	ctx, cancel := opCtx()
	defer cancel()
	_, err := s.profiles.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": profileIDs}},
		bson.M{"$inc": bson.M{"individual_events": delta}})
	return err
}

func (s *MongoStore) AddResponse(rec *models.ResponseRecord) (*models.ResponseRecord, error) {
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	ctx, cancel := opCtx()
	defer cancel()
	if _, err := s.resps.InsertOne(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *MongoStore) ListResponses(appletID, activityID, subjectID primitive.ObjectID, start, end *time.Time) ([]*models.ResponseRecord, error) {
	filter := bson.M{"applet_id": appletID, "activity_id": activityID, "subject_id": subjectID}
	created := bson.M{}
	if start != nil {
		created["$gte"] = *start
	}
	if end != nil {
		created["$lt"] = *end
	}
	if len(created) > 0 {
		filter["created"] = created
	}
	return s.findResponses(filter, bson.D{{Key: "created", Value: 1}})
}

func (s *MongoStore) ListAppletResponses(appletID, subjectID primitive.ObjectID) ([]*models.ResponseRecord, error) {
	return s.findResponses(
		bson.M{"applet_id": appletID, "subject_id": subjectID},
		bson.D{{Key: "updated", Value: -1}})
}

func (s *MongoStore) ListActivityResponses(appletID, activityID, subjectID primitive.ObjectID) ([]*models.ResponseRecord, error) {
	return s.findResponses(
		bson.M{"applet_id": appletID, "activity_id": activityID, "subject_id": subjectID},
		bson.D{{Key: "updated", Value: -1}})
}

func (s *MongoStore) findResponses(filter bson.M, sort bson.D) ([]*models.ResponseRecord, error) {
	ctx, cancel := opCtx()
	defer cancel()
	cur, err := s.resps.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	out := []*models.ResponseRecord{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) SavePlannedSends(sends []*models.PlannedSend) error {
	ctx, cancel := opCtx()
	defer cancel()
	for _, send := range sends {
		_, err := s.sends.ReplaceOne(ctx, bson.M{"_id": send.ID}, send, options.Replace().SetUpsert(true))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *MongoStore) RemovePlannedSends(eventID primitive.ObjectID) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := s.sends.DeleteMany(ctx, bson.M{"event_id": eventID})
	return err
}

func (s *MongoStore) ListDueSends(now time.Time) ([]*models.PlannedSend, error) {
	ctx, cancel := opCtx()
	defer cancel()
	cur, err := s.sends.Find(ctx,
		bson.M{"sendTime": bson.M{"$lte": now}},
		options.Find().SetSort(bson.D{{Key: "sendTime", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := []*models.PlannedSend{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) RemoveSends(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := opCtx()
	defer cancel()
	_, err := s.sends.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}
