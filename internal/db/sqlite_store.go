package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindlogger/mindlogger-go/internal/api"
	"github.com/mindlogger/mindlogger-go/internal/models"
)

// tsLayout is fixed-width so that lexical ordering of the column equals
// chronological ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is the embedded single-node Store: documents are stored as
// extended-JSON rows and filtered via a few indexed columns.
type SQLiteStore struct {
	db *sql.DB
}

var _ api.Store = (*SQLiteStore)(nil)

// NewSQLiteStore applies the pragmas and schema and wraps the handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func encodeDoc(v any) (string, error) {
	raw, err := bson.MarshalExtJSON(v, false, false)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(raw), nil
}

func decodeDoc[T any](raw string) (*T, error) {
	var v T
	if err := bson.UnmarshalExtJSON([]byte(raw), false, &v); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &v, nil
}

func ts(t time.Time) string { return t.UTC().Format(tsLayout) }

func (s *SQLiteStore) GetEvent(id primitive.ObjectID) (*models.Event, error) {
	var raw string
	err := s.db.QueryRow(`SELECT doc FROM events WHERE id = ?`, id.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc[models.Event](raw)
}

func (s *SQLiteStore) ListEvents(appletID primitive.ObjectID, individualized bool, profileID *primitive.ObjectID) ([]*models.Event, error) {
	rows, err := s.db.Query(
		`SELECT doc FROM events WHERE applet_id = ? AND individualized = ? ORDER BY id`,
		appletID.Hex(), boolToInt(individualized))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.Event{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		ev, err := decodeDoc[models.Event](raw)
		if err != nil {
			return nil, err
		}
		if profileID != nil && !eventAssignedTo(ev, *profileID) {
			continue
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListAppletEvents(appletID primitive.ObjectID) ([]*models.Event, error) {
	rows, err := s.db.Query(`SELECT doc FROM events WHERE applet_id = ? ORDER BY id`, appletID.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.Event{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		ev, err := decodeDoc[models.Event](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveEvent(ev *models.Event) (*models.Event, error) {
	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	raw, err := encodeDoc(ev)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		`INSERT INTO events (id, applet_id, individualized, doc) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET applet_id = excluded.applet_id,
			individualized = excluded.individualized, doc = excluded.doc`,
		ev.ID.Hex(), ev.AppletID.Hex(), boolToInt(ev.Individualized), raw)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *SQLiteStore) RemoveEvent(id primitive.ObjectID) error {
	_, err := s.db.Exec(`DELETE FROM events WHERE id = ?`, id.Hex())
	return err
}

func (s *SQLiteStore) GetProfile(appletID, userID primitive.ObjectID) (*models.Profile, error) {
	var raw string
	err := s.db.QueryRow(
		`SELECT doc FROM profiles WHERE applet_id = ? AND user_id = ?`,
		appletID.Hex(), userID.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc[models.Profile](raw)
}

func (s *SQLiteStore) GetProfileByID(id primitive.ObjectID) (*models.Profile, error) {
	var raw string
	err := s.db.QueryRow(`SELECT doc FROM profiles WHERE id = ?`, id.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc[models.Profile](raw)
}

func (s *SQLiteStore) SaveProfile(p *models.Profile) (*models.Profile, error) {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	raw, err := encodeDoc(p)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		`INSERT INTO profiles (id, applet_id, user_id, doc) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET applet_id = excluded.applet_id,
			user_id = excluded.user_id, doc = excluded.doc`,
		p.ID.Hex(), p.AppletID.Hex(), p.UserID.Hex(), raw)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// IncIndividualEvents rewrites each affected profile document inside one
// transaction; sqlite serializes writers, which gives the increment the
// required atomicity on this backend.
func (s *SQLiteStore) IncIndividualEvents(profileIDs []primitive.ObjectID, delta int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range profileIDs {
		var raw string
		err := tx.QueryRow(`SELECT doc FROM profiles WHERE id = ?`, id.Hex()).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		p, err := decodeDoc[models.Profile](raw)
		if err != nil {
			return err
		}
		p.IndividualEvents += delta
		updated, err := encodeDoc(p)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE profiles SET doc = ? WHERE id = ?`, updated, id.Hex()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) AddResponse(rec *models.ResponseRecord) (*models.ResponseRecord, error) {
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	raw, err := encodeDoc(rec)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		`INSERT INTO responses (id, applet_id, activity_id, subject_id, created, updated, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.Hex(), rec.AppletID.Hex(), rec.ActivityID.Hex(), rec.SubjectID.Hex(),
		ts(rec.Created), ts(rec.Updated), raw)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) ListResponses(appletID, activityID, subjectID primitive.ObjectID, start, end *time.Time) ([]*models.ResponseRecord, error) {
	query := `SELECT doc FROM responses WHERE applet_id = ? AND activity_id = ? AND subject_id = ?`
	args := []any{appletID.Hex(), activityID.Hex(), subjectID.Hex()}
	if start != nil {
		query += ` AND created >= ?`
		args = append(args, ts(*start))
	}
	if end != nil {
		query += ` AND created < ?`
		args = append(args, ts(*end))
	}
	query += ` ORDER BY created ASC`
	return s.queryResponses(query, args...)
}

func (s *SQLiteStore) ListAppletResponses(appletID, subjectID primitive.ObjectID) ([]*models.ResponseRecord, error) {
	return s.queryResponses(
		`SELECT doc FROM responses WHERE applet_id = ? AND subject_id = ? ORDER BY updated DESC`,
		appletID.Hex(), subjectID.Hex())
}

func (s *SQLiteStore) ListActivityResponses(appletID, activityID, subjectID primitive.ObjectID) ([]*models.ResponseRecord, error) {
	return s.queryResponses(
		`SELECT doc FROM responses WHERE applet_id = ? AND activity_id = ? AND subject_id = ? ORDER BY updated DESC`,
		appletID.Hex(), activityID.Hex(), subjectID.Hex())
}

func (s *SQLiteStore) queryResponses(query string, args ...any) ([]*models.ResponseRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.ResponseRecord{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := decodeDoc[models.ResponseRecord](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SavePlannedSends(sends []*models.PlannedSend) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, send := range sends {
		raw, err := encodeDoc(send)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO planned_sends (id, event_id, send_at, doc) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET send_at = excluded.send_at, doc = excluded.doc`,
			send.ID, send.EventID.Hex(), ts(send.SendAt), raw); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) RemovePlannedSends(eventID primitive.ObjectID) error {
	_, err := s.db.Exec(`DELETE FROM planned_sends WHERE event_id = ?`, eventID.Hex())
	return err
}

func (s *SQLiteStore) ListDueSends(now time.Time) ([]*models.PlannedSend, error) {
	rows, err := s.db.Query(
		`SELECT doc FROM planned_sends WHERE send_at <= ? ORDER BY send_at ASC`, ts(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.PlannedSend{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		send, err := decodeDoc[models.PlannedSend](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, send)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RemoveSends(ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM planned_sends WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func eventAssignedTo(ev *models.Event, profileID primitive.ObjectID) bool {
	for _, id := range ev.Data.Users {
		if id == profileID {
			return true
		}
	}
	return false
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
