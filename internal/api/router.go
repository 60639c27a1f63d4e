package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindlogger/mindlogger-go/internal/middleware"
	"github.com/mindlogger/mindlogger-go/internal/services"
)

// Router exposes the schedule and reporting services over REST.
type Router struct {
	store    Store
	schedule *services.ScheduleService
	report   *services.ReportService
	history  *services.ResponseHistoryService
	validate *validator.Validate
	log      *logrus.Entry
}

// NewRouter wires the services over the given store. planner may be nil
// when push planning is disabled.
func NewRouter(store Store, planner services.SendPlanner) *Router {
	agg := services.NewAggregateService(store)
	validate := validator.New()
	validate.RegisterStructValidation(validateEventUpsert, services.EventUpsert{})
	return &Router{
		store:    store,
		schedule: services.NewScheduleService(store, planner),
		report:   services.NewReportService(store, agg),
		history:  services.NewResponseHistoryService(store),
		validate: validate,
		log:      logrus.WithField("component", "api"),
	}
}

// validateEventUpsert enforces the upsert payload invariants: a present
// assignee list must not be empty (an individualized event with nobody
// assigned is meaningless), and the schedule descriptor may carry at most
// one recurrence discriminator.
func validateEventUpsert(sl validator.StructLevel) {
	in := sl.Current().Interface().(services.EventUpsert)
	if in.Data != nil && in.Data.Users != nil && len(in.Data.Users) == 0 {
		sl.ReportError(in.Data.Users, "data.users", "Users", "min", "1")
	}
	if in.Schedule != nil && in.Schedule.DayOfMonth != nil && in.Schedule.DayOfWeek != nil {
		sl.ReportError(in.Schedule, "schedule", "Schedule", "one_variant", "")
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.Handle("/api/applets/", middleware.Observe("/api/applets", http.HandlerFunc(rt.handleAppletScoped)))
	mux.Handle("/api/events/", middleware.Observe("/api/events", http.HandlerFunc(rt.handleEvent)))
}

// handleAppletScoped dispatches /api/applets/{id}/... by suffix.
func (rt *Router) handleAppletScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/applets/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	appletID, err := primitive.ObjectIDFromHex(parts[0])
	if err != nil {
		http.Error(w, "invalid applet id", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "schedule":
		rt.handleSchedule(w, r, appletID)
	case len(parts) == 3 && parts[1] == "schedule" && parts[2] == "user":
		rt.handleScheduleForUser(w, r, appletID)
	case len(parts) == 2 && parts[1] == "events":
		rt.handleAppletEvents(w, r, appletID)
	case len(parts) == 3 && parts[1] == "responses" && parts[2] == "last7Days":
		rt.handleLast7Days(w, r, appletID)
	case len(parts) == 3 && parts[1] == "responses" && parts[2] == "dates":
		rt.handleResponseDates(w, r, appletID)
	case len(parts) == 4 && parts[1] == "activities" && parts[3] == "latest":
		rt.handleLatestResponse(w, r, appletID, parts[2])
	default:
		http.NotFound(w, r)
	}
}

// GET /api/applets/{id}/schedule
func (rt *Router) handleSchedule(w http.ResponseWriter, r *http.Request, appletID primitive.ObjectID) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	view, err := rt.schedule.GetSchedule(appletID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, view)
}

// GET /api/applets/{id}/schedule/user?user=&day=YYYY-MM-DD
func (rt *Router) handleScheduleForUser(w http.ResponseWriter, r *http.Request, appletID primitive.ObjectID) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := rt.callerID(w, r)
	if !ok {
		return
	}
	var dayFilter *time.Time
	if day := r.URL.Query().Get("day"); day != "" {
		parsed, err := time.ParseInLocation("2006-01-02", day, time.UTC)
		if err != nil {
			http.Error(w, "invalid day", http.StatusBadRequest)
			return
		}
		dayFilter = &parsed
	}
	view, err := rt.schedule.GetScheduleForUser(appletID, userID, middleware.IsCoordinator(r.Context()), dayFilter)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, view)
}

// PUT /api/applets/{id}/events[?eventId=] — upsert one event.
// DELETE /api/applets/{id}/events — remove every event of the applet.
func (rt *Router) handleAppletEvents(w http.ResponseWriter, r *http.Request, appletID primitive.ObjectID) {
	switch r.Method {
	case http.MethodPut:
		var in services.EventUpsert
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := rt.validate.Struct(in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var eventID *primitive.ObjectID
		if raw := r.URL.Query().Get("eventId"); raw != "" {
			id, err := primitive.ObjectIDFromHex(raw)
			if err != nil {
				http.Error(w, "invalid event id", http.StatusBadRequest)
				return
			}
			eventID = &id
		}
		ev, err := rt.schedule.UpsertEvent(appletID, in, eventID)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, ev)
	case http.MethodDelete:
		if err := rt.schedule.DeleteAppletEvents(appletID); err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// DELETE /api/events/{id}
func (rt *Router) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/events/")
	eventID, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	if err := rt.schedule.DeleteEvent(eventID); err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, map[string]any{"ok": true})
}

// GET /api/applets/{id}/responses/last7Days?user=&referenceDate=YYYY-MM-DD
func (rt *Router) handleLast7Days(w http.ResponseWriter, r *http.Request, appletID primitive.ObjectID) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := rt.callerID(w, r)
	if !ok {
		return
	}
	var ref *time.Time
	if raw := r.URL.Query().Get("referenceDate"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			http.Error(w, "invalid referenceDate", http.StatusBadRequest)
			return
		}
		// The reference is exclusive; anchor it after the named day so that
		// day itself falls inside the window.
		parsed = parsed.AddDate(0, 0, 1)
		ref = &parsed
	}
	report, err := rt.report.Last7Days(appletID, userID, ref)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, report)
}

// GET /api/applets/{id}/responses/dates?user=
func (rt *Router) handleResponseDates(w http.ResponseWriter, r *http.Request, appletID primitive.ObjectID) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := rt.callerID(w, r)
	if !ok {
		return
	}
	profile, err := rt.store.GetProfile(appletID, userID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if profile == nil {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}
	dates, err := rt.history.ResponseDates(appletID, profile.ID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, map[string]any{"dates": dates})
}

// GET /api/applets/{id}/activities/{aid}/latest?user=
func (rt *Router) handleLatestResponse(w http.ResponseWriter, r *http.Request, appletID primitive.ObjectID, rawActivity string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	activityID, err := primitive.ObjectIDFromHex(rawActivity)
	if err != nil {
		http.Error(w, "invalid activity id", http.StatusBadRequest)
		return
	}
	userID, ok := rt.callerID(w, r)
	if !ok {
		return
	}
	profile, err := rt.store.GetProfile(appletID, userID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if profile == nil {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}
	loc := time.UTC
	if profile.Timezone != "" {
		if l, err := time.LoadLocation(profile.Timezone); err == nil {
			loc = l
		}
	}
	last, err := rt.history.LatestResponseTime(appletID, activityID, profile.ID, loc)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, map[string]any{"lastResponse": last})
}

// callerID resolves the acting user: the explicit user query parameter when
// present, otherwise the authenticated claims.
func (rt *Router) callerID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	raw := r.URL.Query().Get("user")
	if raw == "" {
		uid, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return primitive.NilObjectID, false
		}
		raw = uid
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return primitive.NilObjectID, false
	}
	return id, true
}

func (rt *Router) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a ServiceError to its HTTP status; anything else is a 500.
func (rt *Router) writeError(w http.ResponseWriter, err error) {
	if se, ok := services.AsServiceError(err); ok {
		http.Error(w, se.Message, statusFor(se.Code))
		return
	}
	rt.log.WithError(err).Warn("request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorForbidden:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
