package notify

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindlogger/mindlogger-go/internal/models"
)

// defaultHorizon bounds how far ahead sends are materialized.
const defaultHorizon = 30 * 24 * time.Hour

// PlanStore persists the planner's materialized sends.
type PlanStore interface {
	SavePlannedSends(sends []*models.PlannedSend) error
	RemovePlannedSends(eventID primitive.ObjectID) error
}

// Planner turns an event's notification windows into concrete planned
// sends within a bounded horizon. Re-planning an event first cancels
// whatever was planned before.
type Planner struct {
	store   PlanStore
	horizon time.Duration
	now     func() time.Time
	rand    func() float64
}

// NewPlanner constructs a planner with the default horizon.
func NewPlanner(store PlanStore) *Planner {
	return &Planner{
		store:   store,
		horizon: defaultHorizon,
		now:     func() time.Time { return time.Now().UTC() },
		rand:    rand.Float64,
	}
}

// SetHorizon overrides how far ahead sends are materialized.
func (p *Planner) SetHorizon(h time.Duration) {
	if h > 0 {
		p.horizon = h
	}
}

// PlanEvent replaces the event's planned sends and returns their ids as
// scheduler handles for the event record.
func (p *Planner) PlanEvent(ev *models.Event) ([]string, error) {
	if err := p.store.RemovePlannedSends(ev.ID); err != nil {
		return nil, err
	}
	if !ev.Data.UseNotifications || len(ev.Data.Notifications) == 0 {
		return []string{}, nil
	}

	from := p.now()
	to := from.Add(p.horizon)

	sends := []*models.PlannedSend{}
	for _, window := range ev.Data.Notifications {
		if window.Start == "" {
			continue
		}
		for _, occ := range p.occurrences(ev, window, from, to) {
			sends = append(sends, &models.PlannedSend{
				ID:       uuid.NewString(),
				EventID:  ev.ID,
				AppletID: ev.AppletID,
				Users:    ev.Data.Users,
				Head:     ev.Data.Title,
				Content:  ev.Data.Description,
				SendAt:   occ,
			})
		}
	}
	if err := p.store.SavePlannedSends(sends); err != nil {
		return nil, err
	}
	handles := make([]string, 0, len(sends))
	for _, send := range sends {
		handles = append(handles, send.ID)
	}
	return handles, nil
}

// CancelEvent drops every planned send of the event.
func (p *Planner) CancelEvent(eventID primitive.ObjectID) error {
	return p.store.RemovePlannedSends(eventID)
}

// occurrences expands one notification window against the event schedule.
func (p *Planner) occurrences(ev *models.Event, window models.NotificationWindow, from, to time.Time) []time.Time {
	at := p.sendClock(window)

	switch sched := ev.Schedule.Resolve().(type) {
	case models.OneTimeSchedule:
		if len(sched.Year) == 0 || len(sched.Month) == 0 || len(sched.DayOfMonth) == 0 {
			return nil
		}
		when := time.Date(sched.Year[0], models.MonthOneBased(sched.Month[0]), sched.DayOfMonth[0], 0, 0, 0, 0, time.UTC).Add(at)
		if when.Before(from) || when.After(to) {
			return nil
		}
		return []time.Time{when}
	case models.WeeklySchedule:
		if len(sched.DayOfWeek) == 0 {
			return nil
		}
		opt := rrule.ROption{
			Freq:      rrule.WEEKLY,
			Byweekday: []rrule.Weekday{rruleWeekday(sched.DayOfWeek[0])},
		}
		return p.expand(opt, sched.Start, sched.End, at, from, to)
	case models.DailySchedule:
		return p.expand(rrule.ROption{Freq: rrule.DAILY}, sched.Start, sched.End, at, from, to)
	}
	return nil
}

func (p *Planner) expand(opt rrule.ROption, startMs, endMs *int64, at time.Duration, from, to time.Time) []time.Time {
	dtstart := from.Truncate(24 * time.Hour)
	if startMs != nil {
		dtstart = time.UnixMilli(*startMs).UTC().Truncate(24 * time.Hour)
	}
	opt.Dtstart = dtstart.Add(at)
	if endMs != nil {
		opt.Until = time.UnixMilli(*endMs).UTC().Add(at)
	}
	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil
	}
	return rule.Between(from, to, true)
}

// sendClock resolves the window's time of day; random windows pick a
// uniform instant between start and end.
func (p *Planner) sendClock(window models.NotificationWindow) time.Duration {
	start := parseClock(window.Start)
	if !window.Random || window.End == "" {
		return start
	}
	end := parseClock(window.End)
	if end <= start {
		return start
	}
	return start + time.Duration(p.rand()*float64(end-start))
}

func parseClock(s string) time.Duration {
	if !strings.Contains(s, ":") {
		s += ":00"
	}
	parts := strings.SplitN(s, ":", 2)
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

var rruleWeekdays = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// rruleWeekday maps the widget's Monday=1..Sunday=7 onto rrule weekdays.
func rruleWeekday(dow int) rrule.Weekday {
	if dow < 1 || dow > 7 {
		return rrule.MO
	}
	return rruleWeekdays[dow-1]
}
