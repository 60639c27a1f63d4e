package services

import (
	"strconv"
	"strings"
	"time"

	"github.com/mindlogger/mindlogger-go/internal/models"
)

// DateMatch reports whether an event is active on the given calendar date.
// The date is expected in the same UTC-naive frame as the event schedule;
// callers apply the subject's timezone offset before calling. Malformed
// one-time schedules are never active, never an error.
func DateMatch(event *models.Event, date time.Time) bool {
	at := eventTimeDelta(&event.Schedule)
	timeout := event.Data.Timeout.Duration()

	switch sched := event.Schedule.Resolve().(type) {
	case models.OneTimeSchedule:
		return oneTimeMatch(sched, at, timeout, date)
	case models.WeeklySchedule:
		return weeklyMatch(sched, at, timeout, date)
	case models.DailySchedule:
		return dailyMatch(sched, at, timeout, date)
	}
	return false
}

// eventTimeDelta converts the schedule's first HH:MM entry into an offset
// from midnight. Missing or bare-hour entries default sensibly.
func eventTimeDelta(s *models.Schedule) time.Duration {
	t := "00:00"
	if len(s.Times) > 0 && s.Times[0] != "" {
		t = s.Times[0]
	}
	if !strings.Contains(t, ":") {
		t += ":00"
	}
	parts := strings.SplitN(t, ":", 2)
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

func oneTimeMatch(s models.OneTimeSchedule, at, timeout time.Duration, date time.Time) bool {
	if len(s.Year) == 0 || len(s.Month) == 0 || len(s.DayOfMonth) == 0 {
		return false
	}
	launch := time.Date(s.Year[0], models.MonthOneBased(s.Month[0]), s.DayOfMonth[0], 0, 0, 0, 0, time.UTC).Add(at)
	return sameDay(launch, date) || sameDay(launch.Add(timeout), date)
}

func weeklyMatch(s models.WeeklySchedule, at, timeout time.Duration, date time.Time) bool {
	start := fromEpochMillis(s.Start, at)
	end := fromEpochMillis(s.End, at)
	if start != nil && dayOf(*start).After(dayOf(date)) {
		return false
	}
	if len(s.DayOfWeek) == 0 {
		return false
	}
	if s.DayOfWeek[0] == models.WeekdayMonday1(date) &&
		(end == nil || !end.Add(at+timeout).Before(date)) {
		return true
	}

	// Grace window: the event stays active until the last scheduled weekday
	// plus time-of-day plus timeout has elapsed. Bound the lookback by the
	// window end once it has closed, by the queried date otherwise.
	ref := date
	if end != nil && end.Before(date) {
		ref = *end
	}
	back := (models.WeekdayMonday1(ref) - s.DayOfWeek[0] + 7) % 7
	latest := ref.AddDate(0, 0, -back)
	if start != nil && dayOf(*start).After(dayOf(latest)) {
		return false
	}
	return !latest.Add(at + timeout).Before(date)
}

func dailyMatch(s models.DailySchedule, at, timeout time.Duration, date time.Time) bool {
	start := fromEpochMillis(s.Start, at)
	end := fromEpochMillis(s.End, at)
	if start != nil && dayOf(*start).After(dayOf(date)) {
		return false
	}
	return end == nil || !end.Add(at+timeout).Before(date)
}

func fromEpochMillis(ms *int64, at time.Duration) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC().Add(at)
	return &t
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
