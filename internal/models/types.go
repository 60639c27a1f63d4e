package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Event controls when an applet activity is presented and notified.
// Exactly one schedule variant is active per event; individualized events
// carry the explicit subject list in Data.Users.
type Event struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AppletID       primitive.ObjectID `bson:"applet_id" json:"-"`
	Individualized bool               `bson:"individualized" json:"-"`
	Schedulers     []string           `bson:"schedulers" json:"-"`
	SendTime       []string           `bson:"sendTime" json:"-"`
	Data           EventData          `bson:"data" json:"data"`
	Schedule       Schedule           `bson:"schedule" json:"schedule"`
}

// EventData is the event payload: notification flags, timeout policy and,
// for individualized events, the assigned subject list.
type EventData struct {
	Title            string               `bson:"title,omitempty" json:"title,omitempty"`
	Description      string               `bson:"description,omitempty" json:"description,omitempty"`
	URI              string               `bson:"URI,omitempty" json:"URI,omitempty"`
	ActivityID       *primitive.ObjectID  `bson:"activity_id,omitempty" json:"activity_id,omitempty"`
	UseNotifications bool                 `bson:"useNotifications" json:"useNotifications"`
	Notifications    []NotificationWindow `bson:"notifications,omitempty" json:"notifications,omitempty"`
	Timeout          *TimeoutPolicy       `bson:"timeout,omitempty" json:"timeout,omitempty"`
	Users            []primitive.ObjectID `bson:"users,omitempty" json:"users,omitempty"`
}

// NotificationWindow is one notification slot configured on an event.
// Random windows pick a send time uniformly between Start and End.
type NotificationWindow struct {
	Start  string `bson:"start" json:"start"`
	End    string `bson:"end,omitempty" json:"end,omitempty"`
	Random bool   `bson:"random" json:"random"`
}

// TimeoutPolicy extends an event's validity past its scheduled day.
type TimeoutPolicy struct {
	Allow  bool `bson:"allow" json:"allow"`
	Day    int  `bson:"day" json:"day"`
	Hour   int  `bson:"hour" json:"hour"`
	Minute int  `bson:"minute" json:"minute"`
}

// Duration of the lateness window, zero unless allowed.
func (t *TimeoutPolicy) Duration() time.Duration {
	if t == nil || !t.Allow {
		return 0
	}
	return time.Duration(t.Day)*24*time.Hour +
		time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute
}

// Schedule is the stored recurrence descriptor, shaped exactly as the
// calendar widget sends it. Which variant it represents is decided once by
// Resolve; nothing else should presence-check these fields.
type Schedule struct {
	Times      []string `bson:"times,omitempty" json:"times,omitempty"`
	Year       []int    `bson:"year,omitempty" json:"year,omitempty"`
	Month      []int    `bson:"month,omitempty" json:"month,omitempty"`
	DayOfMonth []int    `bson:"dayOfMonth,omitempty" json:"dayOfMonth,omitempty"`
	DayOfWeek  []int    `bson:"dayOfWeek,omitempty" json:"dayOfWeek,omitempty"`
	Start      *int64   `bson:"start,omitempty" json:"start,omitempty"`
	End        *int64   `bson:"end,omitempty" json:"end,omitempty"`
}

// ScheduleVariant is the tagged form of a Schedule.
type ScheduleVariant interface {
	scheduleVariant()
}

// OneTimeSchedule fires on a single calendar day. The widget stores months
// zero-based; MonthOneBased converts at this boundary.
type OneTimeSchedule struct {
	Year       []int
	Month      []int
	DayOfMonth []int
}

// WeeklySchedule fires on a weekday (Monday=1) between Start and End.
type WeeklySchedule struct {
	DayOfWeek []int
	Start     *int64
	End       *int64
}

// DailySchedule fires every day between Start and End.
type DailySchedule struct {
	Start *int64
	End   *int64
}

func (OneTimeSchedule) scheduleVariant() {}
func (WeeklySchedule) scheduleVariant()  {}
func (DailySchedule) scheduleVariant()   {}

// Resolve picks the schedule variant the same way the calendar widget does:
// a dayOfMonth field means one-time, a dayOfWeek field means weekly,
// anything else is daily.
func (s *Schedule) Resolve() ScheduleVariant {
	switch {
	case s.DayOfMonth != nil:
		return OneTimeSchedule{Year: s.Year, Month: s.Month, DayOfMonth: s.DayOfMonth}
	case s.DayOfWeek != nil:
		return WeeklySchedule{DayOfWeek: s.DayOfWeek, Start: s.Start, End: s.End}
	default:
		return DailySchedule{Start: s.Start, End: s.End}
	}
}

// MonthOneBased converts the widget's zero-based month to time.Month.
func MonthOneBased(m int) time.Month { return time.Month(m + 1) }

// WeekdayMonday1 maps a date's weekday onto the widget's Monday=1..Sunday=7
// convention.
func WeekdayMonday1(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 { // time.Sunday
		return 7
	}
	return wd
}

// Profile is a participant's per-applet identity record. IndividualEvents
// counts the individualized events currently assigned to the subject so the
// schedule builder can avoid scanning events.
type Profile struct {
	ID                  primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	AppletID            primitive.ObjectID  `bson:"appletId" json:"appletId"`
	UserID              primitive.ObjectID  `bson:"userId" json:"userId"`
	Timezone            string              `bson:"timezone,omitempty" json:"timezone,omitempty"`
	IndividualEvents    int                 `bson:"individual_events" json:"-"`
	CompletedActivities []CompletedActivity `bson:"completed_activities,omitempty" json:"-"`
}

// CompletedActivity records the last completion of one activity.
type CompletedActivity struct {
	ActivityID    primitive.ObjectID `bson:"activity_id" json:"activity_id"`
	CompletedTime *time.Time         `bson:"completed_time,omitempty" json:"completed_time,omitempty"`
}

// ResponseRecord is one recorded answer-set for one subject, activity and
// applet. Immutable once created; the aggregator only reads.
type ResponseRecord struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AppletID          primitive.ObjectID `bson:"applet_id" json:"applet_id"`
	ActivityID        primitive.ObjectID `bson:"activity_id" json:"activity_id"`
	SubjectID         primitive.ObjectID `bson:"subject_id" json:"subject_id"`
	Created           time.Time          `bson:"created" json:"created"`
	Updated           time.Time          `bson:"updated" json:"updated"`
	Responses         map[string]any     `bson:"responses" json:"responses"`
	DataSource        any                `bson:"dataSource,omitempty" json:"dataSource,omitempty"`
	UserPublicKey     any                `bson:"userPublicKey,omitempty" json:"userPublicKey,omitempty"`
	ResponseStarted   *time.Time         `bson:"responseStarted,omitempty" json:"responseStarted,omitempty"`
	ResponseCompleted *time.Time         `bson:"responseCompleted,omitempty" json:"responseCompleted,omitempty"`
}

// PlannedSend is one concrete scheduled push delivery derived from an
// event's notification windows.
type PlannedSend struct {
	ID       string               `bson:"_id" json:"id"`
	EventID  primitive.ObjectID   `bson:"event_id" json:"event_id"`
	AppletID primitive.ObjectID   `bson:"applet_id" json:"applet_id"`
	Users    []primitive.ObjectID `bson:"users,omitempty" json:"users,omitempty"`
	Head     string               `bson:"head,omitempty" json:"head,omitempty"`
	Content  string               `bson:"content,omitempty" json:"content,omitempty"`
	SendAt   time.Time            `bson:"sendTime" json:"sendTime"`
	Attempts int                  `bson:"attempts" json:"attempts"`
}
