package program

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleKind identifies the variant held by a Schedule.
type ScheduleKind uint8

const (
	ScheduleMoment ScheduleKind = iota
	ScheduleWeekdays
)

func (k ScheduleKind) String() string {
	switch k {
	case ScheduleMoment:
		return "moment"
	case ScheduleWeekdays:
		return "weekdays"
	default:
		return fmt.Sprintf("schedule(%d)", uint8(k))
	}
}

// SpecificMoment triggers once at an absolute UTC time.
type SpecificMoment struct {
	EpochSeconds int64
}

// Time returns the trigger time in UTC.
func (m SpecificMoment) Time() time.Time {
	return time.Unix(m.EpochSeconds, 0).UTC()
}

// Weekday is a day of the week, Monday first as on the wire.
type Weekday uint8

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func (d Weekday) String() string {
	if int(d) < len(weekdayNames) {
		return weekdayNames[d]
	}
	return fmt.Sprintf("day(%d)", uint8(d))
}

// WeekdayFromTime converts a time.Weekday (Sunday first) into a Weekday.
func WeekdayFromTime(d time.Weekday) Weekday {
	return Weekday((int(d) + 6) % 7)
}

// WeekdaySet is a bitset of weekdays.
type WeekdaySet uint8

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

// With returns the set with d added.
func (s WeekdaySet) With(d Weekday) WeekdaySet {
	if d > Sunday {
		return s
	}
	return s | 1<<d
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d Weekday) bool {
	return d <= Sunday && s&(1<<d) != 0
}

// Days lists the members in Monday..Sunday order.
func (s WeekdaySet) Days() []Weekday {
	var days []Weekday
	for d := Monday; d <= Sunday; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

func (s WeekdaySet) String() string {
	days := s.Days()
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()
	}
	return strings.Join(names, ",")
}

// LocalTime is a wall-clock time of day without a date.
type LocalTime struct {
	Hour   uint8
	Minute uint8
	Second uint8
}

func (t LocalTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// WeekdaySchedule recurs on the given days at a local time of day.
// It is modelled but not evaluated by the scheduler.
type WeekdaySchedule struct {
	Days WeekdaySet
	At   LocalTime
}

// Schedule is a closed variant over SpecificMoment and WeekdaySchedule.
type Schedule struct {
	Kind     ScheduleKind
	Moment   SpecificMoment
	Weekdays WeekdaySchedule
}

// At returns a one-shot schedule for the given epoch second.
func At(epochSeconds int64) Schedule {
	return Schedule{Kind: ScheduleMoment, Moment: SpecificMoment{EpochSeconds: epochSeconds}}
}

// AtTime returns a one-shot schedule for t, truncated to whole seconds.
func AtTime(t time.Time) Schedule {
	return At(t.Unix())
}

// Weekly returns a recurring schedule.
func Weekly(days WeekdaySet, at LocalTime) Schedule {
	return Schedule{Kind: ScheduleWeekdays, Weekdays: WeekdaySchedule{Days: days, At: at}}
}

func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleMoment:
		return s.Moment.Time().Format(time.RFC3339)
	case ScheduleWeekdays:
		return fmt.Sprintf("%s at %s", s.Weekdays.Days, s.Weekdays.At)
	default:
		return s.Kind.String()
	}
}
