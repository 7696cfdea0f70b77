package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/dokzlo13/lightpd/internal/program"
)

// PendingEntry describes a stored program for display.
type PendingEntry struct {
	ID       string     `json:"id"`
	Schedule string     `json:"schedule"`
	Trigger  *time.Time `json:"trigger,omitempty"`
	Due      bool       `json:"due"`
	Actions  []string   `json:"actions"`
	AddedAt  time.Time  `json:"added_at"`
}

// Pending lists stored programs in insertion order with trigger times in the
// scheduler's timezone.
func (s *Scheduler) Pending() []PendingEntry {
	now := s.clock.Now()
	entries := s.store.All()

	out := make([]PendingEntry, 0, len(entries))
	for _, e := range entries {
		p := PendingEntry{
			ID:       e.ID,
			Schedule: e.Program.Schedule.Kind.String(),
			Actions:  make([]string, len(e.Program.Actions)),
			AddedAt:  e.AddedAt.In(s.tz),
		}
		for i, a := range e.Program.Actions {
			p.Actions[i] = a.String()
		}
		switch e.Program.Schedule.Kind {
		case program.ScheduleMoment:
			at := e.Program.Schedule.Moment.Time().In(s.tz)
			p.Trigger = &at
			p.Due = !at.After(now)
		case program.ScheduleWeekdays:
			p.Schedule = e.Program.Schedule.String()
		}
		out = append(out, p)
	}
	return out
}

// FormatPending returns a human-readable table of stored programs.
func (s *Scheduler) FormatPending() string {
	entries := s.Pending()
	if len(entries) == 0 {
		return "No pending programs\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Pending programs (timezone: %s)\n", s.tz.String()))
	sb.WriteString(fmt.Sprintf("%-3s %-36s %-20s %-8s %s\n", "", "ID", "TRIGGER", "ACTIONS", "SCHEDULE"))
	sb.WriteString(strings.Repeat("-", 90) + "\n")

	for _, e := range entries {
		status := " "
		if e.Due {
			status = "!"
		}
		trigger := "-"
		if e.Trigger != nil {
			trigger = e.Trigger.Format("2006-01-02 15:04:05")
		}
		sb.WriteString(fmt.Sprintf("%-3s %-36s %-20s %-8d %s\n", status, e.ID, trigger, len(e.Actions), e.Schedule))
	}
	return sb.String()
}
