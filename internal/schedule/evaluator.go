// Package schedule evaluates which configured schedule window is active
// at a point in local time. It is pure: no state, no I/O.
package schedule

import (
	"sort"
	"strings"
	"time"

	"sonos-orchestrator/internal/types"
)

// IsWindowActive reports whether w covers the instant now. An overnight
// window (stop <= start) belongs to the day it started on: shortly after
// midnight the recurrence rule is checked against yesterday's weekday.
func IsWindowActive(w *types.ScheduleWindow, now time.Time) bool {
	if !w.Enabled {
		return false
	}

	date := types.DateOf(now)
	if w.StartDate != nil && date.Before(*w.StartDate) {
		return false
	}
	if w.EndDate != nil && date.After(*w.EndDate) {
		return false
	}

	t := types.TimeOfDayFrom(now)
	overnight := !w.StopTime.After(w.StartTime)
	if !overnight {
		if t.Before(w.StartTime) || !t.Before(w.StopTime) {
			return false
		}
		return dayAllowed(w, now.Weekday())
	}

	if !t.Before(w.StartTime) {
		return dayAllowed(w, now.Weekday())
	}
	if t.Before(w.StopTime) {
		return dayAllowed(w, now.AddDate(0, 0, -1).Weekday())
	}
	return false
}

// SelectActiveWindow picks the single window that should be active now:
// enabled and active windows ordered by priority ascending, last modified
// descending, then id ascending. Returns nil when none is active.
func SelectActiveWindow(windows []types.ScheduleWindow, now time.Time) *types.ScheduleWindow {
	var active []*types.ScheduleWindow
	for i := range windows {
		w := &windows[i]
		if w.Enabled && IsWindowActive(w, now) {
			active = append(active, w)
		}
	}
	if len(active) == 0 {
		return nil
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.LastModifiedUTC.Equal(b.LastModifiedUTC) {
			return a.LastModifiedUTC.After(b.LastModifiedUTC)
		}
		return strings.ToLower(a.ID) < strings.ToLower(b.ID)
	})
	return active[0]
}

func dayAllowed(w *types.ScheduleWindow, day time.Weekday) bool {
	switch w.Recurrence {
	case types.RecurDaily:
		return true
	case types.RecurWeekdays:
		return day >= time.Monday && day <= time.Friday
	case types.RecurWeekends:
		return day == time.Saturday || day == time.Sunday
	case types.RecurCustomDays:
		return types.ContainsDay(w.DaysOfWeek, day)
	default:
		return false
	}
}
