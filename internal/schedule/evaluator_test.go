package schedule

import (
	"testing"
	"time"

	"sonos-orchestrator/internal/types"
)

// 2024-01-01 is a Monday.
func localTime(day, hour, minute int) time.Time {
	return time.Date(2024, 1, day, hour, minute, 0, 0, time.Local)
}

func window(start, stop types.TimeOfDay, rec types.RecurrenceType) *types.ScheduleWindow {
	w := types.NewScheduleWindow("test")
	w.StartTime = start
	w.StopTime = stop
	w.Recurrence = rec
	return w
}

func TestIsWindowActiveDaytime(t *testing.T) {
	w := window(types.TimeOfDay{Hour: 8}, types.TimeOfDay{Hour: 17}, types.RecurDaily)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", localTime(1, 7, 59), false},
		{"at start", localTime(1, 8, 0), true},
		{"inside", localTime(1, 12, 30), true},
		{"at stop is exclusive", localTime(1, 17, 0), false},
		{"after stop", localTime(1, 18, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsWindowActive(w, tc.now); got != tc.want {
				t.Fatalf("IsWindowActive(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestIsWindowActiveDisabled(t *testing.T) {
	w := window(types.TimeOfDay{Hour: 8}, types.TimeOfDay{Hour: 17}, types.RecurDaily)
	w.Enabled = false
	if IsWindowActive(w, localTime(1, 12, 0)) {
		t.Fatalf("disabled window must never be active")
	}
}

func TestIsWindowActiveDateRange(t *testing.T) {
	w := window(types.TimeOfDay{Hour: 8}, types.TimeOfDay{Hour: 17}, types.RecurDaily)
	start := types.Date{Year: 2024, Month: time.January, Day: 2}
	end := types.Date{Year: 2024, Month: time.January, Day: 3}
	w.StartDate = &start
	w.EndDate = &end

	if IsWindowActive(w, localTime(1, 12, 0)) {
		t.Fatalf("before start date")
	}
	if !IsWindowActive(w, localTime(2, 12, 0)) {
		t.Fatalf("inside date range")
	}
	if IsWindowActive(w, localTime(4, 12, 0)) {
		t.Fatalf("after end date")
	}
}

func TestIsWindowActiveOvernightBelongsToStartDay(t *testing.T) {
	w := window(types.TimeOfDay{Hour: 22}, types.TimeOfDay{Hour: 2}, types.RecurWeekdays)

	// Tuesday 01:00 follows Monday night; Monday is a weekday.
	if !IsWindowActive(w, localTime(2, 1, 0)) {
		t.Fatalf("Tuesday 01:00 should be active (started Monday)")
	}
	// Saturday 01:00 follows Friday night; Friday is a weekday.
	if !IsWindowActive(w, localTime(6, 1, 0)) {
		t.Fatalf("Saturday 01:00 should be active (started Friday)")
	}
	// Saturday 23:00 starts the Saturday window; Saturday is not a weekday.
	if IsWindowActive(w, localTime(6, 23, 0)) {
		t.Fatalf("Saturday 23:00 must be inactive for weekdays recurrence")
	}
	// Gap between stop and start.
	if IsWindowActive(w, localTime(2, 12, 0)) {
		t.Fatalf("midday must be inactive for an overnight window")
	}

	// Inverse: weekends recurrence, Monday 01:00 follows Sunday night.
	we := window(types.TimeOfDay{Hour: 22}, types.TimeOfDay{Hour: 2}, types.RecurWeekends)
	if !IsWindowActive(we, localTime(1, 1, 0)) {
		t.Fatalf("Monday 01:00 should be active (started Sunday, a weekend day)")
	}
	// Tuesday 01:00 follows Monday night; Monday is not a weekend day.
	if IsWindowActive(we, localTime(2, 1, 0)) {
		t.Fatalf("Tuesday 01:00 must be inactive for weekends recurrence")
	}
}

func TestIsWindowActiveCustomDays(t *testing.T) {
	w := window(types.TimeOfDay{Hour: 8}, types.TimeOfDay{Hour: 17}, types.RecurCustomDays)
	w.DaysOfWeek = []time.Weekday{time.Wednesday}

	if IsWindowActive(w, localTime(1, 12, 0)) {
		t.Fatalf("Monday not in custom set")
	}
	if !IsWindowActive(w, localTime(3, 12, 0)) {
		t.Fatalf("Wednesday in custom set")
	}
}

func TestSelectActiveWindowPriority(t *testing.T) {
	low := window(types.TimeOfDay{Hour: 0}, types.TimeOfDay{Hour: 23, Minute: 59}, types.RecurDaily)
	low.ID = "b"
	low.Priority = 100
	low.LastModifiedUTC = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	high := window(types.TimeOfDay{Hour: 0}, types.TimeOfDay{Hour: 23, Minute: 59}, types.RecurDaily)
	high.ID = "a"
	high.Priority = 10
	high.LastModifiedUTC = time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

	got := SelectActiveWindow([]types.ScheduleWindow{*low, *high}, localTime(1, 12, 0))
	if got == nil || got.Priority != 10 {
		t.Fatalf("lower priority number must win regardless of modification time, got %+v", got)
	}
}

func TestSelectActiveWindowTieBreaks(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	older := window(types.TimeOfDay{Hour: 0}, types.TimeOfDay{Hour: 23, Minute: 59}, types.RecurDaily)
	older.ID = "aaa"
	older.LastModifiedUTC = base

	newer := window(types.TimeOfDay{Hour: 0}, types.TimeOfDay{Hour: 23, Minute: 59}, types.RecurDaily)
	newer.ID = "zzz"
	newer.LastModifiedUTC = base.Add(time.Hour)

	got := SelectActiveWindow([]types.ScheduleWindow{*older, *newer}, localTime(1, 12, 0))
	if got == nil || got.ID != "zzz" {
		t.Fatalf("most recently edited window must win on equal priority, got %+v", got)
	}

	// Equal timestamps: lowest id wins.
	newer.LastModifiedUTC = base
	got = SelectActiveWindow([]types.ScheduleWindow{*newer, *older}, localTime(1, 12, 0))
	if got == nil || got.ID != "aaa" {
		t.Fatalf("lowest id must win on full tie, got %+v", got)
	}
}

func TestSelectActiveWindowNone(t *testing.T) {
	w := window(types.TimeOfDay{Hour: 8}, types.TimeOfDay{Hour: 9}, types.RecurDaily)
	if got := SelectActiveWindow([]types.ScheduleWindow{*w}, localTime(1, 12, 0)); got != nil {
		t.Fatalf("expected no active window, got %+v", got)
	}
	if got := SelectActiveWindow(nil, localTime(1, 12, 0)); got != nil {
		t.Fatalf("expected nil for empty input")
	}
}
