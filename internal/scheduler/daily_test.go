package scheduler

import (
	"context"
	"testing"
	"time"

	"sonos-orchestrator/internal/types"
)

func dailySettings() *types.Settings {
	s := types.DefaultSettings()
	s.DefaultSpeakerIP = "10.0.0.1"
	s.StartTime = types.TimeOfDay{Hour: 6, Minute: 30}
	s.StopTime = types.TimeOfDay{Hour: 18}
	return s
}

func newTestDailyLoop(settings *types.Settings, now time.Time) (*DailyLoop, *fakeController, *fakeLog) {
	ctrl := newFakeController()
	log := &fakeLog{}
	loop := NewDailyLoop(&fakeStore{settings: settings}, ctrl, log)
	loop.Clock = &fakeClock{now: now}
	loop.pick = func(int) int { return 0 }
	return loop, ctrl, log
}

func TestNextStartPicksTodayThenTomorrow(t *testing.T) {
	s := dailySettings()

	early := time.Date(2026, time.March, 2, 5, 0, 0, 0, time.Local) // Monday 05:00
	got := nextStart(s, early)
	want := time.Date(2026, time.March, 2, 6, 30, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("nextStart before today's start = %v, want %v", got, want)
	}

	late := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.Local)
	got = nextStart(s, late)
	want = time.Date(2026, time.March, 3, 6, 30, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("nextStart after today's start = %v, want tomorrow %v", got, want)
	}
}

func TestNextStartUsesOverrideTimes(t *testing.T) {
	s := dailySettings()
	s.DailySchedules = map[time.Weekday]*types.DaySchedule{
		time.Tuesday: {StartTime: types.TimeOfDay{Hour: 9}, StopTime: types.TimeOfDay{Hour: 12}},
	}

	// Monday after start: tomorrow is Tuesday with its own start.
	late := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.Local)
	got := nextStart(s, late)
	want := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("nextStart = %v, want Tuesday override %v", got, want)
	}
}

func TestNextStartSkipPlaybackFallsBackToGlobal(t *testing.T) {
	s := dailySettings()
	s.DailySchedules = map[time.Weekday]*types.DaySchedule{
		time.Monday: {StartTime: types.TimeOfDay{Hour: 4}, SkipPlayback: true},
	}

	early := time.Date(2026, time.March, 2, 5, 0, 0, 0, time.Local) // Monday 05:00
	got := nextStart(s, early)
	want := time.Date(2026, time.March, 2, 6, 30, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("nextStart with skip override = %v, want global %v", got, want)
	}
}

func TestEffectiveForPrecedence(t *testing.T) {
	s := dailySettings()
	monday := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.Local)

	if ov, start := effectiveFor(s, monday); ov != nil || start != s.StartTime {
		t.Errorf("no overrides: got override %+v start %v", ov, start)
	}

	day := &types.DaySchedule{StartTime: types.TimeOfDay{Hour: 7}}
	s.DailySchedules = map[time.Weekday]*types.DaySchedule{time.Monday: day}
	if ov, start := effectiveFor(s, monday); ov != day || start.Hour != 7 {
		t.Errorf("weekday override not picked: %+v %v", ov, start)
	}

	s.Holidays = []types.HolidaySchedule{{
		Date:        types.Date{Year: 2026, Month: time.March, Day: 2},
		DaySchedule: types.DaySchedule{StartTime: types.TimeOfDay{Hour: 10}},
	}}
	if ov, start := effectiveFor(s, monday); ov == nil || start.Hour != 10 {
		t.Errorf("holiday override not picked: %+v %v", ov, start)
	}
}

func TestStartSourcePrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("random spotify from catalog", func(t *testing.T) {
		s := dailySettings()
		s.AutoPlayRandomSpotify = true
		loop, ctrl, _ := newTestDailyLoop(s, time.Now())

		if err := loop.startSource(ctx, s, nil, "10.0.0.1"); err != nil {
			t.Fatal(err)
		}
		calls := ctrl.ops("PlaySourceTrack")
		if len(calls) != 1 || calls[0].url != s.SpotifySources[0].URL {
			t.Fatalf("PlaySourceTrack = %+v", calls)
		}
	})

	t.Run("empty catalog degrades to plain start", func(t *testing.T) {
		s := dailySettings()
		s.AutoPlayRandomYouTube = true
		s.YouTubeMusicSources = nil
		loop, ctrl, _ := newTestDailyLoop(s, time.Now())

		if err := loop.startSource(ctx, s, nil, "10.0.0.1"); err != nil {
			t.Fatal(err)
		}
		if len(ctrl.ops("StartPlayback")) != 1 {
			t.Fatalf("expected plain StartPlayback, calls: %+v", ctrl.calls)
		}
	})

	t.Run("random station beats fixed urls", func(t *testing.T) {
		s := dailySettings()
		s.AutoPlayRandomStation = true
		s.AutoPlaySpotifyURL = "https://open.spotify.com/track/x"
		loop, ctrl, _ := newTestDailyLoop(s, time.Now())

		if err := loop.startSource(ctx, s, nil, "10.0.0.1"); err != nil {
			t.Fatal(err)
		}
		calls := ctrl.ops("PlayStationURL")
		if len(calls) != 1 || calls[0].url != s.Stations[0].URL {
			t.Fatalf("PlayStationURL = %+v", calls)
		}
	})

	t.Run("fixed station url", func(t *testing.T) {
		s := dailySettings()
		s.AutoPlayStationURL = "http://stream.example/radio"
		loop, ctrl, _ := newTestDailyLoop(s, time.Now())

		if err := loop.startSource(ctx, s, nil, "10.0.0.1"); err != nil {
			t.Fatal(err)
		}
		calls := ctrl.ops("PlayStationURL")
		if len(calls) != 1 || calls[0].url != "http://stream.example/radio" {
			t.Fatalf("PlayStationURL = %+v", calls)
		}
	})

	t.Run("override replaces global source config", func(t *testing.T) {
		s := dailySettings()
		s.AutoPlayRandomSpotify = true
		ov := &types.DaySchedule{StationURL: "http://stream.example/sunday"}
		loop, ctrl, _ := newTestDailyLoop(s, time.Now())

		if err := loop.startSource(ctx, s, ov, "10.0.0.1"); err != nil {
			t.Fatal(err)
		}
		calls := ctrl.ops("PlayStationURL")
		if len(calls) != 1 || calls[0].url != "http://stream.example/sunday" {
			t.Fatalf("PlayStationURL = %+v", calls)
		}
	})

	t.Run("nothing configured starts playback", func(t *testing.T) {
		s := dailySettings()
		loop, ctrl, _ := newTestDailyLoop(s, time.Now())

		if err := loop.startSource(ctx, s, nil, "10.0.0.1"); err != nil {
			t.Fatal(err)
		}
		if len(ctrl.ops("StartPlayback")) != 1 {
			t.Fatalf("expected StartPlayback, calls: %+v", ctrl.calls)
		}
	})
}

func TestStartPlaybackSkipsInactiveDay(t *testing.T) {
	s := dailySettings()
	s.ActiveDays = []time.Weekday{time.Monday}
	sunday := time.Date(2026, time.March, 1, 7, 0, 0, 0, time.Local)

	loop, ctrl, _ := newTestDailyLoop(s, sunday)

	coordinator := loop.startPlayback(context.Background(), s, nil)
	if coordinator != "10.0.0.1" {
		t.Errorf("coordinator = %q, want default speaker for stop phase", coordinator)
	}
	if len(ctrl.calls) != 0 {
		t.Errorf("device calls on inactive day: %+v", ctrl.calls)
	}
}

func TestStartPlaybackHonorsSkipPlaybackOverride(t *testing.T) {
	s := dailySettings()
	monday := time.Date(2026, time.March, 2, 7, 0, 0, 0, time.Local)

	loop, ctrl, _ := newTestDailyLoop(s, monday)

	ov := &types.DaySchedule{SkipPlayback: true}
	if coordinator := loop.startPlayback(context.Background(), s, ov); coordinator != "10.0.0.1" {
		t.Errorf("coordinator = %q", coordinator)
	}
	if len(ctrl.calls) != 0 {
		t.Errorf("device calls despite skip-playback: %+v", ctrl.calls)
	}
}

func TestStartPlaybackPreparesActiveGroup(t *testing.T) {
	s := dailySettings()
	s.Groups = []types.SpeakerGroup{{
		ID:            "g1",
		Name:          "Downstairs",
		CoordinatorIP: "10.0.0.1",
		MemberIPs:     []string{"10.0.0.2", "10.0.0.3"},
	}}
	s.ActiveGroupID = "g1"
	monday := time.Date(2026, time.March, 2, 7, 0, 0, 0, time.Local)

	loop, ctrl, log := newTestDailyLoop(s, monday)

	if coordinator := loop.startPlayback(context.Background(), s, nil); coordinator != "10.0.0.1" {
		t.Fatalf("coordinator = %q", coordinator)
	}

	if n := len(ctrl.ops("SetGroupCoordinator")); n != 1 {
		t.Errorf("SetGroupCoordinator called %d times", n)
	}
	joins := ctrl.ops("JoinGroup")
	if len(joins) != 2 {
		t.Fatalf("JoinGroup calls = %+v", joins)
	}
	for _, j := range joins {
		if j.url != "10.0.0.1" {
			t.Errorf("member %s joined to %s", j.ip, j.url)
		}
	}
	starts := ctrl.ops("StartPlayback")
	if len(starts) != 1 || starts[0].ip != "10.0.0.1" {
		t.Errorf("playback start = %+v, want coordinator only", starts)
	}
	if log.count("ScheduleTriggered") != 1 {
		t.Errorf("ScheduleTriggered logged %d times", log.count("ScheduleTriggered"))
	}
}

func TestWaitUntilStopPausesCoordinator(t *testing.T) {
	s := dailySettings()
	after := time.Date(2026, time.March, 2, 19, 0, 0, 0, time.Local) // past stop

	loop, ctrl, log := newTestDailyLoop(s, after)

	if !loop.waitUntilStop(context.Background(), s, nil, "10.0.0.1") {
		t.Fatal("waitUntilStop reported cancellation")
	}
	stops := ctrl.ops("StopPlayback")
	if len(stops) != 1 || stops[0].ip != "10.0.0.1" {
		t.Fatalf("StopPlayback = %+v", stops)
	}
	if log.count("ScheduleWindowStopped") != 1 {
		t.Errorf("stop not logged")
	}
}

func TestWaitUntilStopCancelled(t *testing.T) {
	s := dailySettings()
	before := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.Local)

	loop, ctrl, _ := newTestDailyLoop(s, before)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if loop.waitUntilStop(ctx, s, nil, "10.0.0.1") {
		t.Fatal("expected cancellation")
	}
	if len(ctrl.calls) != 0 {
		t.Errorf("device calls after cancellation: %+v", ctrl.calls)
	}
}

func TestWaitUntilStartReturnsAtStartTime(t *testing.T) {
	s := dailySettings()
	s.DailySchedules = map[time.Weekday]*types.DaySchedule{
		time.Monday: {StartTime: types.TimeOfDay{Hour: 6, Minute: 45}, StopTime: types.TimeOfDay{Hour: 17}},
	}
	// 30 seconds before Monday's override start, inside the final wait.
	now := time.Date(2026, time.March, 2, 6, 44, 30, 0, time.Local)

	loop, _, _ := newTestDailyLoop(s, now)

	settings, override, ok := loop.waitUntilStart(context.Background())
	if !ok {
		t.Fatal("unexpected cancellation")
	}
	if settings == nil {
		t.Fatal("settings snapshot missing")
	}
	if override == nil || override.StartTime.Hour != 6 || override.StartTime.Minute != 45 {
		t.Fatalf("override = %+v, want Monday schedule", override)
	}
}
