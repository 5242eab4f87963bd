package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"sonos-orchestrator/internal/logger"
	"sonos-orchestrator/internal/scene"
	"sonos-orchestrator/internal/types"
)

// maxStartWait caps each wait-until-start sleep so configuration edits
// take effect within a minute.
const maxStartWait = 60 * time.Second

// DailyLoop starts playback at the configured daily start time and
// pauses it again at the stop time, forever. Holiday overrides beat
// per-weekday overrides, which beat the global times.
type DailyLoop struct {
	store scene.Store
	ctrl  scene.Controller
	log   scene.ActionLog

	Clock   Clock
	MaxWait time.Duration
	pick    func(n int) int
}

func NewDailyLoop(store scene.Store, ctrl scene.Controller, log scene.ActionLog) *DailyLoop {
	return &DailyLoop{
		store:   store,
		ctrl:    ctrl,
		log:     log,
		Clock:   systemClock{},
		MaxWait: maxStartWait,
		pick:    rand.Intn,
	}
}

// Run blocks until ctx is cancelled, alternating wait-for-start/play
// and wait-for-stop/pause phases.
func (l *DailyLoop) Run(ctx context.Context) {
	logger.Info("Daily playback loop started")

	for {
		settings, override, ok := l.waitUntilStart(ctx)
		if !ok {
			logger.Info("Daily playback loop stopped")
			return
		}

		coordinator := l.startPlayback(ctx, settings, override)

		if !l.waitUntilStop(ctx, settings, override, coordinator) {
			logger.Info("Daily playback loop stopped")
			return
		}
	}
}

// waitUntilStart sleeps, in capped chunks so edits are picked up, until
// the next effective start time. It returns the settings snapshot and
// the day override that applies, nil when the global times do.
func (l *DailyLoop) waitUntilStart(ctx context.Context) (*types.Settings, *types.DaySchedule, bool) {
	for {
		if ctx.Err() != nil {
			return nil, nil, false
		}

		settings, err := l.store.Load()
		if err != nil {
			logger.Warn("Daily loop could not load settings: %v", err)
			if !l.sleep(ctx, l.MaxWait) {
				return nil, nil, false
			}
			continue
		}

		now := l.Clock.Now()
		startAt := nextStart(settings, now)
		wait := startAt.Sub(now)

		if wait > l.MaxWait {
			if !l.sleep(ctx, l.MaxWait) {
				return nil, nil, false
			}
			continue
		}
		if wait > 0 && !l.sleep(ctx, wait) {
			return nil, nil, false
		}

		// Re-read so the override reflects edits made during the wait.
		if fresh, err := l.store.Load(); err == nil {
			settings = fresh
		}
		override, _ := effectiveFor(settings, startAt)
		return settings, override, true
	}
}

// startPlayback prepares the group and starts the day's source. It
// always returns the coordinator so the stop phase has a device to
// pause, even when starting was skipped.
func (l *DailyLoop) startPlayback(ctx context.Context, settings *types.Settings, override *types.DaySchedule) string {
	coordinator, members := playbackTarget(settings)
	if coordinator == "" {
		logger.Warn("No playback target configured, skipping daily start")
		return ""
	}

	today := l.Clock.Now().Weekday()
	if override == nil && !types.ContainsDay(settings.ActiveDays, today) {
		logger.Info("Daily playback inactive on %s", today)
		return coordinator
	}
	if override != nil && override.SkipPlayback {
		logger.Info("Daily playback skipped by schedule override")
		return coordinator
	}

	if len(members) > 0 {
		if err := l.ctrl.SetGroupCoordinator(ctx, coordinator); err != nil {
			logger.Warn("Preparing coordinator %s failed: %v", coordinator, err)
		}
		for _, member := range members {
			if err := l.ctrl.JoinGroup(ctx, coordinator, member); err != nil {
				logger.Warn("Joining %s to %s failed: %v", member, coordinator, err)
			}
		}
	}

	if err := l.startSource(ctx, settings, override, coordinator); err != nil {
		if ctx.Err() == nil {
			logger.Error("Daily playback start on %s failed: %v", coordinator, err)
			l.log.Record("ScheduleTriggerFailed", fmt.Sprintf("Daily playback on %s: %v", coordinator, err))
		}
		return coordinator
	}

	l.log.Record("ScheduleTriggered", "Daily playback started on "+coordinator)
	return coordinator
}

// startSource picks the source by precedence: random-catalog flags
// first (each degrading to plain playback when its catalog is empty),
// then fixed URLs, then plain playback.
func (l *DailyLoop) startSource(ctx context.Context, settings *types.Settings, override *types.DaySchedule, ip string) error {
	src := sourcePlan(settings, override)

	switch {
	case src.randomSpotify:
		if url := l.pickURL(musicURLs(settings.SpotifySources)); url != "" {
			return l.ctrl.PlaySourceTrack(ctx, ip, url, settings.AutoPlayStationURL)
		}
		return l.ctrl.StartPlayback(ctx, ip)
	case src.randomYouTube:
		if url := l.pickURL(musicURLs(settings.YouTubeMusicSources)); url != "" {
			return l.ctrl.PlaySourceTrack(ctx, ip, url, settings.AutoPlayStationURL)
		}
		return l.ctrl.StartPlayback(ctx, ip)
	case src.randomStation:
		if url := l.pickURL(stationURLs(settings.Stations)); url != "" {
			return l.ctrl.PlayStationURL(ctx, ip, url)
		}
		return l.ctrl.StartPlayback(ctx, ip)
	case src.spotifyURL != "":
		return l.ctrl.PlaySourceTrack(ctx, ip, src.spotifyURL, settings.AutoPlayStationURL)
	case src.youtubeURL != "":
		return l.ctrl.PlaySourceTrack(ctx, ip, src.youtubeURL, settings.AutoPlayStationURL)
	case src.stationURL != "":
		return l.ctrl.PlayStationURL(ctx, ip, src.stationURL)
	default:
		return l.ctrl.StartPlayback(ctx, ip)
	}
}

// waitUntilStop sleeps until the effective stop time, then pauses the
// coordinator. Returns false on cancellation.
func (l *DailyLoop) waitUntilStop(ctx context.Context, settings *types.Settings, override *types.DaySchedule, coordinator string) bool {
	stop := settings.StopTime
	if override != nil && !override.SkipPlayback {
		stop = override.StopTime
	}

	now := l.Clock.Now()
	stopAt := stop.On(now)
	if wait := stopAt.Sub(now); wait > 0 {
		if !l.sleep(ctx, wait) {
			return false
		}
	}

	if coordinator == "" {
		return true
	}
	if err := l.ctrl.StopPlayback(ctx, coordinator); err != nil {
		if ctx.Err() != nil {
			return false
		}
		logger.Warn("Daily playback stop on %s failed: %v", coordinator, err)
		return true
	}
	l.log.Record("ScheduleWindowStopped", "Daily playback stopped on "+coordinator)
	return true
}

func (l *DailyLoop) sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-l.Clock.After(d):
		return true
	}
}

func (l *DailyLoop) pickURL(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	return urls[l.pick(len(urls))]
}

// nextStart returns today's effective start instant when it is still
// ahead, else tomorrow's. A skip-playback override falls back to the
// global start time for this computation.
func nextStart(settings *types.Settings, now time.Time) time.Time {
	if at := startOn(settings, now); at.After(now) {
		return at
	}
	return startOn(settings, now.AddDate(0, 0, 1))
}

func startOn(settings *types.Settings, day time.Time) time.Time {
	override, start := effectiveFor(settings, day)
	if override != nil && override.SkipPlayback {
		start = settings.StartTime
	}
	return start.On(day)
}

// effectiveFor resolves the override for a date: holiday first, then
// the weekday schedule, then none (global times).
func effectiveFor(settings *types.Settings, day time.Time) (*types.DaySchedule, types.TimeOfDay) {
	if h := settings.HolidayFor(types.DateOf(day)); h != nil {
		return &h.DaySchedule, h.StartTime
	}
	if d, ok := settings.DailySchedules[day.Weekday()]; ok && d != nil {
		return d, d.StartTime
	}
	return nil, settings.StartTime
}

// playbackTarget resolves the device set: the active named group's
// coordinator and members, else the single default speaker.
func playbackTarget(settings *types.Settings) (string, []string) {
	if g := settings.ActiveGroup(); g != nil && g.CoordinatorIP != "" {
		return g.CoordinatorIP, g.Members()
	}
	return settings.DefaultSpeakerIP, nil
}

type sourceSelection struct {
	randomSpotify bool
	randomYouTube bool
	randomStation bool
	spotifyURL    string
	youtubeURL    string
	stationURL    string
}

func sourcePlan(settings *types.Settings, override *types.DaySchedule) sourceSelection {
	if override != nil {
		return sourceSelection{
			randomSpotify: override.PlayRandomSpotify,
			randomYouTube: override.PlayRandomYouTube,
			randomStation: override.PlayRandomStation,
			spotifyURL:    override.SpotifyURL,
			youtubeURL:    override.YouTubeMusicURL,
			stationURL:    override.StationURL,
		}
	}
	return sourceSelection{
		randomSpotify: settings.AutoPlayRandomSpotify,
		randomYouTube: settings.AutoPlayRandomYouTube,
		randomStation: settings.AutoPlayRandomStation,
		spotifyURL:    settings.AutoPlaySpotifyURL,
		youtubeURL:    settings.AutoPlayYouTubeMusicURL,
		stationURL:    settings.AutoPlayStationURL,
	}
}

func musicURLs(sources []types.MusicSource) []string {
	var out []string
	for _, s := range sources {
		if s.URL != "" {
			out = append(out, s.URL)
		}
	}
	return out
}

func stationURLs(stations []types.TuneInStation) []string {
	var out []string
	for _, s := range stations {
		if s.URL != "" {
			out = append(out, s.URL)
		}
	}
	return out
}
