package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies what kind of audio source a scene or schedule plays.
type SourceType string

const (
	SourceNone         SourceType = "none"
	SourceStation      SourceType = "station"
	SourceSpotify      SourceType = "spotify"
	SourceYouTubeMusic SourceType = "youtube_music"
)

// TriggerType identifies what condition fires an automation rule.
type TriggerType string

const (
	TriggerNone          TriggerType = "none"
	TriggerSourceFailure TriggerType = "source_failure"
	TriggerDeviceOffline TriggerType = "device_offline"
)

// ActionType identifies what an automation rule does when triggered.
type ActionType string

const (
	ActionNone               ActionType = "none"
	ActionApplyScene         ActionType = "apply_scene"
	ActionPlayFallbackSource ActionType = "play_fallback_source"
)

// RecurrenceType describes which days of the week a schedule window covers.
type RecurrenceType string

const (
	RecurDaily      RecurrenceType = "daily"
	RecurWeekdays   RecurrenceType = "weekdays"
	RecurWeekends   RecurrenceType = "weekends"
	RecurCustomDays RecurrenceType = "custom_days"
)

// Speaker is a single configured Sonos device.
type Speaker struct {
	Name          string `json:"name"`
	IPAddress     string `json:"ip_address"`
	UUID          string `json:"uuid,omitempty"`
	StartupVolume *int   `json:"startup_volume,omitempty"`
}

// SpeakerGroup is a named set of speakers led by a coordinator.
type SpeakerGroup struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	CoordinatorIP string   `json:"coordinator_ip"`
	MemberIPs     []string `json:"member_ips"`
}

// Members returns the group's member IPs without the coordinator and
// without duplicates, preserving configured order.
func (g *SpeakerGroup) Members() []string {
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(g.CoordinatorIP)): true}
	var out []string
	for _, ip := range g.MemberIPs {
		ip = strings.TrimSpace(ip)
		key := strings.ToLower(ip)
		if ip == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ip)
	}
	return out
}

// TuneInStation is a named internet radio stream.
type TuneInStation struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// MusicSource is a named streaming track, album or playlist URL.
type MusicSource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SceneAction is one per-speaker entry of a scene.
type SceneAction struct {
	SpeakerIP         string `json:"speaker_ip"`
	Volume            *int   `json:"volume,omitempty"`
	IncludeInPlayback bool   `json:"include_in_playback"`
	IsMaster          bool   `json:"is_master"`
}

// Scene is a named, reusable playback configuration.
type Scene struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	Enabled         bool          `json:"enabled"`
	SourceType      SourceType    `json:"source_type"`
	SourceURL       string        `json:"source_url,omitempty"`
	SyncedPlayback  bool          `json:"synced_playback"`
	MasterSpeakerIP string        `json:"master_speaker_ip,omitempty"`
	TimerMinutes    int           `json:"timer_minutes,omitempty"`
	SpeakerIPs      []string      `json:"speaker_ips,omitempty"`
	Actions         []SceneAction `json:"actions,omitempty"`
	LastModifiedUTC time.Time     `json:"last_modified_utc"`
}

// NewScene returns an enabled scene with a fresh id.
func NewScene(name string) *Scene {
	return &Scene{
		ID:              uuid.NewString(),
		Name:            name,
		Enabled:         true,
		SourceType:      SourceNone,
		SyncedPlayback:  true,
		LastModifiedUTC: time.Now().UTC(),
	}
}

// AutomationRule is a configured response to a trigger, currently used as
// the recovery policy when a scene's primary source fails.
type AutomationRule struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Enabled            bool        `json:"enabled"`
	Trigger            TriggerType `json:"trigger"`
	Action             ActionType  `json:"action"`
	SceneID            string      `json:"scene_id,omitempty"`
	FallbackURL        string      `json:"fallback_url,omitempty"`
	FallbackSourceType SourceType  `json:"fallback_source_type,omitempty"`
	RetryCount         int         `json:"retry_count"`
	RetryDelaySeconds  int         `json:"retry_delay_seconds"`
	LastModifiedUTC    time.Time   `json:"last_modified_utc"`
}

// NewAutomationRule returns an enabled rule with a fresh id.
func NewAutomationRule(name string) *AutomationRule {
	return &AutomationRule{
		ID:                 uuid.NewString(),
		Name:               name,
		Enabled:            true,
		Trigger:            TriggerNone,
		Action:             ActionNone,
		FallbackSourceType: SourceNone,
		RetryCount:         1,
		RetryDelaySeconds:  5,
		LastModifiedUTC:    time.Now().UTC(),
	}
}

// ScheduleWindow is a recurring or dated time range that, while active,
// should have its linked scene applied.
type ScheduleWindow struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Enabled         bool           `json:"enabled"`
	Priority        int            `json:"priority"`
	StartTime       TimeOfDay      `json:"start_time"`
	StopTime        TimeOfDay      `json:"stop_time"`
	Recurrence      RecurrenceType `json:"recurrence"`
	DaysOfWeek      []time.Weekday `json:"days_of_week,omitempty"`
	StartDate       *Date          `json:"start_date,omitempty"`
	EndDate         *Date          `json:"end_date,omitempty"`
	SceneID         string         `json:"scene_id,omitempty"`
	FadeInSeconds   int            `json:"fade_in_seconds,omitempty"`
	FadeOutSeconds  int            `json:"fade_out_seconds,omitempty"`
	LastModifiedUTC time.Time      `json:"last_modified_utc"`
}

// NewScheduleWindow returns an enabled weekday window with a fresh id.
func NewScheduleWindow(name string) *ScheduleWindow {
	return &ScheduleWindow{
		ID:              uuid.NewString(),
		Name:            name,
		Enabled:         true,
		Priority:        100,
		StartTime:       TimeOfDay{Hour: 6},
		StopTime:        TimeOfDay{Hour: 18},
		Recurrence:      RecurWeekdays,
		LastModifiedUTC: time.Now().UTC(),
	}
}

// DaySchedule overrides start/stop time and autoplay source for one
// day of the week.
type DaySchedule struct {
	StartTime         TimeOfDay `json:"start_time"`
	StopTime          TimeOfDay `json:"stop_time"`
	StationURL        string    `json:"station_url,omitempty"`
	SpotifyURL        string    `json:"spotify_url,omitempty"`
	YouTubeMusicURL   string    `json:"youtube_music_url,omitempty"`
	PlayRandomStation bool      `json:"play_random_station,omitempty"`
	PlayRandomSpotify bool      `json:"play_random_spotify,omitempty"`
	PlayRandomYouTube bool      `json:"play_random_youtube,omitempty"`
	SkipPlayback      bool      `json:"skip_playback,omitempty"`
}

// HolidaySchedule overrides the day-of-week schedule on one calendar date.
type HolidaySchedule struct {
	DaySchedule
	Date Date   `json:"date"`
	Name string `json:"name,omitempty"`
}

// Settings is the root configuration document. It is loaded fresh for
// every operation and written back after mutation; there is no long-lived
// in-memory owner, so concurrent writers race and the last write wins.
type Settings struct {
	Volume           int       `json:"volume"`
	MaxVolume        int       `json:"max_volume"`
	StartTime        TimeOfDay `json:"start_time"`
	StopTime         TimeOfDay `json:"stop_time"`
	DefaultSpeakerIP string    `json:"default_speaker_ip"`

	Speakers      []Speaker      `json:"speakers,omitempty"`
	Groups        []SpeakerGroup `json:"groups,omitempty"`
	ActiveGroupID string         `json:"active_group_id,omitempty"`

	Stations            []TuneInStation `json:"stations,omitempty"`
	SpotifySources      []MusicSource   `json:"spotify_sources,omitempty"`
	YouTubeMusicSources []MusicSource   `json:"youtube_music_sources,omitempty"`

	AutoPlayStationURL      string `json:"auto_play_station_url,omitempty"`
	AutoPlaySpotifyURL      string `json:"auto_play_spotify_url,omitempty"`
	AutoPlayYouTubeMusicURL string `json:"auto_play_youtube_music_url,omitempty"`
	AutoPlayRandomStation   bool   `json:"auto_play_random_station,omitempty"`
	AutoPlayRandomSpotify   bool   `json:"auto_play_random_spotify,omitempty"`
	AutoPlayRandomYouTube   bool   `json:"auto_play_random_youtube,omitempty"`

	DailySchedules map[time.Weekday]*DaySchedule `json:"daily_schedules,omitempty"`
	Holidays       []HolidaySchedule             `json:"holidays,omitempty"`
	ActiveDays     []time.Weekday                `json:"active_days,omitempty"`

	Scenes          []Scene          `json:"scenes,omitempty"`
	AutomationRules []AutomationRule `json:"automation_rules,omitempty"`
	ScheduleWindows []ScheduleWindow `json:"schedule_windows,omitempty"`
}

// DefaultSettings returns the document used when nothing has been
// persisted yet.
func DefaultSettings() *Settings {
	return &Settings{
		Volume:    10,
		MaxVolume: 100,
		StartTime: TimeOfDay{Hour: 6},
		StopTime:  TimeOfDay{Hour: 18},
		Stations: []TuneInStation{
			{Name: "Antenne Vorarlberg", URL: "web.radio.antennevorarlberg.at/av-live/stream/mp3"},
			{Name: "Radio V", URL: "orf-live.ors-shoutcast.at/vbg-q2a"},
			{Name: "Kronehit", URL: "onair.krone.at/kronehit.mp3"},
		},
		SpotifySources: []MusicSource{
			{Name: "Top 50 Global", URL: "https://open.spotify.com/playlist/37i9dQZEVXbMDoHDwVN2tF"},
		},
		ActiveDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
	}
}

// SceneByID finds a scene by id, case-insensitively.
func (s *Settings) SceneByID(id string) *Scene {
	for i := range s.Scenes {
		if strings.EqualFold(s.Scenes[i].ID, id) {
			return &s.Scenes[i]
		}
	}
	return nil
}

// SpeakerByIP finds a configured speaker by address, case-insensitively.
func (s *Settings) SpeakerByIP(ip string) *Speaker {
	for i := range s.Speakers {
		if strings.EqualFold(s.Speakers[i].IPAddress, ip) {
			return &s.Speakers[i]
		}
	}
	return nil
}

// ActiveGroup returns the group selected for daily playback, or nil.
func (s *Settings) ActiveGroup() *SpeakerGroup {
	if s.ActiveGroupID == "" {
		return nil
	}
	for i := range s.Groups {
		if strings.EqualFold(s.Groups[i].ID, s.ActiveGroupID) {
			return &s.Groups[i]
		}
	}
	return nil
}

// AllSpeakerIPs returns every configured speaker address, deduplicated.
func (s *Settings) AllSpeakerIPs() []string {
	var ips []string
	for _, sp := range s.Speakers {
		if strings.TrimSpace(sp.IPAddress) != "" {
			ips = append(ips, strings.TrimSpace(sp.IPAddress))
		}
	}
	return DedupeIPs(ips)
}

// HolidayFor returns the holiday override for the given date, or nil.
func (s *Settings) HolidayFor(date Date) *HolidaySchedule {
	for i := range s.Holidays {
		if s.Holidays[i].Date == date {
			return &s.Holidays[i]
		}
	}
	return nil
}

// SceneTargets resolves the speakers a scene plays on: actions marked for
// playback win over the flat IP list, which wins over every configured
// speaker. The result is deduplicated case-insensitively.
func (s *Settings) SceneTargets(sc *Scene) []string {
	var ips []string
	for _, a := range sc.Actions {
		if a.IncludeInPlayback && strings.TrimSpace(a.SpeakerIP) != "" {
			ips = append(ips, strings.TrimSpace(a.SpeakerIP))
		}
	}
	if len(ips) > 0 {
		return DedupeIPs(ips)
	}
	for _, ip := range sc.SpeakerIPs {
		if strings.TrimSpace(ip) != "" {
			ips = append(ips, strings.TrimSpace(ip))
		}
	}
	if len(ips) > 0 {
		return DedupeIPs(ips)
	}
	return s.AllSpeakerIPs()
}

// DedupeIPs removes case-insensitive duplicates, preserving order.
func DedupeIPs(ips []string) []string {
	seen := make(map[string]bool, len(ips))
	var out []string
	for _, ip := range ips {
		key := strings.ToLower(ip)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ip)
	}
	return out
}

// ContainsDay reports whether day is in the set.
func ContainsDay(days []time.Weekday, day time.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// ClampInt bounds v to [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
