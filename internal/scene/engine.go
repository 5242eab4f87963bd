// Package scene applies named playback configurations to sets of Sonos
// devices, with retry and rule-driven recovery when a source fails.
package scene

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sonos-orchestrator/internal/logger"
	"sonos-orchestrator/internal/types"
)

const (
	maxRecoveryRetryCount        = 10
	maxRecoveryRetryDelaySeconds = 300
)

// Controller is the device-control collaborator. All calls are network
// operations that may fail and must honor ctx.
type Controller interface {
	SetVolume(ctx context.Context, ip string, volume int) error
	GetVolume(ctx context.Context, ip string) (int, error)
	StartPlayback(ctx context.Context, ip string) error
	StopPlayback(ctx context.Context, ip string) error
	PlayStationURL(ctx context.Context, ip, url string) error
	PlaySourceTrack(ctx context.Context, ip, url, fallbackURL string) error
	Ungroup(ctx context.Context, ip string) error
	CreateGroup(ctx context.Context, coordinatorIP string, memberIPs []string) error
	SetGroupCoordinator(ctx context.Context, ip string) error
	JoinGroup(ctx context.Context, coordinatorIP, memberIP string) error
}

// Store loads and saves the configuration document.
type Store interface {
	Load() (*types.Settings, error)
	Save(*types.Settings) error
}

// ActionLog records orchestration activity, best-effort.
type ActionLog interface {
	Record(kind, details string)
	RecordBy(kind, details, performedBy string)
}

// Notifier sends outbound notifications, best-effort.
type Notifier interface {
	Notify(message, performedBy string)
}

// Result is the outcome of a scene application.
type Result struct {
	Success           bool
	Message           string
	SceneID           string
	TargetSpeakers    []string
	RecoveryActivated bool
}

// Engine applies scenes. Safe for concurrent use: manual applies, the
// window loop and recovery can all run at once.
type Engine struct {
	ctrl     Controller
	store    Store
	log      ActionLog
	notifier Notifier

	mu     sync.Mutex
	timers map[string]*autoStopTimer // key: lowercased scene id

	// test seam for the auto-stop delay
	timerAfter func(d time.Duration) <-chan time.Time
}

// New creates an engine. notifier may be nil.
func New(ctrl Controller, store Store, log ActionLog, notifier Notifier) *Engine {
	return &Engine{
		ctrl:       ctrl,
		store:      store,
		log:        log,
		notifier:   notifier,
		timers:     make(map[string]*autoStopTimer),
		timerAfter: func(d time.Duration) <-chan time.Time { return time.After(d) },
	}
}

// ApplyByID applies the stored scene with the given id. The returned
// error is non-nil only on cancellation; every other outcome is carried
// in the Result.
func (e *Engine) ApplyByID(ctx context.Context, sceneID, performedBy string) (Result, error) {
	return e.applyByID(ctx, sceneID, performedBy, true)
}

// Apply applies a scene value directly (it does not need to be stored).
func (e *Engine) Apply(ctx context.Context, sc *types.Scene, performedBy string) (Result, error) {
	return e.apply(ctx, sc, performedBy, true)
}

// Shutdown cancels all pending auto-stop timers.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.cancel()
		delete(e.timers, id)
	}
}

type autoStopTimer struct {
	cancel context.CancelFunc
}

func (e *Engine) applyByID(ctx context.Context, sceneID, performedBy string, allowRecovery bool) (Result, error) {
	if strings.TrimSpace(sceneID) == "" {
		return Result{Message: "Scene id is required."}, nil
	}

	settings, err := e.store.Load()
	if err != nil {
		return Result{Message: "Settings could not be loaded.", SceneID: sceneID}, nil
	}

	sc := settings.SceneByID(sceneID)
	if sc == nil {
		return Result{Message: fmt.Sprintf("Scene '%s' not found.", sceneID), SceneID: sceneID}, nil
	}
	if !sc.Enabled {
		return Result{Message: fmt.Sprintf("Scene '%s' is disabled.", sc.Name), SceneID: sceneID}, nil
	}

	return e.apply(ctx, sc, performedBy, allowRecovery)
}

func (e *Engine) apply(ctx context.Context, sc *types.Scene, performedBy string, allowRecovery bool) (Result, error) {
	settings, err := e.store.Load()
	if err != nil {
		return Result{Message: "Settings could not be loaded.", SceneID: sc.ID}, nil
	}

	targets := settings.SceneTargets(sc)
	if len(targets) == 0 {
		return Result{Message: "No target speakers available for scene.", SceneID: sc.ID}, nil
	}

	result := Result{SceneID: sc.ID, TargetSpeakers: targets}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	// Always detach targets first; grouping state from a previous scene
	// must not leak into this one.
	if err := fanOut(ctx, targets, e.ctrl.Ungroup); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return result, cerr
		}
		return e.failed(sc, result, err), nil
	}

	if err := fanOut(ctx, targets, func(ctx context.Context, ip string) error {
		volume := resolveVolume(sc, settings, ip)
		if volume == nil {
			return nil
		}
		return e.ctrl.SetVolume(ctx, ip, types.ClampInt(*volume, 0, settings.MaxVolume))
	}); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return result, cerr
		}
		return e.failed(sc, result, err), nil
	}

	master := resolveMaster(sc, targets)
	playbackTargets := targets
	if sc.SyncedPlayback && len(targets) > 1 {
		var members []string
		for _, ip := range targets {
			if !strings.EqualFold(ip, master) {
				members = append(members, ip)
			}
		}
		if err := e.ctrl.CreateGroup(ctx, master, members); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return result, cerr
			}
			logger.Warn("Grouping for scene %s failed, playing ungrouped: %v", sc.ID, err)
		} else {
			// The coordinator fans audio out to the members.
			playbackTargets = []string{master}
		}
	}

	// Validation failures are immediate: a required source URL that is
	// missing will not heal on retry.
	if sc.SourceType != types.SourceNone && strings.TrimSpace(sc.SourceURL) == "" {
		return e.failed(sc, result, fmt.Errorf("scene '%s' requires a source url", sc.Name)), nil
	}

	rule := activeRecoveryRule(settings, allowRecovery)
	retryCount, retryDelay := retryPolicy(rule)

	attempts, playErr := e.playWithRetries(ctx, sc, settings, playbackTargets, retryCount, retryDelay)
	if playErr != nil {
		if cerr := ctx.Err(); cerr != nil {
			return result, cerr
		}

		recovered, rerr := e.tryRecover(ctx, sc, settings, playbackTargets, playErr, rule)
		if rerr != nil {
			return result, rerr
		}
		if !recovered {
			return e.failed(sc, result, playErr), nil
		}
		result.RecoveryActivated = true
	} else if attempts > 1 {
		e.log.Record("SceneRetrySucceeded", fmt.Sprintf("Scene %s succeeded after %d attempts.", sc.ID, attempts))
	}

	e.log.RecordBy("SceneApplied", fmt.Sprintf("%s (%s) on %s", sc.Name, sc.ID, strings.Join(targets, ", ")), performedBy)
	if e.notifier != nil {
		msg := fmt.Sprintf("Scene '%s' applied on %d speaker(s).", sc.Name, len(targets))
		go e.notifier.Notify(msg, performedBy)
	}

	e.scheduleAutoStop(sc, targets)

	result.Success = true
	result.Message = "Scene applied."
	return result, nil
}

func (e *Engine) failed(sc *types.Scene, result Result, err error) Result {
	logger.Warn("Failed to apply scene %s: %v", sc.ID, err)
	e.log.Record("SceneApplyFailed", fmt.Sprintf("%s (%s): %v", sc.Name, sc.ID, err))
	result.Success = false
	result.Message = fmt.Sprintf("Failed to apply scene: %v", err)
	return result
}

// playWithRetries runs the source action up to retryCount+1 times,
// sleeping retryDelay between attempts. Returns the attempt count and
// the last error, nil on success.
func (e *Engine) playWithRetries(ctx context.Context, sc *types.Scene, settings *types.Settings, playbackTargets []string, retryCount int, retryDelay time.Duration) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= retryCount; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		err := e.executePlayback(ctx, sc, settings, playbackTargets)
		if err == nil {
			return attempt + 1, nil
		}
		if ctx.Err() != nil {
			return attempt + 1, err
		}
		lastErr = err

		if attempt == retryCount {
			break
		}
		logger.Warn("Scene %s playback attempt %d/%d failed, retrying in %s: %v",
			sc.ID, attempt+1, retryCount+1, retryDelay, err)
		if retryDelay > 0 {
			select {
			case <-ctx.Done():
				return attempt + 1, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return retryCount + 1, lastErr
}

// executePlayback runs the scene's source action concurrently against all
// playback targets. The call fails as a whole if any device call fails.
func (e *Engine) executePlayback(ctx context.Context, sc *types.Scene, settings *types.Settings, playbackTargets []string) error {
	if len(playbackTargets) == 0 {
		return nil
	}

	switch sc.SourceType {
	case types.SourceNone:
		return fanOut(ctx, playbackTargets, e.ctrl.StartPlayback)
	case types.SourceStation:
		return fanOut(ctx, playbackTargets, func(ctx context.Context, ip string) error {
			return e.ctrl.PlayStationURL(ctx, ip, sc.SourceURL)
		})
	case types.SourceSpotify, types.SourceYouTubeMusic:
		return fanOut(ctx, playbackTargets, func(ctx context.Context, ip string) error {
			return e.ctrl.PlaySourceTrack(ctx, ip, sc.SourceURL, settings.AutoPlayStationURL)
		})
	default:
		return fmt.Errorf("unsupported source type '%s'", sc.SourceType)
	}
}

// tryRecover consults the recovery rule after retries are exhausted.
// Recovery applies a different scene or a transient fallback source;
// it never recurses into further recovery.
func (e *Engine) tryRecover(ctx context.Context, sc *types.Scene, settings *types.Settings, playbackTargets []string, origErr error, rule *types.AutomationRule) (bool, error) {
	if rule == nil || rule.Action == types.ActionNone {
		return false, nil
	}

	logger.Warn("Scene source failed for %s, trying recovery rule %s: %v", sc.ID, rule.ID, origErr)

	switch rule.Action {
	case types.ActionApplyScene:
		if strings.TrimSpace(rule.SceneID) == "" {
			return false, nil
		}
		if strings.EqualFold(rule.SceneID, sc.ID) {
			logger.Warn("Recovery rule %s points at the failing scene %s, skipping to avoid recursion", rule.ID, sc.ID)
			return false, nil
		}
		res, err := e.applyByID(ctx, rule.SceneID, "automation-recovery", false)
		if err != nil {
			return false, err
		}
		if !res.Success {
			return false, nil
		}
		e.log.Record("RecoveryActivated", fmt.Sprintf("Scene %s failed, recovered via scene %s.", sc.ID, rule.SceneID))
		return true, nil

	case types.ActionPlayFallbackSource:
		if strings.TrimSpace(rule.FallbackURL) == "" || rule.FallbackSourceType == types.SourceNone {
			return false, nil
		}
		fallback := &types.Scene{
			ID:             "fallback-" + uuid.NewString(),
			Name:           "Fallback Recovery",
			SourceType:     rule.FallbackSourceType,
			SourceURL:      rule.FallbackURL,
			SyncedPlayback: sc.SyncedPlayback,
			SpeakerIPs:     playbackTargets,
			Actions:        sc.Actions,
		}
		if err := e.executePlayback(ctx, fallback, settings, playbackTargets); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return false, cerr
			}
			logger.Warn("Fallback source for scene %s failed: %v", sc.ID, err)
			return false, nil
		}
		e.log.Record("RecoveryActivated", fmt.Sprintf("Scene %s failed, fallback source started.", sc.ID))
		return true, nil

	default:
		return false, nil
	}
}

// scheduleAutoStop (re)schedules the one-shot pause timer for a scene.
// A new timer for the same scene id cancels any still-pending one.
func (e *Engine) scheduleAutoStop(sc *types.Scene, targets []string) {
	if sc.TimerMinutes <= 0 || len(targets) == 0 {
		return
	}

	key := strings.ToLower(sc.ID)
	timerCtx, cancel := context.WithCancel(context.Background())
	timer := &autoStopTimer{cancel: cancel}

	e.mu.Lock()
	if prev, ok := e.timers[key]; ok {
		prev.cancel()
	}
	e.timers[key] = timer
	e.mu.Unlock()

	minutes := sc.TimerMinutes
	duration := time.Duration(minutes) * time.Minute
	sceneName, sceneID := sc.Name, sc.ID
	targetIPs := append([]string(nil), targets...)

	go func() {
		defer func() {
			e.mu.Lock()
			// Only remove our own entry; a replacement may already be in.
			if e.timers[key] == timer {
				delete(e.timers, key)
			}
			e.mu.Unlock()
			cancel()
		}()

		select {
		case <-timerCtx.Done():
			return
		case <-e.timerAfter(duration):
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := fanOut(stopCtx, targetIPs, e.ctrl.StopPlayback); err != nil {
			logger.Warn("Scene timer for %s failed to pause targets: %v", sceneID, err)
			return
		}
		e.log.Record("SceneTimerCompleted", fmt.Sprintf("%s (%s) paused after %d minute(s).", sceneName, sceneID, minutes))
	}()
}

// pendingTimers reports how many auto-stop timers are scheduled.
func (e *Engine) pendingTimers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// activeRecoveryRule returns the earliest-modified enabled source-failure
// rule, or nil. Recovery invocations never get a rule, which also gives
// them a zero retry policy.
func activeRecoveryRule(settings *types.Settings, allowRecovery bool) *types.AutomationRule {
	if !allowRecovery {
		return nil
	}
	var rule *types.AutomationRule
	for i := range settings.AutomationRules {
		r := &settings.AutomationRules[i]
		if !r.Enabled || r.Trigger != types.TriggerSourceFailure {
			continue
		}
		if rule == nil || r.LastModifiedUTC.Before(rule.LastModifiedUTC) {
			rule = r
		}
	}
	return rule
}

func retryPolicy(rule *types.AutomationRule) (int, time.Duration) {
	if rule == nil {
		return 0, 0
	}
	count := types.ClampInt(rule.RetryCount, 0, maxRecoveryRetryCount)
	delay := types.ClampInt(rule.RetryDelaySeconds, 0, maxRecoveryRetryDelaySeconds)
	return count, time.Duration(delay) * time.Second
}

// resolveVolume picks the per-device action volume, else the speaker's
// configured startup volume, else the global default.
func resolveVolume(sc *types.Scene, settings *types.Settings, ip string) *int {
	for _, a := range sc.Actions {
		if strings.EqualFold(a.SpeakerIP, ip) && a.Volume != nil {
			return a.Volume
		}
	}
	if sp := settings.SpeakerByIP(ip); sp != nil && sp.StartupVolume != nil {
		return sp.StartupVolume
	}
	v := settings.Volume
	return &v
}

// resolveMaster picks the scene's explicit master, else the action
// flagged as master, else the first target.
func resolveMaster(sc *types.Scene, targets []string) string {
	if sc.MasterSpeakerIP != "" && containsFold(targets, sc.MasterSpeakerIP) {
		return sc.MasterSpeakerIP
	}
	for _, a := range sc.Actions {
		if a.IsMaster && strings.TrimSpace(a.SpeakerIP) != "" && containsFold(targets, a.SpeakerIP) {
			return a.SpeakerIP
		}
	}
	return targets[0]
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// fanOut runs fn concurrently for every ip and joins the errors.
func fanOut(ctx context.Context, ips []string, fn func(ctx context.Context, ip string) error) error {
	if len(ips) == 1 {
		return fn(ctx, ips[0])
	}
	var wg sync.WaitGroup
	errs := make([]error, len(ips))
	for i, ip := range ips {
		wg.Add(1)
		go func(i int, ip string) {
			defer wg.Done()
			errs[i] = fn(ctx, ip)
		}(i, ip)
	}
	wg.Wait()
	return errors.Join(errs...)
}
