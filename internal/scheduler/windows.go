// Package scheduler runs the two background loops: the window loop,
// which applies scenes while their schedule windows are active, and the
// daily loop, which starts and stops plain daily playback.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sonos-orchestrator/internal/logger"
	"sonos-orchestrator/internal/scene"
	"sonos-orchestrator/internal/schedule"
	"sonos-orchestrator/internal/types"
)

const (
	defaultPollInterval = 15 * time.Second

	minFadeSteps = 2
	maxFadeSteps = 20
)

// SceneApplier is the slice of the scene engine the window loop needs.
type SceneApplier interface {
	ApplyByID(ctx context.Context, sceneID, performedBy string) (scene.Result, error)
}

// WindowLoop polls the configured schedule windows and applies the
// active window's scene on transitions. Transition state lives only in
// the loop; a restart re-applies the current window once.
type WindowLoop struct {
	store  scene.Store
	ctrl   scene.Controller
	engine SceneApplier
	log    scene.ActionLog

	Interval time.Duration
	Clock    Clock

	activeWindowID   string
	activeAppliedUTC time.Time
}

func NewWindowLoop(store scene.Store, ctrl scene.Controller, engine SceneApplier, log scene.ActionLog) *WindowLoop {
	return &WindowLoop{
		store:    store,
		ctrl:     ctrl,
		engine:   engine,
		log:      log,
		Interval: defaultPollInterval,
		Clock:    systemClock{},
	}
}

// Run blocks until ctx is cancelled. A failing cycle is logged and the
// loop carries on at the next tick.
func (l *WindowLoop) Run(ctx context.Context) {
	logger.Info("Window loop started, polling every %s", l.Interval)

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		if err := l.evaluate(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Info("Window loop stopped")
				return
			}
			logger.Error("Window loop cycle failed: %v", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("Window loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// evaluate runs one poll cycle.
func (l *WindowLoop) evaluate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	settings, err := l.store.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	now := l.Clock.Now()
	active := schedule.SelectActiveWindow(settings.ScheduleWindows, now)

	if active == nil {
		if l.activeWindowID == "" {
			return nil
		}
		if err := l.stopTracked(ctx, settings, nil); err != nil {
			return err
		}
		l.activeWindowID = ""
		l.activeAppliedUTC = time.Time{}
		return nil
	}

	sameWindow := strings.EqualFold(active.ID, l.activeWindowID)
	if sameWindow && !active.LastModifiedUTC.After(l.activeAppliedUTC) {
		return nil
	}

	newTargets := l.windowTargets(settings, active)

	if l.activeWindowID != "" && !sameWindow {
		if err := l.stopTracked(ctx, settings, newTargets); err != nil {
			return err
		}
		// Cleared here so a failed apply below does not stop the
		// previous window's devices again on every retry cycle.
		l.activeWindowID = ""
		l.activeAppliedUTC = time.Time{}
	}

	if active.SceneID == "" {
		l.markApplied(active)
		l.log.Record("ScheduleTriggered", fmt.Sprintf("Window '%s' (%s) active, no scene linked.", active.Name, active.ID))
		return nil
	}

	res, err := l.engine.ApplyByID(ctx, active.SceneID, "schedule-automation")
	if err != nil {
		return err
	}
	if !res.Success {
		// Tracked state stays untouched so the next cycle retries.
		l.log.Record("ScheduleTriggerFailed", fmt.Sprintf("Window '%s' (%s): %s", active.Name, active.ID, res.Message))
		return nil
	}

	if active.FadeInSeconds > 0 && len(res.TargetSpeakers) > 0 {
		if err := l.fadeIn(ctx, res.TargetSpeakers, active.FadeInSeconds); err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Warn("Fade-in for window %s incomplete: %v", active.ID, err)
		}
	}

	l.markApplied(active)
	l.log.Record("ScheduleTriggered", fmt.Sprintf("Window '%s' (%s) applied scene %s.", active.Name, active.ID, active.SceneID))
	return nil
}

func (l *WindowLoop) markApplied(w *types.ScheduleWindow) {
	l.activeWindowID = w.ID
	l.activeAppliedUTC = l.Clock.Now().UTC()
}

// stopTracked fades out and pauses the tracked window's devices,
// skipping any that the next window is about to use. A tracked window
// that was deleted from the configuration still has devices playing,
// so every configured speaker is paused in that case.
func (l *WindowLoop) stopTracked(ctx context.Context, settings *types.Settings, exclude []string) error {
	prev := windowByID(settings, l.activeWindowID)

	var targets []string
	fadeOutSeconds := 0
	label := l.activeWindowID
	if prev != nil {
		targets = l.windowTargets(settings, prev)
		fadeOutSeconds = prev.FadeOutSeconds
		label = fmt.Sprintf("'%s' (%s)", prev.Name, prev.ID)
	} else {
		targets = settings.AllSpeakerIPs()
	}

	targets = excludeIPs(targets, exclude)
	if len(targets) == 0 {
		return nil
	}

	if fadeOutSeconds > 0 {
		if err := l.fadeOut(ctx, targets, fadeOutSeconds); err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Warn("Fade-out for window %s incomplete: %v", l.activeWindowID, err)
		}
	}

	for _, ip := range targets {
		if err := l.ctrl.StopPlayback(ctx, ip); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			logger.Warn("Stopping %s for window %s failed: %v", ip, l.activeWindowID, err)
		}
	}

	l.log.Record("ScheduleWindowStopped", fmt.Sprintf("Window %s stopped on %s.", label, strings.Join(targets, ", ")))
	return nil
}

// windowTargets resolves the devices a window plays on: its scene's
// targets when a scene is linked and exists, else every speaker.
func (l *WindowLoop) windowTargets(settings *types.Settings, w *types.ScheduleWindow) []string {
	if w.SceneID != "" {
		if sc := settings.SceneByID(w.SceneID); sc != nil {
			return settings.SceneTargets(sc)
		}
	}
	return settings.AllSpeakerIPs()
}

// fadeIn ramps each device from volume 1 up to its current target
// volume over the given duration.
func (l *WindowLoop) fadeIn(ctx context.Context, ips []string, seconds int) error {
	steps := fadeSteps(seconds)
	stepDelay := time.Duration(seconds) * time.Second / time.Duration(steps)

	finals := make(map[string]int, len(ips))
	for _, ip := range ips {
		v, err := l.ctrl.GetVolume(ctx, ip)
		if err != nil {
			return fmt.Errorf("read volume of %s: %w", ip, err)
		}
		finals[ip] = v
		if err := l.ctrl.SetVolume(ctx, ip, 1); err != nil {
			return fmt.Errorf("reset volume of %s: %w", ip, err)
		}
	}

	for step := 1; step <= steps; step++ {
		if err := l.sleepStep(ctx, stepDelay); err != nil {
			return err
		}
		for _, ip := range ips {
			v := 1 + (finals[ip]-1)*step/steps
			if err := l.ctrl.SetVolume(ctx, ip, v); err != nil {
				return fmt.Errorf("fade-in %s: %w", ip, err)
			}
		}
	}
	return nil
}

// fadeOut ramps each device from its current volume down toward zero.
// Volumes are left at the ramped-down level; the caller pauses after.
func (l *WindowLoop) fadeOut(ctx context.Context, ips []string, seconds int) error {
	steps := fadeSteps(seconds)
	stepDelay := time.Duration(seconds) * time.Second / time.Duration(steps)

	currents := make(map[string]int, len(ips))
	for _, ip := range ips {
		v, err := l.ctrl.GetVolume(ctx, ip)
		if err != nil {
			return fmt.Errorf("read volume of %s: %w", ip, err)
		}
		currents[ip] = v
	}

	for step := steps - 1; step >= 0; step-- {
		if err := l.sleepStep(ctx, stepDelay); err != nil {
			return err
		}
		for _, ip := range ips {
			v := currents[ip] * step / steps
			if err := l.ctrl.SetVolume(ctx, ip, v); err != nil {
				return fmt.Errorf("fade-out %s: %w", ip, err)
			}
		}
	}
	return nil
}

func (l *WindowLoop) sleepStep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.Clock.After(d):
		return nil
	}
}

func fadeSteps(seconds int) int {
	return types.ClampInt(seconds, minFadeSteps, maxFadeSteps)
}

func windowByID(settings *types.Settings, id string) *types.ScheduleWindow {
	for i := range settings.ScheduleWindows {
		if strings.EqualFold(settings.ScheduleWindows[i].ID, id) {
			return &settings.ScheduleWindows[i]
		}
	}
	return nil
}

func excludeIPs(ips, exclude []string) []string {
	if len(exclude) == 0 {
		return ips
	}
	var out []string
	for _, ip := range ips {
		skip := false
		for _, ex := range exclude {
			if strings.EqualFold(ip, ex) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, ip)
		}
	}
	return out
}
