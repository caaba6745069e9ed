// Package scheduler implements the main operator loop: one
// cooperatively preemptible cycle that polls every configured telescope,
// advances its enclosure/flats/focus/science state machine, and dispatches
// target sets drawn from the event store or the host schedule. Grounded on
// scheduler.py's Scheduler.run/handle_notification/generate_schedules/
// is_still_valid, almost line for line; the per-telescope dispatch pool is
// grounded on engine/internal/pipeline.Pipeline's worker-goroutine shape,
// sized to one goroutine per configured telescope instead of a tunable
// worker count.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stpaulobs/turbosched/internal/alerts"
	"github.com/stpaulobs/turbosched/internal/astro"
	"github.com/stpaulobs/turbosched/internal/clock"
	"github.com/stpaulobs/turbosched/internal/config"
	"github.com/stpaulobs/turbosched/internal/eventstore"
	"github.com/stpaulobs/turbosched/internal/logging"
	"github.com/stpaulobs/turbosched/internal/metrics"
	"github.com/stpaulobs/turbosched/internal/targets"
	"github.com/stpaulobs/turbosched/internal/telescope"
)

// notificationPollInterval bounds how quickly the wake-event wait notices a
// context cancellation or a freshly raised alert signal, matching the
// ≈1-second cancellation granularity the alert listener loops also use.
const notificationPollInterval = time.Second

// Telescope pairs one controller client with the static descriptor the
// scheduler logs and dispatches by.
type Telescope struct {
	Name   string
	Client *telescope.Client
}

// Scheduler owns the operator loop's mutable state: the per-telescope
// dispatch stack (current_schedules in the original, sorted ascending by
// length so the longest sits at the tail and is popped first), the durable
// event store,
// the static host schedule, and the alert mailbox the listeners publish
// into.
type Scheduler struct {
	obs        config.Observatory
	ops        config.Ops
	twilight   astro.TwilightKind
	telescopes []Telescope

	store       *eventstore.Store
	hostTargets targets.TargetSet
	buffer      *alerts.Buffer
	signal      *alerts.Signal

	clk     clock.Clock
	log     logging.Logger
	metrics *metrics.Collectors
	tracer  *metrics.Tracer

	mu               sync.Mutex
	currentSchedules []targets.TargetSet
}

// New constructs a Scheduler. The event store should already have Load
// called on it by the caller so startup picks up any persisted events.
func New(
	obs config.Observatory,
	ops config.Ops,
	twilight astro.TwilightKind,
	telescopes []Telescope,
	store *eventstore.Store,
	hostTargets targets.TargetSet,
	buffer *alerts.Buffer,
	signal *alerts.Signal,
	clk clock.Clock,
	log logging.Logger,
	mc *metrics.Collectors,
	tracer *metrics.Tracer,
) *Scheduler {
	return &Scheduler{
		obs:         obs,
		ops:         ops,
		twilight:    twilight,
		telescopes:  telescopes,
		store:       store,
		hostTargets: hostTargets,
		buffer:      buffer,
		signal:      signal,
		clk:         clk,
		log:         log,
		metrics:     mc,
		tracer:      tracer,
	}
}

// Run executes the main cycle until ctx is cancelled, then stops every
// controller (best-effort) before returning. A cancelled ctx plays the role
// of keep_going=false plus the SIGINT/SIGTERM handlers in the original: the
// caller cancels ctx when SIGINT or SIGTERM arrives.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.InfoCtx(ctx, "scheduler started")
	s.startAllControllers(ctx)
	s.log.InfoCtx(ctx, "started all remote controllers", "count", len(s.telescopes))

	for ctx.Err() == nil {
		if !astro.IsTwilight(s.obs.LatitudeRad(), s.obs.LongitudeRad(), astro.Civil, s.clk.Now()) {
			s.log.DebugCtx(ctx, "not civil night, waiting before next check")
			s.wait(ctx, s.ops.OffHoursPoll)
			continue
		}

		s.log.DebugCtx(ctx, "polling telescopes", "count", len(s.telescopes))
		isActive := s.runCycle(ctx)

		delay := s.ops.IdlePoll
		if isActive {
			delay = s.ops.ActivePoll
		}
		s.wait(ctx, delay)

		if s.signal.IsSet() {
			s.log.InfoCtx(ctx, "event notification received")
			s.handleNotification(ctx)
		}
	}

	s.log.InfoCtx(ctx, "stopping all remote controllers", "count", len(s.telescopes))
	s.stopAllControllers(ctx)
}

// wait blocks until the signal is raised, ctx is cancelled, or d elapses,
// polling at notificationPollInterval so a cancellation is observed
// promptly even while most of a long OFF_HOURS_POLL sleep remains.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) {
	deadline := s.clk.Now().Add(d)
	for {
		if ctx.Err() != nil || s.signal.IsSet() {
			return
		}
		remaining := deadline.Sub(s.clk.Now())
		if remaining <= 0 {
			return
		}
		step := notificationPollInterval
		if remaining < step {
			step = remaining
		}
		if s.signal.Wait(step) {
			return
		}
	}
}

// runCycle inspects every telescope in configuration order, advancing its
// state machine and, once a dispatch is ready, handing the send-schedule
// HTTP sequence to its own goroutine so a slow controller cannot delay the
// next telescope's inspection. It reports whether any telescope was
// active this cycle.
func (s *Scheduler) runCycle(ctx context.Context) bool {
	var dispatchWG sync.WaitGroup
	isActive := false
	activeCount := 0

	for _, t := range s.telescopes {
		active := s.pollTelescope(ctx, t, &dispatchWG)
		if active {
			isActive = true
			activeCount++
		}
		if s.metrics != nil {
			s.metrics.CyclesTotal.WithLabelValues(t.Name).Inc()
		}
	}

	if s.metrics != nil {
		s.metrics.TelescopesActive.Set(float64(activeCount))
	}

	dispatchWG.Wait()
	return isActive
}

func (s *Scheduler) pollTelescope(ctx context.Context, t Telescope, dispatchWG *sync.WaitGroup) bool {
	ctx, span := s.tracer.StartCycle(ctx, t.Name)
	defer span.End()

	start := s.clk.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.CycleDuration.WithLabelValues(t.Name).Observe(s.clk.Now().Sub(start).Seconds())
		}
	}()

	result := t.Client.State(ctx)
	if !result.OK {
		return false
	}
	state := result.Value
	s.log.DebugCtx(ctx, "telescope state", "telescope", t.Name,
		"enclosure", state.Enclosure, "running", state.Running, "queue_size", state.QueueSize)

	switch state.Enclosure {
	case telescope.EnclosureClosed:
		t.Client.OpenEnclosure(ctx)
		return false
	case telescope.EnclosureOpened:
		// fall through to the running/queue checks below.
	default:
		// opening or closing: wait for the enclosure to settle.
		return false
	}

	if !state.Running {
		if t.Client.Reset(ctx) && t.Client.Start(ctx) {
			s.log.InfoCtx(ctx, "started controller", "telescope", t.Name)
		}
	}

	if state.QueueSize > 0 {
		return true
	}

	if !astro.IsTwilight(s.obs.LatitudeRad(), s.obs.LongitudeRad(), astro.Astronomical, s.clk.Now()) {
		if s.shouldTakeFlats(ctx, t, state) {
			kind := telescope.FlatsKindForHour(s.clk.Now().Hour())
			if t.Client.Flats(ctx, kind) {
				s.log.InfoCtx(ctx, "sent flats request", "telescope", t.Name)
			}
		} else {
			s.log.DebugCtx(ctx, "outside flat-taking window", "telescope", t.Name)
		}
		return true
	}

	if s.shouldFocus(ctx, t, state) {
		if t.Client.Focus(ctx) {
			s.log.InfoCtx(ctx, "sent focus request", "telescope", t.Name)
		}
		return true
	}

	schedule, ok := s.popDispatch(ctx)
	if !ok {
		s.log.InfoCtx(ctx, "no targets visible")
		return true
	}

	dispatchWG.Add(1)
	go func() {
		defer dispatchWG.Done()
		s.dispatch(ctx, t, schedule)
	}()

	return true
}

// shouldFocus mirrors should_telescope_focus: a last_focused timestamp in
// the future is treated as invalid and forces an immediate refocus.
func (s *Scheduler) shouldFocus(ctx context.Context, t Telescope, state telescope.State) bool {
	now := s.clk.Now()
	last := state.LastFocusedTime()
	if last.After(now) {
		s.log.WarnCtx(ctx, "invalid last_focused timestamp, refocusing", "telescope", t.Name, "last_focused", state.LastFocused)
		return true
	}
	return now.Sub(last) > s.ops.FocusInterval
}

// shouldTakeFlats mirrors should_take_flats: a last_flat timestamp in the
// future is also treated as invalid, but resolves the opposite way — flats
// are skipped rather than forced, since taking flats every night is not
// worth the risk of repeating them within one twilight window. This
// asymmetry with shouldFocus is intentional, not a bug (see DESIGN.md).
func (s *Scheduler) shouldTakeFlats(ctx context.Context, t Telescope, state telescope.State) bool {
	now := s.clk.Now()
	last := state.LastFlatTime()
	if last.After(now) {
		s.log.WarnCtx(ctx, "invalid last_flat timestamp, skipping flats", "telescope", t.Name, "last_flat", state.LastFlat)
		return false
	}
	return now.Sub(last) > s.ops.FlatInterval
}

// popDispatch returns the longest pending dispatch, regenerating the
// dispatch stack first if it is empty or its tail has lost visibility.
func (s *Scheduler) popDispatch(ctx context.Context) (targets.TargetSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.currentSchedules) == 0 || !s.isStillValidLocked(s.currentSchedules[len(s.currentSchedules)-1]) {
		if !s.generateSchedulesLocked(ctx) {
			return nil, false
		}
		s.log.InfoCtx(ctx, "generated new schedules", "count", len(s.telescopes))
	}

	last := len(s.currentSchedules) - 1
	schedule := s.currentSchedules[last]
	s.currentSchedules = s.currentSchedules[:last]
	return schedule, true
}

func (s *Scheduler) pushDispatchBack(schedule targets.TargetSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentSchedules = append(s.currentSchedules, schedule)
}

// isStillValidLocked compares the schedule's length against its
// re-filtered visible length: any loss of any target invalidates it.
func (s *Scheduler) isStillValidLocked(set targets.TargetSet) bool {
	filtered := targets.FilterVisibility(set, s.obs.LatitudeRad(), s.obs.LongitudeRad(), s.twilight, targets.DefaultMaxAirmass, s.clk.Now())
	return len(filtered) == len(set)
}

// generateSchedulesLocked rebuilds currentSchedules from the highest
// priority visible event, falling back to the clustered host schedule.
// Caller must hold s.mu.
func (s *Scheduler) generateSchedulesLocked(ctx context.Context) bool {
	if err := s.store.RemoveExpired(); err != nil {
		s.log.ErrorCtx(ctx, "failed to prune expired events", "err", err)
	}

	n := len(s.telescopes)
	var visible targets.TargetSet
	for _, sched := range s.store.IterByPriority() {
		visible = targets.FilterVisibility(sched.Targets, s.obs.LatitudeRad(), s.obs.LongitudeRad(), s.twilight, targets.DefaultMaxAirmass, s.clk.Now())
		if len(visible) > 0 {
			break
		}
	}

	var dispatches []targets.TargetSet
	if len(visible) > 0 {
		dispatches = targets.SeparateEvenly(visible, n)
	} else {
		hostVisible := targets.FilterVisibility(s.hostTargets, s.obs.LatitudeRad(), s.obs.LongitudeRad(), s.twilight, targets.DefaultMaxAirmass, s.clk.Now())
		if len(hostVisible) == 0 {
			s.currentSchedules = nil
			return false
		}
		dispatches = targets.SeparateByCluster(hostVisible, n)
	}

	sort.SliceStable(dispatches, func(i, j int) bool { return len(dispatches[i]) < len(dispatches[j]) })
	s.currentSchedules = dispatches
	return true
}

// dispatch sends one target set to one telescope, pushing it back onto the
// stack for a future cycle if the send sequence fails partway through.
func (s *Scheduler) dispatch(ctx context.Context, t Telescope, schedule targets.TargetSet) {
	s.log.InfoCtx(ctx, "sending schedule", "telescope", t.Name, "targets", len(schedule))

	if s.sendSchedule(ctx, t, schedule) {
		s.log.InfoCtx(ctx, "successfully sent schedule", "telescope", t.Name)
		if s.metrics != nil {
			s.metrics.TargetsDispatched.WithLabelValues(t.Name).Add(float64(len(schedule)))
		}
		return
	}

	s.pushDispatchBack(schedule)
	s.log.ErrorCtx(ctx, "failed to send schedule", "telescope", t.Name)
}

// sendSchedule mirrors send_schedule: point then expose, target by target,
// aborting the whole sequence on the first failure.
func (s *Scheduler) sendSchedule(ctx context.Context, t Telescope, schedule targets.TargetSet) bool {
	for _, target := range schedule {
		if !t.Client.Point(ctx, target.RADeg, target.DecDeg) {
			s.log.ErrorCtx(ctx, "failed to send point command", "telescope", t.Name)
			return false
		}

		settings := telescope.ExposureSettings{
			Exposure:   30,
			Gain:       0,
			Offset:     0,
			FrameType:  "sci",
			ObjectName: target.Name,
			RADeg:      target.RADeg,
			DecDeg:     target.DecDeg,
		}
		if !t.Client.Expose(ctx, settings) {
			s.log.ErrorCtx(ctx, "failed to send exposure command", "telescope", t.Name)
			return false
		}
	}
	return true
}

// handleNotification mirrors handle_notification: reset every controller so
// they can respond to the new event promptly, persist whatever is
// currently buffered, drop the stale dispatch stack, and clear the signal.
func (s *Scheduler) handleNotification(ctx context.Context) {
	s.resetAllControllers(ctx)
	s.log.InfoCtx(ctx, "reset all remote controllers")

	if sched, ok := s.buffer.Take(); ok {
		if err := s.store.Add(sched); err != nil {
			s.log.ErrorCtx(ctx, "failed to persist event schedule", "name", sched.Name, "err", err)
		}
		if s.metrics != nil {
			s.metrics.AlertsReceived.WithLabelValues("buffer").Inc()
			s.metrics.QueueDepth.WithLabelValues("default").Set(float64(s.store.Len()))
		}
	}

	s.mu.Lock()
	s.currentSchedules = nil
	s.mu.Unlock()

	s.signal.Clear()
}

func (s *Scheduler) startAllControllers(ctx context.Context) {
	for _, t := range s.telescopes {
		if t.Client.Start(ctx) {
			continue
		}
		s.log.ErrorCtx(ctx, "failed to start controller", "telescope", t.Name)
	}
}

func (s *Scheduler) stopAllControllers(ctx context.Context) {
	for _, t := range s.telescopes {
		if t.Client.Stop(ctx) {
			s.log.InfoCtx(ctx, "stopped controller", "telescope", t.Name)
		} else {
			s.log.ErrorCtx(ctx, "failed to stop controller", "telescope", t.Name)
		}
	}
}

func (s *Scheduler) resetAllControllers(ctx context.Context) {
	for _, t := range s.telescopes {
		t.Client.Reset(ctx)
	}
}

// ParkAll resets then parks every telescope's mount, used during a graceful
// shutdown sequence invoked by the caller after Run has returned, so after
// Run has already stopped the controllers (ported from
// scripts/park_mount.py's park_telescope).
func (s *Scheduler) ParkAll(ctx context.Context) {
	for _, t := range s.telescopes {
		if !t.Client.Reset(ctx) {
			s.log.ErrorCtx(ctx, "failed to reset controller before park", "telescope", t.Name)
			continue
		}
		if t.Client.ParkMount(ctx) {
			s.log.InfoCtx(ctx, "parked telescope", "telescope", t.Name)
		} else {
			s.log.ErrorCtx(ctx, "failed to park telescope", "telescope", t.Name)
		}
	}
}
