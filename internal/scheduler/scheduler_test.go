package scheduler

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
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
	"github.com/stretchr/testify/require"
)

// Shared observatory fixture matching internal/astro's own twilight tests.
const (
	fixtureLatDeg = 31.68
	fixtureLonDeg = -110.88
)

func fixtureMidnight() time.Time {
	return time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC)
}

func fixtureNoon() time.Time {
	return time.Date(2026, 1, 1, 19, 0, 0, 0, time.UTC)
}

// findVisibleTarget scans right ascension at a fixed declination near the
// observatory's zenith transit until one is visible at the given instant,
// so tests get a deterministic real target without hand-deriving sidereal
// time.
func findVisibleTarget(t *testing.T, kind astro.TwilightKind, now time.Time) targets.Target {
	t.Helper()
	latRad := fixtureLatDeg * math.Pi / 180
	lonRad := fixtureLonDeg * math.Pi / 180
	for ra := 0.0; ra < 360; ra += 5 {
		set := targets.TargetSet{{Name: "probe", RADeg: ra, DecDeg: fixtureLatDeg}}
		out := targets.FilterVisibility(set, latRad, lonRad, kind, targets.DefaultMaxAirmass, now)
		if len(out) == 1 {
			return out[0]
		}
	}
	t.Fatal("no visible right ascension found for fixture")
	return targets.Target{}
}

// neverVisibleTarget sits near the south celestial pole, below the horizon
// at every hour angle for a mid-northern-latitude observatory.
func neverVisibleTarget(name string) targets.Target {
	return targets.Target{Name: name, RADeg: 180, DecDeg: -89}
}

func newTestScheduler(t *testing.T, clk clock.Clock, telescopes []Telescope, hostTargets targets.TargetSet) *Scheduler {
	t.Helper()
	store := eventstore.New(filepath.Join(t.TempDir(), "events.json"), clk, nil)
	store.Load()

	tracer, err := metrics.NewTracer("turbosched-test", "test")
	require.NoError(t, err)

	return New(
		config.Observatory{LatitudeDeg: fixtureLatDeg, LongitudeDeg: fixtureLonDeg},
		config.Ops{
			FocusInterval: config.DefaultFocusInterval,
			FlatInterval:  config.DefaultFlatInterval,
			IdlePoll:      config.DefaultIdlePoll,
			ActivePoll:    config.DefaultActivePoll,
			OffHoursPoll:  config.DefaultOffHoursPoll,
		},
		astro.Astronomical,
		telescopes,
		store,
		hostTargets,
		&alerts.Buffer{},
		alerts.NewSignal(),
		clk,
		logging.New(nil),
		metrics.New(),
		tracer,
	)
}

func TestShouldFocusFutureTimestampForcesRefocus(t *testing.T) {
	now := fixtureMidnight()
	clk := clock.NewFake(now)
	s := newTestScheduler(t, clk, nil, nil)

	state := telescope.State{LastFocused: now.Add(time.Hour).Unix()}
	require.True(t, s.shouldFocus(context.Background(), Telescope{Name: "t1"}, state))
}

func TestShouldFocusRespectsInterval(t *testing.T) {
	now := fixtureMidnight()
	clk := clock.NewFake(now)
	s := newTestScheduler(t, clk, nil, nil)

	fresh := telescope.State{LastFocused: now.Add(-time.Hour).Unix()}
	require.False(t, s.shouldFocus(context.Background(), Telescope{Name: "t1"}, fresh))

	stale := telescope.State{LastFocused: now.Add(-7 * time.Hour).Unix()}
	require.True(t, s.shouldFocus(context.Background(), Telescope{Name: "t1"}, stale))
}

func TestShouldTakeFlatsFutureTimestampSkipsFlats(t *testing.T) {
	now := fixtureMidnight()
	clk := clock.NewFake(now)
	s := newTestScheduler(t, clk, nil, nil)

	state := telescope.State{LastFlat: now.Add(time.Hour).Unix()}
	require.False(t, s.shouldTakeFlats(context.Background(), Telescope{Name: "t1"}, state))
}

func TestShouldTakeFlatsRespectsInterval(t *testing.T) {
	now := fixtureMidnight()
	clk := clock.NewFake(now)
	s := newTestScheduler(t, clk, nil, nil)

	fresh := telescope.State{LastFlat: now.Add(-time.Hour).Unix()}
	require.False(t, s.shouldTakeFlats(context.Background(), Telescope{Name: "t1"}, fresh))

	stale := telescope.State{LastFlat: now.Add(-3 * time.Hour).Unix()}
	require.True(t, s.shouldTakeFlats(context.Background(), Telescope{Name: "t1"}, stale))
}

func TestIsStillValidLockedDetectsLostTarget(t *testing.T) {
	clk := clock.NewFake(fixtureMidnight())
	s := newTestScheduler(t, clk, nil, nil)

	visible := findVisibleTarget(t, astro.Astronomical, fixtureMidnight())
	set := targets.TargetSet{visible}
	require.True(t, s.isStillValidLocked(set))

	clk.Set(fixtureNoon())
	require.False(t, s.isStillValidLocked(set))
}

func TestGenerateSchedulesLockedPrefersVisibleHigherPriorityEvent(t *testing.T) {
	clk := clock.NewFake(fixtureMidnight())
	visible := findVisibleTarget(t, astro.Astronomical, fixtureMidnight())
	s := newTestScheduler(t, clk, []Telescope{{Name: "t1"}}, targets.TargetSet{neverVisibleTarget("host")})

	require.NoError(t, s.store.Add(targets.Schedule{
		Name:     "low",
		Targets:  targets.TargetSet{neverVisibleTarget("low-target")},
		Priority: 1,
	}))
	require.NoError(t, s.store.Add(targets.Schedule{
		Name:     "high",
		Targets:  targets.TargetSet{visible},
		Priority: 5,
	}))

	ok := s.generateSchedulesLocked(context.Background())
	require.True(t, ok)
	require.Len(t, s.currentSchedules, 1)
	require.Equal(t, targets.TargetSet{visible}, s.currentSchedules[0])
}

func TestGenerateSchedulesLockedFallsBackToHostSchedule(t *testing.T) {
	clk := clock.NewFake(fixtureMidnight())
	visible := findVisibleTarget(t, astro.Astronomical, fixtureMidnight())
	s := newTestScheduler(t, clk, []Telescope{{Name: "t1"}}, targets.TargetSet{visible})

	require.NoError(t, s.store.Add(targets.Schedule{
		Name:     "invisible-event",
		Targets:  targets.TargetSet{neverVisibleTarget("event-target")},
		Priority: 9,
	}))

	ok := s.generateSchedulesLocked(context.Background())
	require.True(t, ok)
	require.Len(t, s.currentSchedules, 1)
	require.Contains(t, s.currentSchedules[0], visible)
}

func TestGenerateSchedulesLockedReturnsFalseWhenNothingVisible(t *testing.T) {
	clk := clock.NewFake(fixtureMidnight())
	s := newTestScheduler(t, clk, []Telescope{{Name: "t1"}}, targets.TargetSet{neverVisibleTarget("host")})

	ok := s.generateSchedulesLocked(context.Background())
	require.False(t, ok)
	require.Empty(t, s.currentSchedules)
}

func TestHandleNotificationPersistsBufferAndClearsSignal(t *testing.T) {
	clk := clock.NewFake(fixtureMidnight())
	s := newTestScheduler(t, clk, nil, nil)
	s.currentSchedules = []targets.TargetSet{{{Name: "stale"}}}

	s.buffer.Publish(targets.Schedule{
		Name:       "S190425z",
		Targets:    targets.TargetSet{{Name: "field-0", RADeg: 10, DecDeg: 20}},
		Priority:   1,
		Expiration: clk.Now().Add(30 * time.Minute),
	})
	s.signal.Raise()

	s.handleNotification(context.Background())

	require.False(t, s.signal.IsSet())
	require.Empty(t, s.currentSchedules)

	entries := s.store.IterByPriority()
	require.Len(t, entries, 1)
	require.Equal(t, "S190425z", entries[0].Name)
}

// fakeController records every request path it receives and answers the
// state/enclosure/start/reset handshake the poll loop expects, so a
// runCycle test can exercise the real dispatch path end to end.
type fakeController struct {
	mu    sync.Mutex
	calls []string

	state telescope.State
}

func (f *fakeController) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.URL.Path)
		f.mu.Unlock()

		switch r.URL.Path {
		case "/telescope_controller/state":
			json.NewEncoder(w).Encode(f.state)
		case "/telescope_controller/start":
			json.NewEncoder(w).Encode(map[string]string{"status": "started"})
		case "/telescope_controller/reset":
			json.NewEncoder(w).Encode(map[string]int{"queue_size": 0})
		case "/telescope_controller/enclosure/open":
			json.NewEncoder(w).Encode(map[string]string{"state": "opened"})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}
}

func (f *fakeController) pathCalled(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == path {
			return true
		}
	}
	return false
}

func newFakeTelescopeClient(t *testing.T, name string, fc *fakeController) Telescope {
	t.Helper()
	srv := httptest.NewServer(fc.handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	c, err := telescope.New(telescope.Config{Name: name, Host: u.Hostname(), Port: port, Debug: true}, nil)
	require.NoError(t, err)
	return Telescope{Name: name, Client: c}
}

func TestRunCycleDispatchesVisibleHostSchedule(t *testing.T) {
	now := fixtureMidnight()
	clk := clock.NewFake(now)

	fc := &fakeController{state: telescope.State{
		Running:     true,
		QueueSize:   0,
		Enclosure:   telescope.EnclosureOpened,
		LastFocused: now.Add(-time.Hour).Unix(),
		LastFlat:    now.Add(-time.Hour).Unix(),
	}}
	tel := newFakeTelescopeClient(t, "t1", fc)

	visible := findVisibleTarget(t, astro.Astronomical, now)
	s := newTestScheduler(t, clk, []Telescope{tel}, targets.TargetSet{visible})

	isActive := s.runCycle(context.Background())
	require.True(t, isActive)
	require.True(t, fc.pathCalled("/telescope_controller/behavior/mount/point"))
	require.True(t, fc.pathCalled("/telescope_controller/behavior/camera/exposure"))
}

func TestRunCycleOpensClosedEnclosureAndSkipsDispatch(t *testing.T) {
	now := fixtureMidnight()
	clk := clock.NewFake(now)

	fc := &fakeController{state: telescope.State{Enclosure: telescope.EnclosureClosed}}
	tel := newFakeTelescopeClient(t, "t1", fc)

	s := newTestScheduler(t, clk, []Telescope{tel}, nil)
	isActive := s.runCycle(context.Background())

	require.False(t, isActive)
	require.True(t, fc.pathCalled("/telescope_controller/enclosure/open"))
	require.False(t, fc.pathCalled("/telescope_controller/behavior/mount/point"))
}
