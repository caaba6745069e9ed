// Package eventstore implements the durable, priority-ordered event
// queue: an in-memory list plus an atomically rewritten JSON snapshot,
// grounded on scheduler.py's add_event/remove_expired_events/
// pickle_events, reworked from Python pickle onto a self-describing
// JSON schema. The snapshot is replaced atomically with the standard
// write-temp-then-rename idiom (see snapshotLocked).
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/stpaulobs/turbosched/internal/clock"
	"github.com/stpaulobs/turbosched/internal/logging"
	"github.com/stpaulobs/turbosched/internal/targets"
)

// record is the on-disk JSON shape for one Schedule:
// {"name","targets":[[name,...],[ra,...],[dec,...]],"priority",
// "expiration_iso_or_null"}.
type record struct {
	Name       string   `json:"name"`
	Targets    [3][]any `json:"targets"`
	Priority   int      `json:"priority"`
	Expiration *string  `json:"expiration_iso_or_null"`
}

// Store is the priority-ordered EventStore. Safe for concurrent use;
// the scheduler is its only writer but reads may overlap with snapshot
// writes issued from the same goroutine, so a mutex still guards state.
type Store struct {
	mu      sync.Mutex
	entries []targets.Schedule
	path    string
	clk     clock.Clock
	log     logging.Logger
}

// New constructs an empty Store bound to the given snapshot path.
func New(path string, clk clock.Clock, log logging.Logger) *Store {
	return &Store{path: path, clk: clk, log: log}
}

// Load reads the snapshot file at startup. A missing file yields an
// empty store; a corrupt file logs an error and also yields an empty
// store — it never crashes startup.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) && s.log != nil {
			s.log.ErrorCtx(context.Background(), "event snapshot unreadable, starting empty", "path", s.path, "err", err)
		}
		return
	}

	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		if s.log != nil {
			s.log.ErrorCtx(context.Background(), "event snapshot corrupt, starting empty", "path", s.path, "err", err)
		}
		return
	}

	entries := make([]targets.Schedule, 0, len(records))
	for _, r := range records {
		sched, err := r.toSchedule()
		if err != nil {
			if s.log != nil {
				s.log.ErrorCtx(context.Background(), "event snapshot record corrupt, skipping", "name", r.Name, "err", err)
			}
			continue
		}
		entries = append(entries, sched)
	}
	s.entries = entries
	sortByPriority(s.entries)
}

// Add inserts schedule, replacing any existing entry with the same
// name in place (I1), then purges expired entries, re-sorts by
// descending priority with stable insertion-order ties, and atomically
// rewrites the snapshot (I3).
func (s *Store) Add(sched targets.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i, e := range s.entries {
		if e.Name == sched.Name {
			s.entries[i] = sched
			replaced = true
			break
		}
	}
	if !replaced {
		s.entries = append(s.entries, sched)
	}

	s.removeExpiredLocked()
	sortByPriority(s.entries)
	return s.snapshotLocked()
}

// RemoveExpired drops all entries whose expiration is non-zero and in
// the past, then rewrites the snapshot.
func (s *Store) RemoveExpired() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeExpiredLocked()
	return s.snapshotLocked()
}

func (s *Store) removeExpiredLocked() {
	now := s.clk.Now()
	kept := s.entries[:0:0]
	for _, e := range s.entries {
		if !e.Expired(now) {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

// IterByPriority returns a snapshot slice of entries in current order
// (descending priority, stable insertion-order ties).
func (s *Store) IterByPriority() []targets.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]targets.Schedule, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len reports the current entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func sortByPriority(entries []targets.Schedule) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority > entries[j].Priority
	})
}

// snapshotLocked writes the current entries to a temp file in the same
// directory, then renames it over the snapshot path — an atomic
// replace on POSIX filesystems, so a reader never observes a partial
// write.
func (s *Store) snapshotLocked() error {
	records := make([]record, len(s.entries))
	for i, e := range s.entries {
		records[i] = fromSchedule(e)
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("eventstore: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("eventstore: create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("eventstore: write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("eventstore: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("eventstore: rename temp snapshot: %w", err)
	}
	return nil
}

func fromSchedule(sched targets.Schedule) record {
	names := make([]any, len(sched.Targets))
	ras := make([]any, len(sched.Targets))
	decs := make([]any, len(sched.Targets))
	for i, t := range sched.Targets {
		names[i] = t.Name
		ras[i] = t.RADeg
		decs[i] = t.DecDeg
	}

	var exp *string
	if !sched.Expiration.IsZero() {
		s := sched.Expiration.UTC().Format(time.RFC3339Nano)
		exp = &s
	}

	return record{
		Name:       sched.Name,
		Targets:    [3][]any{names, ras, decs},
		Priority:   sched.Priority,
		Expiration: exp,
	}
}

func (r record) toSchedule() (targets.Schedule, error) {
	if len(r.Targets[0]) != len(r.Targets[1]) || len(r.Targets[1]) != len(r.Targets[2]) {
		return targets.Schedule{}, fmt.Errorf("mismatched target column lengths")
	}

	set := make(targets.TargetSet, len(r.Targets[0]))
	for i := range set {
		name, ok := r.Targets[0][i].(string)
		if !ok {
			return targets.Schedule{}, fmt.Errorf("target %d: name not a string", i)
		}
		ra, ok := toFloat(r.Targets[1][i])
		if !ok {
			return targets.Schedule{}, fmt.Errorf("target %d: ra not numeric", i)
		}
		dec, ok := toFloat(r.Targets[2][i])
		if !ok {
			return targets.Schedule{}, fmt.Errorf("target %d: dec not numeric", i)
		}
		set[i] = targets.Target{Name: name, RADeg: ra, DecDeg: dec}
	}

	var expiration time.Time
	if r.Expiration != nil {
		t, err := time.Parse(time.RFC3339Nano, *r.Expiration)
		if err != nil {
			return targets.Schedule{}, fmt.Errorf("expiration: %w", err)
		}
		expiration = t
	}

	return targets.Schedule{
		Name:       r.Name,
		Targets:    set,
		Priority:   r.Priority,
		Expiration: expiration,
	}, nil
}

func toFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}
