package alerts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stpaulobs/turbosched/internal/logging"
)

// Message is one payload pulled off a broker subscription: the topic
// it arrived on, a monotonically increasing per-topic offset (used to
// name the audit file, matching the original's "{topic_tail}_{offset}.xml"),
// and the raw XML body.
type Message struct {
	Topic  string
	Offset int64
	XML    []byte
}

// Source abstracts the third-party broker subscribe/consume call so
// RunListener can be unit-tested without a real broker connection.
// Consume must return within roughly one second even with nothing to
// deliver (ok=false), mirroring the original's consume(timeout=1) —
// this is what makes the listener loop's cancellation observable at a
// bounded latency rather than blocking indefinitely.
type Source interface {
	Consume(ctx context.Context) (msg Message, ok bool, err error)
	Close() error
}

// RunListener runs until ctx is cancelled, repeatedly calling
// src.Consume and invoking handle for every message it returns. It is
// the Go equivalent of the original's "_alert_listener" background
// thread: a reentrancy lock is not needed here because construction of
// src happens before RunListener is ever called (the caller owns
// that), but shutdown still waits for the in-flight Consume call to
// return before the function exits, giving callers a clean join point.
func RunListener(ctx context.Context, src Source, log logging.Logger, handle func(Message)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, ok, err := src.Consume(ctx)
		if err != nil {
			if log != nil {
				log.WarnCtx(ctx, "alert source consume failed", "err", err)
			}
			continue
		}
		if !ok {
			continue
		}
		handle(msg)
	}
}

// auditMu serializes audit-file writes across handlers sharing one
// directory; os.WriteFile itself is not atomicity-sensitive here since
// each file name is unique per message, but mkdir-if-missing races are
// avoided by taking the lock around the directory check too.
var auditMu sync.Mutex

// writeAuditXML persists the raw alert payload to dir/name, creating
// dir if needed. Matches lvc_alert.py/fermi_alert.py's practice of
// writing every accepted alert's raw XML before acting on it.
func writeAuditXML(dir, name string, xml []byte) error {
	auditMu.Lock()
	defer auditMu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("alerts: create audit dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, name), xml, 0o644)
}

// writeAuditTargets persists the plaintext "{event}_targets.txt"
// listing produced after tiling/ball-query, one line per entry of lines
// (the handlers pass comma-separated "name,ra,dec" lines).
func writeAuditTargets(dir, event string, lines []string) error {
	auditMu.Lock()
	defer auditMu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("alerts: create audit dir: %w", err)
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	return os.WriteFile(filepath.Join(dir, event+"_targets.txt"), []byte(content), 0o644)
}

// expirationIn30Minutes is the fixed event TTL both handlers publish
// with, relative to a supplied "now" so tests can control it.
func expirationIn30Minutes(now time.Time) time.Time {
	return now.Add(30 * time.Minute)
}
