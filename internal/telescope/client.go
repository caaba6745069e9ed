// Package telescope provides a typed HTTP client over one controller's
// REST surface, grounded on scheduler.py's robust_http_request/sesh
// (one requests.Session reused across calls, TLS material set once)
// and the park_telescope/get_telescope_state/send_schedule helpers.
package telescope

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stpaulobs/turbosched/internal/logging"
	"github.com/stpaulobs/turbosched/internal/metrics"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Enclosure states, as reported by /telescope_controller/state.
const (
	EnclosureClosed  = "closed"
	EnclosureOpening = "opening"
	EnclosureOpened  = "opened"
	EnclosureClosing = "closing"
)

// State is the decoded response of GET /telescope_controller/state.
// last_flat defaults to zero when absent — only running/queue_size/
// enclosure/last_focused are required (the "Incomplete telescope state
// detection" asymmetry carried over from get_telescope_state).
type State struct {
	Running     bool   `json:"running"`
	QueueSize   int    `json:"queue_size"`
	Enclosure   string `json:"enclosure"`
	LastFocused int64  `json:"last_focused"`
	LastFlat    int64  `json:"last_flat"`
}

// LastFocusedTime and LastFlatTime convert the unix-seconds fields to
// time.Time for comparison against the fixed intervals.
func (s State) LastFocusedTime() time.Time { return time.Unix(s.LastFocused, 0) }
func (s State) LastFlatTime() time.Time    { return time.Unix(s.LastFlat, 0) }

// Result distinguishes transport failure from semantic failure:
// callers receive a boolean success plus the decoded body, never a
// thrown error crossing this package's boundary.
type Result[T any] struct {
	OK    bool
	Value T
}

// Config names one controller endpoint and the TLS material needed to
// reach it in production mode. Tracer and Metrics are both optional —
// a nil value disables the corresponding instrumentation.
type Config struct {
	Name           string
	Host           string
	Port           int
	Debug          bool
	CABundle       string
	ClientCert     string
	ClientKey      string
	RequestTimeout time.Duration
	Tracer         *metrics.Tracer
	Metrics        *metrics.Collectors
}

// Client is a thin wrapper over one *http.Client reused across every
// call to a single controller, mirroring the original's one
// requests.Session per scheduler.
type Client struct {
	cfg      Config
	http     *http.Client
	protocol string
	log      logging.Logger
	tracer   *metrics.Tracer
	metrics  *metrics.Collectors
}

// New builds a Client. TLS material is loaded once; in debug mode the
// client falls back to plain HTTP with no verification.
func New(cfg Config, log logging.Logger) (*Client, error) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	protocol := "https"
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.Debug {
		protocol = "http"
	} else {
		caPEM, err := os.ReadFile(cfg.CABundle)
		if err != nil {
			return nil, fmt.Errorf("telescope: read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("telescope: CA bundle %s contains no usable certificates", cfg.CABundle)
		}

		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("telescope: load client cert/key: %w", err)
		}

		transport.TLSClientConfig = &tls.Config{
			RootCAs:      pool,
			Certificates: []tls.Certificate{cert},
		}
	}

	return &Client{
		cfg:      cfg,
		protocol: protocol,
		http:     &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		log:      log,
		tracer:   cfg.Tracer,
		metrics:  cfg.Metrics,
	}, nil
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.protocol, c.cfg.Host, c.cfg.Port)
}

// robustRequest performs one HTTP call, tagging it with a correlation
// id, logging a warning and returning (nil, false) on any transport
// error or non-2xx status — never propagating the error past this
// client.
func (c *Client) robustRequest(ctx context.Context, method, path string, body any) ([]byte, bool) {
	if c.tracer != nil {
		var span oteltrace.Span
		ctx, span = c.tracer.StartRequest(ctx, path)
		defer span.End()
	}
	if c.metrics != nil {
		c.metrics.TelescopeRequests.WithLabelValues(c.cfg.Name, path).Inc()
	}
	fail := func(kind string) {
		if c.metrics != nil {
			c.metrics.TelescopeFailures.WithLabelValues(c.cfg.Name, path, kind).Inc()
		}
	}

	url := c.baseURL() + path
	correlationID := uuid.New().String()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.logWarn(ctx, correlationID, path, "marshal request body failed", err)
			fail("marshal")
			return nil, false
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		c.logWarn(ctx, correlationID, path, "build request failed", err)
		fail("build_request")
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logWarn(ctx, correlationID, path, "request failed", err)
		fail("transport")
		return nil, false
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logWarn(ctx, correlationID, path, "read response body failed", err)
		fail("read_body")
		return nil, false
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logWarn(ctx, correlationID, path, fmt.Sprintf("non-2xx status %d", resp.StatusCode), nil)
		fail("status")
		return nil, false
	}

	return data, true
}

func (c *Client) logWarn(ctx context.Context, correlationID, path, msg string, err error) {
	if c.log == nil {
		return
	}
	c.log.WarnCtx(ctx, msg, "telescope", c.cfg.Name, "path", path, "correlation_id", correlationID, "err", err)
}

// State fetches GET /telescope_controller/state.
func (c *Client) State(ctx context.Context) Result[State] {
	data, ok := c.robustRequest(ctx, http.MethodGet, "/telescope_controller/state", nil)
	if !ok {
		return Result[State]{}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		c.logWarn(ctx, "", "/telescope_controller/state", "invalid JSON", err)
		return Result[State]{}
	}

	required := []string{"running", "queue_size", "enclosure", "last_focused"}
	for _, key := range required {
		if _, ok := raw[key]; !ok {
			c.logWarn(ctx, "", "/telescope_controller/state", "incomplete state response, missing "+key, nil)
			return Result[State]{}
		}
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		c.logWarn(ctx, "", "/telescope_controller/state", "decode state failed", err)
		return Result[State]{}
	}
	return Result[State]{OK: true, Value: state}
}

type statusPayload struct {
	Status string `json:"status"`
}

// Start issues POST /telescope_controller/start.
func (c *Client) Start(ctx context.Context) bool {
	data, ok := c.robustRequest(ctx, http.MethodPost, "/telescope_controller/start", nil)
	if !ok {
		return false
	}
	var payload statusPayload
	_ = json.Unmarshal(data, &payload)
	return payload.Status == "started" || payload.Status == "already_started"
}

type queuePayload struct {
	QueueSize int `json:"queue_size"`
}

// Reset issues POST /telescope_controller/reset.
func (c *Client) Reset(ctx context.Context) bool {
	data, ok := c.robustRequest(ctx, http.MethodPost, "/telescope_controller/reset", nil)
	if !ok {
		return false
	}
	var payload queuePayload
	if err := json.Unmarshal(data, &payload); err == nil && c.log != nil {
		c.log.InfoCtx(ctx, "reset controller", "telescope", c.cfg.Name, "queue_size", payload.QueueSize)
	}
	return true
}

// Stop issues POST /telescope_controller/stop.
func (c *Client) Stop(ctx context.Context) bool {
	_, ok := c.robustRequest(ctx, http.MethodPost, "/telescope_controller/stop", nil)
	return ok
}

type enclosurePayload struct {
	State string `json:"state"`
}

// OpenEnclosure issues POST /telescope_controller/enclosure/open and
// reports whether the controller accepted the request (state is
// "opened" or "opening").
func (c *Client) OpenEnclosure(ctx context.Context) bool {
	data, ok := c.robustRequest(ctx, http.MethodPost, "/telescope_controller/enclosure/open", nil)
	if !ok {
		return false
	}
	var payload enclosurePayload
	_ = json.Unmarshal(data, &payload)
	return payload.State == EnclosureOpened || payload.State == EnclosureOpening
}

// Point issues POST /telescope_controller/behavior/mount/point.
func (c *Client) Point(ctx context.Context, raDeg, decDeg float64) bool {
	body := map[string]float64{"ra": raDeg, "dec": decDeg}
	_, ok := c.robustRequest(ctx, http.MethodPost, "/telescope_controller/behavior/mount/point", body)
	return ok
}

// ParkMount issues POST /telescope_controller/behavior/mount/park,
// grounded on scripts/park_mount.py — invoked during graceful shutdown
// so no mount is left pointed at a target once the scheduler exits.
func (c *Client) ParkMount(ctx context.Context) bool {
	_, ok := c.robustRequest(ctx, http.MethodPost, "/telescope_controller/behavior/mount/park", nil)
	return ok
}

// ExposureSettings is the body of a camera/exposure request.
type ExposureSettings struct {
	Exposure   float64 `json:"exposure"`
	Gain       int     `json:"gain"`
	Offset     int     `json:"offset"`
	FrameType  string  `json:"frame_type"`
	ObjectName string  `json:"object_name"`
	RADeg      float64 `json:"ra"`
	DecDeg     float64 `json:"dec"`
}

// Expose issues POST /telescope_controller/behavior/camera/exposure.
func (c *Client) Expose(ctx context.Context, settings ExposureSettings) bool {
	_, ok := c.robustRequest(ctx, http.MethodPost, "/telescope_controller/behavior/camera/exposure", settings)
	return ok
}

// Focus issues POST /telescope_controller/behavior/camera/focus.
func (c *Client) Focus(ctx context.Context) bool {
	_, ok := c.robustRequest(ctx, http.MethodPost, "/telescope_controller/behavior/camera/focus", map[string]any{})
	return ok
}

// FlatsKind selects dawn or dusk flats, matching take_flats' local-hour
// branch (dawn if hour < 12 else dusk).
type FlatsKind string

const (
	DawnFlats FlatsKind = "dawn_flats"
	DuskFlats FlatsKind = "dusk_flats"
)

// FlatsKindForHour returns DawnFlats before local noon, DuskFlats
// otherwise.
func FlatsKindForHour(localHour int) FlatsKind {
	if localHour < 12 {
		return DawnFlats
	}
	return DuskFlats
}

// Flats issues POST /telescope_controller/behavior/flats/{kind}.
func (c *Client) Flats(ctx context.Context, kind FlatsKind) bool {
	_, ok := c.robustRequest(ctx, http.MethodPost, "/telescope_controller/behavior/flats/"+string(kind), map[string]any{})
	return ok
}
