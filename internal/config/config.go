// Package config resolves the two on-disk inputs the scheduler needs —
// the observatory description and the ops overlay — into a single
// immutable Config value: one document per concern, merged once,
// never reloaded (see DESIGN.md on why fsnotify was dropped).
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/stpaulobs/turbosched/internal/astro"
	"gopkg.in/yaml.v3"
)

// Telescope describes one controller endpoint under an observatory.
type Telescope struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Observatory is one entry of observatory.json's top-level array. Only
// the first entry in the document is ever used.
type Observatory struct {
	LatitudeDeg  float64     `json:"latitude"`
	LongitudeDeg float64     `json:"longitude"`
	Telescopes   []Telescope `json:"telescopes"`
}

type observatoryDoc struct {
	Observatories []Observatory `json:"observatories"`
}

// Ops holds the ancillary operational knobs that live in the
// turbosched.yaml overlay: things an operator may want to tune per
// deployment without touching the observatory description.
type Ops struct {
	LogLevel         string        `yaml:"log_level"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	AuditDir         string        `yaml:"audit_dir"`
	SnapshotPath     string        `yaml:"snapshot_path"`
	HostTargetsFile  string        `yaml:"host_targets_file"`
	TessellationFile string        `yaml:"tessellation_file"`
	TLSCABundle      string        `yaml:"tls_ca_bundle"`
	TLSClientCert    string        `yaml:"tls_client_cert"`
	TLSClientKey     string        `yaml:"tls_client_key"`
	Debug            bool          `yaml:"debug"`
	IdlePoll         time.Duration `yaml:"idle_poll"`
	ActivePoll       time.Duration `yaml:"active_poll"`
	OffHoursPoll     time.Duration `yaml:"off_hours_poll"`
	FocusInterval    time.Duration `yaml:"focus_interval"`
	FlatInterval     time.Duration `yaml:"flat_interval"`
	// Twilight selects the kind used to decide visibility (generate_schedules/
	// is_still_valid), distinct from the hard-coded civil/astronomical kinds
	// the main loop checks for the enclosure gate and the flats window.
	// "civil"|"nautical"|"astronomical".
	Twilight string `yaml:"twilight"`

	// Alert ingress: one broker endpoint, two topics, one bearer token.
	BrokerEndpoint string `yaml:"broker_endpoint"`
	BrokerAPIToken string `yaml:"broker_api_token"`
	LVCTopic       string `yaml:"lvc_topic"`
	GRBTopic       string `yaml:"grb_topic"`
}

// Fixed polling/maintenance interval defaults.
const (
	DefaultIdlePoll      = 60 * time.Second
	DefaultActivePoll    = 15 * time.Second
	DefaultOffHoursPoll  = 300 * time.Second
	DefaultFocusInterval = 21600 * time.Second
	DefaultFlatInterval  = 7200 * time.Second
)

// Config is the single immutable value threaded through the program by
// reference. The only change after Load returns is cmd/turbosched setting
// Ops.Debug from the --debug flag, before the value is handed to any
// other component.
type Config struct {
	Observatory Observatory
	Ops         Ops
}

// Load reads observatoryPath and opsPath once and merges them into a
// frozen Config. Interval fields left zero in the YAML overlay fall
// back to the fixed defaults above.
func Load(observatoryPath, opsPath string) (*Config, error) {
	obs, err := loadObservatory(observatoryPath)
	if err != nil {
		return nil, fmt.Errorf("config: load observatory: %w", err)
	}

	ops, err := loadOps(opsPath)
	if err != nil {
		return nil, fmt.Errorf("config: load ops overlay: %w", err)
	}
	applyDefaults(&ops)

	return &Config{Observatory: *obs, Ops: ops}, nil
}

func loadObservatory(path string) (*Observatory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc observatoryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Observatories) == 0 {
		return nil, fmt.Errorf("%s: observatories array is empty", path)
	}
	return &doc.Observatories[0], nil
}

func loadOps(path string) (Ops, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Ops{}, err
	}

	var ops Ops
	if err := yaml.Unmarshal(raw, &ops); err != nil {
		return Ops{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return ops, nil
}

func applyDefaults(ops *Ops) {
	if ops.IdlePoll == 0 {
		ops.IdlePoll = DefaultIdlePoll
	}
	if ops.ActivePoll == 0 {
		ops.ActivePoll = DefaultActivePoll
	}
	if ops.OffHoursPoll == 0 {
		ops.OffHoursPoll = DefaultOffHoursPoll
	}
	if ops.FocusInterval == 0 {
		ops.FocusInterval = DefaultFocusInterval
	}
	if ops.FlatInterval == 0 {
		ops.FlatInterval = DefaultFlatInterval
	}
	if ops.LogLevel == "" {
		ops.LogLevel = "info"
	}
	if ops.MetricsAddr == "" {
		ops.MetricsAddr = ":9090"
	}
	if ops.Twilight == "" {
		ops.Twilight = "civil"
	}
	if ops.LVCTopic == "" {
		ops.LVCTopic = "gcn.classic.voevent.LVC_PRELIMINARY"
	}
	if ops.GRBTopic == "" {
		ops.GRBTopic = "gcn.classic.voevent.FERMI_GBM_GND_POS"
	}
}

// ParseTwilightKind converts the Ops.Twilight overlay string into an
// astro.TwilightKind, used once at startup when wiring the scheduler.
func ParseTwilightKind(kind string) (astro.TwilightKind, error) {
	switch kind {
	case "civil":
		return astro.Civil, nil
	case "nautical":
		return astro.Nautical, nil
	case "astronomical":
		return astro.Astronomical, nil
	default:
		return 0, fmt.Errorf("config: unknown twilight kind %q", kind)
	}
}

// LatitudeRad returns the observatory latitude converted to radians.
func (o Observatory) LatitudeRad() float64 { return o.LatitudeDeg * math.Pi / 180 }

// LongitudeRad returns the observatory longitude converted to radians.
func (o Observatory) LongitudeRad() float64 { return o.LongitudeDeg * math.Pi / 180 }
