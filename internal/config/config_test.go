package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stpaulobs/turbosched/internal/astro"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMergesObservatoryAndOps(t *testing.T) {
	dir := t.TempDir()
	obsPath := writeFile(t, dir, "observatory.json", `{
		"observatories": [
			{
				"latitude": 31.68,
				"longitude": -110.88,
				"telescopes": [{"name": "t1", "ip": "10.0.0.1", "port": 8080}]
			}
		]
	}`)
	opsPath := writeFile(t, dir, "turbosched.yaml", `
log_level: debug
debug: true
audit_dir: /tmp/audit
`)

	cfg, err := Load(obsPath, opsPath)
	require.NoError(t, err)

	require.Equal(t, 31.68, cfg.Observatory.LatitudeDeg)
	require.Len(t, cfg.Observatory.Telescopes, 1)
	require.Equal(t, "t1", cfg.Observatory.Telescopes[0].Name)
	require.Equal(t, "debug", cfg.Ops.LogLevel)
	require.True(t, cfg.Ops.Debug)
	require.Equal(t, "/tmp/audit", cfg.Ops.AuditDir)

	require.Equal(t, DefaultIdlePoll, cfg.Ops.IdlePoll)
	require.Equal(t, DefaultFocusInterval, cfg.Ops.FocusInterval)
}

func TestLoadEmptyObservatoriesErrors(t *testing.T) {
	dir := t.TempDir()
	obsPath := writeFile(t, dir, "observatory.json", `{"observatories": []}`)
	opsPath := writeFile(t, dir, "turbosched.yaml", "")

	_, err := Load(obsPath, opsPath)
	require.Error(t, err)
}

func TestLoadDefaultsTwilightToCivil(t *testing.T) {
	dir := t.TempDir()
	obsPath := writeFile(t, dir, "observatory.json", `{"observatories":[{"latitude":0,"longitude":0,"telescopes":[]}]}`)
	opsPath := writeFile(t, dir, "turbosched.yaml", "")

	cfg, err := Load(obsPath, opsPath)
	require.NoError(t, err)
	require.Equal(t, "civil", cfg.Ops.Twilight)
}

func TestLoadDefaultsBrokerTopics(t *testing.T) {
	dir := t.TempDir()
	obsPath := writeFile(t, dir, "observatory.json", `{"observatories":[{"latitude":0,"longitude":0,"telescopes":[]}]}`)
	opsPath := writeFile(t, dir, "turbosched.yaml", "")

	cfg, err := Load(obsPath, opsPath)
	require.NoError(t, err)
	require.Equal(t, "gcn.classic.voevent.LVC_PRELIMINARY", cfg.Ops.LVCTopic)
	require.Equal(t, "gcn.classic.voevent.FERMI_GBM_GND_POS", cfg.Ops.GRBTopic)
}

func TestParseTwilightKind(t *testing.T) {
	kind, err := ParseTwilightKind("astronomical")
	require.NoError(t, err)
	require.Equal(t, astro.Astronomical, kind)

	_, err = ParseTwilightKind("bogus")
	require.Error(t, err)
}

func TestObservatoryRadianConversion(t *testing.T) {
	o := Observatory{LatitudeDeg: 90, LongitudeDeg: 180}
	require.InDelta(t, 1.5707963267948966, o.LatitudeRad(), 1e-12)
	require.InDelta(t, 3.141592653589793, o.LongitudeRad(), 1e-12)
}
