package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/srg/stepprobe/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stepprobe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterConnectionFlags(fs)
	RegisterMonitorFlags(fs)
	return fs
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, BackendGoBLE, cfg.Backend)
	assert.Equal(t, 2.0, cfg.MaxAmps)
	assert.Equal(t, "steps", cfg.Units)
	assert.Equal(t, 1.0, cfg.StepsPerUnit)
	assert.Equal(t, 5, cfg.CaptureDivider)
	assert.Equal(t, 5*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 2*time.Second, cfg.OpTimeout)
	assert.Equal(t, 20*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 25, cfg.CycleTicks)
	assert.Equal(t, 25*time.Millisecond, cfg.DataLossThreshold)
	assert.Equal(t, 3, cfg.DropAfterReset)
	assert.Equal(t, 0.5, cfg.FilterAlpha)
	assert.Equal(t, uint32(256), cfg.NotificationBuffer)
	assert.Equal(t, probe.DefaultOpcodes(), cfg.Opcodes, "opcode defaults MUST match the stock firmware")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Layering(t *testing.T) {
	// GOAL: Verify defaults < file < env < flags
	//
	// TEST SCENARIO: File sets three keys, env overrides two, flag overrides one → each key takes the highest layer
	path := writeConfig(t, `
max-amps: 3.5
capture-divider: 10
units: mm
opcodes:
  reset-data: 0x10
`)
	t.Setenv("STEPPROBE_CAPTURE_DIVIDER", "20")
	t.Setenv("STEPPROBE_UNITS", "in")
	t.Setenv("STEPPROBE_OPCODES_TOGGLE_DIRECTION", "17")

	fs := newFlags()
	require.NoError(t, fs.Parse([]string{"--units", "cm"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, 3.5, cfg.MaxAmps, "file MUST override defaults")
	assert.Equal(t, 20, cfg.CaptureDivider, "env MUST override file")
	assert.Equal(t, "cm", cfg.Units, "flags MUST override env")
	assert.Equal(t, 1.0, cfg.StepsPerUnit, "unset keys MUST keep defaults")
	assert.Equal(t, byte(0x10), cfg.Opcodes.ResetData)
	assert.Equal(t, byte(17), cfg.Opcodes.ToggleDirection)
	assert.Equal(t, byte(0x02), cfg.Opcodes.StartCapture)
}

func TestLoad_UnchangedFlagsKeepFileValues(t *testing.T) {
	path := writeConfig(t, "steps-per-unit: 80\n")
	fs := newFlags()
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, 80.0, cfg.StepsPerUnit, "flag defaults MUST NOT mask file values")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"divider":        "capture-divider: 3\n",
		"cycle":          "cycle-ticks: 10\n",
		"alpha":          "filter-alpha: 1.5\n",
		"steps per unit": "steps-per-unit: 0\n",
		"tick":           "tick-interval: 0s\n",
		"backend":        "backend: bluez\n",
		"log level":      "log-level: loud\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body), nil)
			assert.Error(t, err, "%s MUST be rejected", name)
		})
	}
}

func TestConfig_Derived(t *testing.T) {
	cfg := Default()
	cfg.StepsPerUnit = 40
	cfg.OpTimeout = time.Second

	sc := cfg.Scheduler()
	assert.Equal(t, 40.0, sc.StepsPerUnit)
	assert.Equal(t, 100, sc.SampleLogEvery)
	assert.NoError(t, sc.Validate())

	wc := cfg.Worker()
	assert.Equal(t, time.Second, wc.OpTimeout)
	assert.Equal(t, 4, wc.QueueSize)

	po := cfg.ProbeOptions()
	assert.Equal(t, 40.0, po.StepsPerUnit)
	assert.Equal(t, probe.DefaultOpcodes(), po.Opcodes)
}
