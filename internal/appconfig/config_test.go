package appconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/drive"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.Equal(t, 10.0, cfg.Manager.UpdateRate)
	require.Len(t, cfg.Devices, 1)
	require.Len(t, cfg.SimDevices, 2)
}

func TestLoadExplicitMissingPathErrors(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	require.Error(t, err)
	_ = cfg
}

func TestLoadNoPathFallsBackToDefaultOutsideConfigDir(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisord.yaml")
	yaml := `
manager:
  update_rate: 20
  init_timeout: 15
  goal_state_timeout: 5
  max_stall_ticks: 3
devices:
  - id: test-model
    vendor_id: 1
    product_code: 2
    modes: [csp, pp]
    quirk: inovance_home_found
sim_devices:
  - model_id: test-model
    bus: 0
    alias: 1
    position: 0
telemetry:
  metrics_addr: ":9090"
  websocket_addr: ":8090"
event_log:
  path: "./events.db"
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 20.0, cfg.Manager.UpdateRate)
	require.Equal(t, 3, cfg.Manager.MaxStallTicks)
	require.Len(t, cfg.Devices, 1)
	require.Equal(t, "test-model", cfg.Devices[0].ID)
	require.Equal(t, ":9090", cfg.Telemetry.MetricsAddr)
	require.Equal(t, "./events.db", cfg.EventLog.Path)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestFleetConfigConvertsSecondsToDuration(t *testing.T) {
	cfg := Default()
	cfg.Manager.InitTimeout = 2.5
	cfg.Manager.GoalStateTimeout = 1.0

	fc := cfg.FleetConfig()
	require.Equal(t, float64(2500), fc.InitTimeout.Seconds()*1000)
	require.Equal(t, float64(1000), fc.GoalStateTimeout.Seconds()*1000)
}

func TestLoggingConfig(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "json"

	lc := cfg.LoggingConfig()
	require.Equal(t, "warn", lc.Level)
	require.Equal(t, "json", lc.Format)
}

func TestModelByIDAppliesQuirk(t *testing.T) {
	cfg := Default()
	cfg.Devices = append(cfg.Devices, ModelConfig{
		ID:      "quirky",
		Modes:   []string{"csv"},
		Quirk:   "inovance_home_found",
		Revision: 3,
	})

	m, err := cfg.ModelByID("quirky", false)
	require.NoError(t, err)
	require.Equal(t, "quirky", m.ID)
	require.NotNil(t, m.Quirk)
	require.Equal(t, []drive.Mode{drive.ModeCyclicSyncVelocity}, m.Profile.Modes)
}

func TestModelByIDUnknownModeErrors(t *testing.T) {
	cfg := Default()
	cfg.Devices = append(cfg.Devices, ModelConfig{ID: "bad", Modes: []string{"nonsense"}})

	_, err := cfg.ModelByID("bad", false)
	require.Error(t, err)
}

func TestModelByIDMissingIDErrors(t *testing.T) {
	cfg := Default()
	_, err := cfg.ModelByID("missing", false)
	require.Error(t, err)
}

func TestSimSpecsConversion(t *testing.T) {
	cfg := Default()
	specs := cfg.SimSpecs()
	require.Len(t, specs, len(cfg.SimDevices))
	require.Equal(t, cfg.SimDevices[0].ModelID, specs[0].ModelID)
	require.Equal(t, cfg.SimDevices[0].Alias, specs[0].Alias)
}
