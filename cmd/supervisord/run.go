package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/appconfig"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/drive"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/errcat"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/eventlog"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/fleet"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/iobus"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/iobus/serial"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/logging"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/telemetry"
)

var (
	useSim     bool
	errorsDir  string
	runTagFlag string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cyclic supervisor pipeline",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVar(&useSim, "sim", true, "use the in-memory simulated master instead of the serial stand-in")
	runCmd.Flags().StringVar(&errorsDir, "errors-dir", "./errors", "directory of <model-id>.yaml error catalogs")
	runCmd.Flags().StringVar(&runTagFlag, "initial-command", "", "issue this state command (INIT|STOP|START|FAULT) once at startup")
}

// runRun wires every ambient and domain collaborator around the core and
// drives Fleet.Tick on a fixed-rate loop (spec.md §4.6), mirroring the
// teacher's Start()/controlLoop()/Stop() shape (dxl/controller.go) with
// context cancellation replacing the teacher's channel-driven loop, since
// the pipeline here has no per-tick external command channel to select
// on: the only command this loop issues is --initial-command, through
// Fleet.IssueCommand at boot.
func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}

	runID := logging.NewRunID()
	log := logging.New(cfg.LoggingConfig()).With(logging.RunID(runID))

	master, err := buildMaster(cfg, useSim)
	if err != nil {
		return fmt.Errorf("supervisord: build master: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	drives, err := discoverDrives(ctx, cfg, master, useSim, errorsDir, log)
	cancel()
	if err != nil {
		return fmt.Errorf("supervisord: discover drives: %w", err)
	}
	log.Info("discovered drives", "count", len(drives))

	fl := fleet.New(cfg.FleetConfig(), drives, log)

	if cfg.EventLog.Path != "" {
		elCtx, elCancel := context.WithTimeout(context.Background(), 5*time.Second)
		db, err := eventlog.Open(elCtx, cfg.EventLog.Path, log)
		elCancel()
		if err != nil {
			return fmt.Errorf("supervisord: open event log: %w", err)
		}
		defer db.Close()
		fl.SetEventSink(db)
	}

	metrics := telemetry.New()
	var publisher telemetry.Publisher = telemetry.NoopPublisher{}

	if cfg.Telemetry.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("telemetry: metrics server exited", "error", err)
			}
		}()
		defer srv.Close()
	}

	if cfg.Telemetry.WebsocketAddr != "" {
		hub := telemetry.NewHub(log)
		publisher = hub
		mux := http.NewServeMux()
		mux.Handle("/feedback", hub)
		srv := &http.Server{Addr: cfg.Telemetry.WebsocketAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("telemetry: websocket server exited", "error", err)
			}
		}()
		defer srv.Close()
	}

	if runTagFlag != "" {
		tag, ok := parseTagName(runTagFlag)
		if !ok {
			return fmt.Errorf("supervisord: unknown --initial-command %q", runTagFlag)
		}
		fl.IssueCommand(tag)
	}

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		fl.RequestShutdown()
	}()

	period := time.Duration(float64(time.Second) / cfg.Manager.UpdateRate)
	if period <= 0 {
		period = 100 * time.Millisecond
	}

	for {
		start := time.Now()
		fl.Tick(ctx)
		metrics.ObserveTick(time.Since(start))
		publishTick(fl, metrics, publisher, runID)

		if fl.Shutdown() {
			log.Info("pipeline stopped")
			return nil
		}
		if fl.FastTrack() {
			continue
		}
		if elapsed := time.Since(start); elapsed < period {
			time.Sleep(period - elapsed)
		}
	}
}

// lastPublishedFault is the fault bit of the previous published snapshot,
// so publishTick counts each new fault once rather than once per tick.
var lastPublishedFault bool

// publishTick pushes the fleet's aggregate feedback_out snapshot to the
// metrics/websocket collaborators once per tick, kept outside
// internal/fleet so the core stays collaborator-agnostic (spec.md §1).
// runID is stamped onto the published snapshot (not onto any Prometheus
// label, which would otherwise grow an unbounded series per restart) so
// a subscriber can correlate a feed against this process's own log lines.
func publishTick(fl *fleet.Fleet, metrics *telemetry.Metrics, pub telemetry.Publisher, runID string) {
	snap := fl.FeedbackOut.Snapshot()
	snap[logging.KeyRunID] = runID
	pub.Publish(snap)

	state, _ := snap[fleet.KeyState].(string)
	metrics.SetSupervisorState([]string{
		fleet.TagInit.String(), fleet.TagStop.String(), fleet.TagStart.String(), fleet.TagFault.String(),
	}, state)
	fault, _ := snap[fleet.KeyFault].(bool)
	if fault && !lastPublishedFault {
		metrics.ObserveFault()
	}
	lastPublishedFault = fault
}

func parseTagName(name string) (fleet.Tag, bool) {
	switch name {
	case "INIT":
		return fleet.TagInit, true
	case "STOP":
		return fleet.TagStop, true
	case "START":
		return fleet.TagStart, true
	case "FAULT":
		return fleet.TagFault, true
	default:
		return fleet.TagInit, false
	}
}

func buildMaster(cfg *appconfig.File, sim bool) (iobus.Master, error) {
	if sim {
		return iobus.NewSim(cfg.SimSpecs()), nil
	}

	port, err := serial.OpenPort(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", cfg.Serial.Port, err)
	}
	driverInst := serial.NewDriver(port)

	slaves := make([]serial.SlaveEntry, 0, len(cfg.Devices))
	for _, mc := range cfg.Devices {
		slaves = append(slaves, serial.SlaveEntry{
			Addr:        iobus.Addr{Bus: 0, Alias: 0, Position: uint16(len(slaves))},
			VendorID:    mc.VendorID,
			ProductCode: mc.ProductCode,
			Revision:    mc.Revision,
		})
	}
	return serial.NewMaster(driverInst, slaves), nil
}

// discoverDrives scans the master once (spec.md §3's "discovered via the
// external bus scanner") and binds each discovered address to a
// configured model descriptor: by (bus, alias, position) against
// sim_devices when sim is true (the simulated master doesn't synthesize
// vendor/product codes of its own), or by (vendor_id, product_code)
// against device_config otherwise.
func discoverDrives(ctx context.Context, cfg *appconfig.File, master iobus.Master, sim bool, errDir string, log *slog.Logger) ([]*drive.Adapter, error) {
	discovered, err := master.Scan(ctx)
	if err != nil {
		return nil, err
	}

	registry := errcat.NewRegistry(func(modelID string) (map[uint32]errcat.Entry, error) {
		path := filepath.Join(errDir, modelID+".yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return map[uint32]errcat.Entry{}, nil
			}
			return nil, err
		}
		return errcat.ParseYAML(data)
	})

	adapters := make([]*drive.Adapter, 0, len(discovered))
	for _, d := range discovered {
		addr := drive.Address{Bus: d.Bus, Alias: d.Alias, Position: d.Position}

		modelID, ok := resolveModelID(cfg, d, sim)
		if !ok {
			log.Warn("discovered drive matches no configured model, skipping", "addr_slug", addr.Slug())
			continue
		}
		model, err := cfg.ModelByID(modelID, sim)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, drive.New(addr, model, master, registry, log))
	}
	return adapters, nil
}

func resolveModelID(cfg *appconfig.File, d iobus.DiscoveredDrive, sim bool) (string, bool) {
	if sim {
		for _, sd := range cfg.SimDevices {
			if sd.Bus == d.Bus && sd.Alias == d.Alias && sd.Position == d.Position {
				return sd.ModelID, true
			}
		}
		return "", false
	}
	for _, mc := range cfg.Devices {
		if mc.VendorID == d.VendorID && mc.ProductCode == d.ProductCode {
			return mc.ID, true
		}
	}
	return "", false
}
