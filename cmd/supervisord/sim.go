package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/appconfig"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/fleet"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/iobus"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/logging"
)

var (
	simTicks        int
	simInjectFault  string
	simInjectAtTick int
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a bounded number of ticks against the simulated master and print each tick's state",
	Long: `sim spins up simulated drives from sim_device_data (spec.md §6) and
runs the cyclic pipeline for a fixed number of ticks, printing the
supervisor's state/state_log each time it changes. It exists for
interactive exploration and for exercising the fault path
(--inject-fault) without real hardware.`,
	RunE: runSim,
}

func init() {
	simCmd.Flags().IntVar(&simTicks, "ticks", 200, "number of ticks to run before exiting")
	simCmd.Flags().StringVar(&simInjectFault, "inject-fault", "", "addr_slug:error_code to inject mid-run, e.g. b0a1p0:0x7305")
	simCmd.Flags().IntVar(&simInjectAtTick, "inject-at-tick", 20, "tick number at which to inject --inject-fault")
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.LoggingConfig()).With(logging.RunID(logging.NewRunID()))

	sim := iobus.NewSim(cfg.SimSpecs())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	drives, err := discoverDrives(ctx, cfg, sim, true, errorsDir, log)
	cancel()
	if err != nil {
		return err
	}

	fl := fleet.New(cfg.FleetConfig(), drives, log)
	fl.IssueCommand(fleet.TagInit)

	var faultAddr string
	var faultCode uint64
	if simInjectFault != "" {
		parts := strings.SplitN(simInjectFault, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("supervisord: --inject-fault must be addr_slug:code")
		}
		faultAddr = parts[0]
		faultCode, err = strconv.ParseUint(parts[1], 0, 32)
		if err != nil {
			return fmt.Errorf("supervisord: --inject-fault code: %w", err)
		}
	}

	lastState := ""
	runCtx := context.Background()
	for tick := 0; tick < simTicks; tick++ {
		if faultAddr != "" && tick == simInjectAtTick {
			if err := injectByAddrSlug(sim, cfg, faultAddr, uint32(faultCode)); err != nil {
				fmt.Printf("sim: %v\n", err)
			}
		}

		fl.Tick(runCtx)

		snap := fl.FeedbackOut.Snapshot()
		state, _ := snap[fleet.KeyState].(string)
		stateLog, _ := snap[fleet.KeyStateLog].(string)
		if state != lastState {
			fmt.Printf("tick %4d: state=%s (%s)\n", tick, state, stateLog)
			lastState = state
		}

		if fl.Shutdown() {
			break
		}
	}

	fmt.Println("sim: final snapshot")
	for k, v := range fl.FeedbackOut.Snapshot() {
		fmt.Printf("  %-24s = %v\n", k, v)
	}
	return nil
}

func injectByAddrSlug(sim *iobus.Sim, cfg *appconfig.File, slug string, code uint32) error {
	for _, sd := range cfg.SimSpecs() {
		addr := iobus.Addr{Bus: sd.Bus, Alias: sd.Alias, Position: sd.Position}
		if addrSlug(addr) == slug {
			return sim.InjectFault(addr, code)
		}
	}
	return fmt.Errorf("no simulated drive with addr_slug %q", slug)
}

func addrSlug(a iobus.Addr) string {
	return fmt.Sprintf("b%da%dp%d", a.Bus, a.Alias, a.Position)
}
