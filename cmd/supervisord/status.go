package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/appconfig"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/eventlog"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/fleet"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/iobus"
	"github.com/sitdownseungpyo/ethercatsupervisor/internal/logging"
)

var (
	statusHistory int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the fleet's current state and recent history as tables",
	Long: `status builds a fresh simulated fleet from the configuration, runs it
for five ticks and renders its supervisor/drive feedback_out surface as a
table (olekukonko/tablewriter, grounded on marmos91-dittofs's internal/cli/output),
and, if an event log is configured, the most recent transitions/faults with
relative timestamps (dustin/go-humanize).`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusHistory, "history", 10, "number of recent transitions/faults to show (0 disables)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.LoggingConfig())

	sim := iobus.NewSim(cfg.SimSpecs())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	drives, err := discoverDrives(ctx, cfg, sim, true, errorsDir, log)
	cancel()
	if err != nil {
		return err
	}

	fl := fleet.New(cfg.FleetConfig(), drives, log)
	fl.IssueCommand(fleet.TagInit)
	// A handful of ticks so the freshly-constructed fleet has settled past
	// its boot sub-state before status snapshots it.
	for i := 0; i < 5; i++ {
		fl.Tick(context.Background())
	}

	printFleetTable(fl)

	if statusHistory > 0 && cfg.EventLog.Path != "" {
		elCtx, elCancel := context.WithTimeout(context.Background(), 5*time.Second)
		db, err := eventlog.Open(elCtx, cfg.EventLog.Path, log)
		elCancel()
		if err != nil {
			return fmt.Errorf("supervisord: open event log: %w", err)
		}
		defer db.Close()
		printHistory(db, statusHistory)
	}

	return nil
}

func printFleetTable(fl *fleet.Fleet) {
	snap := fl.FeedbackOut.Snapshot()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"FIELD", "VALUE"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, k := range []string{
		fleet.KeyState, fleet.KeyStateLog, fleet.KeyDriveState,
		fleet.KeyCommandComplete, fleet.KeyReset, fleet.KeyEnabled,
		fleet.KeyFault, fleet.KeyFaultDesc, fleet.KeyGoalReached, fleet.KeyGoalReason,
	} {
		table.Append([]string{k, fmt.Sprint(snap[k])})
	}
	table.Render()

	drivesTable := tablewriter.NewWriter(os.Stdout)
	drivesTable.SetHeader([]string{"ADDR_SLUG", "STATUS_WORD", "CONTROL_WORD", "FAULT", "GOAL_REACHED"})
	drivesTable.SetAutoWrapText(false)
	drivesTable.SetAlignment(tablewriter.ALIGN_LEFT)
	drivesTable.SetBorder(false)

	for _, slug := range drivePrefixes(snap) {
		drivesTable.Append([]string{
			slug,
			fmt.Sprintf("0x%04X", asUint16(snap["d"+slug+"_status_word"])),
			fmt.Sprintf("0x%04X", asUint16(snap["d"+slug+"_control_word"])),
			fmt.Sprint(snap["d"+slug+"_fault"]),
			fmt.Sprint(snap["d"+slug+"_goal_reached"]),
		})
	}
	drivesTable.Render()
}

func drivePrefixes(snap map[string]any) []string {
	seen := map[string]bool{}
	var out []string
	for k := range snap {
		if !strings.HasPrefix(k, "d") || !strings.HasSuffix(k, "_status_word") {
			continue
		}
		slug := strings.TrimSuffix(strings.TrimPrefix(k, "d"), "_status_word")
		if !seen[slug] {
			seen[slug] = true
			out = append(out, slug)
		}
	}
	sort.Strings(out)
	return out
}

func asUint16(v any) uint16 {
	u, _ := v.(uint16)
	return u
}

func printHistory(db *eventlog.DB, limit int) {
	transitions, err := db.RecentTransitions(limit)
	if err == nil && len(transitions) > 0 {
		fmt.Println("\nrecent transitions:")
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"AGO", "FROM", "TO", "REASON"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		for _, t := range transitions {
			table.Append([]string{humanize.Time(t.OccurredAt), t.From, t.To, t.Reason})
		}
		table.Render()
	}

	faults, err := db.RecentFaults(limit)
	if err == nil && len(faults) > 0 {
		fmt.Println("\nrecent faults:")
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"AGO", "DESCRIPTION"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		for _, f := range faults {
			table.Append([]string{humanize.Time(f.OccurredAt), f.Description})
		}
		table.Render()
	}
}
