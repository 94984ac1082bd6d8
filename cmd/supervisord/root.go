// Package main is the supervisord binary: a cobra CLI over the core
// packages, grounded on marmos91-dittofs/cmd/dittofs (root command +
// subcommand wiring over a shared viper-loaded config) and
// sigreer-jbodgod's cobra command layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "supervisord",
	Short: "EtherCAT CiA-402 fleet supervisor",
	Long: `supervisord cycles a fleet of EtherCAT servo drives through the
CiA-402 drive profile, coordinating them toward an operator-requested
high-level state (INIT, STOP, START, FAULT).`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to supervisord.yaml (default: ./supervisord.yaml)")
	rootCmd.AddCommand(runCmd, statusCmd, simCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
