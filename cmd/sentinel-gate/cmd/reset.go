package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinelgate/sentinel/internal/config"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset Sentinel Gate to a clean state",
	Long: `Reset Sentinel Gate by wiping the persisted SQLite database.

This clears every rule, quarantine entry, confirmation token, circuit
breaker record, rate-limit bucket, anomaly baseline, config value, and
audit log entry. On next start, Sentinel Gate boots with an empty
database.

Optional flags:
  --force   Skip confirmation prompt

Examples:
  # Reset the database (interactive confirmation)
  sentinel-gate reset

  # Reset without prompting
  sentinel-gate reset --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SetDefaults()

	targets := []string{cfg.Store.DSN, cfg.Store.DSN + "-wal", cfg.Store.DSN + "-shm"}

	var existing []string
	for _, path := range targets {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset — no database file found.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, path := range existing {
		fmt.Fprintf(os.Stderr, "  - %s\n", path)
	}

	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	var failed int
	for _, path := range existing {
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", path, err)
			failed++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", path)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be removed", failed)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. Sentinel Gate will start fresh on next launch.")
	return nil
}
