package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var maintainUser string

var maintainCmd = &cobra.Command{
	Use:       "maintain {decay|consolidate|archive|expire}",
	Short:     "Run one maintenance job and exit",
	Long:      "Runs a single maintenance job against the configured store: importance decay, the consolidation scan (per user), archival of stale low-importance entities, or expiry of past-valid-to facts. All jobs are idempotent.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"decay", "consolidate", "archive", "expire"},
	RunE:      runMaintain,
}

func init() {
	maintainCmd.Flags().StringVar(&maintainUser, "user", "", "tenant user id (required for consolidate)")
}

func runMaintain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	eng, err := buildEngine(cfg, store)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var affected int
	switch args[0] {
	case "decay":
		affected, err = eng.RunDecay(ctx)
	case "consolidate":
		if maintainUser == "" {
			return fmt.Errorf("consolidate requires --user")
		}
		affected, err = eng.RunConsolidationScan(ctx, maintainUser)
	case "archive":
		affected, err = eng.RunArchival(ctx)
	case "expire":
		affected, err = eng.RunExpiry(ctx)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	fmt.Printf("%s: %d rows affected\n", args[0], affected)
	return nil
}
