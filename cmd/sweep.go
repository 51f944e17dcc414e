package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleeDevp/italihub-moderation/internal/audit"
	"github.com/AleeDevp/italihub-moderation/internal/auth"
	"github.com/AleeDevp/italihub-moderation/internal/config"
	"github.com/AleeDevp/italihub-moderation/internal/db"
	"github.com/AleeDevp/italihub-moderation/internal/moderation"
	"github.com/AleeDevp/italihub-moderation/internal/notifications"
	"github.com/AleeDevp/italihub-moderation/internal/progress"
)

var sweepDryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire online ads older than the configured TTL",
	Long: `Finds ads that have been online longer than ad_ttl_days and moves them
to expired, recording each transition in the audit trail and notifying the
owner. Intended to run from cron.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		database, err := db.Open(filepath.Join(cfg.DataDir, "moderation.db"))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		ctx := context.Background()
		store := moderation.NewStore(database)

		cutoff := time.Now().UTC().AddDate(0, 0, -cfg.AdTTLDays)
		ids, err := store.ListAdIDs(ctx, moderation.AdOnline, cutoff)
		if err != nil {
			return fmt.Errorf("listing expirable ads: %w", err)
		}
		if len(ids) == 0 {
			fmt.Fprintln(os.Stderr, "No ads to expire.")
			return nil
		}

		if sweepDryRun {
			fmt.Fprintf(os.Stderr, "Would expire %d ads (online since before %s).\n",
				len(ids), cutoff.Format(time.DateOnly))
			return nil
		}

		// The sweep runs without a live hub: owners see the expiry
		// notification in their history on the next load.
		notifStore := notifications.NewStore(database)
		dispatcher := notifications.NewDispatcher(notifStore, nil, nil)
		engine := moderation.NewEngine(store, audit.NewLedger(audit.NewStore(database)), dispatcher)

		reporter := progress.NewReporter()
		reporter.Start("Expiring ads", len(ids))

		expired, failed := 0, 0
		for i, id := range ids {
			_, err := engine.ChangeAdStatus(ctx, auth.System, id, moderation.AdExpired, "", "listing expired")
			if err != nil {
				failed++
				if verbose {
					fmt.Fprintf(os.Stderr, "ad %d: %v\n", id, err)
				}
			} else {
				expired++
			}
			reporter.Update(i+1, fmt.Sprintf("ad %d", id))
		}
		reporter.Finish()

		fmt.Fprintf(os.Stderr, "Expired %d ads (%d failed).\n", expired, failed)
		return nil
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "report what would expire without changing anything")
	rootCmd.AddCommand(sweepCmd)
}
