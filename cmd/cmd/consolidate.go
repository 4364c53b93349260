package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"narrative-core/internal/logger"
	"narrative-core/internal/tui"
)

var consolidateDryRun bool

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge duplicate active narratives sharing a nucleus",
	Long: `consolidate groups active narratives by nucleus_entity and merges
pairs above the similarity threshold, keeping the larger/older survivor
and archiving the loser. With --dry-run it opens an interactive viewer
showing exactly what a real run would merge, without writing anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		now := time.Now().UTC()

		if consolidateDryRun {
			return tui.Run(ctx, a.engine, now)
		}

		log := logger.With("consolidate")
		merged, err := a.engine.Consolidate(ctx, now)
		if err != nil {
			return fmt.Errorf("consolidating narratives: %w", err)
		}
		log.Info().Int("narratives_merged", merged).Msg("consolidation complete")
		fmt.Printf("merged %d narrative(s)\n", merged)
		return nil
	},
}

func init() {
	consolidateCmd.Flags().BoolVar(&consolidateDryRun, "dry-run", false, "preview merges in an interactive viewer without writing anything")
	rootCmd.AddCommand(consolidateCmd)
}
