package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"narrative-core/internal/logger"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "One-shot, idempotent backfill passes over the narratives collection",
}

var backfillBatchSize int

var backfillFingerprintsCmd = &cobra.Command{
	Use:   "fingerprints",
	Short: "Compute fingerprint.hash for narratives that lack one",
	Long: `Computes fingerprint.hash from the current nucleus_entity and
top_actors for every narrative missing a hash. Narratives that already
carry a hash are left untouched, so this is safe to re-run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		log := logger.With("backfill")
		count, err := a.engine.BackfillFingerprints(ctx, time.Now().UTC(), backfillBatchSize)
		if err != nil {
			return fmt.Errorf("backfilling fingerprints: %w", err)
		}
		log.Info().Int("narratives_updated", count).Msg("fingerprint backfill complete")
		fmt.Printf("backfilled fingerprint.hash on %d narrative(s)\n", count)
		return nil
	},
}

var backfillNarrativeFocusCmd = &cobra.Command{
	Use:   "narrative-focus",
	Short: "Derive narrative_focus for narratives that predate the field",
	Long: `Reconstructs narrative_focus from each narrative's nucleus_entity and
key_actions for every narrative with an empty focus. Narratives that
already carry a focus are left untouched, so this is safe to re-run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		log := logger.With("backfill")
		count, err := a.engine.BackfillNarrativeFocus(ctx, backfillBatchSize)
		if err != nil {
			return fmt.Errorf("backfilling narrative_focus: %w", err)
		}
		log.Info().Int("narratives_updated", count).Msg("narrative_focus backfill complete")
		fmt.Printf("backfilled narrative_focus on %d narrative(s)\n", count)
		return nil
	},
}

func init() {
	backfillCmd.PersistentFlags().IntVar(&backfillBatchSize, "batch-size", 500, "maximum narratives to touch in one run")
	backfillCmd.AddCommand(backfillFingerprintsCmd)
	backfillCmd.AddCommand(backfillNarrativeFocusCmd)
	rootCmd.AddCommand(backfillCmd)
}
