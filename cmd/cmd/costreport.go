package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var costReportDays int

var costReportCmd = &cobra.Command{
	Use:   "cost-report",
	Short: "Print LLM spend for the trailing window, month-to-date, and by model",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		since := time.Now().UTC().AddDate(0, 0, -costReportDays)
		windowTotal, err := a.store.CostRecords().SumCostSince(ctx, since)
		if err != nil {
			return fmt.Errorf("summing trailing cost: %w", err)
		}
		byModel, err := a.store.CostRecords().SumByModelSince(ctx, since)
		if err != nil {
			return fmt.Errorf("summing cost by model: %w", err)
		}

		fmt.Printf("Cost report (trailing %d day(s))\n", costReportDays)
		fmt.Println("================================")
		fmt.Printf("Month-to-date:   $%.2f\n", a.ledger.MonthToDate())
		fmt.Printf("Trailing window: $%.2f\n\n", windowTotal)

		models := make([]string, 0, len(byModel))
		for m := range byModel {
			models = append(models, m)
		}
		sort.Strings(models)

		fmt.Println("By model:")
		for _, m := range models {
			fmt.Printf("  %-28s $%.2f\n", m, byModel[m])
		}
		return nil
	},
}

func init() {
	costReportCmd.Flags().IntVar(&costReportDays, "days", 30, "trailing window size in days")
	rootCmd.AddCommand(costReportCmd)
}
