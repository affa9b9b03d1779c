package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/propelkit/experiments/pkg/client"
)

// resultsView adapts Results to table rendering with a per-variant row.
type resultsView struct {
	*client.Results
}

func (v resultsView) TableHeaders() []string {
	return []string{"VARIANT", "CONTROL", "IMPRESSIONS", "CONVERSIONS", "RATE", "P-VALUE", "SIGNIFICANT", "WIN PROB"}
}

func (v resultsView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Variants))
	for _, vr := range v.Variants {
		control := ""
		if vr.IsControl {
			control = "yes"
		}
		significant := ""
		if vr.Significant {
			significant = "yes"
		}
		rows = append(rows, []string{
			vr.Name,
			control,
			strconv.FormatInt(vr.Impressions, 10),
			strconv.FormatInt(vr.Conversions, 10),
			fmt.Sprintf("%.2f%%", vr.ConversionRate*100),
			fmt.Sprintf("%.4f", vr.PValue),
			significant,
			fmt.Sprintf("%.1f%%", vr.WinProbability*100),
		})
	}
	return rows
}

// NewResultsCmd creates the results command.
func NewResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <experiment-id>",
		Short: "Show the statistical results of an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			res, err := cliCtx.Client.Delivery().Results(ctx, args[0])
			if err != nil {
				return err
			}

			if cliCtx.OutputFormat == "json" {
				return PrintResult(cmd, res)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Experiment: %s (%s)\n", res.Name, res.ExperimentID)
			fmt.Fprintf(out, "Status: %s  Impressions: %d  Conversions: %d  Power: %.2f\n",
				res.Status, res.TotalImpressions, res.TotalConversions, res.StatisticalPower)
			if res.HasWinner {
				fmt.Fprintf(out, "Winner: %s\n", res.WinnerName)
			}
			if res.DaysToSignificance != nil {
				fmt.Fprintf(out, "Estimated days to significance: %d\n", *res.DaysToSignificance)
			}
			fmt.Fprintf(out, "Recommendation: %s\n\n", res.Recommendation)
			return PrintResult(cmd, resultsView{res})
		},
	}
}
