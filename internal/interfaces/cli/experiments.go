package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/propelkit/experiments/pkg/client"
)

// experimentTable renders a list of experiments as a table.
type experimentTable []client.Experiment

func (t experimentTable) TableHeaders() []string {
	return []string{"ID", "NAME", "STATUS", "TYPE", "VARIANTS", "OWNER", "CREATED"}
}

func (t experimentTable) TableRows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		rows = append(rows, []string{
			e.ID,
			e.Name,
			e.Status,
			e.Type,
			strconv.Itoa(len(e.Variants)),
			e.OwnerID,
			e.CreatedAt.Format(time.RFC3339),
		})
	}
	return rows
}

// NewExperimentsCmd creates the experiments command group.
func NewExperimentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiments",
		Aliases: []string{"exp"},
		Short:   "Manage experiments",
	}

	cmd.AddCommand(
		newExperimentsListCmd(),
		newExperimentsGetCmd(),
		newExperimentsCreateCmd(),
		newExperimentsStartCmd(),
		newExperimentsPauseCmd(),
		newExperimentsCompleteCmd(),
		newExperimentsArchiveCmd(),
		newExperimentsDeleteCmd(),
		newExperimentsAllocateCmd(),
		newExperimentsConversionsCmd(),
	)

	return cmd
}

func newExperimentsListCmd() *cobra.Command {
	var status, owner string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			list, err := cliCtx.Client.Experiments().List(ctx, client.ListExperimentsOptions{
				Status:  status,
				OwnerID: owner,
				Limit:   limit,
				Offset:  offset,
			})
			if err != nil {
				return err
			}

			if cliCtx.OutputFormat == "json" {
				return PrintResult(cmd, list)
			}
			return PrintResult(cmd, experimentTable(list.Items))
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (draft, running, paused, completed, archived)")
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func newExperimentsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <experiment-id>",
		Short: "Show one experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			exp, err := cliCtx.Client.Experiments().Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, exp)
		},
	}
}

// parseVariantFlag parses "Name:allocation" or "Name:allocation:control".
func parseVariantFlag(s string) (client.VariantRequest, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return client.VariantRequest{}, fmt.Errorf("invalid variant %q, expected Name:allocation[:control]", s)
	}
	alloc, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return client.VariantRequest{}, fmt.Errorf("invalid allocation in variant %q: %w", s, err)
	}
	v := client.VariantRequest{Name: parts[0], TrafficAllocation: alloc}
	if len(parts) == 3 {
		if parts[2] != "control" {
			return client.VariantRequest{}, fmt.Errorf("invalid variant %q, third field must be \"control\"", s)
		}
		v.IsControl = true
	}
	return v, nil
}

func newExperimentsCreateCmd() *cobra.Command {
	var name, description, owner, expType, primaryMetric string
	var confidence float64
	var minSample int64
	var autoWinner bool
	var variantFlags []string

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a new experiment in draft state",
		Example: `  abxctl experiments create --name "Checkout CTA" \
      --variant "Control:50:control" --variant "Green button:50"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			variants := make([]client.VariantRequest, 0, len(variantFlags))
			for _, vf := range variantFlags {
				v, err := parseVariantFlag(vf)
				if err != nil {
					return err
				}
				variants = append(variants, v)
			}

			req := client.CreateExperimentRequest{
				OwnerID:         owner,
				Name:            name,
				Description:     description,
				Type:            expType,
				PrimaryMetric:   primaryMetric,
				ConfidenceLevel: confidence,
				MinSampleSize:   minSample,
				Variants:        variants,
			}
			if cmd.Flags().Changed("auto-winner") {
				req.AutoSelectWinner = &autoWinner
			}

			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			exp, err := cliCtx.Client.Experiments().Create(ctx, req)
			if err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("created experiment %s (%s)", exp.ID, exp.Name))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "experiment name (required)")
	cmd.Flags().StringVar(&description, "description", "", "experiment description")
	cmd.Flags().StringVar(&owner, "owner", "", "owner ID")
	cmd.Flags().StringVar(&expType, "type", "", "experiment type (ab_test, multivariate, split_url, feature_flag, custom)")
	cmd.Flags().StringVar(&primaryMetric, "metric", "", "primary metric name")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "confidence level, e.g. 0.95")
	cmd.Flags().Int64Var(&minSample, "min-sample", 0, "minimum sample size per variant")
	cmd.Flags().BoolVar(&autoWinner, "auto-winner", false, "automatically select the winner at completion")
	cmd.Flags().StringArrayVar(&variantFlags, "variant", nil, "variant as Name:allocation[:control], repeatable")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("variant")
	return cmd
}

// newTransitionCmd builds one lifecycle command.
func newTransitionCmd(use, short string, call func(ctx context.Context, c *client.Client, id string) (*client.Experiment, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <experiment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			exp, err := call(ctx, cliCtx.Client, args[0])
			if err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("experiment %s is now %s", exp.ID, exp.Status))
			return nil
		},
	}
}

func newExperimentsStartCmd() *cobra.Command {
	return newTransitionCmd("start", "Start a draft or paused experiment",
		func(ctx context.Context, c *client.Client, id string) (*client.Experiment, error) {
			return c.Experiments().Start(ctx, id)
		})
}

func newExperimentsPauseCmd() *cobra.Command {
	return newTransitionCmd("pause", "Pause a running experiment",
		func(ctx context.Context, c *client.Client, id string) (*client.Experiment, error) {
			return c.Experiments().Pause(ctx, id)
		})
}

func newExperimentsArchiveCmd() *cobra.Command {
	return newTransitionCmd("archive", "Archive a completed experiment",
		func(ctx context.Context, c *client.Client, id string) (*client.Experiment, error) {
			return c.Experiments().Archive(ctx, id)
		})
}

func newExperimentsCompleteCmd() *cobra.Command {
	var winner string

	cmd := &cobra.Command{
		Use:   "complete <experiment-id>",
		Short: "Complete an experiment, optionally pinning the winner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			exp, err := cliCtx.Client.Experiments().Complete(ctx, args[0], winner)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("experiment %s completed", exp.ID)
			if exp.WinnerID != nil {
				msg += fmt.Sprintf(", winner %s", *exp.WinnerID)
			} else {
				msg += ", no winner declared"
			}
			PrintSuccess(cmd, msg)
			return nil
		},
	}

	cmd.Flags().StringVar(&winner, "winner", "", "variant ID to declare as winner (default: evaluate results)")
	return cmd
}

func newExperimentsDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <experiment-id>",
		Short: "Delete a non-running experiment and all its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("deletion is irreversible; re-run with --yes to confirm")
			}
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			if err := cliCtx.Client.Experiments().Delete(ctx, args[0]); err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("deleted experiment %s", args[0]))
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

// parseAllocationFlag parses "variant-id=percentage".
func parseAllocationFlag(s string) (client.Allocation, error) {
	idx := strings.LastIndex(s, "=")
	if idx <= 0 || idx == len(s)-1 {
		return client.Allocation{}, fmt.Errorf("invalid allocation %q, expected variant-id=percentage", s)
	}
	pct, err := strconv.ParseFloat(s[idx+1:], 64)
	if err != nil {
		return client.Allocation{}, fmt.Errorf("invalid percentage in %q: %w", s, err)
	}
	return client.Allocation{VariantID: s[:idx], TrafficAllocation: pct}, nil
}

func newExperimentsAllocateCmd() *cobra.Command {
	var allocFlags []string

	cmd := &cobra.Command{
		Use:     "allocate <experiment-id>",
		Short:   "Replace the traffic split across variants",
		Example: `  abxctl experiments allocate exp-1 --set var-1=30 --set var-2=70`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			allocations := make([]client.Allocation, 0, len(allocFlags))
			for _, af := range allocFlags {
				a, err := parseAllocationFlag(af)
				if err != nil {
					return err
				}
				allocations = append(allocations, a)
			}

			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			exp, err := cliCtx.Client.Experiments().SetAllocations(ctx, args[0], allocations)
			if err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("updated allocations for experiment %s", exp.ID))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&allocFlags, "set", nil, "allocation as variant-id=percentage, repeatable")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

// conversionTable renders conversion events as a table.
type conversionTable []client.Conversion

func (t conversionTable) TableHeaders() []string {
	return []string{"ID", "VARIANT", "SESSION", "EVENT", "VALUE", "AT"}
}

func (t conversionTable) TableRows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, c := range t {
		value := "-"
		if c.Value != nil {
			value = strconv.FormatFloat(*c.Value, 'f', -1, 64)
		}
		rows = append(rows, []string{
			c.ID, c.VariantID, c.SessionID, c.Event, value,
			c.CreatedAt.Format(time.RFC3339),
		})
	}
	return rows
}

func newExperimentsConversionsCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "conversions <experiment-id>",
		Short: "List an experiment's conversion events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			list, err := cliCtx.Client.Experiments().Conversions(ctx, args[0], limit, offset)
			if err != nil {
				return err
			}

			if cliCtx.OutputFormat == "json" {
				return PrintResult(cmd, list)
			}
			return PrintResult(cmd, conversionTable(list.Items))
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

// commandContext derives a per-request context from the command with the
// configured timeout.
func commandContext(cmd *cobra.Command, cliCtx *CLIContext) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	if cliCtx.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, cliCtx.Timeout)
}
