package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// NewMetricsCommand creates the metrics command.
func NewMetricsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print the metric families in Prometheus text format",
		Long: `Print every registered metric family in the Prometheus text exposition
format. Counters start at zero in a fresh process; use serve with
metrics.enabled to scrape a long-running process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			families, err := prometheus.DefaultGatherer.Gather()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to gather metrics", err)
			}
			enc := expfmt.NewEncoder(cmd.OutOrStdout(), expfmt.NewFormat(expfmt.TypeTextPlain))
			for _, mf := range families {
				if err := enc.Encode(mf); err != nil {
					return WrapExitError(ExitFailure, fmt.Sprintf("failed to encode %s", mf.GetName()), err)
				}
			}
			return nil
		},
	}
}
