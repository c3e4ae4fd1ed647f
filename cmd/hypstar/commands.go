package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hypstar-handler/internal/tasks"
)

func newSerialsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serials",
		Short: "Print the instrument, VNIR and SWIR serial numbers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sn, err := tasks.Serials(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "instrument=%d vnir=%d swir=%d\n", sn.Instrument, sn.VNIR, sn.SWIR)
			return nil
		},
	}
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Print the latest environmental log as a CSV line",
		Long:  "Fields: timestamp_ms,temperature_c,humidity_pct,pressure_hpa,voltage_v,current_a",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			_, err = tasks.EnvLog(cmd.Context(), cfg, nil, os.Stdout)
			return err
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		flagLimit int
		flagJSON  string
		flagCSV   string
		flagStats bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded captures, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if flagStats {
				b, err := tasks.HistoryStats(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}
			rows, err := tasks.History(cmd.Context(), cfg, tasks.HistoryOptions{Limit: flagLimit, JSONPath: flagJSON, CSVPath: flagCSV})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tKIND\tOUTCOME\tBYTES\tIT_VNIR\tIT_SWIR\tPATH")
			for _, c := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					c.StartedAt.Local().Format(time.DateTime), c.Kind, c.Outcome, c.Bytes, c.ITVNIR, c.ITSWIR, c.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum rows (0 means all)")
	cmd.Flags().StringVar(&flagJSON, "json", "", "also export the rows as JSON to this file")
	cmd.Flags().StringVar(&flagCSV, "csv", "", "also export the rows as CSV to this file")
	cmd.Flags().BoolVar(&flagStats, "stats", false, "print per-kind outcome counts as JSON instead")
	return cmd
}

func newPowerCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "powercycle",
		Short: "Switch the instrument off and on through the configured Modbus relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return tasks.PowerCycle(cmd.Context(), cfg)
		},
	}
}
