package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cimonitor/cimonitor/internal/api"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll every project once and print the resulting dashboard",
	Long: `Poll runs a single pass over all configured projects, records any
changes in the configured history store and prints the dashboard as JSON.
With the memory backend nothing survives the command; use it to check feeds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		ctx := cmd.Context()
		sum := a.sched.PollDue(ctx, time.Now())

		d, err := api.BuildDashboard(ctx, a.source)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		fmt.Fprintf(cmd.ErrOrStderr(), "polled %d projects: %d recorded, %d errored, %d panicked\n",
			sum.Due, sum.Recorded, sum.Errored, sum.Panicked)
		return nil
	},
}
