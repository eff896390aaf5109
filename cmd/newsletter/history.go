package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/store"
	"github.com/spf13/cobra"
)

func historyCMD() *cobra.Command {
	var cfgPath string
	var limit int

	var history = &cobra.Command{
		Use:   "history",
		Short: "List recently archived runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			pg := cfg.Storage.Postgres
			if pg.URL == "" && pg.DBName == "" {
				return fmt.Errorf("postgres not configured (storage.postgres.url or db_name)")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			st, err := store.NewWithDSN(ctx, pg.DSN())
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tRECIPIENT\tSTATE\tTURNS\tOUTCOME\tTOOLS")
			for _, r := range runs {
				outcome := r.DeliveryStatus
				if r.Stage != "" {
					outcome = "failed at " + r.Stage
				}
				state := r.State
				if r.Forced {
					state += " (forced)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Recipient, state, r.Turns, outcome, strings.Join(r.ToolCalls, ","))
			}
			return tw.Flush()
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	history.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return history
}
