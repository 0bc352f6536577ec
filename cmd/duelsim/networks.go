package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"duel_ai/internal/persistence/indexdb"
)

func networksCmd() *cobra.Command {
	var cfgPath string
	var runs int
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "List saved networks and recent runs from the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNetworks(cfgPath, runs)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "assets/duel.yaml", "config file")
	cmd.Flags().IntVar(&runs, "runs", 5, "number of recent runs to show")
	return cmd
}

func runNetworks(cfgPath string, runs int) error {
	ctx := context.Background()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Engine.IndexDB == "" {
		return fmt.Errorf("engine.index_db is not set in %s", cfgPath)
	}
	idx, err := indexdb.OpenSQLite(cfg.Engine.IndexDB)
	if err != nil {
		return err
	}
	defer idx.Close()

	rows, err := idx.Networks(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "No networks saved.")
	}
	for _, r := range rows {
		fmt.Fprintf(os.Stdout, "%-36s %-18s %dx%d %8d samples  %s\n",
			r.Name, r.Family, r.Inputs, r.Outputs, r.Samples, r.SavedAt.Format("2006-01-02 15:04:05"))
	}

	if runs <= 0 {
		return nil
	}
	recent, err := idx.Runs(ctx, runs)
	if err != nil {
		return err
	}
	for _, r := range recent {
		fmt.Fprintf(os.Stdout, "run %d: %s, %d snapshots, %d orders\n",
			r.ID, r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond), r.Snapshots, r.Orders)
	}
	return nil
}
