package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncIndexCmd = &cobra.Command{
	Use:   "sync-index",
	Short: "Rebuild the semantic search index from the stored lots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Init(ctx); err != nil {
			return err
		}

		index, err := newIndex(ctx, cfg, st, logger)
		if err != nil {
			return err
		}
		start := time.Now()
		n, err := index.Sync(ctx)
		if err != nil {
			return fmt.Errorf("sync index: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d lot(s) in %s\n", n, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var initIndexesCmd = &cobra.Command{
	Use:   "init-indexes",
	Short: "Create database tables and indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Init(ctx); err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Store %q ready\n", cfg.Store.Driver)
		return nil
	},
}
