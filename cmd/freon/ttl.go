package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/freon/internal/cache"
)

func printKeys(cmd *cobra.Command, keys []string) {
	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), k)
	}
}

func newExpiredCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expired",
		Short: "List keys whose TTL has passed, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd.Context(), func(c *cache.Cache[any]) error {
				keys, err := c.GetExpired(cmd.Context())
				if err != nil {
					return err
				}
				printKeys(cmd, keys)
				return nil
			})
		},
	}
}

func newExpiringCmd() *cobra.Command {
	var within time.Duration

	cmd := &cobra.Command{
		Use:   "expiring",
		Short: "List keys expiring within a window, soonest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if within < 0 {
				return fmt.Errorf("--within must not be negative")
			}
			return withCache(cmd.Context(), func(c *cache.Cache[any]) error {
				keys, err := c.GetByTTL(cmd.Context(), within)
				if err != nil {
					return err
				}
				printKeys(cmd, keys)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&within, "within", time.Minute, "look-ahead window")
	return cmd
}
