package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/freon/internal/cache"
)

type entryOutput struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Expired bool   `json:"expired"`
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a value, expired or not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return withCache(cmd.Context(), func(c *cache.Cache[any]) error {
				item, err := c.Lookup(cmd.Context(), key)
				if err != nil {
					return err
				}
				if !item.Found {
					return fmt.Errorf("key %q not found", key)
				}
				return printJSON(cmd.OutOrStdout(), entryOutput{Key: key, Value: item.Value, Expired: item.Expired})
			})
		},
	}
}

func newSetCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "set <key> <json>",
		Short: "Store a JSON value",
		Long: `Store a JSON value under key.

Without --ttl the configured default applies. A negative --ttl stores an
entry that is already expired. The command fails if another writer holds
the key's lock.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			var v any
			if err := json.Unmarshal([]byte(args[1]), &v); err != nil {
				return fmt.Errorf("value is not valid JSON: %w", err)
			}
			return withCache(cmd.Context(), func(c *cache.Cache[any]) error {
				_, written, err := c.Set(cmd.Context(), key, cache.Literal(v).TTL(ttl))
				if err != nil {
					return err
				}
				if !written {
					return fmt.Errorf("key %q is locked by another writer", key)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "time to live, e.g. 30s or 1h (0 uses FREON_DEFAULT_TTL)")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"del", "rm"},
		Short:   "Remove a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd.Context(), func(c *cache.Cache[any]) error {
				return c.Delete(cmd.Context(), args[0])
			})
		},
	}
}

func newExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <key>",
		Short: "Report whether a key is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd.Context(), func(c *cache.Cache[any]) error {
				ok, err := c.Exists(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return nil
			})
		},
	}
}
