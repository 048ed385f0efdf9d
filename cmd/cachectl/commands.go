package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	cache "github.com/mxcd/tiered-cache"
)

type app struct {
	configPath string
	cache      *cache.TieredCache[any]
	sweeper    *cache.Sweeper
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and maintain a tiered cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a config file (yaml, toml or json)")

	root.AddCommand(
		a.newSetCmd(),
		a.newGetCmd(),
		a.newDeleteCmd(),
		a.newClearCmd(),
		a.newSweepCmd(),
		a.newUsageCmd(),
	)
	return root, a
}

func (a *app) open() error {
	cfg, err := cache.LoadConfig(a.configPath)
	if err != nil {
		return err
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(cfg.LogLevel).
		With().Timestamp().Logger()
	log.Logger = logger

	a.cache, a.sweeper, err = cache.Open[any](cfg, &logger)
	return err
}

func (a *app) close() error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Close()
}

func (a *app) newSetCmd() *cobra.Command {
	var ttl time.Duration
	var maxSize string

	cmd := &cobra.Command{
		Use:   "set <key> <json-value>",
		Short: "Store a JSON value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				return fmt.Errorf("value is not valid JSON: %w", err)
			}

			options := &cache.SetOptions{Expiration: ttl}
			if maxSize != "" {
				var size datasize.ByteSize
				if err := size.UnmarshalText([]byte(maxSize)); err != nil {
					return fmt.Errorf("invalid --max-size: %w", err)
				}
				options.MaxSize = int64(size.Bytes())
			}

			if !a.cache.Set(cmd.Context(), args[0], value, options) {
				return errors.New("value was not stored")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expiration of the entry, 0 keeps it forever")
	cmd.Flags().StringVar(&maxSize, "max-size", "", "reject the value if its estimated size exceeds this, e.g. 10KB")
	return cmd
}

func (a *app) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a cached value as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, ok := a.cache.Get(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("%s: %w", args[0], cache.ErrNotFound)
			}
			return printJSON(cmd, *value)
		},
	}
}

func (a *app) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key from both backends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cache.Delete(cmd.Context(), args[0]) {
				return errors.New("delete failed on at least one backend")
			}
			return nil
		},
	}
}

func (a *app) newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry of this cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cache.Clear(cmd.Context()) {
				return errors.New("clear failed on at least one backend")
			}
			return nil
		},
	}
}

func (a *app) newSweepCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a.sweeper.SweepNow(ctx)
			if !watch {
				return nil
			}

			a.sweeper.Start(ctx)
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.sweeper.Stop(stopCtx)
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep sweeping on the configured interval until interrupted")
	return cmd
}

func (a *app) newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Print item count and estimated size of the active backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, a.cache.GetCacheUsage(cmd.Context()))
		},
	}
}

func printJSON(cmd *cobra.Command, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
