package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"toolsync/models"
	"toolsync/tui"
	"toolsync/web"
	"toolsync/web/api"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/cobra"
)

// cliOptions are the persistent flags shared by every command.
type cliOptions struct {
	configFile string
	offline    bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "toolsync",
		Short: "Offline-first sync for the local tools",
		Long: `toolsync stores tool settings, tags, instructions, templates and projects
on this device and mirrors them to the account hub whenever it is reachable.

Configuration comes from --config, $XDG_CONFIG_HOME/toolsync/config.yaml
and TOOLSYNC_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml)")
	root.PersistentFlags().BoolVar(&opts.offline, "offline", false, "treat the hub as unreachable")

	root.AddCommand(
		newServeCmd(opts),
		newSyncCmd(opts),
		newPullCmd(opts),
		newStatusCmd(opts),
		newFailedCmd(opts),
		newPurgeCmd(opts),
		newSetCmd(opts),
		newGetCmd(opts),
		newRemoveCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// openEngine loads config, applies the log level and opens the engine.
// Callers must Close the engine.
func openEngine(opts *cliOptions) (*models.Engine, error) {
	cfg, err := models.LoadSyncConfig(opts.configFile)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.LogLevel)

	var overrides models.EngineOverrides
	if opts.offline {
		overrides.Reachability = models.NewManualReachability(false)
	}
	return models.OpenEngine(cfg, overrides)
}

// withEngine opens and starts the engine around fn.
func withEngine(opts *cliOptions, fn func(ctx context.Context, engine *models.Engine) error) error {
	engine, err := openEngine(opts)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, engine)
}

func requireOrchestrator(engine *models.Engine) (*models.SyncOrchestrator, error) {
	if engine.Orchestrator == nil {
		return nil, serr.New("sync is disabled; set sync_enabled, hub_url and token")
	}
	return engine.Orchestrator, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ----------------------------------------------------------------------------
// serve

func newServeCmd(opts *cliOptions) *cobra.Command {
	var addr string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine with the local status server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(ctx context.Context, engine *models.Engine) error {
				if addr == "" {
					addr = engine.Config.Listen
				}
				if engine.Orchestrator != nil {
					engine.Orchestrator.OnAuthError(func(err error) {
						logger.LogErr(err, "hub rejected the session token, sync paused")
					})
				}

				srv := web.NewServer(rweb.ServerOptions{Address: addr, Verbose: verbose}, api.NewSyncControl(engine))

				errCh := make(chan error, 1)
				go func() { errCh <- web.Run(srv, addr) }()

				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sigCh)

				select {
				case err := <-errCh:
					return err
				case sig := <-sigCh:
					logger.Info("Shutting down", "signal", sig.String())
					return nil
				}
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to the listen config key)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log every request")
	return cmd
}

// ----------------------------------------------------------------------------
// sync, pull, status

func newSyncCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload queued changes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(ctx context.Context, engine *models.Engine) error {
				orch, err := requireOrchestrator(engine)
				if err != nil {
					return err
				}
				if err := orch.TriggerSync(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), orch.GetState())
			})
		},
	}
}

func newPullCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Download the whole account and merge it into local storage",
		Long: `Pull fetches every setting and record from the hub and merges it with
local data, newest timestamp winning. Keys with changes still queued for
upload are left alone. On the first pull for an account, local records that
the hub does not have yet are queued for upload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(ctx context.Context, engine *models.Engine) error {
				orch, err := requireOrchestrator(engine)
				if err != nil {
					return err
				}
				imported, err := orch.PerformInitialSync(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d records\n", imported)
				return nil
			})
		},
	}
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state and queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(ctx context.Context, engine *models.Engine) error {
				return printJSON(cmd.OutOrStdout(), api.NewSyncControl(engine).Snapshot())
			})
		},
	}
}

// ----------------------------------------------------------------------------
// failed items

func newFailedCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "List queued changes that used up their attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(ctx context.Context, engine *models.Engine) error {
				items, err := engine.Queue.GetFailedItems(ctx, engine.Config.MaxAttempts)
				if err != nil {
					return err
				}
				if items == nil {
					items = []models.QueueItem{}
				}
				return printJSON(cmd.OutOrStdout(), items)
			})
		},
	}
}

func newPurgeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Drop queued changes that used up their attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(ctx context.Context, engine *models.Engine) error {
				n, err := engine.Queue.RemoveFailedItems(ctx, engine.Config.MaxAttempts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d items\n", n)
				return nil
			})
		},
	}
}

// ----------------------------------------------------------------------------
// storage

func newSetCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a value and queue it for sync",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(opts, func(ctx context.Context, engine *models.Engine) error {
				return engine.Storage.Set(ctx, args[0], args[1])
			})
		},
	}
}

func newGetCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a value, decrypting it when sensitive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(opts, func(ctx context.Context, engine *models.Engine) error {
				value, ok, err := engine.Storage.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return serr.New("key not found: " + args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}
}

func newRemoveCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a value and queue the deletion for sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(opts, func(ctx context.Context, engine *models.Engine) error {
				return engine.Storage.Remove(ctx, args[0])
			})
		},
	}
}

// withStorage opens the engine without starting the orchestrator. Writes are
// queued and go out on the next sync, serve or watch.
func withStorage(opts *cliOptions, fn func(ctx context.Context, engine *models.Engine) error) error {
	engine, err := openEngine(opts)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(context.Background(), engine)
}

// ----------------------------------------------------------------------------
// watch

func newWatchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Show live sync status in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(ctx context.Context, engine *models.Engine) error {
				orch, err := requireOrchestrator(engine)
				if err != nil {
					return err
				}
				return tui.Watch(orch)
			})
		},
	}
}
