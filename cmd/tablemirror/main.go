package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tablemirror/tablemirror/internal/engine"
	"github.com/tablemirror/tablemirror/pkg/api"
	"github.com/tablemirror/tablemirror/pkg/config"
	"github.com/tablemirror/tablemirror/pkg/logger"
	"github.com/tablemirror/tablemirror/pkg/observability"
	"github.com/tablemirror/tablemirror/pkg/scheduler"
	"github.com/tablemirror/tablemirror/pkg/store"
	"github.com/tablemirror/tablemirror/pkg/synclog"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	fl := &cliFlags{}

	root := &cobra.Command{
		Use:   "tablemirror",
		Short: "TableMirror - chunked parallel table replication",
		Long: `TableMirror keeps target database tables as full-refresh mirrors of their
source tables. Each cycle probes, truncates and re-copies every configured
table in fixed-size chunks, reading in parallel when the table is large
enough to benefit.`,
	}
	root.PersistentFlags().StringVarP(&fl.configFile, "config", "c", "tablemirror.yaml", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&fl.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&fl.logEncoding, "log-encoding", "", "Override the configured log encoding (json, console)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newValidateCmd(fl))
	root.AddCommand(newRunCmd(fl))
	root.AddCommand(newServeCmd(fl))
	root.AddCommand(newHistoryCmd(fl))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliFlags are the global flags shared by every subcommand.
type cliFlags struct {
	configFile  string
	logLevel    string
	logEncoding string
}

// app holds the wired components shared by run and serve.
type app struct {
	cfg             *config.Config
	provider        *store.Provider
	history         *synclog.Store
	engine          *engine.Engine
	shutdownTracing func(context.Context) error
}

func newApp(fl *cliFlags) (*app, error) {
	cfg, err := config.LoadFile(fl.configFile)
	if err != nil {
		return nil, err
	}
	if fl.logLevel != "" {
		cfg.Logging.Level = fl.logLevel
	}
	if fl.logEncoding != "" {
		cfg.Logging.Encoding = fl.logEncoding
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	}); err != nil {
		return nil, err
	}

	shutdownTracing, err := observability.Init(cfg.Tracing, version)
	if err != nil {
		return nil, err
	}

	provider, err := store.NewProvider(cfg.Stores)
	if err != nil {
		return nil, err
	}

	history, err := synclog.Open(cfg.SyncLog.MaxEntries, cfg.SyncLog.Path)
	if err != nil {
		return nil, err
	}

	logger.Info("tablemirror starting",
		zap.String("version", version),
		zap.Int("stores", len(cfg.Stores)),
		zap.Int("pairs", len(cfg.Pairs)))

	return &app{
		cfg:             cfg,
		provider:        provider,
		history:         history,
		engine:          engine.New(provider, history, cfg.Engine),
		shutdownTracing: shutdownTracing,
	}, nil
}

// Close persists history and releases connections.
func (a *app) Close() {
	if err := a.history.Close(); err != nil {
		logger.Warn("failed to persist sync history", zap.Error(err))
	}
	if err := a.provider.Close(); err != nil {
		logger.Warn("failed to close stores", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTracing(ctx); err != nil {
		logger.Warn("failed to flush traces", zap.Error(err))
	}
	_ = logger.Sync()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("TableMirror v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newValidateCmd(fl *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(fl.configFile)
			if err != nil {
				return err
			}
			tables := 0
			for _, pair := range cfg.Pairs {
				tables += len(pair.Tables)
			}
			fmt.Printf("configuration OK: %d stores, %d pairs, %d tables\n",
				len(cfg.Stores), len(cfg.Pairs), tables)
			return nil
		},
	}
}

func newRunCmd(fl *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one sync cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(fl)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				a.engine.Stop()
			}()

			if err := a.engine.SyncAll(ctx, a.cfg.Pairs); err != nil {
				return err
			}

			stats := a.history.Stats()
			fmt.Printf("sync cycle complete: %d syncs recorded, %d failed\n", stats.Total, stats.Error)
			return nil
		},
	}
}

func newServeCmd(fl *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(fl)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)

			var apiServer *api.Server
			if a.cfg.API.Enabled {
				apiServer = api.NewServer(a.cfg.API, a.engine, a.cfg.Pairs, a.history, a.provider)
				g.Go(apiServer.Start)
			}

			var sched *scheduler.Scheduler
			if a.cfg.Scheduler.Enabled {
				sched = scheduler.New(a.engine, a.cfg.Pairs, a.cfg.Scheduler.Interval)
				sched.Start(gctx)
			}

			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				a.engine.Stop()
				if sched != nil {
					sched.Stop()
				}
				if apiServer != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := apiServer.Shutdown(shutdownCtx); err != nil {
						logger.Warn("api shutdown failed", zap.Error(err))
					}
				}
				return nil
			})

			return g.Wait()
		},
	}
}

func newHistoryCmd(fl *cliFlags) *cobra.Command {
	var limit int
	var output string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or export recorded sync history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(fl.configFile)
			if err != nil {
				return err
			}
			hist, err := synclog.Open(cfg.SyncLog.MaxEntries, cfg.SyncLog.Path)
			if err != nil {
				return err
			}
			defer hist.Close()

			if output != "" {
				if err := hist.ExportCSV(afero.NewOsFs(), output); err != nil {
					return err
				}
				fmt.Printf("exported %d entries to %s\n", hist.Len(), output)
				return nil
			}

			entries := hist.Snapshot()
			if len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %s->%s  %s  %s  rows=%d",
					e.Timestamp.Format(time.RFC3339), e.SourceID, e.TargetID, e.Table, e.Status, e.RowsSynced)
				if e.ErrorMessage != "" {
					line += "  " + e.ErrorMessage
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Export history as CSV instead (a .gz suffix compresses)")
	return cmd
}
