package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mevdschee/tqpump/config"
	"github.com/mevdschee/tqpump/metrics"
	"github.com/mevdschee/tqpump/pump"
	"github.com/mevdschee/tqpump/query"
	"github.com/mevdschee/tqpump/replica"
	"github.com/mevdschee/tqpump/source"
	"github.com/mevdschee/tqpump/sqlstore"
)

var configPath string

func main() {
	if err := buildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tqpump",
		Short: "Batched, partition-aware transform-and-insert loader",
		Long: `tqpump loads documents from files, directories, zip archives and zstd
files into a partitioned store, submitting one transform request per batch.`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.ini", "Path to configuration file")

	rootCmd.AddCommand(buildLoadCommand())
	rootCmd.AddCommand(buildQueryCommand())
	return rootCmd
}

func buildLoadCommand() *cobra.Command {
	var input string
	var createTable bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load the configured input into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(input, createTable)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Input path, overrides [job] input")
	cmd.Flags().BoolVar(&createTable, "create-table", true, "Create the document table if it does not exist")
	return cmd
}

func buildQueryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query",
		Short: "Print the transform request the configuration produces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			c := query.NewCapability(cfg.Job.ServerVersion)
			fmt.Fprintln(cmd.OutOrStdout(), query.Build(cfg.Transform.Module, cfg.Transform.Namespace,
				cfg.Transform.Function, cfg.Transform.Param, c))
			return nil
		},
	}
}

func runLoad(input string, createTable bool) error {
	log := newLogger()
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if input != "" {
		cfg.Job.Input = input
	}

	metrics.Init()
	if cfg.Job.MetricsListen != "" {
		go serveMetrics(cfg.Job.MetricsListen, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.Open(cfg.Job.Driver, cfg.DSNs(), cfg.Job.Table, log)
	if err != nil {
		return err
	}
	defer store.Close()
	if createTable {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	hosts := replica.NewPool(cfg.HostNames(), store.Ping, log)
	go hosts.StartHealthChecks(ctx, cfg.Job.HealthInterval)
	go reloadHosts(ctx, hosts, store, log)

	counters := &metrics.JobCounters{}
	w, err := pump.NewWriter(cfg, store, hosts, counters, log)
	if err != nil {
		return err
	}
	r, err := source.Open(cfg.Job.Input)
	if err != nil {
		return err
	}

	log.Infow("Loading", "input", cfg.Job.Input, "hosts", cfg.HostNames(),
		"batch_size", w.BatchSize(), "txn_size", cfg.Output.TxnSize)
	_, err = pump.Run(ctx, w, r, log)
	log.Infow("Job counters", "committed", counters.Committed(), "failed", counters.Failed())
	return err
}

// reloadHosts re-reads the host list on SIGHUP. Hosts without an open
// database handle cannot be added while the job runs.
func reloadHosts(ctx context.Context, hosts *replica.Pool, store *sqlstore.Store, log *zap.SugaredLogger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigChan:
			cfg, err := config.Load(configPath)
			if err != nil {
				log.Warnw("Failed to reload config", "error", err)
				continue
			}
			var names []string
			for _, h := range cfg.HostNames() {
				if store.DB(h) != nil {
					names = append(names, h)
				}
			}
			if len(names) == 0 {
				log.Warnw("Reloaded config has no usable hosts, keeping current list")
				continue
			}
			hosts.UpdateHosts(names)
			log.Infow("Reloaded hosts", "hosts", names)
		}
	}
}

func serveMetrics(addr string, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	log.Infof("Metrics endpoint at http://localhost%s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warnw("Metrics server error", "error", err)
	}
}

var logLevels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

func newLogger() *zap.SugaredLogger {
	level, ok := logLevels[strings.ToLower(os.Getenv("LOG_LEVEL"))]
	if !ok {
		level = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}
