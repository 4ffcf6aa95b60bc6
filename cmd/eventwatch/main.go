package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"eventWatch/internal/chain"
	"eventWatch/internal/config"
	"eventWatch/internal/exchange"
	"eventWatch/internal/metrics"
	"eventWatch/internal/poller"
	"eventWatch/internal/source"
)

func main() {
	root := &cobra.Command{
		Use:          "eventwatch",
		Short:        "Record new contract events from a recent block window",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the chain and record new events",
		RunE:  runWatch,
	}

	runCmd.Flags().String("contract", "", "contract address emitting the event")
	runCmd.Flags().String("event", "TokensBought", "event name to watch")
	runCmd.Flags().Uint64("avg-block-seconds", 2, "average block time in seconds")
	runCmd.Flags().Uint64("lookback-seconds", 86400, "lookback window in seconds")
	runCmd.Flags().String("storage", "./data/events.jsonl", "JSONL path, postgres:// DSN, or redis:// URL")
	runCmd.Flags().String("rpc", "", "JSON-RPC URL")
	runCmd.Flags().String("abi", "", "ABI JSON file (defaults to the embedded exchange ABI)")
	runCmd.Flags().Duration("interval", 60*time.Second, "poll interval")
	runCmd.Flags().Bool("once", false, "run a single cycle and exit")
	runCmd.Flags().Uint64("batch-size", 2000, "max blocks per eth_getLogs call")
	runCmd.Flags().Int("max-retries", 3, "retries per RPC call")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Int("rpc-http-retries", 2, "HTTP transport retries on 429/5xx")
	runCmd.Flags().Int("timestamp-workers", 4, "concurrent block timestamp lookups")
	runCmd.Flags().String("redis-prefix", "eventwatch", "key prefix for the redis store")
	runCmd.Flags().String("metrics-addr", "", "prometheus listen address, empty disables")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write recorded events as JSONL",
		RunE:  runExport,
	}

	exportCmd.Flags().String("storage", "./data/events.jsonl", "JSONL path, postgres:// DSN, or redis:// URL")
	exportCmd.Flags().String("redis-prefix", "eventwatch", "key prefix for the redis store")
	exportCmd.Flags().String("out", "", "output JSONL path, stdout when empty")
	exportCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(exportCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	contract, err := chain.ParseAddress(cfg.Contract)
	if err != nil {
		return err
	}

	contractABI, err := loadABI(cfg.ABIPath)
	if err != nil {
		return err
	}
	decoder, err := exchange.NewDecoder(contractABI, cfg.Event)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, chain.Options{
		HTTPRetries: cfg.RPCHTTPRetries,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "")

	src, err := source.NewChainSource(source.Config{
		Contract:     contract,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		OnDecodeError: func(types.Log, error) {
			m.DecodeFailures.Inc()
		},
	}, chainClient, decoder, logger)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.Storage, cfg.RedisPrefix, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := poller.New(poller.Config{
		LookbackSeconds:  cfg.LookbackSeconds,
		AvgBlockSeconds:  cfg.AvgBlockSeconds,
		TimestampWorkers: cfg.TimestampWorkers,
	}, src, st, m, logger)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("eventwatch start",
		zap.String("rpc", redactDSN(cfg.RPCURL)),
		zap.String("contract", contract.Hex()),
		zap.String("event", cfg.Event),
		zap.Uint64("lookback_seconds", cfg.LookbackSeconds),
		zap.Uint64("avg_block_seconds", cfg.AvgBlockSeconds),
		zap.String("storage", redactDSN(cfg.Storage)),
		zap.Duration("interval", cfg.Interval),
		zap.Bool("once", cfg.Once),
	)

	if cfg.Once {
		_, err := p.RunCycle(ctx)
		return err
	}
	return p.Run(ctx, cfg.Interval)
}

func loadABI(path string) (abi.ABI, error) {
	if path == "" {
		return exchange.ExchangeABI()
	}
	return exchange.LoadABI(path)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	return srv
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
