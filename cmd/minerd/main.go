// Package main implements minerd, a Stratum pool mining client.
// Configuration comes from the environment and may be overridden on the
// command line.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/bardlex/gominer/internal/api"
	"github.com/bardlex/gominer/internal/config"
	"github.com/bardlex/gominer/internal/database"
	"github.com/bardlex/gominer/internal/database/influx"
	"github.com/bardlex/gominer/internal/database/postgres"
	"github.com/bardlex/gominer/internal/database/redis"
	"github.com/bardlex/gominer/internal/messaging"
	"github.com/bardlex/gominer/internal/report"
	"github.com/bardlex/gominer/internal/session"
	"github.com/bardlex/gominer/internal/telemetry"
	"github.com/bardlex/gominer/pkg/log"
)

// options are the command-line overrides. Zero values leave the
// environment configuration untouched.
type options struct {
	Pool      string  `long:"pool" description:"Pool URL, e.g. stratum+tcp://pool.example.com:3333"`
	Host      string  `long:"host" description:"Pool host (combined with --port)"`
	Port      int     `long:"port" description:"Pool port (used with --host)"`
	User      string  `short:"u" long:"user" description:"Wallet address or pool username"`
	Password  string  `short:"p" long:"password" description:"Worker password"`
	Threads   int     `short:"t" long:"threads" description:"Number of mining threads"`
	Intensity float64 `long:"intensity" description:"Intensity between 0 and 1 (advisory)"`
	Algorithm string  `long:"algo" description:"Hash algorithm" choice:"blake3" choice:"sha256d"`
	API       string  `long:"api" description:"Serve the HTTP API on this address"`
	StatsLine bool    `long:"stats-line" description:"Print [STATS]|hashrate|shares lines to stdout"`
	LogLevel  string  `long:"loglevel" description:"Logging level" choice:"debug" choice:"info" choice:"warn" choice:"error"`
	LogFile   string  `long:"logfile" description:"Also write logs to this file, rotated by size"`
	PoolDiff  bool    `long:"pool-difficulty" description:"Derive share targets from mining.set_difficulty"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		var ferr *flags.Error
		if stderrors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	applyOverrides(cfg, &opts)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewWithOptions(log.Options{
		Service: cfg.ServiceName,
		Version: cfg.Version,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
	})
	if err != nil {
		logger.WithError(err).Warn("log file unavailable, logging to stdout only")
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var stdout io.Writer
	if opts.StatsLine {
		stdout = os.Stdout
	}
	if err := run(ctx, cfg, logger, stdout); err != nil {
		logger.WithError(err).Error("minerd failed")
		os.Exit(1)
	}
	logger.Info("minerd stopped")
}

func applyOverrides(cfg *config.Config, opts *options) {
	if opts.Pool != "" {
		cfg.PoolURL = opts.Pool
	}
	if opts.Host != "" {
		port := opts.Port
		if port == 0 {
			port = session.DefaultPoolPort
		}
		cfg.PoolURL = opts.Host + ":" + strconv.Itoa(port)
	}
	if opts.User != "" {
		cfg.WalletAddress = opts.User
	}
	if opts.Password != "" {
		cfg.WorkerPassword = opts.Password
	}
	if opts.Threads != 0 {
		cfg.NumThreads = opts.Threads
	}
	if opts.Intensity != 0 {
		cfg.Intensity = opts.Intensity
	}
	if opts.Algorithm != "" {
		cfg.HashAlgorithm = opts.Algorithm
	}
	if opts.API != "" {
		cfg.APIListenAddr = opts.API
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFile != "" {
		cfg.LogFile = opts.LogFile
	}
	if opts.PoolDiff {
		cfg.UsePoolDifficulty = true
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		PoolURL:           cfg.PoolURL,
		WalletAddress:     cfg.WalletAddress,
		Password:          cfg.WorkerPassword,
		UserAgent:         cfg.UserAgent,
		NumThreads:        cfg.NumThreads,
		Intensity:         cfg.Intensity,
		Algorithm:         cfg.HashAlgorithm,
		UsePoolDifficulty: cfg.UsePoolDifficulty,
		ShareQueueSize:    cfg.ShareQueueSize,
		StatsInterval:     cfg.StatsInterval,
		DialTimeout:       cfg.DialTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

func databaseConfig(cfg *config.Config) *database.Config {
	dbCfg := &database.Config{}
	if cfg.PostgresURL != "" {
		dbCfg.Postgres = &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 4,
			MaxIdleConns: 2,
			MaxLifetime:  5 * time.Minute,
		}
	}
	if cfg.RedisURL != "" {
		dbCfg.Redis = &redis.Config{
			URL:            cfg.RedisURL,
			KeyPrefix:      "gominer:" + cfg.WalletAddress,
			StatsTTL:       3 * cfg.StatsInterval,
			HashrateWindow: 10 * time.Minute,
		}
	}
	if cfg.InfluxURL != "" {
		host, _ := os.Hostname()
		dbCfg.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
			Tags:   map[string]string{"host": host, "wallet": cfg.WalletAddress},
		}
	}
	return dbCfg
}

// sinks holds the optional report sinks and what must be closed on exit.
type sinks struct {
	options []session.Option
	history api.History
	closers []func() error
}

func (s *sinks) close(logger *log.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close sink")
		}
	}
}

// buildSinks opens every configured sink. A sink that fails to open is
// logged and skipped; mining does not depend on any of them.
func buildSinks(ctx context.Context, cfg *config.Config, logger *log.Logger, stdout io.Writer) *sinks {
	logSink := report.NewLogSink(logger)
	s := &sinks{
		options: []session.Option{
			session.WithStatsSink(logSink),
			session.WithShareSink(logSink),
			session.WithTelemetry(telemetry.NewSampler()),
		},
	}
	if stdout != nil {
		s.options = append(s.options, session.WithStatsSink(report.NewLineSink(stdout)))
	}

	if dbCfg := databaseConfig(cfg); dbCfg.Enabled() {
		manager, err := database.NewManager(ctx, dbCfg, logger)
		if err != nil {
			logger.WithError(err).Error("database sinks disabled")
		} else {
			manager.StartPeriodicTasks(ctx)
			s.options = append(s.options,
				session.WithStatsSink(manager),
				session.WithShareSink(manager),
			)
			s.history = manager
			s.closers = append(s.closers, manager.Close)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		client := messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
		sink := messaging.NewKafkaSink(client, cfg.KafkaShareTopic, "", cfg.WalletAddress)
		s.options = append(s.options, session.WithShareSink(sink), session.WithStatsSink(sink))
		s.closers = append(s.closers, client.Close)
	}

	if cfg.ZMQStatsEndpoint != "" {
		pub, err := messaging.NewStatsPublisher(cfg.ZMQStatsEndpoint, logger)
		if err != nil {
			logger.WithError(err).Error("ZMQ stats publisher disabled")
		} else {
			s.options = append(s.options, session.WithStatsSink(pub))
			s.closers = append(s.closers, pub.Close)
		}
	}

	return s
}

// run mines until ctx is done. With an API address the session may also be
// started and stopped over HTTP; without one, a failed start is fatal.
func run(ctx context.Context, cfg *config.Config, logger *log.Logger, stdout io.Writer) error {
	logger.Info("starting minerd",
		"version", cfg.Version,
		"pool", cfg.PoolURL,
		"threads", cfg.NumThreads,
		"algorithm", cfg.HashAlgorithm,
	)

	s := buildSinks(ctx, cfg, logger, stdout)
	defer s.close(logger)

	sess := session.New(logger, s.options...)
	defer sess.Stop()

	scfg := sessionConfig(cfg)
	if cfg.PoolURL != "" && cfg.WalletAddress != "" {
		res := sess.Start(ctx, scfg)
		if !res.Success {
			if cfg.APIListenAddr == "" {
				return fmt.Errorf("failed to start mining: %s", res.Error)
			}
			logger.Error("failed to start mining, waiting for API start", "error", res.Error)
		}
	}

	if cfg.APIListenAddr == "" {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		return nil
	}

	var apiOpts []api.Option
	if s.history != nil {
		apiOpts = append(apiOpts, api.WithHistory(s.history))
	}
	server := api.NewServer(sess, scfg, logger, apiOpts...)
	return server.ListenAndServe(ctx, cfg.APIListenAddr)
}
