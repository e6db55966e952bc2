// Package main runs a standalone mock Stratum pool for exercising minerd
// without a real pool.
package main

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	hex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/gominer/internal/stratum/mockpool"
	"github.com/bardlex/gominer/pkg/log"
)

type options struct {
	Listen      string        `long:"listen" default:"127.0.0.1:3333" description:"Address to accept miners on"`
	ExtraNonce1 string        `long:"extranonce1" default:"08000002" description:"extranonce1 returned by mining.subscribe"`
	Difficulty  float64       `long:"difficulty" default:"1" description:"Difficulty sent with mining.set_difficulty"`
	Reject      bool          `long:"reject" description:"Reject every share"`
	JobInterval time.Duration `long:"job-interval" default:"30s" description:"Interval between new jobs; 0 sends only the initial job"`
	LogLevel    string        `long:"loglevel" default:"info" description:"Logging level"`
}

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		var ferr *flags.Error
		if stderrors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger := log.New("mockpool", "dev", opts.LogLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.WithError(err).Error("mockpool failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *log.Logger) error {
	first, err := newJob(1)
	if err != nil {
		return err
	}
	srv := mockpool.New(mockpool.Config{
		ExtraNonce1:  opts.ExtraNonce1,
		Difficulty:   opts.Difficulty,
		RejectShares: opts.Reject,
		InitialJob:   &first,
	}, logger)
	if err := srv.Listen(opts.Listen); err != nil {
		return err
	}
	host, port := srv.Addr()
	logger.Info("mock pool listening", "host", host, "port", port)

	if opts.JobInterval > 0 {
		go rotateJobs(ctx, srv, opts.JobInterval, logger)
	}

	err = srv.Serve(ctx)
	srv.Close()
	return err
}

// rotateJobs broadcasts a fresh job every interval until ctx ends.
func rotateJobs(ctx context.Context, srv *mockpool.Server, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 2
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := newJob(seq)
			if err != nil {
				logger.WithError(err).Error("failed to build job")
				continue
			}
			srv.Notify(job)
			logger.Info("job broadcast", "job_id", job.ID, "miners", srv.SessionCount())
			seq++
		}
	}
}

func newJob(seq int) (mockpool.NotifyJob, error) {
	var header [32]byte
	if _, err := rand.Read(header[:]); err != nil {
		return mockpool.NotifyJob{}, fmt.Errorf("random header: %w", err)
	}
	return mockpool.NotifyJob{
		ID:        "job-" + strconv.Itoa(seq),
		Header:    hex.EncodeToString(header[:]),
		Timestamp: uint64(time.Now().Unix()),
	}, nil
}
