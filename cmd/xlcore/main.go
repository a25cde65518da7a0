package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/vinodismyname/xlcore/config"
	"github.com/vinodismyname/xlcore/internal/registry"
	"github.com/vinodismyname/xlcore/internal/runtime"
	"github.com/vinodismyname/xlcore/internal/sandbox"
	"github.com/vinodismyname/xlcore/internal/security"
	"github.com/vinodismyname/xlcore/pkg/version"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		listenStdio     bool
		logFormat       string
		shutdownTimeout time.Duration
		buildMode       string
	)

	flag.BoolVar(&listenStdio, "listen-stdio", false, "Serve the line-delimited JSON protocol over stdio")
	flag.StringVar(&logFormat, "log-format", "console", "Log output format: console or json")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.StringVar(&buildMode, "build-mode", "", "Overrides the ldflags-stamped sandbox build mode (dev or release)")
	flag.Parse()

	var logger zerolog.Logger
	if logFormat == "json" {
		logger = zlog.With().Str("service", "xlcore").Logger()
	} else {
		logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Str("service", "xlcore").Logger()
	}

	if buildMode != "" {
		sandbox.SetBuildMode(buildMode)
	}

	secMgr, err := security.NewManagerFromEnv()
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize manager from env")
		fmt.Fprintln(os.Stderr, "invalid security configuration; set XLCORE_ALLOWED_DIRS")
		os.Exit(1)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		fmt.Fprintln(os.Stderr, "no allowed directories configured; set XLCORE_ALLOWED_DIRS")
		os.Exit(1)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Msg("security allow-list configured")

	limits := runtime.NewLimits(config.DefaultMaxConcurrentRequests, config.DefaultMaxOpenWorkbooks)
	ctrl := runtime.NewController(limits)
	mw := runtime.NewMiddleware(ctrl)

	mgr := registry.NewManager(config.DefaultWorkbookIdleTTL, config.DefaultWorkbookCleanupPeriod, ctrl, time.Now)
	mgr.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	logger.Info().
		Str("version", version.Version()).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_workbooks", limits.MaxOpenWorkbooks).
		Bool("listen_stdio", listenStdio).
		Msg("bootstrap configured")

	if !listenStdio {
		fmt.Fprintln(os.Stderr, "no transport selected; use --listen-stdio to run over stdio")
		os.Exit(2)
	}

	srv := &server{
		logger:  logger,
		secMgr:  secMgr,
		mgr:     mgr,
		mw:      mw,
		out:     bufio.NewWriter(os.Stdout),
		scanner: bufio.NewScanner(os.Stdin),
	}
	srv.scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.serve(ctx)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mgr.Close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("registry: error during shutdown cleanup")
		}
		<-done
	}
}
