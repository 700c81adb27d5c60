// Command docchat is a terminal client for chatting with an uploaded PDF.
//
// Usage:
//
//	docchat -doc <id|glob> [flags]
//
// Flags:
//
//	-doc string                   Document id or name glob (default: the only document)
//	-server string                API base URL (default "http://localhost:8080")
//	-page-size int                Messages per history page (default 10)
//	-max-stream-duration duration Abort answers streaming longer than this (default 2m)
//	-cache-dir string             Directory for the local history cache (default ~/.docchat/cache)
//	-log-file string              Append logs to this file (default: no logging)
//	-metrics-addr string          Serve Prometheus metrics on this address
//	-config string                YAML config file (default ~/.docchat/config.yaml)
//
// Settings resolve flag first, then DOCCHAT_* environment variables, then the
// config file. DOCCHAT_TOKEN sets the bearer token.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fwojciec/docchat"
	"github.com/fwojciec/docchat/api"
	bt "github.com/fwojciec/docchat/bubbletea"
	dcjson "github.com/fwojciec/docchat/json"
	"github.com/fwojciec/docchat/memory"
	dcprom "github.com/fwojciec/docchat/prometheus"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "docchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional.
	_ = godotenv.Load()

	var (
		doc               = flag.String("doc", "", "Document id or name glob")
		server            = flag.String("server", "", "API base URL")
		pageSize          = flag.Int("page-size", 0, "Messages per history page")
		maxStreamDuration = flag.Duration("max-stream-duration", 0, "Abort answers streaming longer than this")
		cacheDir          = flag.String("cache-dir", "", "Directory for the local history cache")
		logFile           = flag.String("log-file", "", "Append logs to this file")
		metricsAddr       = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
		configPath        = flag.String("config", "", "YAML config file")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	// Env vars are read here and passed as values.
	env, err := envConfig(os.Getenv)
	if err != nil {
		return err
	}
	path := *configPath
	if path == "" {
		path = defaultConfigPath(home)
	}
	file, err := loadConfigFile(path, *configPath != "")
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(home, config{
		Server:            *server,
		PageSize:          *pageSize,
		MaxStreamDuration: *maxStreamDuration,
		CacheDir:          *cacheDir,
		LogFile:           *logFile,
		MetricsAddr:       *metricsAddr,
	}, env, file)
	if err != nil {
		return err
	}

	logger := zerolog.Nop()
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logger = zerolog.New(f).With().Timestamp().Logger()
	}

	a, err := newApp(ctx, cfg, *doc, logger)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           a.metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := bt.Run(ctx, a.model); err != nil {
		return fmt.Errorf("TUI: %w", err)
	}

	// Save cache on exit.
	if err := a.close(); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	return nil
}

// app is one conversation wired end to end.
type app struct {
	file      docchat.File
	key       docchat.CacheKey
	store     *memory.Store
	ctrl      *docchat.Controller
	model     bt.Model
	metrics   *dcprom.Metrics
	cachePath string
	logger    zerolog.Logger
}

func newApp(ctx context.Context, cfg config, pattern string, logger zerolog.Logger) (*app, error) {
	metrics := dcprom.New()
	client := api.New(
		api.WithBaseURL(cfg.Server),
		api.WithToken(cfg.Token),
		api.WithLogger(logger),
		api.WithSkipHandler(metrics.FrameSkipped),
	)

	file, err := resolveDocument(ctx, client, pattern)
	if err != nil {
		return nil, err
	}
	key := docchat.NewCacheKey(file.ID, cfg.PageSize)

	feed := bt.NewChangeFeed()
	store := memory.New(
		memory.WithFetcher(client),
		memory.WithChangeHandler(feed.Notify),
	)

	a := &app{
		file:      file,
		key:       key,
		store:     store,
		metrics:   metrics,
		cachePath: dcjson.Path(cfg.CacheDir, key),
		logger:    logger,
	}

	if a.warmStart() {
		// The saved copy is shown immediately; a failed refresh keeps it.
		if err := store.Invalidate(ctx, key); err != nil {
			logger.Warn().Err(err).Str("file_id", file.ID).Msg("refresh cached history")
		}
	} else if err := store.FetchNextPage(ctx, key); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	a.ctrl = docchat.NewController(key, store, client,
		docchat.WithLogger(logger),
		docchat.WithObserver(metrics),
		docchat.WithMaxStreamDuration(cfg.MaxStreamDuration),
	)
	a.model = bt.New(a.ctrl, store, docchat.DefaultTheme(),
		bt.WithStatusChecker(client),
		bt.WithChangeFeed(feed),
		bt.WithTitle(file.Name),
	)
	return a, nil
}

// warmStart seeds the store from the cache file. It reports whether a
// usable cache was found.
func (a *app) warmStart() bool {
	key, cache, err := dcjson.Load(a.cachePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return false
	case err != nil:
		a.logger.Warn().Err(err).Str("path", a.cachePath).Msg("ignoring unreadable cache")
		return false
	case key != a.key:
		return false
	}
	a.store.Put(a.key, cache)
	return true
}

// close abandons any in-flight turn and saves the cache. A cache that may
// hold optimistic entries is not saved: one with a turn in flight, or one
// whose last refresh failed.
func (a *app) close() error {
	idle := a.ctrl.Phase() == docchat.TurnIdle
	a.ctrl.Abandon()
	if !idle {
		a.logger.Info().Str("file_id", a.file.ID).Msg("turn in flight on exit, cache not saved")
		return nil
	}
	if a.store.Stale(a.key) {
		a.logger.Info().Str("file_id", a.file.ID).Msg("cache not refreshed, not saved")
		return nil
	}
	snap := a.store.Snapshot(a.key)
	if snap == nil {
		return nil
	}
	return dcjson.Save(a.cachePath, a.key, snap)
}
