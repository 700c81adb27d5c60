// Command docchat-devserver serves the docchat API from memory for local
// development.
//
// Usage:
//
//	docchat-devserver [flags]
//
// Flags:
//
//	-addr string            Listen address (default ":$PORT" or ":8080")
//	-files string           Comma-separated document names to create (default "report.pdf")
//	-quota int              Questions allowed per document, 0 for unlimited
//	-delay duration         Pause between streamed words (default 50ms)
//	-malformed-every int    Inject a malformed frame after every n words
//	-processing-polls int   Status polls answered with PROCESSING per document
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fwojciec/docchat"
	"github.com/fwojciec/docchat/devserver"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "docchat-devserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional.
	_ = godotenv.Load()

	var (
		addr            = flag.String("addr", "", "Listen address (default \":$PORT\" or \":8080\")")
		files           = flag.String("files", "report.pdf", "Comma-separated document names to create")
		quota           = flag.Int("quota", 0, "Questions allowed per document, 0 for unlimited")
		delay           = flag.Duration("delay", 50*time.Millisecond, "Pause between streamed words")
		malformedEvery  = flag.Int("malformed-every", 0, "Inject a malformed frame after every n words")
		processingPolls = flag.Int("processing-polls", 0, "Status polls answered with PROCESSING per document")
	)
	flag.Parse()

	listenAddr := resolveAddr(*addr, os.Getenv("PORT"))
	logger := newLogger(os.Getenv("ENV"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := devserver.New(logger,
		devserver.WithQuota(*quota),
		devserver.WithWordDelay(*delay),
		devserver.WithMalformedEvery(*malformedEvery),
		devserver.WithProcessingPolls(*processingPolls),
		devserver.WithMetrics(prometheus.NewRegistry()),
	)
	for _, name := range splitNames(*files) {
		f := srv.AddFile(name, docchat.UploadSuccess)
		logger.Info().Str("file_id", f.ID).Str("name", f.Name).Msg("document ready")
	}

	httpSrv := &http.Server{
		Addr:        listenAddr,
		Handler:     srv,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", listenAddr).Msg("starting docchat dev server")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// resolveAddr picks the listen address: explicit flag, then $PORT, then :8080.
func resolveAddr(addrFlag, portEnv string) string {
	switch {
	case addrFlag != "":
		return addrFlag
	case portEnv != "":
		return ":" + portEnv
	default:
		return ":8080"
	}
}

// newLogger writes human-readable output unless env is "production".
func newLogger(env string) zerolog.Logger {
	if env == "production" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
}

func splitNames(s string) []string {
	var out []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
