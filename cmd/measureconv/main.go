// Command measureconv serves the measurement conversion API.
//
//	measureconv -config config.yaml
//	measureconv -encode dz_a_aazzaaa
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/measureconv/history"
	"github.com/ggoodman/measureconv/history/memoryhistory"
	"github.com/ggoodman/measureconv/history/redishistory"
	"github.com/ggoodman/measureconv/httpapi"
	"github.com/ggoodman/measureconv/internal/config"
	"github.com/ggoodman/measureconv/internal/logsetup"
	"github.com/ggoodman/measureconv/measureservice"
	"github.com/ggoodman/measureconv/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "measureconv: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("measureconv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "Path to config.yaml (optional)")
	addr := fs.String("addr", "", "HTTP listen address override")
	encode := fs.String("encode", "", "encode the given string, print the result as JSON and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(stdout, "measureconv version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return nil
	}

	encodeSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "encode" {
			encodeSet = true
		}
	})
	if encodeSet {
		return runEncode(ctx, *encode, stdout)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	log, logCloser, err := logsetup.New(cfg.Log, stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	store, err := openStore(cfg.History)
	if err != nil {
		log.Error("history.open.fail", slog.String("backend", cfg.History.Backend), slog.String("err", err.Error()))
		return err
	}

	svcOpts := []measureservice.Option{measureservice.WithLogger(log)}
	if store != nil {
		defer store.Close()
		svcOpts = append(svcOpts, measureservice.WithHistory(store))
	}

	handlerOpts := []httpapi.Option{
		httpapi.WithLogger(log),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithPageSize(cfg.History.DefaultPageSize, max(cfg.History.DefaultPageSize, 1000)),
	}
	if cfg.RateLimit.Enabled {
		handlerOpts = append(handlerOpts, httpapi.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := metrics.New(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		svcOpts = append(svcOpts, measureservice.WithMetrics(m))
		handlerOpts = append(handlerOpts, httpapi.WithMetrics(m, reg))
	}

	h, err := httpapi.New(measureservice.New(svcOpts...), handlerOpts...)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	return serve(ctx, log, ln, h, cfg.ShutdownTimeout)
}

// serve runs an HTTP server on ln until ctx is done, then shuts it down
// within timeout.
func serve(ctx context.Context, log *slog.Logger, ln net.Listener, h http.Handler, timeout time.Duration) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.start", slog.String("addr", ln.Addr().String()), slog.String("version", version))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server.stopped")
	return nil
}

func openStore(cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendRedis:
		s, err := redishistory.New(redishistory.Config{
			RedisAddr:     cfg.Redis.Addr,
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
			KeyPrefix:     cfg.Redis.KeyPrefix,
			MaxLen:        cfg.Redis.MaxLen,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return memoryhistory.New(memoryhistory.WithMaxItems(cfg.MaxItems)), nil
	}
}

// runEncode converts input without starting the server or touching history.
func runEncode(ctx context.Context, input string, stdout io.Writer) error {
	conv, err := measureservice.New().Convert(ctx, input)
	if err != nil {
		return err
	}
	return json.NewEncoder(stdout).Encode(httpapi.ConvertResponse{Input: conv.Input, Result: conv.Result})
}
