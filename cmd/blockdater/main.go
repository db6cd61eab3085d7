// Package main provides a CLI that resolves a calendar date to an EVM block,
// either once or as an HTTP service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	httpapi "github.com/archon-research/blockdater/internal/adapters/inbound/http"
	"github.com/archon-research/blockdater/internal/adapters/outbound/ethrpc"
	"github.com/archon-research/blockdater/internal/adapters/outbound/jsonrpc"
	"github.com/archon-research/blockdater/internal/adapters/outbound/telemetry"
	"github.com/archon-research/blockdater/internal/pkg/env"
	"github.com/archon-research/blockdater/internal/ports/inbound"
	"github.com/archon-research/blockdater/internal/ports/outbound"
	"github.com/archon-research/blockdater/internal/services/block_dater"
)

// Build-time variables - can be set via ldflags, otherwise populated from Go's build info.
var (
	GitCommit string
	GitBranch string
	BuildTime string
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if GitCommit == "" {
					GitCommit = setting.Value
				}
			case "vcs.time":
				if BuildTime == "" {
					BuildTime = setting.Value
				}
			}
		}
	}
}

const (
	transportGeth    = "geth"
	transportJSONRPC = "jsonrpc"

	shutdownTimeout = 10 * time.Second
)

func main() {
	// Load environment before flag defaults read it
	loadDotEnv()

	date := flag.String("date", "", "Target date in RFC3339, e.g. 2022-03-16T18:31:00+00:00")
	before := flag.Bool("before", false, "Return the latest block at or before the date instead of the earliest at or after it")
	rpcURL := flag.String("rpc-url", env.Get("ETH_RPC_URL", "http://localhost:8545"), "Ethereum JSON-RPC endpoint (env ETH_RPC_URL)")
	transport := flag.String("transport", transportGeth, "RPC transport: 'geth' (go-ethereum rpc client) or 'jsonrpc'")
	serve := flag.String("serve", "", "Serve the HTTP API on this address (e.g. :8080) instead of a one-shot lookup")
	output := flag.String("output", "text", "Output format: 'text' or 'json'")
	traceStderr := flag.Bool("trace", false, "Print trace spans to stderr when no OTLP endpoint is set")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("blockdater\n")
		fmt.Printf("  Commit:     %s\n", GitCommit)
		fmt.Printf("  Branch:     %s\n", GitBranch)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	rateLimit, err := env.GetFloat("RPC_RATE_LIMIT", 25)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	cfg := runConfig{
		date:         *date,
		after:        !*before,
		rpcURL:       *rpcURL,
		transport:    *transport,
		serveAddr:    *serve,
		output:       *output,
		rateLimit:    rate.Limit(rateLimit),
		otlpEndpoint: env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		environment:  env.Get("ENVIRONMENT", "development"),
	}
	if *traceStderr {
		cfg.traceWriter = os.Stderr
	}

	exitCode := 0
	if err := run(ctx, logger, cfg, os.Stdout); err != nil {
		logger.Error("blockdater failed", "error", err)
		exitCode = 1
	}

	os.Exit(exitCode)
}

// loadDotEnv reads .env.local and .env from the working directory when
// present. Variables already set in the process environment win, then
// .env.local, then .env.
func loadDotEnv() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
}

type runConfig struct {
	date         string
	after        bool
	rpcURL       string
	transport    string
	serveAddr    string
	output       string
	rateLimit    rate.Limit
	otlpEndpoint string
	environment  string
	traceWriter  io.Writer
}

func run(ctx context.Context, logger *slog.Logger, cfg runConfig, stdout io.Writer) error {
	if cfg.output != "text" && cfg.output != "json" {
		return fmt.Errorf("unknown output format: %s (supported: text, json)", cfg.output)
	}

	var target time.Time
	if cfg.serveAddr == "" {
		if cfg.date == "" {
			return fmt.Errorf("-date is required unless -serve is set")
		}
		var err error
		target, err = time.Parse(time.RFC3339, cfg.date)
		if err != nil {
			return fmt.Errorf("parsing -date: %w", err)
		}
	}

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceVersion: GitCommit,
		Environment:    cfg.environment,
		OTLPEndpoint:   cfg.otlpEndpoint,
		Writer:         cfg.traceWriter,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer flush(logger, "tracer", shutdownTracer)

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceVersion: GitCommit,
		Environment:    cfg.environment,
		OTLPEndpoint:   cfg.otlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer flush(logger, "metrics", shutdownMetrics)

	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	fetcher, closeFetcher, err := newFetcher(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer closeFetcher()

	serviceConfig := block_dater.Config{
		Metrics: metrics,
		Logger:  logger,
	}

	if cfg.serveAddr != "" {
		return serveAPI(ctx, logger, cfg.serveAddr, serviceConfig, fetcher)
	}

	service, err := block_dater.NewService(serviceConfig, fetcher)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	logger.Info("resolving date", "date", target.Format(time.RFC3339), "after", cfg.after, "rpc_url", cfg.rpcURL)

	block, err := service.BlockByDate(ctx, target, cfg.after)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", cfg.date, err)
	}

	return printResult(stdout, cfg.output, result{
		BlockResponse: httpapi.NewBlockResponse(block),
		Stats:         service.Stats(),
	})
}

func newFetcher(ctx context.Context, logger *slog.Logger, cfg runConfig) (outbound.BlockFetcher, func(), error) {
	switch cfg.transport {
	case transportGeth:
		f, err := ethrpc.Dial(ctx, cfg.rpcURL, ethrpc.Config{
			RateLimit: cfg.rateLimit,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating geth fetcher: %w", err)
		}
		return f, f.Close, nil
	case transportJSONRPC:
		c, err := jsonrpc.NewClient(jsonrpc.ClientConfig{
			HTTPURL: cfg.rpcURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating jsonrpc client: %w", err)
		}
		return c, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport: %s (supported: %s, %s)", cfg.transport, transportGeth, transportJSONRPC)
	}
}

func serveAPI(ctx context.Context, logger *slog.Logger, addr string, serviceConfig block_dater.Config, fetcher outbound.BlockFetcher) error {
	handler, err := newAPIHandler(logger, serviceConfig, fetcher)
	if err != nil {
		return err
	}

	server := httpapi.NewServer(httpapi.ServerConfig{Addr: addr, Logger: logger}, handler)
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("stopping http server")
	return server.Shutdown(shutdownTimeout)
}

// newAPIHandler builds a Service per request and pings the shared fetcher
// directly for health checks.
func newAPIHandler(logger *slog.Logger, serviceConfig block_dater.Config, fetcher outbound.BlockFetcher) (*httpapi.Handler, error) {
	pinger, err := block_dater.NewHeadPinger(fetcher)
	if err != nil {
		return nil, fmt.Errorf("creating pinger: %w", err)
	}

	handler, err := httpapi.NewHandler(func() (inbound.BlockDater, error) {
		return block_dater.NewService(serviceConfig, fetcher)
	}, pinger, logger)
	if err != nil {
		return nil, fmt.Errorf("creating handler: %w", err)
	}
	return handler, nil
}

func flush(logger *slog.Logger, name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", "provider", name, "error", err)
	}
}

type result struct {
	httpapi.BlockResponse
	Stats block_dater.Stats `json:"stats"`
}

func printResult(w io.Writer, format string, r result) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	_, err := fmt.Fprintf(w, "block:      %d\ntimestamp:  %d (%s)\nhash:       %s\nrpc calls:  %d blocks, %d head\ncache hits: %d\n",
		r.Number, r.Timestamp, r.Time, r.Hash,
		r.Stats.BlockFetches, r.Stats.HeadFetches, r.Stats.CacheHits)
	return err
}
