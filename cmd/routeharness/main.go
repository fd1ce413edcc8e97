package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/routeharness/routeharness/internal/config"
	"github.com/routeharness/routeharness/internal/dimse"
	"github.com/routeharness/routeharness/internal/driver"
	"github.com/routeharness/routeharness/internal/items"
	"github.com/routeharness/routeharness/internal/logging"
	"github.com/routeharness/routeharness/internal/metrics"
	"github.com/routeharness/routeharness/internal/preflight"
	"github.com/routeharness/routeharness/internal/status"
	"github.com/routeharness/routeharness/internal/verify"
	"github.com/routeharness/routeharness/pkg/types"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = run(ctx, os.Args[2:])
	case "verify":
		err = runVerify(ctx, os.Args[2:])
	case "probe":
		err = runProbe(ctx, os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to harness configuration file")
	rate := fs.Float64("rate", -1, "Override target rate per second (0 means unbounded)")
	maxItems := fs.Int("max-items", -1, "Override total item count bound")
	duration := fs.Duration("duration", -1, "Override wall-clock run bound")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *rate >= 0 {
		cfg.Load.RatePerSecond = *rate
	}
	if *maxItems >= 0 {
		cfg.Load.MaxItems = *maxItems
	}
	if *duration >= 0 {
		cfg.Load.Duration = *duration
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New()
	called, calling := cfg.Endpoint.ResolveAETs()
	logger.Printf("harness starting (endpoint=%s, called_aet=%s, calling_aet=%s)", cfg.Endpoint.Addr(), called, calling)

	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("init client: %w", err)
	}

	if err := preflight.Check(ctx, preflight.Config{}, preflight.Dependencies{Client: client, Logger: logger}); err != nil {
		return err
	}

	workItems, err := loadItems(cfg, logger)
	if err != nil {
		return err
	}
	source := items.NewCyclic(workItems)

	collector := metrics.NewCollector()

	drv, err := driver.New(driver.Config{
		RatePerSecond:  cfg.Load.RatePerSecond,
		Concurrency:    cfg.Load.Concurrency,
		Duration:       cfg.Load.Duration,
		MaxItems:       cfg.Load.MaxItems,
		AttemptTimeout: cfg.Load.AttemptTimeout,
		PermitQueue:    cfg.Load.PermitQueue,
	}, driver.Dependencies{
		Client:    client,
		Source:    source,
		Collector: collector,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("init driver: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	grp, groupCtx := errgroup.WithContext(runCtx)
	serveCtx, serveDone := context.WithCancel(groupCtx)
	defer serveDone()

	startedAt := time.Now().UTC()
	var attempted int

	grp.Go(func() error {
		defer serveDone()
		n, err := drv.Run(groupCtx)
		attempted = n
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.Status.ListenAddr != "" {
		grp.Go(func() error {
			return serveStatus(serveCtx, cfg.Status.ListenAddr, collector, drv, logger)
		})
	}

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		return err
	}

	report := types.RunReport{
		RunID:          uuid.NewString(),
		StartedAt:      startedAt,
		FinishedAt:     time.Now().UTC(),
		TotalAttempted: attempted,
		Snapshot:       collector.Snapshot(),
		MaxErrorRate:   cfg.Thresholds.MaxErrorRate,
		MaxP95Latency:  cfg.Thresholds.MaxP95Latency,
	}
	logger.Printf("run finished: attempts=%d failed=%d error_rate=%.4f p95=%s",
		report.Snapshot.Count, report.Snapshot.Failed, report.Snapshot.ErrorRate, report.Snapshot.P95Latency)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to harness configuration file")
	studyUID := fs.String("study-uid", "", "Study instance UID to confirm")
	var expected attrList
	fs.Var(&expected, "expect", "Expected attribute as Name=Value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *studyUID == "" {
		return fmt.Errorf("--study-uid is required")
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New()

	backends, cleanup, err := buildBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	poller, err := verify.NewPoller(verify.Config{
		InitialDelay: cfg.Verification.InitialDelay,
		PollInterval: cfg.Verification.PollInterval,
		PollTimeout:  cfg.Verification.PollTimeout,
		QueryTimeout: cfg.Verification.QueryTimeout,
	}, verify.Dependencies{
		Backends: backends,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("init poller: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result := poller.Verify(runCtx, verify.Query{
		StudyUID: *studyUID,
		Expected: types.AttributeSet(expected),
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Matched() {
		return fmt.Errorf("verification ended %s", result.State)
	}
	return nil
}

func runProbe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to harness configuration file")
	attempts := fs.Uint("attempts", 3, "Probe attempts before giving up")
	delay := fs.Duration("delay", 2*time.Second, "Delay between probe attempts")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New()
	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("init client: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := preflight.Check(runCtx, preflight.Config{Attempts: *attempts, Delay: *delay}, preflight.Dependencies{Client: client, Logger: logger}); err != nil {
		return err
	}
	logger.Printf("endpoint %s reachable", cfg.Endpoint.Addr())
	return nil
}

func newClient(cfg config.Config) (dimse.Client, error) {
	called, calling := cfg.Endpoint.ResolveAETs()
	return dimse.NewAssocClient(dimse.Config{
		Addr:       cfg.Endpoint.Addr(),
		CalledAET:  called,
		CallingAET: calling,
	}, dimse.Dependencies{
		Transport: &dimse.TCPProbeTransport{},
		Logger:    logging.New(),
	})
}

func loadItems(cfg config.Config, logger *log.Logger) ([]types.WorkItem, error) {
	if cfg.Dataset.RootDir == "" {
		logger.Printf("no dataset root configured, using synthetic items")
		return items.Synthetic(), nil
	}
	loaded, err := items.LoadDir(cfg.Dataset.RootDir, cfg.Dataset.Recursive)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	logger.Printf("loaded %d items from %s", len(loaded), cfg.Dataset.RootDir)
	return loaded, nil
}

// buildBackends assembles the verification backends in the configured
// priority order. The returned cleanup closes any pooled resources.
func buildBackends(ctx context.Context, cfg config.Config) ([]verify.Backend, func(), error) {
	var (
		backends []verify.Backend
		closers  []func()
	)
	cleanup := func() {
		for _, fn := range closers {
			fn()
		}
	}

	for _, name := range cfg.Verification.Backends {
		switch name {
		case config.BackendDIMSE:
			client, err := newClient(cfg)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("init dimse backend: %w", err)
			}
			backends = append(backends, verify.NewDIMSEBackend(client, cfg.Verification.QueryTimeout))
		case config.BackendDatabase:
			db, err := verify.NewDBBackend(ctx, cfg.Verification.Database.ConnString)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("init database backend: %w", err)
			}
			closers = append(closers, db.Close)
			backends = append(backends, db)
		case config.BackendAPI:
			api, err := verify.NewAPIBackend(verify.APIConfig{
				BaseURL: cfg.Verification.API.BaseURL,
				Token:   cfg.Verification.API.Token,
			}, verify.APIDependencies{})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("init api backend: %w", err)
			}
			backends = append(backends, api)
		default:
			cleanup()
			return nil, nil, fmt.Errorf("unknown verification backend %q", name)
		}
	}
	return backends, cleanup, nil
}

func serveStatus(ctx context.Context, addr string, collector *metrics.Collector, drv *driver.Driver, logger *log.Logger) error {
	srv := status.New(status.Config{Addr: addr}, status.Dependencies{
		Collector: collector,
		Driver:    drv,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("status listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// attrList collects repeated --expect Name=Value flags.
type attrList []types.Attribute

func (a *attrList) String() string {
	parts := make([]string, 0, len(*a))
	for _, attr := range *a {
		parts = append(parts, attr.Name+"="+attr.Value)
	}
	return strings.Join(parts, ",")
}

func (a *attrList) Set(raw string) error {
	name, value, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("expected Name=Value, got %q", raw)
	}
	*a = append(*a, types.Attribute{Name: strings.TrimSpace(name), Value: value})
	return nil
}

func printUsage() {
	fmt.Println("RouteHarness CLI")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  routeharness run [--config /etc/routeharness/harness.yaml] [--rate N] [--duration D] [--max-items N]")
	fmt.Println("  routeharness verify --study-uid UID [--expect Name=Value ...] [--config path]")
	fmt.Println("  routeharness probe [--config path] [--attempts N] [--delay D]")
}
