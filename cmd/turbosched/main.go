// Command turbosched is the control-plane entry point: it wires the
// observatory/ops configuration, the telescope controller clients, the
// two alert listeners, and the scheduler's main cycle together, then
// runs until a signal arrives. Grounded on cli/cmd/ariadne/main.go's
// shape (flag parsing, context-cancel-on-signal, metrics endpoint as a
// background goroutine shut down on ctx.Done()), narrowed to a CLI with
// no positional arguments and a single environment-agnostic --debug
// flag that disables TLS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stpaulobs/turbosched/internal/alerts"
	"github.com/stpaulobs/turbosched/internal/clock"
	"github.com/stpaulobs/turbosched/internal/config"
	"github.com/stpaulobs/turbosched/internal/eventstore"
	"github.com/stpaulobs/turbosched/internal/logging"
	"github.com/stpaulobs/turbosched/internal/metrics"
	"github.com/stpaulobs/turbosched/internal/scheduler"
	"github.com/stpaulobs/turbosched/internal/targets"
	"github.com/stpaulobs/turbosched/internal/telescope"
	"github.com/stpaulobs/turbosched/internal/tessellation"
)

func main() {
	os.Exit(run())
}

// run does the actual work and returns the process exit code, keeping
// main itself trivial and letting defers still fire before os.Exit.
func run() int {
	var (
		observatoryPath string
		opsPath         string
		debug           bool
	)
	flag.StringVar(&observatoryPath, "observatory", "observatory.json", "Path to the observatory description")
	flag.StringVar(&opsPath, "ops", "turbosched.yaml", "Path to the operational config overlay")
	flag.BoolVar(&debug, "debug", false, "Disable TLS and talk plain HTTP to every telescope controller")
	flag.Parse()

	cfg, err := config.Load(observatoryPath, opsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "turbosched: fatal startup error: %v\n", err)
		return 1
	}
	if debug {
		cfg.Ops.Debug = true
	}

	log := logging.NewJSON(parseLogLevel(cfg.Ops.LogLevel))
	bg := context.Background()

	twilight, err := config.ParseTwilightKind(cfg.Ops.Twilight)
	if err != nil {
		log.ErrorCtx(bg, "fatal startup error: invalid twilight configuration", "err", err)
		return 1
	}

	grid, err := tessellation.Load(cfg.Ops.TessellationFile)
	if err != nil {
		log.ErrorCtx(bg, "fatal startup error: load tessellation grid failed", "err", err)
		return 1
	}

	hostTargets, err := targets.LoadHostFile(cfg.Ops.HostTargetsFile)
	if err != nil {
		log.ErrorCtx(bg, "fatal startup error: load host target file failed", "err", err)
		return 1
	}

	clk := clock.Real{}
	store := eventstore.New(cfg.Ops.SnapshotPath, clk, log.With("component", "eventstore"))
	store.Load()

	tracer, err := metrics.NewTracer("turbosched", environmentName(cfg.Ops.Debug))
	if err != nil {
		log.ErrorCtx(bg, "fatal startup error: start tracer failed", "err", err)
		return 1
	}
	mc := metrics.New()

	telescopes := make([]scheduler.Telescope, 0, len(cfg.Observatory.Telescopes))
	for _, tcfg := range cfg.Observatory.Telescopes {
		client, err := telescope.New(telescope.Config{
			Name:       tcfg.Name,
			Host:       tcfg.IP,
			Port:       tcfg.Port,
			Debug:      cfg.Ops.Debug,
			CABundle:   cfg.Ops.TLSCABundle,
			ClientCert: cfg.Ops.TLSClientCert,
			ClientKey:  cfg.Ops.TLSClientKey,
			Tracer:     tracer,
			Metrics:    mc,
		}, log.With("telescope", tcfg.Name))
		if err != nil {
			log.ErrorCtx(bg, "fatal startup error: build telescope client failed", "telescope", tcfg.Name, "err", err)
			return 1
		}
		telescopes = append(telescopes, scheduler.Telescope{Name: tcfg.Name, Client: client})
	}

	buffer := &alerts.Buffer{}
	wake := alerts.NewSignal()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.Ops.BrokerAPIToken != "" {
		httpClient.Transport = &bearerTokenTransport{token: cfg.Ops.BrokerAPIToken, base: http.DefaultTransport}
	}

	lvcHandler := &alerts.LVCHandler{
		Grid: grid, Buffer: buffer, Signal: wake,
		AuditDir: cfg.Ops.AuditDir, HTTPClient: httpClient, Clock: clk,
		Log: log.With("handler", "lvc"), Metrics: mc,
	}
	grbHandler := &alerts.GRBHandler{
		Grid: grid, Buffer: buffer, Signal: wake,
		AuditDir: cfg.Ops.AuditDir, Clock: clk,
		Log: log.With("handler", "grb"), Metrics: mc,
	}

	lvcSource := alerts.NewHTTPPollSource(httpClient, cfg.Ops.BrokerEndpoint, cfg.Ops.LVCTopic)
	grbSource := alerts.NewHTTPPollSource(httpClient, cfg.Ops.BrokerEndpoint, cfg.Ops.GRBTopic)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.InfoCtx(bg, "signal received, initiating graceful shutdown")
		cancel()
		<-sigCh
		log.InfoCtx(bg, "second signal received, forcing exit")
		os.Exit(1)
	}()

	go alerts.RunListener(ctx, lvcSource, log.With("listener", "lvc"), lvcHandler.Handle)
	go alerts.RunListener(ctx, grbSource, log.With("listener", "grb"), grbHandler.Handle)

	if cfg.Ops.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.Ops.MetricsAddr, Handler: mc.Handler()}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
		go func() {
			log.InfoCtx(bg, "metrics listening", "addr", cfg.Ops.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.ErrorCtx(bg, "metrics server failed", "err", err)
			}
		}()
	}

	sched := scheduler.New(
		cfg.Observatory, cfg.Ops, twilight, telescopes,
		store, hostTargets, buffer, wake,
		clk, log.With("component", "scheduler"), mc, tracer,
	)

	sched.Run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	sched.ParkAll(shutdownCtx)

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.ErrorCtx(bg, "tracer shutdown failed", "err", err)
	}

	log.InfoCtx(bg, "scheduler exited cleanly")
	return 0
}

func environmentName(debug bool) string {
	if debug {
		return "development"
	}
	return "production"
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// bearerTokenTransport attaches the broker API token to every poll
// request; credentials come from config, never a flag.
type bearerTokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(cloned)
}
