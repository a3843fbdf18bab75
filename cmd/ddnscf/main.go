package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	ddns "github.com/Travis-Britz/ddnsd"
	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config    string `short:"c" help:"Optional YAML file with configuration keys" type:"path"`
	EnvFile   string `help:"Dotenv file with configuration keys; ignored when missing" default:".env" type:"path"`
	KeyFile   string `short:"k" help:"Path to cloudflare API token file, used when no credentials are configured" default:"${keyfile}" type:"path"`
	Verbose   bool   `short:"v" help:"Enable verbose logging"`
	LogFormat string `help:"Log output format" enum:"text,json" default:"text"`
}

var cli struct {
	Globals

	Run    runCmd    `cmd:"" default:"1" help:"Update the DNS record on a schedule (default)"`
	Once   onceCmd   `cmd:"" help:"Run a single update tick and exit"`
	Status statusCmd `cmd:"" help:"Print the stored update state"`
	Setup  setupCmd  `cmd:"" help:"Verify a Cloudflare API token and store it in the key file"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("ddnscf"),
		kong.Description("Keep a Cloudflare A record pointed at this host."),
		kong.UsageOnError(),
		kong.Vars{"keyfile": filepath.Join(os.Getenv("HOME"), ".cloudflare")},
	)
	logger := newLogger(cli.Verbose, cli.LogFormat)
	slog.SetDefault(logger)

	err := ctx.Run(&cli.Globals, logger)
	if ddns.IsKind(err, ddns.KindConfig) {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("ddnscf failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool, format string) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

type runCmd struct {
	RunOnStart bool `help:"Run one update as soon as the daemon starts"`
}

func (c *runCmd) Run(g *Globals, logger *slog.Logger) error {
	cfg, err := loadConfig(g.Config, g.EnvFile, g.KeyFile)
	if err != nil {
		return err
	}
	logger.Debug("config is valid", "domain", cfg.Cloudflare.Domain, "ip_source", cfg.IPSource, "state_file", cfg.StateFile)
	cfg.Daemon.RunOnStart = c.RunOnStart

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder ddns.Recorder = ddns.NoopRecorder{}
	if cfg.MetricsAddr != "" {
		reg := prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = ddns.NewPrometheusRecorder(reg)
		go serveMetrics(ctx, cfg.MetricsAddr, reg, logger)
	}

	u, err := newUpdater(cfg, logger, recorder)
	if err != nil {
		return err
	}
	d, err := ddns.NewDaemon(u, cfg.Daemon)
	if err != nil {
		return err
	}
	notifyReady(logger)
	defer notifyStopping()
	return d.Run(ctx)
}

type onceCmd struct{}

func (c *onceCmd) Run(g *Globals, logger *slog.Logger) error {
	cfg, err := loadConfig(g.Config, g.EnvFile, g.KeyFile)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u, err := newUpdater(cfg, logger, ddns.NoopRecorder{})
	if err != nil {
		return err
	}
	d, err := ddns.NewDaemon(u, cfg.Daemon)
	if err != nil {
		return err
	}
	defer d.Close()
	res := d.Tick(ctx)
	logger.Info("tick finished", "result", string(res))
	if res == ddns.TickResultError {
		return errors.New("update tick failed - see log for details")
	}
	return nil
}

type statusCmd struct {
	StateFile string `help:"State file to read instead of the configured DATA_FILE" type:"path"`
}

func (c *statusCmd) Run(g *Globals, logger *slog.Logger) error {
	path := c.StateFile
	if path == "" {
		cfg, err := loadConfig(g.Config, g.EnvFile, g.KeyFile)
		if err != nil {
			return err
		}
		path = cfg.StateFile
	}
	store := ddns.NewFileStore(path)
	store.SetLogger(logger)
	st := store.Load()
	fmt.Println(st.Message())
	fmt.Printf("attempts: %d\nfailing: %t\nstate file: %s\n", st.AttemptCount, st.IsError, store.Path())
	return nil
}

func newUpdater(cfg Config, logger *slog.Logger, recorder ddns.Recorder) (*ddns.Updater, error) {
	resolver, err := newResolver(cfg)
	if err != nil {
		return nil, ddns.NewError(ddns.KindConfig, "resolver", err)
	}
	u, err := ddns.New(
		ddns.UsingCloudflare(cfg.Cloudflare),
		ddns.UsingNtfy(cfg.Ntfy),
		ddns.UsingResolver(resolver),
		ddns.UsingStateFile(cfg.StateFile),
		ddns.WithRecorder(recorder),
		ddns.WithLogger(logger),
	)
	if err != nil {
		return nil, ddns.NewError(ddns.KindConfig, "ddns.New", err)
	}
	return u, nil
}

func newResolver(cfg Config) (ddns.Resolver, error) {
	switch cfg.IPSource {
	case ipSourceInterface:
		return ddns.InterfaceResolver(cfg.IPInterfaces...), nil
	case ipSourceWeb:
		r, err := ddns.WebResolver(cfg.IPWebServices...)
		if err != nil {
			return nil, err
		}
		if s, ok := r.(interface{ SetHTTPClient(*http.Client) }); ok {
			s.SetHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout})
		}
		return r, nil
	case ipSourceStatic:
		return ddns.FromString(cfg.IPStatic)
	default:
		return ddns.HostnameResolver(), nil
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prom.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "addr", addr, "error", err)
	}
}
