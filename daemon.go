package ddns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Defaults for DaemonConfig.
const (
	DefaultSchedule    = "* * * * *"
	DefaultMaxAttempts = 3
	DefaultCooldown    = 15 * time.Minute
)

// TickResult is what a single Daemon tick did.
type TickResult string

const (
	TickResultChecked  TickResult = TickChecked  // the update cycle ran
	TickResultCooldown TickResult = TickCooldown // skipped: too many failures, cooldown not yet expired
	TickResultBusy     TickResult = TickBusy     // skipped: previous tick still running
	TickResultError    TickResult = TickError    // the tick failed; see logs
)

// DaemonConfig configures the scheduling and backoff of a Daemon.
// Zero values select the defaults.
type DaemonConfig struct {
	Schedule    string        // five field cron expression
	MaxAttempts int           // failures before the cooldown applies
	Cooldown    time.Duration // wait after MaxAttempts failures before retrying
	RunOnStart  bool          // run one tick as soon as the daemon starts
}

// Daemon drives an Updater on a schedule and applies the failure cooldown.
type Daemon struct {
	updater *Updater
	cfg     DaemonConfig
	logger  *slog.Logger

	scheduler gocron.Scheduler
	runCtx    context.Context
	running   atomic.Bool
}

// NewDaemon validates cfg and prepares the schedule. Call Run to start it.
func NewDaemon(u *Updater, cfg DaemonConfig) (*Daemon, error) {
	if u == nil {
		return nil, errors.New("ddns.NewDaemon: updater cannot be nil")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxAttempts < 0 {
		return nil, NewError(KindConfig, "ddns.NewDaemon", fmt.Errorf("max attempts must be positive; got %d", cfg.MaxAttempts))
	}
	if cfg.Cooldown < 0 {
		return nil, NewError(KindConfig, "ddns.NewDaemon", fmt.Errorf("cooldown must be positive; got %s", cfg.Cooldown))
	}

	d := &Daemon{
		updater: u,
		cfg:     cfg,
		logger:  u.logger,
		runCtx:  context.Background(),
	}

	s, err := gocron.NewScheduler(
		gocron.WithClock(u.clock),
		gocron.WithLogger(u.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	opts := []gocron.JobOption{
		gocron.WithName("ddns-update"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if cfg.RunOnStart {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	_, err = s.NewJob(
		gocron.CronJob(cfg.Schedule, false),
		gocron.NewTask(func() { d.Tick(d.runCtx) }),
		opts...,
	)
	if err != nil {
		s.Shutdown()
		return nil, NewError(KindConfig, "ddns.NewDaemon", fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err))
	}
	d.scheduler = s
	return d, nil
}

// Run starts the schedule and blocks until ctx is cancelled.
// A Daemon can only be run once.
func (d *Daemon) Run(ctx context.Context) error {
	d.runCtx = ctx
	d.scheduler.Start()
	d.logger.Info("ddns updater started", "schedule", d.cfg.Schedule, "max_attempts", d.cfg.MaxAttempts, "cooldown", d.cfg.Cooldown)

	<-ctx.Done()

	d.logger.Info("stopping ddns updater")
	if err := d.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("error stopping scheduler: %w", err)
	}
	return nil
}

// Close releases the scheduler of a Daemon that will not be Run.
func (d *Daemon) Close() error {
	return d.scheduler.Shutdown()
}

// Tick runs one scheduled step: it applies the cooldown gate and then runs an update cycle.
// Tick never panics and never returns an error; failures are logged and reflected in the result.
// A Tick that starts while another is still running returns TickResultBusy.
func (d *Daemon) Tick(ctx context.Context) (result TickResult) {
	if !d.running.CompareAndSwap(false, true) {
		d.logger.Warn("previous tick still running, skipping")
		d.updater.recorder.IncTick(TickBusy)
		return TickResultBusy
	}
	defer d.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in scheduled tick", "panic", r, "stack", string(debug.Stack()))
			result = TickResultError
		}
		d.updater.recorder.IncTick(string(result))
	}()

	res, err := d.tick(ctx)
	if err != nil {
		d.logger.Error("error in scheduled tick", "error", err)
	}
	return res
}

func (d *Daemon) tick(ctx context.Context) (TickResult, error) {
	u := d.updater
	st := u.store.Load()

	if st.IsError && st.AttemptCount >= d.cfg.MaxAttempts {
		now := u.clock.Now()
		if st.CoolingDown(now, d.cfg.MaxAttempts, d.cfg.Cooldown) {
			d.logger.Info("in cooldown period, skipping update",
				"attempts", st.AttemptCount,
				"remaining", d.cfg.Cooldown-now.Sub(st.LastError))
			return TickResultCooldown, nil
		}
		d.logger.Info("cooldown expired, resetting attempt count", "attempts", st.AttemptCount)
		st.AttemptCount = 0
		if err := u.store.Save(st); err != nil {
			return TickResultError, fmt.Errorf("error resetting attempt count: %w", err)
		}
		u.recorder.SetAttemptCount(0)
	}

	outcome, err := u.Check(ctx)
	if err != nil {
		return TickResultError, fmt.Errorf("update cycle %s: %w", outcome, err)
	}
	d.logger.Debug("update cycle finished", "outcome", outcome.String())
	return TickResultChecked, nil
}
