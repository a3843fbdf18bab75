package ddns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"
)

var discard = slog.New(slog.DiscardHandler)

// Outcome describes what a single update cycle did.
type Outcome int

const (
	// OutcomeAborted means the cycle stopped before the state was consulted, e.g. because IP detection failed.
	OutcomeAborted Outcome = iota
	// OutcomeUnchanged means the stored address was current and nothing was written or sent.
	OutcomeUnchanged
	// OutcomeUpdated means the provider accepted the new address.
	OutcomeUpdated
	// OutcomeFailed means the provider did not accept the address and the failure was recorded.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeUpdated:
		return "updated"
	case OutcomeFailed:
		return "failed"
	default:
		return "aborted"
	}
}

// New constructs an Updater. A Provider and a Store are required;
// the resolver defaults to HostnameResolver and notifications are discarded unless a Notifier is registered.
func New(options ...clientOption) (*Updater, error) {
	u := &Updater{
		resolver: HostnameResolver(),
		notifier: NotifierFunc(func(context.Context, string) error { return nil }),
		clock:    clockwork.NewRealClock(),
		recorder: NoopRecorder{},
	}
	for i, opt := range options {
		if err := opt(u); err != nil {
			return nil, fmt.Errorf("ddns.New: option %d returned an error: %w", i, err)
		}
	}

	if u.provider == nil {
		return nil, fmt.Errorf("ddns.New: no DNS provider was registered and there is no default option - use ddns.UsingCloudflare or similar")
	}
	if u.store == nil {
		return nil, fmt.Errorf("ddns.New: no state store was registered - use ddns.UsingStateFile or similar")
	}

	// this lets us propagate the logger to dependencies that use one if WithLogger was called before all of the dependencies were registered
	withLogger(u.logger)(u)
	return u, nil
}

type clientOption func(*Updater) error

func UsingCloudflare(cfg CloudflareConfig) clientOption {
	return func(u *Updater) (err error) {
		if u.provider, err = NewCloudflare(cfg); err != nil {
			return fmt.Errorf("ddns.UsingCloudflare: error creating cloudflare DNS provider: %w", err)
		}
		return nil
	}
}

func UsingProvider(provider Provider) clientOption {
	return func(u *Updater) error {
		if provider == nil {
			return errors.New("ddns.UsingProvider: provider cannot be nil")
		}
		u.provider = provider
		return nil
	}
}

func UsingResolver(resolver Resolver) clientOption {
	return func(u *Updater) error {
		if resolver == nil {
			resolver = HostnameResolver()
		}
		u.resolver = resolver
		return nil
	}
}

func UsingWebResolver(serviceURL ...string) clientOption {
	return func(u *Updater) (err error) {
		u.resolver, err = WebResolver(serviceURL...)
		return err
	}
}

func UsingNtfy(cfg NtfyConfig) clientOption {
	return func(u *Updater) (err error) {
		if u.notifier, err = NewNtfy(cfg); err != nil {
			return fmt.Errorf("ddns.UsingNtfy: %w", err)
		}
		return nil
	}
}

func UsingNotifier(notifier Notifier) clientOption {
	return func(u *Updater) error {
		if notifier == nil {
			return errors.New("ddns.UsingNotifier: notifier cannot be nil")
		}
		u.notifier = notifier
		return nil
	}
}

func UsingStateFile(path string) clientOption {
	return func(u *Updater) error {
		if path == "" {
			return errors.New("ddns.UsingStateFile: path cannot be empty")
		}
		u.store = NewFileStore(path)
		return nil
	}
}

func UsingStore(store Store) clientOption {
	return func(u *Updater) error {
		if store == nil {
			return errors.New("ddns.UsingStore: store cannot be nil")
		}
		u.store = store
		return nil
	}
}

// WithClock sets the time source used for state timestamps and cooldowns.
func WithClock(clock clockwork.Clock) clientOption {
	return func(u *Updater) error {
		if clock == nil {
			clock = clockwork.NewRealClock()
		}
		u.clock = clock
		return nil
	}
}

func WithRecorder(recorder Recorder) clientOption {
	return func(u *Updater) error {
		if recorder == nil {
			recorder = NoopRecorder{}
		}
		u.recorder = recorder
		return nil
	}
}

func withLogger(logger *slog.Logger) clientOption {
	return func(u *Updater) error {
		if logger == nil {
			logger = discard
		}
		u.logger = logger

		type setLogger interface {
			SetLogger(*slog.Logger)
		}
		for _, dep := range []any{u.resolver, u.provider, u.notifier, u.store} {
			if l, ok := dep.(setLogger); ok {
				l.SetLogger(logger)
			}
		}
		return nil
	}
}

func WithLogger(logger *slog.Logger) clientOption {
	return func(u *Updater) error {
		u.logger = logger
		return nil
	}
}

// UsingHTTPClient sets the client for every registered dependency that makes HTTP requests.
// Register it after the dependencies it should apply to.
func UsingHTTPClient(httpclient *http.Client) clientOption {
	return func(u *Updater) error {
		type setHTTPClient interface {
			SetHTTPClient(*http.Client)
		}
		for _, dep := range []any{u.resolver, u.provider, u.notifier} {
			if hc, ok := dep.(setHTTPClient); ok {
				hc.SetHTTPClient(httpclient)
			}
		}
		return nil
	}
}

// Updater runs update cycles: it compares the host address with the stored state,
// pushes changes to the provider, records the outcome and notifies.
type Updater struct {
	resolver Resolver
	provider Provider
	notifier Notifier
	store    Store
	clock    clockwork.Clock
	recorder Recorder
	logger   *slog.Logger
}

// Check runs one update cycle.
//
// The returned error is non-nil when the cycle was aborted because the address could not be determined
// (KindIPDetection), or when the outcome could not be persisted (KindPersistence).
// A failed update is not an error: it is recorded in the state and reported as OutcomeFailed.
func (u *Updater) Check(ctx context.Context) (Outcome, error) {
	start := u.clock.Now()
	defer func() { u.recorder.ObserveCycleDuration(u.clock.Since(start)) }()

	addr, err := u.resolver.Resolve(ctx)
	if err == nil && !addr.IsValid() {
		err = errNoAddress
	}
	if err != nil {
		if !IsKind(err, KindIPDetection) {
			err = NewError(KindIPDetection, "resolve", err)
		}
		u.logger.Error("error getting local IP", "error", err)
		u.notify(ctx, "Application error: "+err.Error())
		return OutcomeAborted, err
	}

	st := u.store.Load()
	if !st.NeedsUpdate(addr) {
		u.logger.Debug("no IP change detected", "ip", addr)
		return OutcomeUnchanged, nil
	}
	u.logger.Info("IP change detected or previous error", "ip", addr, "stored_ip", formatIP(st.CurrentIP), "is_error", st.IsError)

	ok, err := u.provider.SetRecord(ctx, addr)
	switch {
	case err != nil:
		u.logger.Error("error updating DNS record", "ip", addr, "error", err)
	case !ok:
		u.logger.Warn("DNS provider rejected update", "ip", addr)
	}

	outcome := OutcomeFailed
	now := u.clock.Now()
	if ok && err == nil {
		outcome = OutcomeUpdated
		st = st.Succeeded(addr, now)
	} else {
		st = st.Failed(now)
	}
	u.recorder.IncUpdate(outcome == OutcomeUpdated)
	u.recorder.SetAttemptCount(st.AttemptCount)

	saveErr := u.store.Save(st)
	if saveErr != nil {
		u.logger.Error("error writing state", "error", saveErr)
	}
	u.notify(ctx, st.Message())
	return outcome, saveErr
}

// State returns the currently stored state.
func (u *Updater) State() State {
	return u.store.Load()
}

func (u *Updater) notify(ctx context.Context, message string) {
	if err := u.notifier.Notify(ctx, message); err != nil {
		u.logger.Error("error sending notification", "error", err)
		u.recorder.IncNotification(false)
		return
	}
	u.logger.Debug("notification sent", "message", message)
	u.recorder.IncNotification(true)
}
