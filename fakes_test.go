package ddns_test

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	ddns "github.com/Travis-Britz/ddnsd"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

// memStore is an in-memory ddns.Store that remembers every saved state.
type memStore struct {
	mu      sync.Mutex
	state   ddns.State
	saved   []ddns.State
	saveErr error
}

func (m *memStore) Load() ddns.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *memStore) Save(st ddns.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = st
	m.saved = append(m.saved, st)
	return nil
}

func (m *memStore) saves() []ddns.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ddns.State(nil), m.saved...)
}

// fakeProvider records the addresses it was asked to set.
type fakeProvider struct {
	mu    sync.Mutex
	calls []netip.Addr
	ok    bool
	err   error
	hook  func() // called on every SetRecord before returning
}

func (p *fakeProvider) SetRecord(ctx context.Context, addr netip.Addr) (bool, error) {
	p.mu.Lock()
	p.calls = append(p.calls, addr)
	ok, err, hook := p.ok, p.err, p.hook
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ok, err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// recordingNotifier records every message.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return n.err
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type fixture struct {
	store    *memStore
	provider *fakeProvider
	notifier *recordingNotifier
	clock    *clockwork.FakeClock
	ip       netip.Addr
	resolve  func(context.Context) (netip.Addr, error)
}

func newFixture(ip string) *fixture {
	f := &fixture{
		store:    &memStore{},
		provider: &fakeProvider{ok: true},
		notifier: &recordingNotifier{},
		clock:    clockwork.NewFakeClockAt(testNow),
		ip:       netip.MustParseAddr(ip),
	}
	f.resolve = func(context.Context) (netip.Addr, error) { return f.ip, nil }
	return f
}

func (f *fixture) updater(t *testing.T) *ddns.Updater {
	t.Helper()
	u, err := ddns.New(
		ddns.UsingProvider(f.provider),
		ddns.UsingStore(f.store),
		ddns.UsingNotifier(f.notifier),
		ddns.UsingResolver(ddns.ResolverFunc(func(ctx context.Context) (netip.Addr, error) { return f.resolve(ctx) })),
		ddns.WithClock(f.clock),
	)
	require.NoError(t, err)
	return u
}
