package ddns

import (
	"context"
	"net/netip"
)

// Resolver finds the address that should be published for the host.
type Resolver interface {
	Resolve(context.Context) (netip.Addr, error)
}

// Provider sets the managed DNS record to addr.
//
// A false result with a nil error means the provider answered but refused the update.
// A non-nil error means the provider could not be reached.
type Provider interface {
	SetRecord(ctx context.Context, addr netip.Addr) (ok bool, err error)
}

// Notifier delivers a message to a human.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(context.Context) (netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context) (netip.Addr, error) { return f(ctx) }

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(context.Context, netip.Addr) (bool, error)

func (f ProviderFunc) SetRecord(ctx context.Context, addr netip.Addr) (bool, error) {
	return f(ctx, addr)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(context.Context, string) error

func (f NotifierFunc) Notify(ctx context.Context, message string) error { return f(ctx, message) }
