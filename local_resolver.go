package ddns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// errNoAddress is returned when a resolver found no usable IPv4 address.
var errNoAddress = errors.New("no non-loopback IPv4 address found")

// InterfaceResolver constructs a resolver that returns an IPv4 address reported by the given interfaces.
// If no interfaces are provided then all interfaces will be used, but loopback addresses will be skipped.
func InterfaceResolver(iface ...string) Resolver {
	if len(iface) == 0 {
		return localResolver{}
	}
	return interfaceResolver{ifaces: iface}
}

type interfaceResolver struct {
	ifaces []string
}

func (r interfaceResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	var (
		addrs []netip.Addr
		errs  []error
	)
	for _, name := range r.ifaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("error getting interface %s by name: %w", name, err))
			continue
		}
		a, err := iface.Addrs()
		if err != nil {
			errs = append(errs, fmt.Errorf("error looking up addresses for interface %s: %w", name, err))
			continue
		}
		parsed, err := parseInterfaceAddrs(a)
		if err != nil {
			errs = append(errs, fmt.Errorf("interface %s: %w", name, err))
		}
		addrs = append(addrs, parsed...)
	}
	addr, err := pickIPv4(addrs)
	if err != nil {
		errs = append(errs, err)
		return netip.Addr{}, NewError(KindIPDetection, "interface resolver", errors.Join(errs...))
	}
	return addr, nil
}

type localResolver struct{}

func (r localResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	a, err := net.InterfaceAddrs()
	if err != nil {
		return netip.Addr{}, NewError(KindIPDetection, "local resolver", fmt.Errorf("error getting addresses for interface: %w", err))
	}
	// addr: ip+net:192.168.86.253/24
	// addr: ip+net:fd64:9f44:fc30:0:b951:8b16:2812:a227/64
	addrs, parseErr := parseInterfaceAddrs(a)
	addr, err := pickIPv4(addrs)
	if err != nil {
		return netip.Addr{}, NewError(KindIPDetection, "local resolver", errors.Join(err, parseErr))
	}
	return addr, nil
}

func parseInterfaceAddrs(a []net.Addr) (addrs []netip.Addr, err error) {
	var parseErrors []error
	for _, addr := range a {
		p, err := netip.ParsePrefix(addr.String())
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("error parsing local ip %s: %s", addr.String(), err))
			continue
		}
		addrs = append(addrs, p.Addr())
	}
	return addrs, errors.Join(parseErrors...)
}

// pickIPv4 returns the first IPv4 address that is not loopback,
// preferring anything over link-local addresses.
func pickIPv4(addrs []netip.Addr) (netip.Addr, error) {
	var linkLocal netip.Addr
	for _, a := range addrs {
		a = a.Unmap()
		if !a.Is4() || a.IsLoopback() || a.IsUnspecified() {
			continue
		}
		if a.IsLinkLocalUnicast() {
			if !linkLocal.IsValid() {
				linkLocal = a
			}
			continue
		}
		return a, nil
	}
	if linkLocal.IsValid() {
		return linkLocal, nil
	}
	return netip.Addr{}, errNoAddress
}
