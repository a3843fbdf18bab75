package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"strings"
	"time"
)

// HostnameResolver returns the first non-loopback IPv4 address printed by `hostname --all-ip-addresses`.
func HostnameResolver() Resolver {
	return CommandResolver("hostname", "--all-ip-addresses")
}

// CommandResolver constructs a resolver that runs name with args and
// reads whitespace separated IP addresses from its standard output.
// Entries that do not parse are ignored.
func CommandResolver(name string, args ...string) Resolver {
	return &commandResolver{name: name, args: args, timeout: 5 * time.Second}
}

type commandResolver struct {
	name    string
	args    []string
	timeout time.Duration
}

func (r *commandResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.name, r.args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			err = fmt.Errorf("%w: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return netip.Addr{}, NewError(KindIPDetection, r.name, err)
	}

	var addrs []netip.Addr
	for _, field := range strings.Fields(string(out)) {
		a, err := netip.ParseAddr(field)
		if err != nil {
			continue
		}
		addrs = append(addrs, a)
	}
	addr, err := pickIPv4(addrs)
	if err != nil {
		return netip.Addr{}, NewError(KindIPDetection, r.name, fmt.Errorf("%w in %q", err, strings.TrimSpace(string(out))))
	}
	return addr, nil
}
