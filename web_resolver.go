package ddns

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// webLookupTimeout bounds a single service request.
const webLookupTimeout = 15 * time.Second

// WebResolver constructs a resolver that asks public web services for the host's IPv4 address.
//
// A service must answer "200 OK" with the address on the first line of the body.
//
// With a single serviceURL its answer is used as is.
// With more, three requests are spread over the services and the first two successful answers must agree.
// Services reachable over IPv6 should be given as IPv4-only endpoints, e.g. https://ipv4.icanhazip.com/.
func WebResolver(serviceURL ...string) (Resolver, error) {
	if len(serviceURL) == 0 {
		return nil, errors.New("no external IP lookup services were provided")
	}
	services := make([]*url.URL, 0, len(serviceURL))
	for _, s := range serviceURL {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("error parsing URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("unsupported URL scheme %q in %s", u.Scheme, s)
		}
		services = append(services, u)
	}
	return &webResolver{services: services}, nil
}

type webResolver struct {
	httpClient *http.Client
	services   []*url.URL
}

// SetHTTPClient sets the client used for lookups. A nil client selects http.DefaultClient.
func (wr *webResolver) SetHTTPClient(c *http.Client) { wr.httpClient = c }

type webAnswer struct {
	addr netip.Addr
	err  error
}

// Resolve implements ddns.Resolver.
func (wr *webResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests, needed := 3, 2
	if len(wr.services) == 1 {
		requests, needed = 1, 1
	}

	answers := make(chan webAnswer, requests)
	for i := range requests {
		service := wr.services[i%len(wr.services)]
		go func() {
			addr, err := wr.lookup(ctx, service)
			answers <- webAnswer{addr, err}
		}()
	}

	addr, err := agree(answers, requests, needed)
	if err != nil {
		return netip.Addr{}, NewError(KindIPDetection, "web resolver", err)
	}
	return addr, nil
}

// agree reads up to total answers and returns the address once needed successful answers match.
// Any disagreement fails immediately.
func agree(answers <-chan webAnswer, total, needed int) (netip.Addr, error) {
	var (
		first netip.Addr
		ok    int
		errs  []error
	)
	for range total {
		a := <-answers
		if a.err != nil {
			errs = append(errs, a.err)
			continue
		}
		if ok > 0 && a.addr != first {
			return netip.Addr{}, fmt.Errorf("IP resolvers did not agree on our IP: %s != %s", first, a.addr)
		}
		first = a.addr
		if ok++; ok == needed {
			return first, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("not enough resolvers responded without errors: %w", errors.Join(errs...))
}

func (wr *webResolver) lookup(ctx context.Context, service *url.URL) (netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, webLookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, service.String(), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	client := wr.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("http request to %s returned %s", service, resp.Status)
	}
	line, _ := bufio.NewReader(resp.Body).ReadString('\n')
	addr, err := netip.ParseAddr(strings.TrimSpace(line))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from %s: %w", service, err)
	}
	if addr = addr.Unmap(); !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%s returned non-IPv4 address %s", service, addr)
	}
	return addr, nil
}
