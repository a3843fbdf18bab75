package ddns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go"
)

// CloudflareConfig describes the record managed by the Cloudflare provider.
//
// Either Token, or Email and APIKey, must be set.
// ZoneID and RecordID are looked up from Domain when empty.
type CloudflareConfig struct {
	Token    string
	Email    string
	APIKey   string
	Domain   string
	ZoneID   string
	RecordID string
	TTL      int  // seconds; 1 means automatic
	Proxied  bool
	Comment  string // attached to records created by the provider

	// BaseURL overrides the API endpoint.
	BaseURL string
	// Timeout bounds each API request. Defaults to 10 seconds.
	Timeout time.Duration
	// MaxRetries is the number of retries the API client performs for rate limited or 5xx responses.
	MaxRetries int
}

// NewCloudflare constructs a Provider which keeps the A record for cfg.Domain pointed at the host.
func NewCloudflare(cfg CloudflareConfig) (*CloudflareProvider, error) {
	if cfg.Domain == "" {
		return nil, errors.New("domain cannot be empty")
	}
	if cfg.TTL == 0 {
		cfg.TTL = 3600
	}
	if cfg.Comment == "" {
		cfg.Comment = "managed by ddns"
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := []cloudflare.Option{
		cloudflare.HTTPClient(&http.Client{Timeout: cfg.Timeout}),
		cloudflare.UsingRetryPolicy(cfg.MaxRetries, 1, 30),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, cloudflare.BaseURL(cfg.BaseURL))
	}

	var (
		api *cloudflare.API
		err error
	)
	switch {
	case cfg.Token != "":
		api, err = cloudflare.NewWithAPIToken(cfg.Token, opts...)
	case cfg.Email != "" && cfg.APIKey != "":
		api, err = cloudflare.New(cfg.APIKey, cfg.Email, opts...)
	default:
		return nil, errors.New("either an API token or an email and global API key is required")
	}
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return &CloudflareProvider{
		api:      api,
		logger:   discard,
		domain:   cfg.Domain,
		zoneID:   cfg.ZoneID,
		recordID: cfg.RecordID,
		timeout:  cfg.Timeout,
		ttl:      cfg.TTL,
		proxied:  cfg.Proxied,
		comment:  cfg.Comment,
	}, nil
}

// CloudflareProvider implements ddns.Provider for a single A record.
//
// It should be constructed using NewCloudflare.
type CloudflareProvider struct {
	api    *cloudflare.API
	logger *slog.Logger

	domain   string
	zoneID   string // resolved lazily when not configured
	// looked-up IDs are forgotten after an API error so the next attempt finds them again
	lookedUpZone, lookedUpRecord bool
	recordID string // resolved lazily when not configured
	timeout  time.Duration
	ttl      int
	proxied  bool
	comment  string
}

// SetLogger implements the logger propagation used by ddns.WithLogger.
func (cf *CloudflareProvider) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = discard
	}
	cf.logger = logger
}

// SetHTTPClient sets the client used for API calls.
// A nil client restores the default client with the configured timeout.
func (cf *CloudflareProvider) SetHTTPClient(c *http.Client) {
	cloudflare.HTTPClient(cf.clientOrDefault(c))(cf.api)
}

func (cf *CloudflareProvider) clientOrDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	timeout := cf.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// SetRecord implements ddns.Provider.
//
// Transport failures are returned as errors of kind KindRemoteUpdate.
// Errors reported by the Cloudflare API are logged and reported as a false result.
func (cf *CloudflareProvider) SetRecord(ctx context.Context, addr netip.Addr) (bool, error) {
	if cf.api == nil {
		return false, NewError(KindRemoteUpdate, "cloudflare.SetRecord", errors.New("provider should be constructed with ddns.NewCloudflare"))
	}
	cf.logger.Info("updating cloudflare", "domain", cf.domain, "ip", addr)

	err := cf.setRecord(ctx, addr)
	if err == nil {
		cf.logger.Info("cloudflare update result", "domain", cf.domain, "ip", addr, "success", true)
		return true, nil
	}
	if isTransportError(err) {
		return false, NewError(KindRemoteUpdate, "cloudflare.SetRecord", err)
	}
	cf.logger.Warn("cloudflare update result", "domain", cf.domain, "ip", addr, "success", false, "error", err)
	cf.forgetLookups()
	return false, nil
}

func (cf *CloudflareProvider) setRecord(ctx context.Context, addr netip.Addr) error {
	if cf.zoneID == "" {
		zid, err := cf.getZoneIDFromDomain(ctx, cf.domain)
		if err != nil {
			return fmt.Errorf("unable to get zone ID for %s: %w", cf.domain, err)
		}
		cf.logger.Debug("got zone ID", "zone_id", zid)
		cf.zoneID, cf.lookedUpZone = zid, true
	}
	rc := cloudflare.ZoneIdentifier(cf.zoneID)

	if cf.recordID == "" {
		id, err := cf.findRecord(ctx, rc)
		if err != nil {
			return err
		}
		if id == "" {
			return cf.createRecord(ctx, rc, addr)
		}
		cf.recordID, cf.lookedUpRecord = id, true
	}

	_, err := cf.api.UpdateDNSRecord(ctx, rc, cloudflare.UpdateDNSRecordParams{
		ID:      cf.recordID,
		Type:    "A",
		Name:    cf.domain,
		Content: addr.String(),
		TTL:     cf.ttl,
		Proxied: &cf.proxied,
	})
	if err != nil {
		return fmt.Errorf("error updating DNS record %s: %w", cf.recordID, err)
	}
	return nil
}

// forgetLookups drops zone and record IDs that were looked up rather than configured.
func (cf *CloudflareProvider) forgetLookups() {
	if cf.lookedUpRecord {
		cf.logger.Debug("forgetting looked up record ID", "record_id", cf.recordID)
		cf.recordID, cf.lookedUpRecord = "", false
	}
	if cf.lookedUpZone {
		cf.zoneID, cf.lookedUpZone = "", false
	}
}

// findRecord returns the ID of the first A record named after the domain, or "" if there is none.
func (cf *CloudflareProvider) findRecord(ctx context.Context, rc *cloudflare.ResourceContainer) (string, error) {
	cf.logger.Debug("looking up A records", "zone_id", cf.zoneID, "domain", cf.domain)
	records, _, err := cf.api.ListDNSRecords(ctx, rc, cloudflare.ListDNSRecordsParams{
		Type: "A",
		Name: cf.domain,
	})
	if err != nil {
		return "", fmt.Errorf("error listing DNS records: %w", err)
	}
	cf.logger.Debug("found existing records", "count", len(records))
	if len(records) == 0 {
		return "", nil
	}
	return records[0].ID, nil
}

func (cf *CloudflareProvider) createRecord(ctx context.Context, rc *cloudflare.ResourceContainer, addr netip.Addr) error {
	cf.logger.Info("creating DNS record", "domain", cf.domain, "ip", addr)
	_, err := cf.api.CreateDNSRecord(ctx, rc, cloudflare.CreateDNSRecordParams{
		Type:    "A",
		Name:    cf.domain,
		Content: addr.String(),
		ZoneID:  cf.zoneID,
		TTL:     cf.ttl,
		Proxied: &cf.proxied,
		Comment: cf.comment,
	})
	if err != nil {
		return fmt.Errorf("error creating DNS record: %w", err)
	}
	// the ID is looked up again on the next update
	return nil
}

func (cf *CloudflareProvider) getZoneIDFromDomain(ctx context.Context, domain string) (zid string, err error) {
	zones, err := cf.api.ListZones(ctx)
	if err != nil {
		return "", fmt.Errorf("error listing zones: %w", err)
	}

	max := 0
	for _, z := range zones {
		if (domain == z.Name || strings.HasSuffix(domain, "."+z.Name)) && len(z.Name) > max {
			max, zid = len(z.Name), z.ID
		}
	}
	if max == 0 {
		return "", fmt.Errorf("unable to find a zone matching \"%s\"", domain)
	}
	return zid, nil
}

// isTransportError reports whether err means the API could not be reached,
// as opposed to the API answering with an error.
func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
