package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	ddns "github.com/Travis-Britz/ddnsd"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ipSourceHostname  = "hostname"
	ipSourceInterface = "interface"
	ipSourceWeb       = "web"
	ipSourceStatic    = "static"
)

// Config is built once at startup and not modified afterwards.
type Config struct {
	Cloudflare ddns.CloudflareConfig
	Ntfy       ddns.NtfyConfig
	Daemon     ddns.DaemonConfig

	IPSource      string
	IPInterfaces  []string
	IPWebServices []string
	IPStatic      string

	StateFile   string
	HTTPTimeout time.Duration
	MetricsAddr string
}

// lookupFunc returns the value configured for key.
type lookupFunc func(key string) (string, bool)

// layered returns a lookup that consults each source in order and returns the first value found.
func layered(sources ...lookupFunc) lookupFunc {
	return func(key string) (string, bool) {
		for _, src := range sources {
			if v, ok := src(key); ok {
				return v, true
			}
		}
		return "", false
	}
}

func mapSource(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// loadConfig reads configuration from the process environment, the dotenv file and the YAML file,
// in that order of precedence.
// When no Cloudflare credentials are configured the API token is read from keyFile.
func loadConfig(yamlPath, envFile, keyFile string) (Config, error) {
	sources := []lookupFunc{os.LookupEnv}

	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, ddns.NewError(ddns.KindConfig, "read env file", err)
		default:
			sources = append(sources, mapSource(m))
		}
	}
	if yamlPath != "" {
		m, err := readYAML(yamlPath)
		if err != nil {
			return Config{}, ddns.NewError(ddns.KindConfig, "read config file", err)
		}
		sources = append(sources, mapSource(m))
	}

	cfg, err := parseConfig(layered(sources...))
	if err != nil {
		return Config{}, err
	}

	cf := &cfg.Cloudflare
	if cf.Token == "" && cf.APIKey == "" {
		if err := verifyPermissions(keyFile); err != nil {
			return Config{}, ddns.NewError(ddns.KindConfig, "key file", fmt.Errorf("no cloudflare credentials configured and key file is unusable (run 'ddnscf setup'): %w", err))
		}
		if cf.Token, err = readKey(keyFile); err != nil {
			return Config{}, ddns.NewError(ddns.KindConfig, "key file", err)
		}
	}
	return cfg, nil
}

// readYAML reads a flat mapping of configuration keys to scalar values.
func readYAML(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	m := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
		case map[string]any, []any:
			return nil, fmt.Errorf("%s: value for %s must be a scalar", path, k)
		default:
			m[k] = fmt.Sprint(v)
		}
	}
	return m, nil
}

// parseConfig applies defaults and validation. Every problem found is reported, not just the first.
func parseConfig(lookup lookupFunc) (Config, error) {
	var errs *multierror.Error
	fail := func(format string, a ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, a...))
	}

	str := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	required := func(key string) string {
		v := str(key, "")
		if v == "" {
			fail("%s is required", key)
		}
		return v
	}
	positive := func(key string, def int) int {
		v := str(key, "")
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fail("%s must be a positive integer; got %q", key, v)
			return def
		}
		return n
	}
	boolean := func(key string, def bool) bool {
		v := str(key, "")
		if v == "" {
			return def
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail("%s must be true or false; got %q", key, v)
			return def
		}
		return b
	}
	list := func(key string) []string {
		var out []string
		for _, s := range strings.Split(str(key, ""), ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	var cfg Config

	cfg.HTTPTimeout = 10 * time.Second
	if v := str("HTTP_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			fail("HTTP_TIMEOUT must be a positive duration such as 10s; got %q", v)
		} else {
			cfg.HTTPTimeout = d
		}
	}

	cfg.Cloudflare = ddns.CloudflareConfig{
		Token:    str("CLOUDFLARE_API_TOKEN", ""),
		Email:    str("CLOUDFLARE_EMAIL", ""),
		APIKey:   str("CLOUDFLARE_API_KEY", ""),
		Domain:   required("CLOUDFLARE_DOMAIN"),
		ZoneID:   str("CLOUDFLARE_ZONE_ID", ""),
		RecordID: str("CLOUDFLARE_DNS_RECORD_ID", ""),
		TTL:      positive("CLOUDFLARE_TTL", 3600),
		Proxied:  boolean("CLOUDFLARE_PROXIED", false),
		Timeout:  cfg.HTTPTimeout,
	}
	if d := cfg.Cloudflare.Domain; d != "" && !strings.Contains(d, ".") {
		fail("CLOUDFLARE_DOMAIN must have at least one dot; got %q", d)
	}
	if e := cfg.Cloudflare.Email; e != "" {
		if _, err := mail.ParseAddress(e); err != nil {
			fail("CLOUDFLARE_EMAIL is not a valid email address: %s", err)
		}
	}
	if (cfg.Cloudflare.Email == "") != (cfg.Cloudflare.APIKey == "") {
		fail("CLOUDFLARE_EMAIL and CLOUDFLARE_API_KEY must be set together")
	}

	cfg.Ntfy = ddns.NtfyConfig{
		Server:      str("NTFY_SERVER", ddns.DefaultNtfyServer),
		Topic:       required("NTFY_TOPIC"),
		Token:       str("NTFY_TOKEN", ""),
		Title:       str("NTFY_TITLE", ""),
		HomepageURL: required("HOMEPAGE_URL"),
		Timeout:     cfg.HTTPTimeout,
		MaxRetries:  2,
	}
	if err := checkURL(cfg.Ntfy.Server); err != nil {
		fail("NTFY_SERVER %s", err)
	}
	if cfg.Ntfy.HomepageURL != "" {
		if err := checkURL(cfg.Ntfy.HomepageURL); err != nil {
			fail("HOMEPAGE_URL %s", err)
		}
	}

	cfg.Daemon = ddns.DaemonConfig{
		Schedule:    str("SCHEDULE", ddns.DefaultSchedule),
		MaxAttempts: positive("MAX_ATTEMPTS", ddns.DefaultMaxAttempts),
		Cooldown:    time.Duration(positive("COOLDOWN_PERIOD", int(ddns.DefaultCooldown/time.Millisecond))) * time.Millisecond,
	}
	cfg.StateFile = str("DATA_FILE", "cache.json")
	cfg.MetricsAddr = str("METRICS_ADDR", "")

	cfg.IPSource = strings.ToLower(str("IP_SOURCE", ipSourceHostname))
	cfg.IPInterfaces = list("IP_INTERFACES")
	cfg.IPWebServices = list("IP_WEB_SERVICES")
	cfg.IPStatic = str("IP_STATIC", "")
	switch cfg.IPSource {
	case ipSourceHostname, ipSourceInterface:
	case ipSourceWeb:
		if len(cfg.IPWebServices) == 0 {
			fail("IP_WEB_SERVICES is required when IP_SOURCE is %q", ipSourceWeb)
		}
		for _, s := range cfg.IPWebServices {
			if err := checkURL(s); err != nil {
				fail("IP_WEB_SERVICES entry %s", err)
			}
		}
	case ipSourceStatic:
		a, err := netip.ParseAddr(cfg.IPStatic)
		if err != nil || !a.Unmap().Is4() {
			fail("IP_STATIC must be an IPv4 address when IP_SOURCE is %q; got %q", ipSourceStatic, cfg.IPStatic)
		}
	default:
		fail("IP_SOURCE must be one of hostname, interface, web or static; got %q", cfg.IPSource)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return Config{}, ddns.NewError(ddns.KindConfig, "", err)
	}
	return cfg, nil
}

func checkURL(s string) error {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL; got %q", s)
	}
	return nil
}

func readKey(path string) (key string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading key: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	keyb, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading line: %w", err)
	}
	key = strings.TrimSpace(string(keyb))
	if key == "" {
		return "", fmt.Errorf("key file %q is empty", path)
	}
	return key, nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking keyfile permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for \"%s\": expected file permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}
	return nil
}
