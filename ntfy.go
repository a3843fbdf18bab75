package ddns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultNtfyServer is the public ntfy instance.
const DefaultNtfyServer = "https://ntfy.sh"

// NtfyConfig configures the ntfy notifier.
type NtfyConfig struct {
	Server      string // defaults to DefaultNtfyServer
	Topic       string
	Token       string // optional access token
	Title       string
	HomepageURL string // attached to each message as a "view" action when set

	Timeout       time.Duration // per request; defaults to 10 seconds
	MaxRetries    int           // retries after the first failed request; negative disables retries
	RetryInterval time.Duration // initial backoff; defaults to 1 second
}

// NewNtfy constructs a Notifier which publishes messages to an ntfy topic.
func NewNtfy(cfg NtfyConfig) (*NtfyNotifier, error) {
	if cfg.Topic == "" {
		return nil, errors.New("ntfy topic cannot be empty")
	}
	if cfg.Server == "" {
		cfg.Server = DefaultNtfyServer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	return &NtfyNotifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     discard,
	}, nil
}

// NtfyNotifier implements ddns.Notifier using the ntfy JSON publishing API.
type NtfyNotifier struct {
	cfg        NtfyConfig
	httpClient *http.Client
	logger     *slog.Logger
}

type ntfyMessage struct {
	Topic   string       `json:"topic"`
	Message string       `json:"message"`
	Title   string       `json:"title,omitempty"`
	Actions []ntfyAction `json:"actions,omitempty"`
}

type ntfyAction struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	URL    string `json:"url"`
	Clear  bool   `json:"clear"`
}

func (n *NtfyNotifier) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = discard
	}
	n.logger = logger
}

// SetHTTPClient replaces the client built from NtfyConfig.Timeout.
func (n *NtfyNotifier) SetHTTPClient(c *http.Client) {
	if c == nil {
		c = &http.Client{Timeout: n.cfg.Timeout}
	}
	n.httpClient = c
}

// Notify implements ddns.Notifier.
// Failed requests are retried with exponential backoff; 4xx responses are not retried.
func (n *NtfyNotifier) Notify(ctx context.Context, message string) error {
	msg := ntfyMessage{
		Topic:   n.cfg.Topic,
		Message: message,
		Title:   n.cfg.Title,
	}
	if n.cfg.HomepageURL != "" {
		msg.Actions = []ntfyAction{{
			Action: "view",
			Label:  "Open Homepage",
			URL:    n.cfg.HomepageURL,
			Clear:  true,
		}}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return NewError(KindNotification, "ntfy.Notify", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = n.cfg.RetryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(n.cfg.MaxRetries)), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		err := n.publish(ctx, body)
		if err != nil {
			n.logger.Debug("ntfy publish failed", "attempt", attempt, "error", err)
		}
		return err
	}, b)
	if err != nil {
		n.logger.Error("error sending notification", "topic", n.cfg.Topic, "attempts", attempt, "error", err)
		return NewError(KindNotification, "ntfy.Notify", err)
	}
	n.logger.Info("notification sent", "topic", n.cfg.Topic, "message", message)
	return nil
}

func (n *NtfyNotifier) publish(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Server, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if n.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.cfg.Token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("ntfy returned %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}
