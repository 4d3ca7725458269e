package workers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/internal/core/domain"
	"github.com/conveyor-ci/conveyor/internal/shell/store"
)

// NotifierConfig configures the webhook delivery worker.
type NotifierConfig struct {
	// WebhookURL is the endpoint notifications are posted to, e.g. a Slack
	// incoming webhook. Empty disables delivery.
	WebhookURL string

	// Interval is the time between outbox polls.
	// Default: 15 seconds.
	Interval time.Duration

	// BatchSize is the maximum number of notifications delivered per cycle.
	// Default: 20.
	BatchSize int

	// RequestTimeout bounds a single webhook request.
	// Default: 10 seconds.
	RequestTimeout time.Duration
}

// DefaultNotifierConfig returns the default configuration.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		Interval:       15 * time.Second,
		BatchSize:      20,
		RequestTimeout: 10 * time.Second,
	}
}

// Notifier delivers run notifications to a webhook. It polls the outbox for
// unsent rows, posts each payload, and marks delivered rows as sent. A failed
// delivery stays in the outbox and is retried on the next cycle.
type Notifier struct {
	store      store.Store
	config     NotifierConfig
	httpClient *http.Client
	logger     *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier creates a new webhook delivery worker.
func NewNotifier(s store.Store, config NotifierConfig, logger *slog.Logger) *Notifier {
	if config.Interval == 0 {
		config.Interval = 15 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 20
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 10 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		store:  s,
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger: logger.With("component", "notifier"),
	}
}

// Start begins the notifier background goroutine. With no webhook URL
// configured the notifier stays idle.
func (n *Notifier) Start() {
	n.ctx, n.cancel = context.WithCancel(context.Background())

	if n.config.WebhookURL == "" {
		n.logger.Info("notifier disabled, no webhook URL configured")
		return
	}

	n.wg.Add(1)
	go n.run()

	n.logger.Info("notifier started", "interval", n.config.Interval)
}

// Stop gracefully stops the notifier.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	n.logger.Info("notifier stopped")
}

// run is the main loop that delivers notifications periodically.
func (n *Notifier) run() {
	defer n.wg.Done()

	n.runCycle()

	ticker := time.NewTicker(n.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.runCycle()
		}
	}
}

// runCycle delivers one batch of unsent notifications.
func (n *Notifier) runCycle() {
	ctx, cancel := context.WithTimeout(n.ctx, n.config.Interval)
	defer cancel()

	if _, err := n.DeliverPending(ctx); err != nil {
		n.logger.Error("notification cycle failed", "error", err)
	}
}

// DeliverPending posts unsent notifications to the webhook and marks the
// delivered ones as sent. It returns the number delivered. Individual
// delivery failures are logged and left in the outbox for retry.
func (n *Notifier) DeliverPending(ctx context.Context) (int, error) {
	notifications, err := n.store.GetUnsentNotifications(ctx, n.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(notifications) == 0 {
		return 0, nil
	}

	sentIDs := make([]string, 0, len(notifications))
	for i := range notifications {
		notification := &notifications[i]

		if err := n.deliver(ctx, notification); err != nil {
			n.logger.Warn("webhook delivery failed",
				"notification_id", notification.ID,
				"run_id", notification.RunID,
				"event", notification.Event,
				"error", err,
			)
			continue
		}

		sentIDs = append(sentIDs, notification.ID)
	}

	if len(sentIDs) == 0 {
		return 0, nil
	}

	if err := n.store.MarkNotificationsSent(ctx, sentIDs, time.Now().UTC()); err != nil {
		return 0, err
	}

	n.logger.Debug("delivered notifications", "count", len(sentIDs))
	return len(sentIDs), nil
}

// deliver posts a single notification payload to the webhook.
func (n *Notifier) deliver(ctx context.Context, notification *domain.Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL,
		strings.NewReader(notification.Payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
