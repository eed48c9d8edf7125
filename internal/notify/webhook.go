package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/sethvargo/go-retry"
)

// WebhookDispatcher POSTs each event as JSON to an external delivery
// service (mail/push gateway). 5xx responses and transport errors are
// retried with exponential backoff; everything else is final.
type WebhookDispatcher struct {
	url        string
	client     *http.Client
	logger     logging.Logger
	maxRetries uint64
	base       time.Duration
}

func NewWebhookDispatcher(url string, client *http.Client, logger logging.Logger) *WebhookDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookDispatcher{
		url:        url,
		client:     client,
		logger:     logger.With("module", "notify", "sink", "webhook"),
		maxRetries: 4,
		base:       250 * time.Millisecond,
	}
}

// WithBackoff overrides the retry policy.
func (d *WebhookDispatcher) WithBackoff(maxRetries uint64, base time.Duration) *WebhookDispatcher {
	d.maxRetries = maxRetries
	d.base = base
	return d
}

func (d *WebhookDispatcher) Notify(ctx context.Context, e Event) {
	if err := d.deliver(ctx, e); err != nil {
		d.logger.Error(ctx, "notification delivery failed", "type", string(e.Type), "target_id", e.TargetID, "err", err)
	}
}

func (d *WebhookDispatcher) deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(d.maxRetries, retry.NewExponential(d.base))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("webhook status %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			return fmt.Errorf("webhook status %d", resp.StatusCode)
		}
		return nil
	})
}
