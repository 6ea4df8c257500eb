package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/logger"
	"github.com/blinkwatch/blinkwatch/internal/trigger"
)

const webhookTimeout = 10 * time.Second

// Webhook posts decisions to an HTTP endpoint.
type Webhook struct {
	kind   string
	url    string
	client *resty.Client
	log    *zap.Logger
}

// NewWebhook returns a webhook sink. kind is one of: slack | teams | http.
func NewWebhook(kind, url string, log *zap.Logger) (*Webhook, error) {
	switch kind {
	case "slack", "teams", "http":
	default:
		return nil, fmt.Errorf("notify: unknown webhook type %q", kind)
	}
	if url == "" {
		return nil, fmt.Errorf("notify: %s webhook has no url", kind)
	}
	client := resty.New().
		SetTimeout(webhookTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json")
	return &Webhook{kind: kind, url: url, client: client, log: logger.OrNop(log)}, nil
}

func (w *Webhook) Notify(ctx context.Context, d trigger.Decision) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(w.payload(d)).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("notify: %s webhook: %w", w.kind, err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify: %s webhook returned HTTP %d", w.kind, resp.StatusCode())
	}
	w.log.Debug("notify: webhook delivered",
		zap.String("type", w.kind),
		zap.String("id", d.ID),
	)
	return nil
}

func (w *Webhook) payload(d trigger.Decision) any {
	switch w.kind {
	case "slack":
		return map[string]string{
			"text": fmt.Sprintf("*%s* %s", reasonLabel(d.Reason), d.Message),
		}
	case "teams":
		return map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": reasonColor(d.Reason),
			"summary":    string(d.Reason),
			"title":      "Blink reminder: " + reasonLabel(d.Reason),
			"text":       d.Message,
		}
	default:
		return map[string]any{"alert": d}
	}
}

func reasonLabel(r trigger.Reason) string {
	switch r {
	case trigger.ReasonNoBlinkGap:
		return "[NO BLINK]"
	case trigger.ReasonLowRate:
		return "[LOW RATE]"
	default:
		return "[ALERT]"
	}
}

func reasonColor(r trigger.Reason) string {
	switch r {
	case trigger.ReasonNoBlinkGap:
		return "FF4F6A"
	case trigger.ReasonLowRate:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
