package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"signoff/internal/config"
	"signoff/internal/domain"
)

const defaultTimeout = 5 * time.Second

// Webhook posts delivery intents to the external mail service. One POST per
// batch; the mail service owns templating, retries, and SMTP.
type Webhook struct {
	URL     string
	Secret  string
	SiteID  string
	Timeout time.Duration
	Client  *http.Client
}

// FromConfig returns the configured mailer, or nil when none is set up.
func FromConfig(cfg *config.Config) *Webhook {
	if cfg == nil || strings.TrimSpace(cfg.Mailer.WebhookURL) == "" {
		return nil
	}
	timeout := defaultTimeout
	if cfg.Mailer.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Mailer.TimeoutSeconds) * time.Second
	}
	return &Webhook{
		URL:     cfg.Mailer.WebhookURL,
		Secret:  cfg.Mailer.Secret,
		SiteID:  cfg.Site.ID,
		Timeout: timeout,
	}
}

type deliveryBatch struct {
	SiteID  string                  `json:"site_id,omitempty"`
	Intents []domain.DeliveryIntent `json:"intents"`
}

func (w *Webhook) Deliver(ctx context.Context, intents []domain.DeliveryIntent) error {
	if len(intents) == 0 {
		return nil
	}
	data, err := json.Marshal(deliveryBatch{SiteID: w.SiteID, Intents: intents})
	if err != nil {
		return err
	}
	client := w.Client
	if client == nil {
		timeout := w.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signoff-Site", w.SiteID)
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Signoff-Secret", w.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Log writes intents to the process log. Useful in dev when no mail service
// is configured.
type Log struct{}

func (Log) Deliver(_ context.Context, intents []domain.DeliveryIntent) error {
	for _, in := range intents {
		log.Printf("mail: %s %s -> %s", in.TemplateKey, in.Audience, strings.Join(in.Recipients, ","))
	}
	return nil
}
