package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"signoff/internal/config"
	"signoff/internal/domain"
)

func TestFromConfig(t *testing.T) {
	if FromConfig(nil) != nil {
		t.Fatalf("nil config must yield no mailer")
	}
	cfg := config.Default("site-1")
	if FromConfig(cfg) != nil {
		t.Fatalf("empty webhook url must yield no mailer")
	}
	cfg.Mailer.WebhookURL = "https://mail.example.com/hook"
	cfg.Mailer.TimeoutSeconds = 9
	w := FromConfig(cfg)
	if w == nil || w.SiteID != "site-1" || w.Timeout.Seconds() != 9 {
		t.Fatalf("webhook: %+v", w)
	}
}

func TestWebhookDeliver(t *testing.T) {
	var got deliveryBatch
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		rw.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := &Webhook{URL: srv.URL, Secret: "s3cret", SiteID: "site-1"}
	intents := []domain.DeliveryIntent{{
		Audience:    "editor",
		TemplateKey: "moderation.request",
		Recipients:  []string{"alice@example.com"},
	}}
	if err := w.Deliver(context.Background(), intents); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got.SiteID != "site-1" || len(got.Intents) != 1 || got.Intents[0].TemplateKey != "moderation.request" {
		t.Fatalf("batch: %+v", got)
	}
	if headers.Get("X-Signoff-Site") != "site-1" || headers.Get("X-Signoff-Secret") != "s3cret" {
		t.Fatalf("headers: %v", headers)
	}
}

func TestWebhookDeliverErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "mail service down", http.StatusBadGateway)
	}))
	defer srv.Close()
	w := &Webhook{URL: srv.URL}
	err := w.Deliver(context.Background(), []domain.DeliveryIntent{{Audience: "author", TemplateKey: "moderation.reject"}})
	if err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

func TestWebhookSkipsEmptyBatch(t *testing.T) {
	w := &Webhook{URL: "http://127.0.0.1:1"} // unroutable, must not be contacted
	if err := w.Deliver(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}
