// Package audit delivers rank-change records to a chat webhook.
// Delivery is one-way: failures are logged and discarded, never surfaced
// to the request that triggered them.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/rankgate/rankgate/internal/model"
)

type Sink interface {
	Emit(event model.AuditEvent)
}

// NopSink drops every event. Used when no webhook is configured.
type NopSink struct{}

func (NopSink) Emit(model.AuditEvent) {}

// WebhookSink posts events to a chat webhook from a background goroutine
// so request latency is unaffected.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Emit(event model.AuditEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.post(ctx, event); err != nil {
			log.Printf("audit: webhook delivery failed: %v", err)
		}
	}()
}

func (s *WebhookSink) post(ctx context.Context, event model.AuditEvent) error {
	verb := event.Action + "d"
	if event.NoOp {
		verb = "already at target rank, " + event.Action + " skipped"
	}
	payload := map[string]any{
		"content": fmt.Sprintf("[%s] %s (%d) %s: %s (rank %d -> %d) by %s tier from %s",
			event.ID, event.Username, event.UserID, verb, event.RoleName,
			event.OldRank, event.NewRank, event.Tier, event.CallerIP),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
