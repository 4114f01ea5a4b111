// Package notify delivers urgent learning insights to operator
// webhooks.
//
// Payloads are JSON, signed with HMAC-SHA256 when a secret is
// configured so receivers can verify the sender. Delivery is
// best-effort with retries; a dead webhook never blocks the memory
// cycle.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/internal/config"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// EventUrgentInsight marks a fleet-wide performance finding worth
// waking an operator for.
const EventUrgentInsight = "urgent_insight"

// Event is the webhook payload envelope.
type Event struct {
	Type      string               `json:"event_type"`
	Service   string               `json:"service"`
	Insight   models.GlobalInsight `json:"insight"`
	Timestamp time.Time            `json:"timestamp"`
}

// Service posts urgent insights to every configured webhook URL.
type Service struct {
	client *http.Client
	urls   []string
	secret string
}

// NewService builds the webhook notifier from configuration.
func NewService(cfg config.NotifyConfig) *Service {
	return &Service{
		client: &http.Client{Timeout: 15 * time.Second},
		urls:   cfg.WebhookURLs,
		secret: cfg.WebhookSecret,
	}
}

// Configured reports whether any webhook URLs are set.
func (s *Service) Configured() bool { return len(s.urls) > 0 }

// NotifyUrgent fans the insight out to all webhooks concurrently and
// waits for the deliveries to settle. Failures are logged, never
// returned: the caller's cycle must not care.
func (s *Service) NotifyUrgent(ctx context.Context, insight models.GlobalInsight) {
	if len(s.urls) == 0 {
		return
	}

	event := Event{
		Type:      EventUrgentInsight,
		Service:   "viewcraft-backend",
		Insight:   insight,
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Msg("Webhook payload marshal failed")
		return
	}

	var wg sync.WaitGroup
	for _, url := range s.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if err := s.deliver(ctx, url, event.Type, body); err != nil {
				log.Warn().Err(err).Str("url", url).Msg("Urgent webhook delivery failed")
				return
			}
			log.Info().
				Str("url", url).
				Str("action", string(insight.ActionType)).
				Float64("avg_reward", insight.AvgReward).
				Msg("Urgent insight delivered")
		}(url)
	}
	wg.Wait()
}

// deliver posts the signed payload with up to 3 attempts and linear
// backoff. The request is rebuilt per attempt so the body survives
// retries.
func (s *Service) deliver(ctx context.Context, url, eventType string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt*2) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "ViewCraft-Webhook/1.0")
		req.Header.Set("X-ViewCraft-Event", eventType)
		if s.secret != "" {
			mac := hmac.New(sha256.New, []byte(s.secret))
			mac.Write(body)
			req.Header.Set("X-ViewCraft-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, url)
	}
	return fmt.Errorf("webhook failed after 3 attempts: %w", lastErr)
}
