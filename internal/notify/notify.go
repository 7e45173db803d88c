// Package notify implements an optional outbound collaborators.SignalSink
// (spec §6, §9): every emitted signal is formatted and fanned out to
// whichever of Slack/Discord are configured, cooldown-gated per
// (market, kind) so a noisy analyzer can't flood either channel.
//
// Grounded on the teacher's alerting.Manager/SlackClient/DiscordClient
// (internal/alerting/{manager,slack,discord}.go), generalized from the
// teacher's five Kalshi-specific signal-type switch onto the spec's
// signalkind.Kind enum, and with the teacher's plain net/http POST kept
// as-is - the examples show no richer HTTP client for simple webhook
// delivery, so standard library usage here needs no substitution.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/microstructure-engine/internal/signalkind"
)

// Config tunes the sink's webhook targets and cooldown.
type Config struct {
	Enabled           bool
	SlackWebhookURL   string
	DiscordWebhookURL string
	CooldownSecs      int
}

// Sink implements collaborators.SignalSink by posting formatted
// messages to Slack and/or Discord webhooks, deduplicated with a
// per-(market,kind) cooldown.
type Sink struct {
	cfg      Config
	log      zerolog.Logger
	slack    *slackClient
	discord  *discordClient
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func New(cfg Config, log zerolog.Logger) *Sink {
	s := &Sink{
		cfg:      cfg,
		log:      log.With().Str("component", "notify").Logger(),
		cooldown: time.Duration(cfg.CooldownSecs) * time.Second,
		lastSent: make(map[string]time.Time),
	}
	if cfg.SlackWebhookURL != "" {
		s.slack = newSlackClient(cfg.SlackWebhookURL)
	}
	if cfg.DiscordWebhookURL != "" {
		s.discord = newDiscordClient(cfg.DiscordWebhookURL)
	}
	return s
}

// OnSignal handles the C3/C4/C5 analyzer and C7 front-running signals.
func (s *Sink) OnSignal(signal signalkind.Signal) { s.dispatch(signal) }

// OnMicrostructureSignal handles C6 order-flow signals and the C8
// catalog-scan family. Both
// routes share formatting and cooldown logic; the split exists only to
// satisfy collaborators.SignalSink's two-method boundary.
func (s *Sink) OnMicrostructureSignal(signal signalkind.Signal) { s.dispatch(signal) }

func (s *Sink) dispatch(signal signalkind.Signal) {
	if !s.cfg.Enabled {
		return
	}
	key := signal.MarketID + "|" + string(signal.Kind)

	s.mu.Lock()
	last, inCooldown := s.lastSent[key]
	if inCooldown && time.Since(last) < s.cooldown {
		s.mu.Unlock()
		return
	}
	s.lastSent[key] = time.Now()
	s.mu.Unlock()

	message := formatSignal(signal)

	if s.slack != nil {
		go func() {
			if err := s.slack.send(message); err != nil {
				s.log.Warn().Err(err).Str("market_id", signal.MarketID).Msg("slack delivery failed")
			}
		}()
	}
	if s.discord != nil {
		go func() {
			if err := s.discord.send(message); err != nil {
				s.log.Warn().Err(err).Str("market_id", signal.MarketID).Msg("discord delivery failed")
			}
		}()
	}
}

func formatSignal(signal signalkind.Signal) string {
	return fmt.Sprintf("%s **%s**\nMarket: %s\nSeverity: %s\nConfidence: %.0f%%",
		severityEmoji(signal.Severity), signal.Kind, signal.MarketID, signal.Severity, signal.Confidence*100)
}

func severityEmoji(sev signalkind.Severity) string {
	switch sev {
	case signalkind.SeverityCritical:
		return "🔴"
	case signalkind.SeverityHigh:
		return "🟠"
	case signalkind.SeverityMedium:
		return "🟡"
	default:
		return "🔵"
	}
}

type slackClient struct {
	webhookURL string
	client     *http.Client
}

func newSlackClient(webhookURL string) *slackClient {
	return &slackClient{webhookURL: webhookURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *slackClient) send(message string) error {
	return postJSON(c.client, c.webhookURL, map[string]string{"text": message}, http.StatusOK)
}

type discordClient struct {
	webhookURL string
	client     *http.Client
}

func newDiscordClient(webhookURL string) *discordClient {
	return &discordClient{webhookURL: webhookURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *discordClient) send(message string) error {
	return postJSON(c.client, c.webhookURL, map[string]interface{}{"content": message}, http.StatusOK, http.StatusNoContent)
}

func postJSON(client *http.Client, url string, payload interface{}, okStatuses ...int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("notify: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: failed to send request: %w", err)
	}
	defer resp.Body.Close()

	for _, ok := range okStatuses {
		if resp.StatusCode == ok {
			return nil
		}
	}
	return fmt.Errorf("notify: unexpected status code: %d", resp.StatusCode)
}
