// Package config loads the engine's hierarchical configuration record
// (spec §6): catalog/ingestion connection settings plus the
// microstructure/signals/dedup threshold tree analyzers read from on
// each frame. Config is hot-reloadable: callers Subscribe to change
// notifications and reread thresholds on the next frame rather than
// holding a stale copy, per spec §6/§9 "global mutable state".
//
// Grounded on the teacher's config.Load (env-var-with-TOML-override,
// double-underscore namespaced keys) generalized from the single
// Kalshi-specific config tree onto the spec's catalog/microstructure/
// signals/dedup sections.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

const envPrefix = "MSE"

// Config is the full hierarchical configuration record (spec §6).
type Config struct {
	Catalog        CatalogConfig
	Ingestion      IngestionConfig
	Microstructure MicrostructureConfig
	Signals        SignalsConfig
	Dedup          DedupConfig
	API            APIConfig
	Notify         NotifyConfig

	CheckIntervalMs    int
	MinVolumeThreshold float64
	MaxMarketsToTrack  int
}

// CatalogConfig addresses the upstream catalog/stream provider.
type CatalogConfig struct {
	APIBaseURL     string
	WebSocketURL   string
	APIKeyID       string
	PrivateKeyPath string
	Category       string // optional catalog category filter; "" = no filter
}

type IngestionConfig struct {
	RateLimitPerSecond   int
	RESTPollIntervalSecs int
	TickBufferSize       int
}

// MicrostructureConfig tunes C4/C5 thresholds (spec §6).
type MicrostructureConfig struct {
	OrderbookImbalanceThreshold float64
	SpreadAnomalyThreshold      float64
	LiquidityShiftThreshold     float64
	TickBufferSize              int
}

// SignalsConfig tunes C8 detector thresholds (spec §6).
type SignalsConfig struct {
	VolumeSpikeMultiplier            float64
	PriceMovementPercentageThreshold float64
	CrossMarketCorrelationThreshold  float64
}

// DedupConfig tunes the C8 dedup/cooldown layer (spec §4.8).
type DedupConfig struct {
	NewMarketCooldownSecs               int
	VolumeSpikeCooldownSecs             int
	PriceMovementCooldownSecs           int
	UnusualActivityCooldownSecs         int
	CoordinatedCrossMarketCooldownSecs  int
	MinConfidence                       float64
}

type APIConfig struct {
	BindAddress string
	CORSOrigins []string
}

// NotifyConfig addresses the optional outbound signal-sink collaborator.
type NotifyConfig struct {
	Enabled           bool
	SlackWebhookURL   string
	DiscordWebhookURL string
	CooldownSecs      int
}

// Load reads defaults, then env vars, then an optional TOML file,
// each layer overriding the last.
func Load() (*Config, error) {
	cfg := &Config{
		Catalog: CatalogConfig{
			APIBaseURL:     getEnv("MSE__CATALOG__API_BASE_URL", "https://api.example-market.com/v2"),
			WebSocketURL:   getEnv("MSE__CATALOG__WEBSOCKET_URL", "wss://api.example-market.com/v2/ws"),
			APIKeyID:       getEnv("MSE__CATALOG__API_KEY_ID", ""),
			PrivateKeyPath: getEnv("MSE__CATALOG__PRIVATE_KEY_PATH", ""),
			Category:       getEnv("MSE__CATALOG__CATEGORY", ""),
		},
		Ingestion: IngestionConfig{
			RateLimitPerSecond:   getEnvInt("MSE__INGESTION__RATE_LIMIT_PER_SECOND", 10),
			RESTPollIntervalSecs: getEnvInt("MSE__INGESTION__REST_POLL_INTERVAL_SECS", 60),
			TickBufferSize:       getEnvInt("MSE__INGESTION__TICK_BUFFER_SIZE", 1000),
		},
		Microstructure: MicrostructureConfig{
			OrderbookImbalanceThreshold: getEnvFloat("MSE__MICROSTRUCTURE__ORDERBOOK_IMBALANCE_THRESHOLD", 0.3),
			SpreadAnomalyThreshold:      getEnvFloat("MSE__MICROSTRUCTURE__SPREAD_ANOMALY_THRESHOLD", 2.0),
			LiquidityShiftThreshold:     getEnvFloat("MSE__MICROSTRUCTURE__LIQUIDITY_SHIFT_THRESHOLD", 20),
			TickBufferSize:              getEnvInt("MSE__MICROSTRUCTURE__TICK_BUFFER_SIZE", 1000),
		},
		Signals: SignalsConfig{
			VolumeSpikeMultiplier:            getEnvFloat("MSE__SIGNALS__VOLUME_SPIKE_MULTIPLIER", 2.5),
			PriceMovementPercentageThreshold: getEnvFloat("MSE__SIGNALS__PRICE_MOVEMENT_PERCENTAGE_THRESHOLD", 5),
			CrossMarketCorrelationThreshold:  getEnvFloat("MSE__SIGNALS__CROSS_MARKET_CORRELATION_THRESHOLD", 0.7),
		},
		Dedup: DedupConfig{
			NewMarketCooldownSecs:              getEnvInt("MSE__DEDUP__NEW_MARKET_COOLDOWN_SECS", 3600),
			VolumeSpikeCooldownSecs:            getEnvInt("MSE__DEDUP__VOLUME_SPIKE_COOLDOWN_SECS", 600),
			PriceMovementCooldownSecs:          getEnvInt("MSE__DEDUP__PRICE_MOVEMENT_COOLDOWN_SECS", 300),
			UnusualActivityCooldownSecs:        getEnvInt("MSE__DEDUP__UNUSUAL_ACTIVITY_COOLDOWN_SECS", 900),
			CoordinatedCrossMarketCooldownSecs: getEnvInt("MSE__DEDUP__COORDINATED_CROSS_MARKET_COOLDOWN_SECS", 1800),
			MinConfidence:                      getEnvFloat("MSE__DEDUP__MIN_CONFIDENCE", 0.5),
		},
		API: APIConfig{
			BindAddress: getEnv("MSE__API__BIND_ADDRESS", "0.0.0.0:8080"),
			CORSOrigins: getEnvSlice("MSE__API__CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Notify: NotifyConfig{
			Enabled:           getEnvBool("MSE__NOTIFY__ENABLED", false),
			SlackWebhookURL:   getEnv("MSE__NOTIFY__SLACK_WEBHOOK_URL", ""),
			DiscordWebhookURL: getEnv("MSE__NOTIFY__DISCORD_WEBHOOK_URL", ""),
			CooldownSecs:      getEnvInt("MSE__NOTIFY__COOLDOWN_SECS", 300),
		},
		CheckIntervalMs:    getEnvInt("MSE__CHECK_INTERVAL_MS", 60000),
		MinVolumeThreshold: getEnvFloat("MSE__MIN_VOLUME_THRESHOLD", 1000),
		MaxMarketsToTrack:  getEnvInt("MSE__MAX_MARKETS_TO_TRACK", 500),
	}

	if err := applyTOMLFile(cfg, "config/default.toml"); err != nil {
		return nil, err
	}

	if cfg.Catalog.PrivateKeyPath != "" {
		if _, err := os.Stat(cfg.Catalog.PrivateKeyPath); err != nil {
			if _, err := os.Stat(filepath.Join(".", cfg.Catalog.PrivateKeyPath)); err == nil {
				cfg.Catalog.PrivateKeyPath = filepath.Join(".", cfg.Catalog.PrivateKeyPath)
			}
		}
	}

	return cfg, nil
}

func applyTOMLFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var doc struct {
		Catalog        map[string]interface{} `toml:"catalog"`
		Ingestion      map[string]interface{} `toml:"ingestion"`
		Microstructure map[string]interface{} `toml:"microstructure"`
		Signals        map[string]interface{} `toml:"signals"`
		Dedup          map[string]interface{} `toml:"dedup"`
		API            map[string]interface{} `toml:"api"`
		Notify         map[string]interface{} `toml:"notify"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	overrideString(doc.Catalog, "api_base_url", &cfg.Catalog.APIBaseURL)
	overrideString(doc.Catalog, "websocket_url", &cfg.Catalog.WebSocketURL)
	overrideString(doc.Catalog, "category", &cfg.Catalog.Category)
	overrideInt(doc.Ingestion, "rate_limit_per_second", &cfg.Ingestion.RateLimitPerSecond)
	overrideInt(doc.Ingestion, "rest_poll_interval_secs", &cfg.Ingestion.RESTPollIntervalSecs)
	overrideFloat(doc.Microstructure, "orderbook_imbalance_threshold", &cfg.Microstructure.OrderbookImbalanceThreshold)
	overrideFloat(doc.Microstructure, "spread_anomaly_threshold", &cfg.Microstructure.SpreadAnomalyThreshold)
	overrideFloat(doc.Microstructure, "liquidity_shift_threshold", &cfg.Microstructure.LiquidityShiftThreshold)
	overrideInt(doc.Microstructure, "tick_buffer_size", &cfg.Microstructure.TickBufferSize)
	overrideFloat(doc.Signals, "volume_spike_multiplier", &cfg.Signals.VolumeSpikeMultiplier)
	overrideFloat(doc.Signals, "price_movement_percentage_threshold", &cfg.Signals.PriceMovementPercentageThreshold)
	overrideFloat(doc.Signals, "cross_market_correlation_threshold", &cfg.Signals.CrossMarketCorrelationThreshold)
	overrideFloat(doc.Dedup, "min_confidence", &cfg.Dedup.MinConfidence)
	overrideString(doc.API, "bind_address", &cfg.API.BindAddress)
	if origins, ok := doc.API["cors_origins"].([]interface{}); ok {
		out := make([]string, 0, len(origins))
		for _, v := range origins {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		cfg.API.CORSOrigins = out
	}
	overrideBool(doc.Notify, "enabled", &cfg.Notify.Enabled)
	overrideString(doc.Notify, "slack_webhook_url", &cfg.Notify.SlackWebhookURL)
	overrideString(doc.Notify, "discord_webhook_url", &cfg.Notify.DiscordWebhookURL)

	return nil
}

func overrideString(m map[string]interface{}, key string, dst *string) {
	if v, ok := m[key].(string); ok {
		*dst = v
	}
}

func overrideInt(m map[string]interface{}, key string, dst *int) {
	if v, ok := m[key].(int64); ok {
		*dst = int(v)
	}
}

func overrideFloat(m map[string]interface{}, key string, dst *float64) {
	if v, ok := m[key].(float64); ok {
		*dst = v
	}
}

func overrideBool(m map[string]interface{}, key string, dst *bool) {
	if v, ok := m[key].(bool); ok {
		*dst = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// Watcher holds the live config and notifies subscribers on Reload
// (spec §6 "hot-reloadable; analyzers subscribe to change
// notifications and reread thresholds on next frame").
type Watcher struct {
	mu          sync.RWMutex
	current     *Config
	subscribers []chan<- *Config
}

func NewWatcher(initial *Config) *Watcher {
	return &Watcher{current: initial}
}

// Current returns the live config. Analyzers call this once per frame
// rather than caching a pointer across frames.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers ch to receive the new config on every successful
// Reload. Reload is non-fatal on parse failure: the old config is
// retained (spec §7 "Configuration invalid: ... non-fatal on reload").
func (w *Watcher) Subscribe(ch chan<- *Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, ch)
}

// Reload re-runs Load and, on success, swaps the live config and
// notifies every subscriber (non-blocking send; slow subscribers miss
// notifications rather than stall the reload).
func (w *Watcher) Reload() error {
	next, err := Load()
	if err != nil {
		return fmt.Errorf("config: reload failed, retaining previous config: %w", err)
	}
	w.mu.Lock()
	w.current = next
	subs := append([]chan<- *Config(nil), w.subscribers...)
	w.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- next:
		default:
		}
	}
	return nil
}
