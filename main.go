package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/microstructure-engine/internal/api"
	"github.com/microstructure-engine/internal/collaborators"
	"github.com/microstructure-engine/internal/config"
	"github.com/microstructure-engine/internal/detector"
	"github.com/microstructure-engine/internal/ingestion"
	"github.com/microstructure-engine/internal/microstructure/enhanced"
	"github.com/microstructure-engine/internal/microstructure/frontrun"
	"github.com/microstructure-engine/internal/microstructure/orderbook"
	"github.com/microstructure-engine/internal/microstructure/orderflow"
	"github.com/microstructure-engine/internal/microstructure/tick"
	"github.com/microstructure-engine/internal/notify"
	"github.com/microstructure-engine/internal/orchestrator"
	"github.com/microstructure-engine/internal/signalkind"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "microstructure-engine").Logger()
	logger.Info().Msg("starting microstructure detection engine")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	watcher := config.NewWatcher(cfg)
	logger.Info().Msg("configuration loaded")

	tickAnalyzer := tick.NewAnalyzer(tick.Config{
		TickBufferSize: cfg.Microstructure.TickBufferSize,
	})
	orderbookAnalyzer := orderbook.NewAnalyzer(orderbook.Config{
		ImbalanceThreshold: cfg.Microstructure.OrderbookImbalanceThreshold,
		SpreadThreshold:    cfg.Microstructure.SpreadAnomalyThreshold,
		LiquidityThreshold: cfg.Microstructure.LiquidityShiftThreshold,
	})
	enhancedAnalyzer := enhanced.NewAnalyzer(enhanced.Config{})
	flowAnalyzer := orderflow.NewAnalyzer(orderflow.Config{})
	frontrunScorer := frontrun.NewScorer(frontrun.Config{})
	logger.Info().Msg("analyzer family initialized")

	notifySink := notify.New(notify.Config{
		Enabled:           cfg.Notify.Enabled,
		SlackWebhookURL:   cfg.Notify.SlackWebhookURL,
		DiscordWebhookURL: cfg.Notify.DiscordWebhookURL,
		CooldownSecs:      cfg.Notify.CooldownSecs,
	}, logger)

	// The API server is itself a collaborators.SignalSink (it keeps a
	// bounded in-memory signal history for /signals and /stream/signals),
	// so it needs to exist before the orchestrator is wired to a sink,
	// and the orchestrator needs to exist before the API server can read
	// tracked-market state from it. NewServer only reads the Orchestrator
	// pointer lazily per-request, so constructing it first and handing it
	// the not-yet-running Orchestrator is safe.
	orch := orchestrator.New(orchestrator.Config{}, orchestrator.Analyzers{
		Tick:      tickAnalyzer,
		Orderbook: orderbookAnalyzer,
		Enhanced:  enhancedAnalyzer,
		OrderFlow: flowAnalyzer,
		FrontRun:  frontrunScorer,
	}, nil, logger)
	apiServer := api.NewServer(cfg.API, orch)
	orch.SetSink(collaborators.NewFanoutSink(notifySink, apiServer))
	logger.Info().Msg("orchestrator and API server initialized")

	var signer *ingestion.RequestSigner
	if cfg.Catalog.PrivateKeyPath != "" {
		pem, err := os.ReadFile(cfg.Catalog.PrivateKeyPath)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to read private key; catalog requests will be unsigned")
		} else if s, err := ingestion.NewRequestSigner(cfg.Catalog.APIKeyID, string(pem)); err != nil {
			logger.Warn().Err(err).Msg("failed to initialize request signing; catalog requests will be unsigned")
		} else {
			signer = s
		}
	}
	catalogClient := ingestion.NewCatalogClient(cfg.Catalog.APIBaseURL, cfg.Catalog.Category, signer, cfg.Ingestion.RateLimitPerSecond)
	streamClient := ingestion.NewClient(cfg.Catalog.WebSocketURL, orch.IngestionHandlers())

	det := detector.New(detector.Config{
		MinVolumeThreshold:        cfg.MinVolumeThreshold,
		VolumeSpikeMultiplier:     cfg.Signals.VolumeSpikeMultiplier,
		PriceMovementThresholdPts: cfg.Signals.PriceMovementPercentageThreshold,
		CorrelationThreshold:      cfg.Signals.CrossMarketCorrelationThreshold,
		MinConfidence:             cfg.Dedup.MinConfidence,
		MaxMarkets:                cfg.MaxMarketsToTrack,
		Cooldowns: map[signalkind.Kind]time.Duration{
			signalkind.KindNewMarket:              time.Duration(cfg.Dedup.NewMarketCooldownSecs) * time.Second,
			signalkind.KindVolumeSpike:            time.Duration(cfg.Dedup.VolumeSpikeCooldownSecs) * time.Second,
			signalkind.KindPriceMovement:          time.Duration(cfg.Dedup.PriceMovementCooldownSecs) * time.Second,
			signalkind.KindUnusualActivity:        time.Duration(cfg.Dedup.UnusualActivityCooldownSecs) * time.Second,
			signalkind.KindCoordinatedCrossMarket: time.Duration(cfg.Dedup.CoordinatedCrossMarketCooldownSecs) * time.Second,
		},
	})
	logger.Info().Msg("stream ingestor and signal detector initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Run(gctx)
	})
	g.Go(func() error {
		if err := apiServer.Run(gctx); err != nil {
			logger.Error().Err(err).Msg("api server exited")
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := streamClient.Run(gctx); err != nil && gctx.Err() == nil {
			logger.Error().Err(err).Msg("stream ingestor exited")
			return err
		}
		return nil
	})
	g.Go(func() error {
		return runCatalogScanLoop(gctx, logger, cfg, watcher, catalogClient, streamClient, orch, det, apiServer)
	})

	logger.Info().Msg("all components started")

	select {
	case <-sigChan:
		logger.Info().Msg("shutdown signal received")
	case <-gctx.Done():
		logger.Warn().Msg("a component exited unexpectedly, shutting down")
	}

	cancel()
	orch.Shutdown()

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("shutdown completed with errors")
	}
	logger.Info().Msg("shutdown complete")
}

// runCatalogScanLoop polls the catalog on cfg.CheckIntervalMs, tracks
// newly active markets across both the orchestrator and the stream
// client, and runs the catalog-scan signal family (C8) over each
// snapshot. It re-reads MinVolumeThreshold from the live config on each
// tick; the scan interval and the detector's thresholds are fixed at
// startup.
func runCatalogScanLoop(
	ctx context.Context,
	logger zerolog.Logger,
	cfg *config.Config,
	watcher *config.Watcher,
	catalogClient *ingestion.CatalogClient,
	streamClient *ingestion.Client,
	orch *orchestrator.Orchestrator,
	det *detector.Detector,
	sink collaborators.SignalSink,
) error {
	interval := time.Duration(cfg.CheckIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			live := watcher.Current()
			snapshot, err := catalogClient.FetchMarkets(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("catalog fetch failed")
				continue
			}
			for _, mkt := range snapshot {
				if mkt.Active && mkt.VolumeNum >= live.MinVolumeThreshold {
					orch.TrackMarket(mkt.ID)
					streamClient.Subscribe(mkt.ID)
				}
			}
			for _, sig := range det.Scan(snapshot, time.Now()) {
				sink.OnMicrostructureSignal(sig)
			}
		}
	}
}
