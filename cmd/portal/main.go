package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/wifi-portal/internal/common"
	"github.com/example/wifi-portal/internal/events"
	"github.com/example/wifi-portal/internal/messaging"
	"github.com/example/wifi-portal/internal/portal"
	"github.com/example/wifi-portal/internal/store"
	"github.com/example/wifi-portal/internal/templates"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := common.LoadConfig("portal")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := common.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort, logger)
	defer metricsSrv.Shutdown(context.Background())

	deliveryCfg, err := messaging.LoadDeliveryConfig(cfg.DeliveryConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DeliveryConfigPath).Msg("load delivery config")
	}
	client, err := messaging.NewClient(deliveryCfg, &http.Client{Timeout: cfg.DeliveryTimeout})
	if err != nil {
		logger.Fatal().Err(err).Msg("build delivery client")
	}

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open verification store")
	}
	defer st.Close()

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.PortalEventsTopic, logger)
		defer writer.Close()
		publisher = events.NewKafkaPublisher(writer)
	}

	var pages fs.FS = templates.FS
	if cfg.TemplateDir != "" {
		pages = os.DirFS(cfg.TemplateDir)
	}

	p, err := portal.New(portal.OptionsFromConfig(cfg), portal.Deps{
		Templates: portal.FSTemplates{FS: pages},
		Store:     st,
		Sender:    client,
		Events:    publisher,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build portal")
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           p.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().
			Int("port", cfg.HTTPPort).
			Str("store", cfg.StoreDriver).
			Str("delivery_url", client.URL()).
			Msg("portal listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
