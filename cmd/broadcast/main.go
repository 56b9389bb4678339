package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/wifi-portal/internal/common"
	"github.com/example/wifi-portal/internal/messaging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := common.LoadConfig("broadcast")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var (
		template = flag.String("template", "hello_world", "approved template name")
		locale   = flag.String("locale", messaging.DefaultTemplateLocale, "template language code")
		kind     = flag.String("type", messaging.TypeTemplate, "message type: template or text")
		text     = flag.String("text", "", "message body for non-template types")
		limit    = flag.Int("limit", 0, "stop after this many sends (0 = all recipients)")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: broadcast [flags] PHONE [PHONE...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, err := common.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	recipients := flag.Args()
	if len(recipients) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var content *string
	if *text != "" {
		content = text
	}
	msg, err := messaging.NewTemplateMessage(recipients, *template, *locale, *kind, content)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid broadcast")
	}

	deliveryCfg, err := messaging.LoadDeliveryConfig(cfg.DeliveryConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DeliveryConfigPath).Msg("load delivery config")
	}
	client, err := messaging.NewClient(deliveryCfg, &http.Client{Timeout: cfg.DeliveryTimeout})
	if err != nil {
		logger.Fatal().Err(err).Msg("build delivery client")
	}

	sent := 0
	for resp, err := range client.Send(ctx, msg) {
		if err != nil {
			logger.Fatal().Err(err).Str("recipient", recipients[sent]).Int("sent", sent).Msg("broadcast aborted")
		}
		logger.Info().
			Str("recipient", messaging.NormalizeRecipient(recipients[sent])).
			Int("status", resp.StatusCode).
			Str("response", strings.TrimSpace(string(resp.Body))).
			Msg("message sent")
		sent++
		if *limit > 0 && sent >= *limit {
			break
		}
	}
	logger.Info().Int("sent", sent).Int("recipients", len(recipients)).Msg("broadcast finished")
}
