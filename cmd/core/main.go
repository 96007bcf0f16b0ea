// cmd/core is the composition root for the conversational-commerce core.
// It wires every concrete adapter this repo owns — Redis, Mongo, MySQL,
// RabbitMQ — behind the component constructors, and keeps the menu cache's
// background refresh alive. The LLM provider port stays unconfigured here:
// see provider.go.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/config"
)

func main() {
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed_to_load_config")
	}
	log.Info().Str("environment", cfg.Environment).Int("accounts_configured", len(cfg.Accounts)).Msg("config_loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := New(ctx, cfg, unconfiguredProvider{}, unconfiguredProvider{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed_to_wire_app")
	}
	log.Info().Msg("core_wired")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown_signal_received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	app.Close(shutdownCtx)
	log.Info().Msg("core_shutdown_complete")
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if os.Getenv("ENVIRONMENT") == "production" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func logCloseErr(component string, err error) {
	log.Error().Err(err).Str("component", component).Msg("close_failed")
}
