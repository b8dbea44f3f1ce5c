package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortex-x/go-cardlink-client/internal/api"
	"github.com/cortex-x/go-cardlink-client/internal/client"
	"github.com/cortex-x/go-cardlink-client/internal/config"
	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/cortex-x/go-cardlink-client/internal/infra/smartcard"
	"github.com/cortex-x/go-cardlink-client/internal/infra/websocket"
	"github.com/cortex-x/go-cardlink-client/internal/logging"
	"github.com/cortex-x/go-cardlink-client/internal/session"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Configure("info")
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Configure(cfg.Log.Level)

	// Initialize card reader
	var cards domain.CardStack
	stack, err := smartcard.NewPCSCStack(cfg.Smartcard.PollInterval)
	if err != nil {
		// Continue running, activations report the missing stack
		log.Warn().Err(err).Msg("failed to initialize card reader")
		cards = smartcard.Unavailable{Err: err}
	} else {
		cards = stack
	}

	hub := websocket.NewHub()
	interaction := api.NewHubInteraction(hub)
	hub.OnInbound(interaction.Deliver)

	manager := client.NewManager(client.OptionsFromConfig(cfg), cards)
	controller := api.NewController(hub)
	guard := session.NewGuard(manager, interaction, controller)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Create and start server
	server := api.NewServer(cfg, hub, guard, controller)

	// Start server in a goroutine
	go func() {
		if err := server.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down agent")

	guard.Destroy()
	if err := manager.Close(); err != nil {
		log.Warn().Err(err).Msg("closing cardlink client")
	}
	if stack != nil {
		if err := stack.Close(); err != nil {
			log.Warn().Err(err).Msg("releasing PC/SC context")
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	stop()

	log.Info().Msg("agent exited")
}
