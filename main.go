package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/dnldd/candlebot/service"
	"github.com/rs/zerolog/log"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Error().Err(err).Msg("loading config")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.NewService(ctx, &service.Config{
		Address:        cfg.ListenAddr,
		Version:        cfg.Version,
		AuthToken:      cfg.AuthToken,
		DataDir:        cfg.DataDir,
		CrawlerURL:     cfg.CrawlerURL,
		ReportDir:      cfg.ReportDir,
		DBEndpoint:     cfg.DBEndpoint,
		DBUser:         cfg.DBUser,
		DBPass:         cfg.DBPass,
		BotFile:        cfg.BotFile,
		StatusInterval: cfg.StatusInterval,
		Cancel:         cancel,
	})
	if err != nil {
		log.Error().Err(err).Msg("creating candlebot service")
		cancel()
		os.Exit(1)
	}

	go handleTermination(ctx, cancel)
	svc.Run(ctx)
}
