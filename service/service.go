package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dnldd/candlebot/bot"
	"github.com/dnldd/candlebot/database"
	"github.com/dnldd/candlebot/exchange"
	"github.com/dnldd/candlebot/fetch"
	"github.com/dnldd/candlebot/rpc"
	"github.com/dnldd/candlebot/shared"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	// bootSubscriber is the hub id of the boot bot event logger.
	bootSubscriber = "boot"
	// shutdownTimeout is the grace period for running bots on shutdown.
	shutdownTimeout = 10 * time.Second
)

// Config represents the configuration struct for the candlebot service.
type Config struct {
	// Address is the websocket listen address.
	Address string
	// Version is the api version.
	Version string
	// AuthToken is the access token granted bot permissions.
	AuthToken string
	// DataDir is the historic candle data directory.
	DataDir string
	// CrawlerURL is the optional crawler host, it replaces historic data when set.
	CrawlerURL string
	// ReportDir is the optional transaction report directory.
	ReportDir string
	// DBEndpoint is the optional rqlite endpoint transactions are stored to.
	DBEndpoint string
	// DBUser is the database user.
	DBUser string
	// DBPass is the database user pass.
	DBPass string
	// BotFile is the optional bot file run at boot.
	BotFile string
	// StatusInterval is the number of seconds between bot status logs.
	StatusInterval int
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.Address == "" {
		errs = errors.Join(errs, fmt.Errorf("address cannot be an empty string"))
	}
	if cfg.Version == "" {
		errs = errors.Join(errs, fmt.Errorf("version cannot be an empty string"))
	}
	if cfg.AuthToken == "" {
		errs = errors.Join(errs, fmt.Errorf("auth token cannot be an empty string"))
	}
	if cfg.DataDir == "" && cfg.CrawlerURL == "" {
		errs = errors.Join(errs, fmt.Errorf("either a data directory or a crawler url is required"))
	}
	if cfg.StatusInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("status interval must be positive"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}

	return errs
}

// Service runs bots and serves them to websocket clients.
type Service struct {
	cfg       *Config
	hub       *bot.Hub
	registry  *bot.Registry
	server    *rpc.Server
	scheduler *gocron.Scheduler
	boot      *bot.File
	logger    *zerolog.Logger
	wg        sync.WaitGroup
}

// NewService initializes a new candlebot service.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "candlebot").Logger()

	var err error
	var boot *bot.File
	if cfg.BotFile != "" {
		boot, err = bot.LoadFile(cfg.BotFile)
		if err != nil {
			return nil, fmt.Errorf("loading bot file: %w", err)
		}
	}

	hubLogger := logger.With().Str("component", "hub").Logger()
	hub, err := bot.NewHub(&bot.HubConfig{Logger: &hubLogger})
	if err != nil {
		return nil, fmt.Errorf("creating hub: %w", err)
	}

	sourceLogger := logger.With().Str("component", "source").Logger()
	sources := fetch.NewHistoricSourceFactory(cfg.DataDir, &sourceLogger)
	if cfg.CrawlerURL != "" {
		sources = fetch.NewCrawlerSourceFactory(cfg.CrawlerURL, cfg.AuthToken)
	}

	var persist func(ctx context.Context, bot string, run string, tx shared.Transaction) error
	if cfg.DBEndpoint != "" {
		storeLogger := logger.With().Str("component", "store").Logger()
		store, err := database.NewStore(ctx, &database.StoreConfig{
			Endpoint: cfg.DBEndpoint,
			User:     cfg.DBUser,
			Pass:     cfg.DBPass,
			Logger:   &storeLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating store: %w", err)
		}
		persist = store.PersistTransaction
	}

	var report func(bot string, run string, txs []shared.Transaction, summary exchange.Summary) error
	if cfg.ReportDir != "" {
		report = func(botName string, run string, txs []shared.Transaction, summary exchange.Summary) error {
			path := filepath.Join(cfg.ReportDir, database.ReportFileName(botName, run))
			err := database.WriteTransactionsCSV(path, txs)
			if err != nil {
				return err
			}

			summaryPath := filepath.Join(cfg.ReportDir, database.SummaryFileName(botName, run))
			err = database.WriteSummaryCSV(summaryPath, summary)
			if err != nil {
				return err
			}

			logger.Info().Msgf("wrote %d %s transactions to %s, summary to %s", len(txs),
				botName, path, summaryPath)
			return nil
		}
	}

	registryLogger := logger.With().Str("component", "registry").Logger()
	registry, err := bot.NewRegistry(&bot.RegistryConfig{
		Sources:            sources,
		Strategies:         bot.DefaultStrategies(),
		Broadcast:          hub.Broadcast,
		PersistTransaction: persist,
		ReportTransactions: report,
		Logger:             &registryLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}

	dispatcherLogger := logger.With().Str("component", "dispatcher").Logger()
	dispatcher, err := rpc.NewDispatcher(&rpc.DispatcherConfig{
		Registry: registry,
		Hub:      hub,
		Authorizer: rpc.NewStaticAuthorizer(map[string][]string{
			cfg.AuthToken: {rpc.PermissionLevel01},
		}),
		Version: cfg.Version,
		Logger:  &dispatcherLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	serverLogger := logger.With().Str("component", "server").Logger()
	server, err := rpc.NewServer(&rpc.ServerConfig{
		Address:    cfg.Address,
		Version:    cfg.Version,
		Dispatcher: dispatcher,
		Hub:        hub,
		Logger:     &serverLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	svc := &Service{
		cfg:       cfg,
		hub:       hub,
		registry:  registry,
		server:    server,
		scheduler: gocron.NewScheduler(time.UTC),
		boot:      boot,
		logger:    &logger,
	}

	_, err = svc.scheduler.Every(cfg.StatusInterval).Seconds().Do(svc.logStatus)
	if err != nil {
		return nil, fmt.Errorf("scheduling status job: %w", err)
	}

	return svc, nil
}

// Registry returns the bot registry of the service.
func (s *Service) Registry() *bot.Registry {
	return s.registry
}

// logStatus logs the number of bots per state.
func (s *Service) logStatus() {
	summary := s.registry.Summary()
	s.logger.Info().Msgf("bots: %d yet, %d doing, %d done", summary[bot.Yet],
		summary[bot.Doing], summary[bot.Done])
}

// runBoot creates and runs the boot bot, cancelling the service once it is done.
func (s *Service) runBoot(ctx context.Context) {
	defer s.cfg.Cancel()

	name := s.boot.Name
	sub := bot.NewSubscriber(bootSubscriber)
	err := s.hub.Register(sub)
	if err != nil {
		s.logger.Error().Err(err).Msg("registering boot subscriber")
		return
	}
	defer s.hub.Unregister(bootSubscriber)

	err = s.registry.Create(name, s.boot.Config)
	if err != nil {
		s.logger.Error().Err(err).Msgf("creating boot bot %s", name)
		return
	}

	err = s.hub.Join(name, bootSubscriber)
	if err != nil {
		s.logger.Error().Err(err).Msgf("subscribing to boot bot %s", name)
		return
	}

	logCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			event, err := sub.Next(logCtx)
			if err != nil {
				return
			}
			s.logger.Info().Msgf("%s: %s %v", event.Bot, event.Kind, event.Data())
		}
	}()

	err = s.registry.Start(ctx, name)
	if err != nil {
		s.logger.Error().Err(err).Msgf("starting boot bot %s", name)
		return
	}

	status, err := s.registry.Wait(ctx, name)
	if err != nil {
		s.logger.Error().Err(err).Msgf("waiting on boot bot %s", name)
		return
	}

	s.logger.Info().Msgf("boot bot %s done after %d ticks", name, status.Progress)
	if status.Err != "" {
		s.logger.Error().Msgf("boot bot %s failed: %s", name, status.Err)
	}
}

// Run handles the lifecycle processes of the candlebot service.
func (s *Service) Run(ctx context.Context) {
	s.scheduler.StartAsync()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.server.Run(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("websocket server failed")
			s.cfg.Cancel()
		}
	}()

	if s.boot != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runBoot(ctx)
		}()
	}

	<-ctx.Done()

	s.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.registry.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Error().Err(err).Msg("shutting down bots")
	}

	s.wg.Wait()
}
