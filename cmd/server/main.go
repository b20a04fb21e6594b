// Package main is the entry point for the Fulcrum workflow orchestration service.
// It wires the durable task queue, the flow engine with its rollback handlers,
// the job scheduler, and the HTTP control plane, then runs until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fulcrumtrading/fulcrum/internal/config"
	"github.com/fulcrumtrading/fulcrum/internal/database"
	"github.com/fulcrumtrading/fulcrum/internal/flows"
	"github.com/fulcrumtrading/fulcrum/internal/orchestration"
	"github.com/fulcrumtrading/fulcrum/internal/queue"
	"github.com/fulcrumtrading/fulcrum/internal/reliability"
	"github.com/fulcrumtrading/fulcrum/internal/scheduler"
	"github.com/fulcrumtrading/fulcrum/internal/server"
	"github.com/fulcrumtrading/fulcrum/internal/services/backtest"
	"github.com/fulcrumtrading/fulcrum/internal/services/indicators"
	"github.com/fulcrumtrading/fulcrum/internal/services/marketdata"
	"github.com/fulcrumtrading/fulcrum/internal/services/plans"
	"github.com/fulcrumtrading/fulcrum/internal/services/positions"
	"github.com/fulcrumtrading/fulcrum/internal/services/sentiment"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
	"github.com/fulcrumtrading/fulcrum/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Fulcrum")

	// Task records use the durable profile so completed work survives power
	// loss. Market data is reproducible from upstream and uses the cache
	// profile for write throughput.
	tasksDB, err := openDatabase(cfg.DataDir, "tasks", database.ProfileDurable)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open tasks database")
	}
	defer tasksDB.Close()

	marketDB, err := openDatabase(cfg.DataDir, "marketdata", database.ProfileCache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market data database")
	}
	defer marketDB.Close()

	databases := []*database.DB{tasksDB, marketDB}

	// Market data layer: candle store, REST history source and optional
	// websocket quote feed.
	mdStore := marketdata.NewStore(marketDB.Conn(), log)
	candleSource := marketdata.NewCandleClient(cfg.MarketDataURL, log)

	var quoteFeed *marketdata.QuoteFeed
	if cfg.MarketFeedURL != "" && len(cfg.WatchSymbols) > 0 {
		quoteFeed = marketdata.NewQuoteFeed(cfg.MarketFeedURL, cfg.WatchSymbols, log)
		if err := quoteFeed.Start(); err != nil {
			log.Warn().Err(err).Msg("Quote feed failed to connect, continuing without live quotes")
		} else {
			defer func() {
				if err := quoteFeed.Stop(); err != nil {
					log.Error().Err(err).Msg("Error stopping quote feed")
				}
			}()
		}
	}

	mdService := marketdata.NewService(mdStore, candleSource, quoteFeed, log)
	indicatorService := indicators.NewService(mdStore, log)

	scorer := sentiment.NewClient(cfg.SentimentServiceURL, log)
	newsSource := sentiment.NewNewsClient(cfg.SentimentServiceURL, log)
	sentimentService := sentiment.NewService(scorer, newsSource, log)

	backtestService := backtest.NewService(mdStore, log)
	planService := plans.NewService(tasksDB.Conn(), log)
	positionService := positions.NewService(tasksDB.Conn(), log)

	// Flow engine with compensation handlers for every rollback action the
	// flows can record.
	engine := orchestration.NewEngine(log)
	flows.RegisterRollbackHandlers(engine, mdService, planService, positionService)

	// Durable task queue. Every task type dispatches into a flow so retries,
	// cancellation and rollback share one execution path.
	taskRepo := tasks.NewRepository(tasksDB.Conn(), log)
	processor := queue.NewProcessor(taskRepo, log, queue.Options{
		PollInterval:  cfg.QueuePollInterval,
		MaxConcurrent: cfg.QueueMaxConcurrent,
	})
	processor.RegisterHandler(tasks.TypeDataSync, queue.FlowHandler(engine, flows.NewDataCollectionFlow(mdService, indicatorService)))
	processor.RegisterHandler(tasks.TypeSentimentBatch, queue.FlowHandler(engine, flows.NewSentimentBatchFlow(sentimentService)))
	processor.RegisterHandler(tasks.TypeBacktest, queue.FlowHandler(engine, flows.NewBacktestFlow(backtestService)))
	processor.RegisterHandler(tasks.TypePlanGeneration, queue.FlowHandler(engine, flows.NewPlanGenerationFlow(sentimentService, planService)))
	processor.RegisterHandler(tasks.TypePositionUpdate, queue.FlowHandler(engine, flows.NewPositionUpdateFlow(positionService)))

	processor.Start()
	defer processor.Stop()
	log.Info().
		Int("max_concurrent", cfg.QueueMaxConcurrent).
		Dur("poll_interval", cfg.QueuePollInterval).
		Msg("Task processor started")

	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, taskRepo, processor, databases, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}
	sched.Start()
	defer sched.Stop()
	log.Info().Int("jobs", len(sched.ListJobs())).Msg("Scheduler started")

	srv := server.New(server.Config{
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Log:       log,
		TaskRepo:  taskRepo,
		Processor: processor,
		Scheduler: sched,
		Databases: databases,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// openDatabase opens and migrates one named database under the data directory.
func openDatabase(dataDir, name string, profile database.DatabaseProfile) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}
	return db, nil
}

// registerJobs wires the recurring background jobs: the nightly candle sync
// submitter, database maintenance, and the task history archive when object
// storage is configured.
func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, taskRepo *tasks.Repository, processor *queue.Processor, databases []*database.DB, log zerolog.Logger) error {
	if len(cfg.WatchSymbols) > 0 {
		symbols := make([]any, len(cfg.WatchSymbols))
		for i, s := range cfg.WatchSymbols {
			symbols[i] = s
		}
		dataSync := queue.NewSubmitterJob("scheduled_data_sync", taskRepo, processor, func() *tasks.Task {
			return &tasks.Task{
				Name:       "Nightly candle sync",
				Type:       tasks.TypeDataSync,
				Priority:   tasks.PriorityDefault,
				MaxRetries: 3,
				Params: map[string]any{
					"symbols":       symbols,
					"lookback_days": 7,
				},
				CreatedBy: "scheduler",
			}
		})
		if err := sched.RegisterJob(scheduler.JobConfig{
			ID:      "data_sync",
			Job:     dataSync,
			Trigger: scheduler.Trigger{Type: scheduler.TriggerCron, Cron: "0 1 * * *"},
		}); err != nil {
			return err
		}
	} else {
		log.Info().Msg("WATCH_SYMBOLS not set, scheduled data sync disabled")
	}

	maintenance := reliability.NewMaintenanceJob(databases, cfg.DataDir, log)
	if err := sched.RegisterJob(scheduler.JobConfig{
		ID:           "database_maintenance",
		Job:          maintenance,
		Trigger:      scheduler.Trigger{Type: scheduler.TriggerCron, Cron: "30 2 * * *"},
		MaxInstances: 1,
		Timeout:      10 * time.Minute,
	}); err != nil {
		return err
	}

	if cfg.Archive.Enabled {
		archiveSvc, err := reliability.NewArchiveService(context.Background(), cfg.Archive, taskRepo, log)
		if err != nil {
			return fmt.Errorf("failed to initialise task archive: %w", err)
		}
		if err := sched.RegisterJob(scheduler.JobConfig{
			ID:           "task_history_archive",
			Job:          reliability.NewArchiveJob(archiveSvc),
			Trigger:      scheduler.Trigger{Type: scheduler.TriggerCron, Cron: "0 3 * * *"},
			MaxInstances: 1,
			Timeout:      15 * time.Minute,
			MaxRetries:   1,
		}); err != nil {
			return err
		}
	}

	return nil
}
