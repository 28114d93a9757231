package main

import (
	"context"
	"flag"

	"intradayetl/config"
	"intradayetl/internal/advisor"
	"intradayetl/internal/etl"
	"intradayetl/internal/notify"
	"intradayetl/internal/scheduler"
	"intradayetl/logger"
	"intradayetl/pkg/storage/postgres"
	"intradayetl/pkg/yahoo"

	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "run a single batch and exit, ignoring the cron schedule")
	flag.Parse()

	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx := context.Background()

	store, err := postgres.NewStore(cfg.Postgres, cfg.Log.Environment, cfg.Etl.MaxRetryAttempts, true, log)
	if err != nil {
		log.Fatal("failed to initialize store", zap.Error(err))
	}

	feed := yahoo.NewClient(cfg.Feed)
	delayAdvisor := buildAdvisor(ctx, cfg, log)
	notifier := notify.NewEmailNotifier(cfg.SMTP, log)

	extractor := etl.NewExtractor(store, feed, delayAdvisor, cfg.Etl, log)
	pipeline := etl.NewPipeline(store, extractor, notifier, log)

	if *once || cfg.Schedule.Cron == "" {
		pipeline.Run(ctx)
		return
	}

	sched := scheduler.New(log)
	if err := sched.Register(cfg.Schedule.Cron, func() { pipeline.Run(ctx) }); err != nil {
		log.Fatal("failed to register etl job", zap.Error(err))
	}
	sched.Start()

	select {}
}

// buildAdvisor picks the retry-delay strategy. The Gemini advisor needs
// an API key; everything else falls back to plain exponential backoff.
func buildAdvisor(ctx context.Context, cfg *config.Config, log *zap.Logger) etl.DelayAdvisor {
	if cfg.Advisor.Provider == "gemini" && cfg.Advisor.APIKey != "" {
		g, err := advisor.NewGemini(ctx, cfg.Advisor.APIKey, cfg.Advisor.Model, log)
		if err == nil {
			return g
		}
		log.Warn("failed to create gemini advisor, falling back to backoff", zap.Error(err))
	}
	return advisor.Exponential{Base: cfg.Etl.MinRetryTime}
}
