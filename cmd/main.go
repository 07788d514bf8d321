package main

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mokametrics-ingest/internal/app"
	"mokametrics-ingest/internal/config"
)

func main() {
	zcfg := zap.NewProductionConfig()
	logger, err := zcfg.Build(zap.AddStacktrace(zap.FatalLevel))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := config.LoadConfig()
	if err != nil {
		sugar.Fatalw("invalid configuration", "error", err)
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level.SetLevel(level)
	} else if cfg.LogLevel != "" {
		sugar.Warnw("unknown LOG_LEVEL, keeping info", "value", cfg.LogLevel)
	}

	ctx := context.Background()

	a, err := app.New(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalw("failed to start ingest service", "error", err)
	}

	sugar.Infow("mokametrics ingest starting",
		"brokers", cfg.KafkaBrokers,
		"group", cfg.KafkaGroupID,
		"topics", cfg.KafkaTopics,
		"http", cfg.HTTPAddr,
	)

	// blocks until SIGINT/SIGTERM
	a.Run(ctx)
}
