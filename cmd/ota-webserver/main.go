package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/taipham2710/OTA-Webserver/internal/cache"
	"github.com/taipham2710/OTA-Webserver/internal/config"
	"github.com/taipham2710/OTA-Webserver/internal/consumer"
	"github.com/taipham2710/OTA-Webserver/internal/features"
	"github.com/taipham2710/OTA-Webserver/internal/repository"
	"github.com/taipham2710/OTA-Webserver/internal/scoring"
	"github.com/taipham2710/OTA-Webserver/internal/service"

	"github.com/taipham2710/OTA-Webserver/internal/common/database"
	commonlogger "github.com/taipham2710/OTA-Webserver/internal/common/logger"
	mqttcommon "github.com/taipham2710/OTA-Webserver/internal/common/mqtt"
	rediscommon "github.com/taipham2710/OTA-Webserver/internal/common/redis"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := commonlogger.NewLogger(cfg.Log.Level, cfg.Log.Format, "ota-webserver")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting ota-webserver service",
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("scorer_url", cfg.Scorer.BaseURL),
		zap.String("telemetry_stream", cfg.Telemetry.Stream),
	)

	// 初始化 PostgreSQL
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer database.Close(db)

	// 初始化 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	defer redisClient.Close()

	// 初始化 MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer mqttClient.Disconnect()

	// 创建 Repository
	deviceRepo := repository.NewDeviceRepository(db, logger)
	telemetryRepo := repository.NewTelemetryRepository(db, logger)
	anomalyRepo := repository.NewAnomalyRepository(db, logger)
	firmwareRepo := repository.NewFirmwareRepository(db, logger)

	// 特征名列表：文件优先，否则使用内置参考列表
	featureNames := features.DefaultFeatureNames()
	if cfg.Anomaly.FeatureNamesFile != "" {
		featureNames, err = features.LoadFeatureNames(cfg.Anomaly.FeatureNamesFile)
		if err != nil {
			logger.Fatal("Failed to load feature names", zap.Error(err))
		}
	}

	builder, err := features.NewBuilder(telemetryRepo, featureNames, cfg.Anomaly.Window.Size, logger)
	if err != nil {
		logger.Fatal("Failed to create feature builder", zap.Error(err))
	}

	// 创建 Service
	scorer := scoring.NewClient(&cfg.Scorer, logger)
	stateCache := cache.NewStateCache(
		redisClient,
		cfg.Anomaly.Cache.StateKeyPrefix,
		cfg.Anomaly.Cache.StateSuffix,
		cfg.Anomaly.Cache.StateTTL,
		logger,
	)
	decisionEngine := service.NewDecisionEngine(deviceRepo, anomalyRepo, stateCache, builder, scorer, logger)
	app := service.NewApp(
		decisionEngine,
		service.NewMonitor(anomalyRepo, logger),
		service.NewTrendService(anomalyRepo, logger),
		service.NewFirmwareService(deviceRepo, firmwareRepo, decisionEngine, logger),
		service.NewExportService(anomalyRepo, logger),
	)
	logger.Info("Service layer initialized",
		zap.Int("feature_count", len(builder.FeatureNames())),
		zap.Strings("components", app.Components()),
	)

	// 创建消费者
	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, redisClient, logger)
	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, telemetryRepo, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 在 goroutine 中启动消费者
	go func() {
		if err := mqttConsumer.Start(ctx); err != nil {
			logger.Fatal("Failed to start MQTT consumer", zap.Error(err))
		}
	}()
	go func() {
		if err := streamConsumer.Start(ctx); err != nil {
			logger.Fatal("Failed to start stream consumer", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := mqttConsumer.Stop(context.Background()); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
