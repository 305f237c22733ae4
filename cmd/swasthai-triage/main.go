package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swasthai-triage/common/database"
	"swasthai-triage/common/logger"
	mqttcommon "swasthai-triage/common/mqtt"
	rediscommon "swasthai-triage/common/redis"
	"swasthai-triage/internal/classifier"
	"swasthai-triage/internal/config"
	httpapi "swasthai-triage/internal/http"
	"swasthai-triage/internal/notify"
	"swasthai-triage/internal/repository"
	"swasthai-triage/internal/service"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "swasthai-triage")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 存储：数据库不可用时退回内存存储
	var db *sql.DB
	var repo repository.IntakeEventsRepository
	if cfg.DatabaseEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err != nil {
			log.Warn("DB enabled but connection failed, falling back to memory store", zap.Error(err))
		} else if err := repository.EnsureSchema(ctx, d); err != nil {
			log.Warn("Failed to ensure schema, falling back to memory store", zap.Error(err))
			database.Close(d)
		} else {
			db = d
			repo = repository.NewPostgresIntakeEventsRepo(db, log)
			log.Info("Postgres intake store enabled", zap.String("host", cfg.Database.Host))
		}
	}
	if repo == nil {
		repo = repository.NewMemoryIntakeEventsRepo(time.Now)
		log.Warn("Using in-memory intake store, events are lost on restart")
	}
	defer database.Close(db)

	// 4. 通知：每个实例用自己的消费者组读取 Redis stream，收到的变更推给本实例的 websocket hub
	hub := notify.NewHub()
	var publishers notify.Multi
	var redisClient *redis.Client
	var subscriber *notify.StreamSubscriber
	if cfg.RedisEnabled {
		client := rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, client); err != nil {
			log.Warn("Redis enabled but ping failed, notifying local hub only", zap.Error(err))
			rediscommon.Close(client)
		} else {
			redisClient = client
			publishers = append(publishers, notify.NewRedisStreamPublisher(redisClient, cfg.Notify.Stream, cfg.Notify.StreamMaxLen, log))
			subscriber = notify.NewStreamSubscriber(redisClient, cfg.Notify.Stream, cfg.Notify.ConsumerGroup, cfg.Notify.ConsumerName, hub, log)
			log.Info("Change stream subscription", zap.String("consumer_group", subscriber.Group()))
		}
	}
	if subscriber == nil {
		publishers = append(publishers, hub)
	}
	defer rediscommon.Close(redisClient)

	if cfg.MQTTEnabled {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Warn("MQTT enabled but connect failed, waiting-room display disabled", zap.Error(err))
		} else {
			defer mqttClient.Disconnect()
			publishers = append(publishers, notify.NewMQTTPublisher(mqttClient, cfg.Notify.MQTTTopic, log))
		}
	}

	// 5. 分诊服务
	engine, err := classifier.NewEngine(cfg.Triage.Thresholds)
	if err != nil {
		log.Fatal("Invalid triage thresholds", zap.String("rules_file", cfg.Triage.RulesFile), zap.Error(err))
	}
	outbox := service.NewOutbox(repo, publishers, log)
	svc := service.NewTriageService(repo, engine, publishers, outbox, log)
	svc.SetExportLocation(cfg.Triage.ExportLocation)

	// 6. HTTP 路由
	router := httpapi.NewRouter(log, cfg.HTTP.CORSOrigins)
	router.RegisterTriageRoutes(
		httpapi.NewTriageHandler(svc, log),
		httpapi.NewQueueFeed(svc, hub, cfg.HTTP.CORSOrigins, log),
	)
	router.RegisterDoctorRoutes(httpapi.NewDoctorHandler(db, redisClient, outbox.Pending, log))
	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	// 7. 启动
	errChan := make(chan error, 3)
	go func() {
		if err := outbox.Run(ctx); err != nil {
			errChan <- fmt.Errorf("outbox: %w", err)
		}
	}()
	if subscriber != nil {
		go func() {
			if err := subscriber.Run(ctx); err != nil {
				errChan <- fmt.Errorf("stream subscriber: %w", err)
			}
		}()
	}
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	log.Info("Triage service started",
		zap.String("addr", cfg.HTTP.Addr),
		zap.Bool("database", db != nil),
		zap.Bool("redis", redisClient != nil),
		zap.Int("publishers", len(publishers)),
	)

	// 8. 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("Service error", zap.Error(err))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop http server", zap.Error(err))
	}
	if n := outbox.Pending(); n > 0 {
		log.Warn("Shutting down with unsaved intake events", zap.Int("pending", n))
	}

	log.Info("Triage service stopped")
}
