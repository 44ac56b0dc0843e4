package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/snaphub-notify/internal/application/notification"
	"github.com/snaphub-notify/internal/config"
	"github.com/snaphub-notify/internal/infrastructure/backend"
	"github.com/snaphub-notify/internal/infrastructure/dynamo"
	"github.com/snaphub-notify/internal/infrastructure/events"
	jwtinfra "github.com/snaphub-notify/internal/infrastructure/jwt"
	"github.com/snaphub-notify/internal/infrastructure/memstore"
	"github.com/snaphub-notify/internal/infrastructure/redisstore"
	"github.com/snaphub-notify/internal/pkg/logger"
	"github.com/snaphub-notify/internal/pkg/validate"
	transporthttp "github.com/snaphub-notify/internal/transport/http"
	"github.com/snaphub-notify/internal/transport/http/handler"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	if err := validate.Struct(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, ready, closeStore, err := openReadStateStore(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("open read state store", zap.String("backend", cfg.ReadStateBackend), zap.Error(err))
	}
	defer closeStore()

	// JWT provider (optional: without it every authenticated route is refused).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		zl.Warn("JWT provider not available", zap.Error(err))
	}

	// SNS status-change events (optional).
	var publisher notification.ChangePublisher
	if cfg.SNSTopicARN != "" {
		p, err := events.NewSNSPublisher(ctx, cfg)
		if err != nil {
			zl.Warn("SNS publisher not available", zap.Error(err))
		} else {
			publisher = p
		}
	}

	svc := notification.NewService(notification.ServiceDeps{
		Source:    backend.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout, cfg.BackendMaxRetries),
		Store:     store,
		Publisher: publisher,
		Logger:    zl,
	})

	router := transporthttp.NewRouter(ctx, cfg, &transporthttp.Deps{
		Notifications: svc,
		JWTProvider:   jwtProvider,
		Logger:        zl,
		Ready:         ready,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("server starting",
			zap.String("port", cfg.AppPort),
			zap.String("env", cfg.AppEnv),
			zap.String("read_state_backend", cfg.ReadStateBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	zl.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("forced shutdown", zap.Error(err))
		os.Exit(1)
	}
	zl.Info("server stopped")
}

// openReadStateStore builds the store selected by cfg.ReadStateBackend along
// with its readiness probe and a close func.
func openReadStateStore(ctx context.Context, cfg *config.Config, zl *zap.Logger) (notification.ReadStateStore, handler.ReadyCheck, func(), error) {
	switch cfg.ReadStateBackend {
	case config.BackendMemory:
		return memstore.NewReadStateStore(), nil, func() {}, nil

	case config.BackendRedis:
		rdb := redisstore.NewClient(redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		ready := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		return redisstore.NewReadStateStore(rdb, zl), ready, func() { _ = rdb.Close() }, nil

	default:
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		// Creates the table if it doesn't exist.
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables, zl)
		ready := func(ctx context.Context) error {
			_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
				TableName: aws.String(cfg.DynamoTables.ReadStates),
			})
			return err
		}
		return dynamo.NewReadStateRepo(client, cfg.DynamoTables.ReadStates, zl), ready, func() {}, nil
	}
}
