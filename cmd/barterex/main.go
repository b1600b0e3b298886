package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Aidin1998/barterex/api"
	"github.com/Aidin1998/barterex/internal/bookkeeper"
	"github.com/Aidin1998/barterex/internal/config"
	"github.com/Aidin1998/barterex/internal/database"
	"github.com/Aidin1998/barterex/internal/messaging"
	"github.com/Aidin1998/barterex/internal/store/gormstore"
	"github.com/Aidin1998/barterex/internal/trading"
	"github.com/Aidin1998/barterex/pkg/logger"
	"github.com/Aidin1998/barterex/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *printConfig {
		if err := cfg.WriteYAML(os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "barterex",
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		zapLogger.Fatal("Failed to set up telemetry", zap.Error(err))
	}

	db, err := database.Open(cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}
	go database.CollectPoolMetrics(ctx, cfg.Database.Driver, db, 15*time.Second, zapLogger)

	isolation, _ := cfg.Database.IsolationLevel() // checked by Validate
	st := gormstore.New(db,
		gormstore.WithIsolation(isolation),
		gormstore.WithLogger(zapLogger.Named("store")),
	)

	var publisher messaging.FillPublisher = messaging.NopPublisher{}
	if cfg.Kafka.Enabled {
		publisher = messaging.NewKafkaPublisher(cfg.Kafka, zapLogger.Named("messaging"))
	}

	bank := bookkeeper.NewService(zapLogger.Named("bookkeeper"), st)
	engine := trading.NewEngine(zapLogger.Named("trading"), st, trading.WithPublisher(publisher))
	apiServer := api.NewServer(zapLogger, bank, engine, cfg)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		zapLogger.Error("Failed to close fill publisher", zap.Error(err))
	}
	if err := st.Close(); err != nil {
		zapLogger.Error("Failed to close database", zap.Error(err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		zapLogger.Error("Failed to flush telemetry", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
