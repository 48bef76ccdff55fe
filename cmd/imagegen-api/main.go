package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/api/handler"
	"github.com/cuongbtq/imagegen-api/internal/api/router"
	"github.com/cuongbtq/imagegen-api/internal/api/service"
	"github.com/cuongbtq/imagegen-api/internal/artifact"
	"github.com/cuongbtq/imagegen-api/internal/config"
	"github.com/cuongbtq/imagegen-api/internal/engine"
	"github.com/cuongbtq/imagegen-api/internal/notifier"
	"github.com/cuongbtq/imagegen-api/internal/storage"
	"github.com/cuongbtq/imagegen-api/internal/worker"
	"github.com/cuongbtq/imagegen-api/shared/logger"
	"github.com/cuongbtq/imagegen-api/shared/minio"
	"github.com/cuongbtq/imagegen-api/shared/postgresql"
	"github.com/cuongbtq/imagegen-api/shared/rabbitmq"
	"github.com/cuongbtq/imagegen-api/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// resources collects everything that must be closed on exit
type resources struct {
	closers []io.Closer
	checks  map[string]handler.HealthCheck
}

func (r *resources) add(name string, c io.Closer, check handler.HealthCheck) {
	r.closers = append(r.closers, c)
	if check != nil {
		r.checks[name] = check
	}
}

func (r *resources) close(logger *slog.Logger) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			logger.Error("Failed to close resource", slog.Any("error", err))
		}
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("IMAGEGEN_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting image generation service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := &resources{checks: map[string]handler.HealthCheck{}}
	defer res.close(appLogger.Logger)

	store, err := initStore(ctx, cfg, appLogger, res)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}

	eng, err := initEngine(&cfg.Engine, appLogger.WithComponent("engine"))
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	sink, err := initArtifacts(ctx, cfg, appLogger.Logger, res)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact sink: %w", err)
	}

	events, err := initEvents(&cfg.Events, appLogger.Logger, res)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	notif := notifier.New(&notifier.Config{
		Logger:    appLogger.WithComponent("notifier"),
		Timeout:   cfg.Callback.Timeout,
		UserAgent: cfg.Callback.UserAgent,
		Events:    events,
	})

	w := worker.NewWorker(&worker.Config{
		Logger:        appLogger.WithComponent("worker"),
		Store:         store,
		Engine:        eng,
		Artifacts:     sink,
		Notifier:      notif,
		Concurrency:   cfg.Worker.Concurrency,
		QueueCapacity: cfg.Worker.QueueCapacity,
		JobTimeout:    cfg.Worker.JobTimeout,
		Seed:          engine.FixedSeed(*cfg.Worker.Seed),
		WorkerID:      cfg.App.Name,
	})
	// Generations outlive the signal context; Shutdown decides when to cancel them.
	w.Start(context.Background())

	r := initRouter(cfg, appLogger.Logger, &handler.Dependencies{
		Logger:      appLogger.WithComponent("api"),
		Jobs:        service.NewJobService(store, w, appLogger.WithComponent("service")),
		Engine:      eng,
		Dispatcher:  w,
		Checks:      res.checks,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if sweeper, ok := store.(storage.Sweeper); ok {
		g.Go(func() error {
			storage.RunJanitor(gctx, sweeper, cfg.Storage.Retention, cfg.Storage.SweepInterval, appLogger.WithComponent("janitor"))
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return shutdown(cfg, appLogger.Logger, srv, w, notif)
	})

	return g.Wait()
}

// shutdown stops intake first, then drains the dispatcher and in-flight callbacks
func shutdown(cfg *config.Config, logger *slog.Logger, srv *http.Server, w *worker.Worker, notif *notifier.Notifier) error {
	logger.Info("Shutting down server...")

	srvCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(srvCtx); err != nil {
		logger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	workerCtx, cancelWorker := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancelWorker()
	if err := w.Shutdown(workerCtx); err != nil {
		logger.Warn("Worker did not drain before timeout", slog.Any("error", err))
	}

	callbackCtx, cancelCallbacks := context.WithTimeout(context.Background(), cfg.Callback.Timeout)
	defer cancelCallbacks()
	if err := notif.Wait(callbackCtx); err != nil {
		logger.Warn("Pending callbacks abandoned", slog.Any("error", err))
	}

	logger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		NoColor:      cfg.NoColor,
		TimeFormat:   time.RFC3339,
	})
}

// initStore builds the configured job store backend
func initStore(ctx context.Context, cfg *config.Config, appLogger *logger.Logger, res *resources) (storage.Store, error) {
	storeLogger := appLogger.WithComponent("storage")

	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db := cfg.Database
		client, err := postgresql.NewClient(ctx, &postgresql.Config{
			Host:            db.Host,
			Port:            db.Port,
			User:            db.User,
			Password:        db.Password,
			Database:        db.Database,
			SSLMode:         db.SSLMode,
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
			ConnMaxIdleTime: db.ConnMaxIdleTime,
		}, appLogger.Logger)
		if err != nil {
			return nil, err
		}
		res.add("postgres", client, client.HealthCheck)

		store := storage.NewPostgresStore(client.GetDB(), storeLogger, storage.Options{})
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case config.StorageRedis:
		rc := cfg.Redis
		client, err := redis.NewClient(&redis.Config{
			Host:         rc.Host,
			Port:         rc.Port,
			Password:     rc.Password,
			Database:     rc.Database,
			DialTimeout:  rc.DialTimeout,
			ReadTimeout:  rc.ReadTimeout,
			WriteTimeout: rc.WriteTimeout,
			PoolSize:     rc.PoolSize,
		}, appLogger.Logger)
		if err != nil {
			return nil, err
		}
		res.add("redis", client, client.HealthCheck)
		return storage.NewRedisStore(client.GetClient(), storeLogger, cfg.Storage.Retention, storage.Options{}), nil

	default:
		return storage.NewMemoryStore(storage.Options{}), nil
	}
}

// initEngine builds the configured generation engine
func initEngine(cfg *config.EngineConfig, logger *slog.Logger) (engine.Engine, error) {
	if cfg.Driver == config.EngineRemote {
		return engine.NewRemoteEngine(engine.RemoteOptions{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Device:  cfg.Device,
			DType:   cfg.DType,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
	}
	return engine.NewPlaceholderEngine(cfg.Delay), nil
}

// initArtifacts builds the configured artifact sink
func initArtifacts(ctx context.Context, cfg *config.Config, logger *slog.Logger, res *resources) (artifact.Sink, error) {
	if cfg.Artifact.Driver != config.ArtifactMinio {
		return artifact.InlineSink{}, nil
	}

	m := cfg.Minio
	client, err := minio.NewClient(ctx, &minio.Config{
		Endpoint:  m.Endpoint,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		UseSSL:    m.UseSSL,
		Region:    m.Region,
		Bucket:    m.Bucket,
	}, logger)
	if err != nil {
		return nil, err
	}
	res.checks["minio"] = client.HealthCheck

	return artifact.NewObjectSink(client, cfg.Artifact.Prefix, cfg.Artifact.PresignExpiry), nil
}

// initEvents connects the completion event publisher when enabled
func initEvents(cfg *config.EventsConfig, logger *slog.Logger, res *resources) (notifier.Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rc := cfg.RabbitMQ
	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:              rc.Host,
		Port:              rc.Port,
		User:              rc.User,
		Password:          rc.Password,
		VHost:             rc.VHost,
		ExchangeName:      rc.Exchange,
		ExchangeType:      rc.ExchangeType,
		ExchangeDurable:   true,
		QueueName:         rc.Queue,
		QueueDurable:      true,
		RoutingKey:        rc.RoutingKey,
		RetryAttempts:     rc.RetryAttempts,
		RetryInterval:     rc.RetryInterval,
		Heartbeat:         rc.Heartbeat,
		PublishRetries:    rc.PublishRetries,
		PublishRetryDelay: rc.PublishRetryDelay,
	}, logger)
	if err != nil {
		return nil, err
	}
	res.add("rabbitmq", client, func(ctx context.Context) error {
		if !client.IsConnected() {
			return rabbitmq.ErrNotConnected
		}
		return nil
	})

	return client, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger.Debug("Registering routes")
	return router.SetupRouter(deps)
}
