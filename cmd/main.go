package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"appmarket/internal/auth"
	"appmarket/internal/bus"
	"appmarket/internal/config"
	"appmarket/internal/events"
	"appmarket/internal/handler"
	"appmarket/internal/imaging/vips"
	"appmarket/internal/logger"
	"appmarket/internal/repository"
	"appmarket/internal/scan"
	"appmarket/internal/service"
	"appmarket/internal/storage"
	"appmarket/internal/worker"
)

func newStorage(conf config.StorageConfig) (storage.Storage, error) {
	switch conf.Driver {
	case "s3", "":
		return storage.NewS3Client(conf)
	case "minio":
		return storage.NewMinioClient(conf)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", conf.Driver)
	}
}

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = ".app.env"
	}

	// Загружаем конфигурацию
	cfg, err := config.NewConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Log.Level, cfg.Log.File)

	if err := run(cfg); err != nil {
		logger.Logger.Fatal().Err(err).Msg("service stopped with error")
	}
	logger.Logger.Info().Msg("service exited properly")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Component("main")
	log.Info().Strs("roles", cfg.Server.Roles).Msg("starting")

	// Подключаемся к базе данных
	db, err := repository.Connect(cfg.Database, 5, 5*time.Second)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.RunMigrations(cfg.Server.MigrationsPath, cfg.Database.GetURL()); err != nil {
		return err
	}
	store := repository.NewStore(db)

	objects, err := newStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	mover := storage.NewMover(objects, cfg.Storage.CopyPollAttempts, cfg.Storage.CopyPollInterval)

	redisClient, err := bus.NewRedisClient(ctx, cfg.Bus)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	publisher := bus.NewPublisher(redisClient, cfg.Bus)

	aggregator := service.NewStatusAggregator()
	publication := service.NewPublicationService(store, mover, publisher, aggregator)
	reconciler := service.NewReconcileService(store, objects, mover, publication)

	// Все потребители процесса делят один пул обработчиков
	sem := semaphore.NewWeighted(int64(cfg.Worker.Concurrency))
	consume := func(g *errgroup.Group, topic string, h bus.Handler) {
		c := bus.NewConsumer(redisClient, cfg.Bus, topic, sem, h)
		g.Go(func() error {
			return c.Run(ctx)
		})
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.HasRole("validator") {
		validator := worker.NewPackageValidator(objects, mover, scan.NewClient(cfg.Scan), publisher, cfg.Limits)
		consume(g, events.TopicFileValidation, validator.Handle)
	}
	if cfg.HasRole("screenshots") {
		screenshots := worker.NewScreenshotValidator(objects, mover, vips.NewProcessor(), publisher, cfg.Limits)
		consume(g, events.TopicScreenshotValidation, screenshots.Handle)
	}
	if cfg.HasRole("coordinator") {
		coordinator := service.NewResultCoordinator(store, aggregator)
		consume(g, events.TopicValidationOutcomes, coordinator.Handle)
	}
	if cfg.HasRole("reconciler") {
		g.Go(func() error {
			return reconciler.Start(ctx, cfg.Reconcile.Schedule)
		})
	}

	if cfg.HasRole("api") {
		router := handler.NewRouter(handler.Handlers{
			Submissions: handler.NewSubmissionHandler(service.NewSubmissionService(store, objects, publisher)),
			Apps:        handler.NewAppHandler(service.NewCatalogService(store, aggregator)),
			Admin:       handler.NewAdminHandler(publication, reconciler),
		}, auth.NewVerifier(cfg.Auth.JWTSecret), time.Minute)

		httpServer := &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			log.Info().Str("port", cfg.Server.Port).Msg("starting HTTP server")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-ctx.Done()
			log.Info().Msg("shutting down HTTP server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("HTTP server forced to shutdown")
			}
			return nil
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
