package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/totegamma/examwatch/internal/config"
	"github.com/totegamma/examwatch/internal/infra/database"
	"github.com/totegamma/examwatch/internal/infra/directory"
	"github.com/totegamma/examwatch/internal/infra/metrics"
	"github.com/totegamma/examwatch/internal/infra/repository"
	"github.com/totegamma/examwatch/internal/infra/tracing"
	"github.com/totegamma/examwatch/internal/present/rest"
	"github.com/totegamma/examwatch/internal/service"
	"github.com/totegamma/examwatch/internal/usecase"
)

const serviceName = "examwatch"

func main() {
	configPath := flag.String("config", os.Getenv("EXAMWATCH_CONFIG"), "path to config.yaml")
	flag.Parse()

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	conf, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(conf.Server.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		shutdown, err := tracing.Setup(ctx, serviceName, conf.Server.TraceEndpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up tracing")
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(flushCtx)
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(conf.Server.EnableMetrics, registry)

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	if err := database.MigratePostgres(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, "", conf.Server.RedisDB)
	mc := database.NewMemcached(conf.Server.MemcachedAddr)

	manager := directory.NewManager(
		directory.NewLDAPDialer(conf.Directory.URL, conf.Directory.DialTimeout),
		directory.Options{
			BindDN:            conf.Directory.BindDN,
			BindPassword:      conf.Directory.BindPassword,
			ReconnectInterval: conf.Directory.ReconnectInterval,
			IdleTimeout:       conf.Directory.IdleTimeout,
			WatchInterval:     conf.Directory.WatchInterval,
			Metrics:           recorder,
		},
	)
	manager.Start(ctx)
	defer manager.Close()

	searcher := directory.NewSearcher(manager, directory.SearcherOptions{
		BaseDN:         conf.Directory.BaseDN,
		ClassAttribute: conf.Directory.ClassAttribute,
		Timeout:        conf.Directory.SearchTimeout,
		Metrics:        recorder,
	})

	sightingRepo := repository.NewSightingRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	userRepo := repository.NewUserRepository(db, mc)
	submissionRepo := repository.NewSubmissionRepository(db)

	signalService := service.NewSignalService(rdb)

	domainConf := conf.Domain()
	identityUsecase := usecase.NewIdentityUsecase(searcher, userRepo, domainConf, recorder)
	activityUsecase := usecase.NewActivityUsecase(sightingRepo, signalService)
	registrationUsecase := usecase.NewRegistrationUsecase(registrationRepo, userRepo, identityUsecase, signalService, recorder)
	forensicsUsecase := usecase.NewForensicsUsecase(sightingRepo, registrationRepo, submissionRepo, userRepo, identityUsecase, domainConf, recorder)

	handler := rest.NewHandler(
		activityUsecase,
		forensicsUsecase,
		identityUsecase,
		registrationUsecase,
		signalService,
		func() string { return manager.State().String() },
	)

	e := echo.New()
	e.HideBanner = true
	e.IPExtractor = echo.ExtractIPFromXFFHeader()
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware(serviceName))
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("module", "http").
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	handler.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	go func() {
		log.Info().Str("module", "main").Str("addr", conf.Server.ListenAddr).Msg("listening")
		if err := e.Start(conf.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Str("module", "main").Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
