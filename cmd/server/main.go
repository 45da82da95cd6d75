package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Khan-Nahida123/anpr-system/internal/config"
	"github.com/Khan-Nahida123/anpr-system/internal/db"
	"github.com/Khan-Nahida123/anpr-system/internal/dedup"
	"github.com/Khan-Nahida123/anpr-system/internal/fines"
	internalhttp "github.com/Khan-Nahida123/anpr-system/internal/http"
	"github.com/Khan-Nahida123/anpr-system/internal/notify"
	"github.com/Khan-Nahida123/anpr-system/internal/repository"
	"github.com/Khan-Nahida123/anpr-system/internal/rules"
	"github.com/Khan-Nahida123/anpr-system/internal/service"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		log = log.Level(level)
	}

	ruleSet, err := config.LoadRuleSet(cfg.Pipeline.RulesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load rule set")
	}

	engine, err := rules.NewEngine(ruleSet.Rules, cfg.Pipeline.MinOCRConfidence, cfg.Pipeline.MinDetectionConfidence, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid rule set")
	}
	calculator, err := fines.NewCalculator(ruleSet.Schedules)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid fine schedule")
	}
	// Config integrity: every rule's violation type must be priced. A
	// mismatch aborts startup rather than failing per reading.
	if err := engine.ValidateSchedule(calculator); err != nil {
		log.Fatal().Err(err).Msg("rule set and fine schedule are out of sync")
	}

	gdb, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	log.Info().Str("database", cfg.Database.Name).Msg("database ready")

	registryRepo := repository.NewRegistryRepository(gdb)
	violationRepo := repository.NewViolationRepository(gdb, registryRepo, cfg.Database.Timeout())

	deduplicator := dedup.NewDeduplicator(violationRepo, log)
	mailer := notify.NewSMTPMailer(cfg.SMTP)
	dispatcher := notify.NewDispatcher(mailer, violationRepo, notify.Policy{
		MaxAttempts: cfg.Pipeline.NotifyMaxAttempts,
		BackoffBase: time.Duration(cfg.Pipeline.NotifyBackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Pipeline.NotifyBackoffMaxMs) * time.Millisecond,
	}, log)

	pipeline := service.NewPipelineService(engine, deduplicator, calculator, violationRepo, registryRepo, dispatcher, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := internalhttp.NewHandler(pipeline, cfg, log)
	handler.Register(router, internalhttp.JWTAuth(cfg.Auth.JWTSecret))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
