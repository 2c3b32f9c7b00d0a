package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quakewatch/internal/collector"
	"quakewatch/internal/config"
	cronrunner "quakewatch/internal/cron"
	"quakewatch/internal/db"
	"quakewatch/internal/export"
	"quakewatch/internal/handler"
	"quakewatch/internal/logger"
	"quakewatch/internal/metrics"
	"quakewatch/internal/pipeline"
	gormrepository "quakewatch/internal/repository/gorm"
)

func main() {
	cfgPath := os.Getenv("QW_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("QW_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	metrics.Register()
	store := gormrepository.New(dbConn.Gorm)

	publisher := export.NewPublisher(export.Config{
		Path:             cfg.Export.Path,
		Debounce:         cfg.Export.Debounce,
		FallbackInterval: cfg.Export.FallbackInterval,
	}, store, logger)

	hub := pipeline.NewHub(pipeline.HubConfig{
		Match: pipeline.MatchParams{
			TimeWindow:         cfg.Matcher.TimeWindow,
			DistanceKm:         cfg.Matcher.DistanceKm,
			MagnitudeTolerance: cfg.Matcher.MagnitudeTolerance,
		},
		ReferenceSource:      cfg.Sources.ReferenceSource,
		SignificantMagnitude: cfg.Matcher.SignificantMagnitude,
		MinMagnitude:         cfg.Sources.MinMagnitude,
		OpenWindow:           cfg.Matcher.OpenWindow,
		IngestBuffer:         cfg.Matcher.IngestBuffer,
	}, store, publisher, logger)

	feedHTTP := &http.Client{Timeout: cfg.Sources.FetchTimeout}
	minMag := cfg.Sources.MinMagnitude
	if cfg.Sources.USGS.Enabled {
		hub.Register(collector.NewUSGS(cfg.Sources.USGS, minMag, feedHTTP, logger))
	}
	if cfg.Sources.JMA.Enabled {
		hub.Register(collector.NewJMA(cfg.Sources.JMA, minMag, feedHTTP, logger))
	}
	if cfg.Sources.GeoNet.Enabled {
		hub.Register(collector.NewGeoNet(cfg.Sources.GeoNet, minMag, feedHTTP, logger))
	}
	if cfg.Sources.GFZ.Enabled {
		hub.Register(collector.NewGFZ(cfg.Sources.GFZ, minMag, feedHTTP, logger))
	}
	if cfg.Sources.EMSC.Enabled {
		hub.Register(collector.NewEMSC(cfg.Sources.EMSC, minMag, logger))
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	eventHandler := &handler.EventHandler{Repo: store}
	eventHandler.Register(engine)
	sourceHandler := &handler.SourceHandler{Repo: store}
	sourceHandler.Register(engine)
	advantageHandler := &handler.AdvantageHandler{Repo: store, MinMagnitude: minMag}
	advantageHandler.Register(engine)
	engine.GET("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := hub.Rebuild(ctx); err != nil {
		logger.Fatal("open-event rebuild failed", zap.Error(err))
	}

	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("ingest hub stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("pending publisher stopped", zap.Error(err))
		}
	}()

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		_, err = cronRunner.Add(cfg.Cron.OpenSetTrim, func(ctx context.Context) {
			if n := hub.TrimOpenSet(time.Now().UTC()); n > 0 {
				logger.Info("open-event set trimmed", zap.Int("removed", n))
			}
		})
		if err != nil {
			logger.Warn("cron register open-set trim failed", zap.Error(err))
		}
		_, err = cronRunner.Add(cfg.Cron.HealthLog, func(ctx context.Context) {
			items, err := store.ListSourceHealth(ctx)
			if err != nil {
				logger.Warn("source health query failed", zap.Error(err))
				return
			}
			for _, item := range items {
				logger.Info("source health",
					zap.String("source", item.Name),
					zap.String("status", item.HealthStatus),
					zap.Uint64("delivered", item.Delivered),
				)
			}
		})
		if err != nil {
			logger.Warn("cron register health log failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
