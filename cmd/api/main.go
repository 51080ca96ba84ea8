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

	"linkdeck/internal/app"
	"linkdeck/internal/cache"
	"linkdeck/internal/config"
	"linkdeck/internal/export"
	"linkdeck/internal/gitrepo"
	"linkdeck/internal/kinds"
	"linkdeck/internal/logging"
	"linkdeck/internal/metrics"
	"linkdeck/internal/publish"
	"linkdeck/internal/search"
	"linkdeck/internal/store"
)

func main() {
	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	if len(applied) > 0 {
		log.Info().Strs("versions", applied).Msg("applied migrations")
	}

	registry, err := kinds.Load(cfg.KindsFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.KindsFile).Msg("kinds file invalid")
	}

	dataStore := store.NewPostgresStore(db)
	opts := []app.Option{app.WithLogger(log), app.WithMetrics(metrics.New())}

	var primary search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, search.NewPgFTS(db), log)
	opts = append(opts, app.WithSearch(searchService))

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info().Msg("using redis for the scope cache")
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisCache.Close()
		opts = append(opts, app.WithCache(redisCache))
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := publish.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatal().Err(err).Msg("object storage client failed")
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.MinioBucket).Msg("bucket check failed, publishing may fail")
		}
		opts = append(opts, app.WithPublisher(publish.NewPublisher(dataStore, objects, registry)))
	}

	if strings.TrimSpace(cfg.HistoryDir) != "" {
		opts = append(opts, app.WithHistory(gitrepo.New(cfg.HistoryDir)))
		log.Info().Str("dir", cfg.HistoryDir).Msg("profile history enabled")
	}

	if strings.TrimSpace(cfg.ChromePath) != "" {
		opts = append(opts, app.WithExporter(export.NewService(export.WithChromePath(cfg.ChromePath))))
	}

	service := app.NewService(cfg, dataStore, registry, opts...)
	if primary != nil {
		go func() {
			n, err := service.Reindex(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("search reindex failed")
				return
			}
			log.Info().Int("records", n).Msg("search index rebuilt")
		}()
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("linkdeck API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
