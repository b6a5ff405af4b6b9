package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alumnichat/internal/chat"
	"github.com/alumnichat/internal/config"
	"github.com/alumnichat/internal/handler"
	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/media"
	"github.com/alumnichat/internal/metrics"
	"github.com/alumnichat/internal/middleware"
	"github.com/alumnichat/internal/presence"
	"github.com/alumnichat/internal/repository"
	"github.com/alumnichat/internal/rooms"
	"github.com/alumnichat/internal/startup"
	"github.com/alumnichat/internal/storage"
	"github.com/alumnichat/internal/storage/memory"
	"github.com/alumnichat/internal/ws"
)

func main() {
	logger.SetPrefix("chat")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	storeFlag := flag.String("store", "", "override store_driver: postgres | mongo | memory")
	flag.Parse()
	defer logger.Sync()

	logger.Info("starting chat service")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	if *storeFlag != "" {
		cfg.StoreDriver = strings.ToLower(*storeFlag)
	}
	if *dev {
		cfg.StoreDriver = config.StoreDriverPostgres
	}
	if err := checkMigrateFlag(cfg.StoreDriver, *migrate); err != nil {
		logger.Errorf("%v", err)
		os.Exit(2)
	}
	metrics.Init()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var url string
		embeddedDB, url, err = startup.EmbeddedPostgres(5432, filepath.Join(".", ".pgdata"))
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		cfg.Database.URL = url
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	store := openStore(cfg, *migrate)
	if store == nil {
		return
	}
	if cfg.Redis.URL != "" {
		mirror := startup.ConnectRedisWithRetry(cfg.Redis.URL, cfg.Redis.PresenceTTL, 60*time.Second, "chat: ")
		// после падения процесса в зеркале могли остаться online-записи
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if n, err := mirror.FlushPresence(flushCtx); err != nil {
			logger.Errorf("reset presence: %v", err)
		} else if n > 0 {
			logger.Infof("reset presence: %d stale records", n)
		}
		flushCancel()
		store = storage.WithPresence(store, mirror)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("store close: %v", err)
		}
	}()

	directory := rooms.New(store, cfg.StoreTimeout)
	registry := presence.New(store, cfg.StoreTimeout)
	svc := chat.NewService(store, directory, registry, cfg.StoreTimeout)

	verifier := middleware.NewJWTVerifier(cfg.JWTSecret)
	var tokens ws.TokenVerifier
	if verifier != nil {
		tokens = verifier
	}
	hub := ws.NewHub(svc, tokens, ws.Limits{
		MaxConns:        cfg.WS.MaxConnections,
		SendBuffer:      cfg.WS.SendBufferSize,
		PongWait:        cfg.WS.PongTimeout,
		WriteWait:       cfg.WS.WriteTimeout,
		MaxMessageSize:  cfg.WS.MaxMessageSize,
		EventsPerSecond: cfg.WS.EventsPerSecond,
		EventBurst:      cfg.WS.EventBurst,
	})
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	fileH, err := newFileHandler(cfg, svc)
	if err != nil {
		logger.Errorf("media: %v", err)
		os.Exit(1)
	}
	api := &handler.API{
		Chat:   handler.NewChatHandler(svc),
		Direct: handler.NewDirectHandler(svc),
		User:   handler.NewUserHandler(svc),
		File:   fileH,
		WS:     handler.NewWSHandler(hub, cfg.CORSAllowedOrigins),
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compress := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compress.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: cfg.CORSAllowedOrigins != "*",
		MaxAge:           300,
	}))
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity(verifier))
		r.Use(middleware.RateLimitAPI)
		api.Mount(r)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s (store=%s)", cfg.ServerAddr, cfg.StoreDriver)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// checkMigrateFlag: миграции есть только у postgres, для остальных -migrate ошибка.
func checkMigrateFlag(driver string, migrateOnly bool) error {
	if migrateOnly && driver != config.StoreDriverPostgres {
		return fmt.Errorf("-migrate requires store_driver=postgres, got %q", driver)
	}
	return nil
}

// openStore подключает хранилище по store_driver. nil: только миграции (-migrate).
func openStore(cfg *config.Config, migrateOnly bool) storage.Store {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Info("store: in-memory (data is lost on restart)")
		return memory.New()
	case config.StoreDriverMongo:
		return startup.ConnectMongoWithRetry(cfg.Mongo.URI, cfg.Mongo.Database, 60*time.Second, "chat: ")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2
	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "chat: ")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repository.Migrate(ctx, pool); err != nil {
		logger.Errorf("migrations: %v", err)
		pool.Close()
		os.Exit(1)
	}
	if migrateOnly {
		logger.Info("migrations applied")
		pool.Close()
		return nil
	}
	logger.Info("database connected, migrations applied")
	return repository.New(pool)
}

func newFileHandler(cfg *config.Config, svc *chat.Service) (*handler.FileHandler, error) {
	if cfg.Media.Backend == config.MediaBackendS3 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s3, err := media.NewS3Store(ctx, cfg.Media.S3Region, cfg.Media.S3Bucket, cfg.Media.S3PublicBase)
		if err != nil {
			return nil, err
		}
		return handler.NewFileHandler(svc, media.New(s3, cfg.Media.MaxUploadSize, cfg.Media.MaxImageDim), nil), nil
	}
	local := media.NewLocalStore(cfg.Media.UploadDir, "/api/chat-images")
	return handler.NewFileHandler(svc, media.New(local, cfg.Media.MaxUploadSize, cfg.Media.MaxImageDim), local), nil
}
