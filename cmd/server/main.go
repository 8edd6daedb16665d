// Command server runs the shortlink relay: the Telegram long-polling bot and
// the HTTP API that exposes the same message pipeline.
//
// @title           Shortlink Relay API
// @version         1.0
// @description     HTTP surface of the Telegram shortlink relay bot: route chat messages and manage per-chat shortening credentials.
// @BasePath        /api/v1
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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-shortlink-relay/internal/config"
	httpapi "github.com/tbourn/go-shortlink-relay/internal/http"
	"github.com/tbourn/go-shortlink-relay/internal/linkscan"
	"github.com/tbourn/go-shortlink-relay/internal/observability"
	"github.com/tbourn/go-shortlink-relay/internal/repo"
	"github.com/tbourn/go-shortlink-relay/internal/services"
	"github.com/tbourn/go-shortlink-relay/internal/shortener"
	"github.com/tbourn/go-shortlink-relay/internal/sysutil"
	"github.com/tbourn/go-shortlink-relay/internal/telegram"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// idempotencyMemDSN backs idempotency records when credentials live outside SQLite.
const idempotencyMemDSN = "file:idempotency?mode=memory&cache=shared"

const idempotencySweepEvery = 15 * time.Minute

func main() {
	// Optional .env for local runs; real deployments use the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg := config.MustLoad()
	observability.SetupLogger(os.Stdout, cfg.LogPretty, cfg.OTEL.ServiceName)
	sysutil.SetLogLevel(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version,
		attribute.String("store.backend", cfg.StoreBackend),
		attribute.String("shortener.provider", cfg.Shortener.ProviderName),
	)
	if err != nil {
		return fmt.Errorf("setup otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	store, idemDB, err := openStores(cfg)
	if err != nil {
		return err
	}
	go sweepIdempotency(ctx, idemDB, idempotencySweepEvery)

	client := shortener.New(&http.Client{}, cfg.Shortener.APIURL, cfg.Shortener.Timeout, cfg.Shortener.ProviderName)
	router := &services.RouterService{
		Store:        store,
		Batch:        &services.BatchService{Store: store, Shortener: client},
		Extractor:    linkscan.New(cfg.Bot.TrimTrailingPunct),
		PostMarker:   cfg.Bot.PostMarker,
		ProviderName: client.Name(),
		Welcome: services.Welcome{
			PhotoURL:        cfg.Bot.WelcomePhotoURL,
			AdminChatURL:    cfg.Bot.AdminChatURL,
			PaymentProofURL: cfg.Bot.PaymentProofURL,
			TokenPageURL:    cfg.Bot.TokenPageURL,
		},
	}

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{Router: router, IdemDB: idemDB}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	pollDone := make(chan struct{})
	if cfg.Telegram.Enabled {
		api := telegram.NewAPI(&http.Client{Timeout: cfg.Telegram.PollTimeout + 10*time.Second}, cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken)
		poller := &telegram.Poller{API: api, Handler: router, PollTimeout: cfg.Telegram.PollTimeout}
		go func() {
			defer close(pollDone)
			if err := poller.Run(ctx); err != nil {
				errCh <- fmt.Errorf("telegram poller: %w", err)
			}
		}()
	} else {
		close(pollDone)
		log.Info().Msg("telegram transport disabled; serving HTTP API only")
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		stop()
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	<-pollDone
	return runErr
}

// openStores builds the credential store selected by STORE_BACKEND and the
// database that holds idempotency records. With the sqlite backend both share
// one database; otherwise idempotency records live in an in-memory SQLite.
func openStores(cfg config.Config) (services.CredentialStore, *gorm.DB, error) {
	var store services.CredentialStore
	dbPath := idempotencyMemDSN

	switch cfg.StoreBackend {
	case config.StoreSQLite:
		dbPath = cfg.DBPath
	case config.StoreFile:
		fs, err := repo.NewFileStore(cfg.StoreFilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		store = fs
	case config.StoreMemory:
		store = repo.NewMemoryStore()
	}

	db, err := repo.OpenSQLite(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %q: %w", dbPath, err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			return nil, nil, fmt.Errorf("enable db tracing: %w", err)
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	if store == nil {
		store = repo.NewSQLStore(db)
	}

	log.Info().Str("backend", cfg.StoreBackend).Msg("credential store ready")
	return store, db, nil
}

// sweepIdempotency deletes expired idempotency records every interval until
// ctx is done.
func sweepIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Msg("idempotency sweep failed")
				}
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired idempotency records removed")
			}
		}
	}
}
