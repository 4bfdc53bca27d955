package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/SoulaanRad/soulaan-coop-sub001/internal/aieval"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/app"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/charter"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/config"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/export"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/scoring"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/search"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/session"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.CharterDir, 0o755); err != nil {
		log.Fatalf("failed to create charter dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	charterService := charter.New(cfg.CharterDir)
	evalClient := aieval.New(cfg.EvalURL, cfg.EvalAPIKey, cfg.EvalModel, cfg.EvalTimeout)
	engine := scoring.NewEngine(evalClient)
	exportService := export.NewService(dataStore)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}
	searchService.ReindexAllFromPG(ctx)

	var sessions interface {
		SaveRefreshSession(ctx context.Context, tokenHash, wallet string, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	} = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, falling back to PostgreSQL refresh sessions: %v", err)
		} else {
			log.Printf("Using Redis for refresh token storage")
			defer redisStore.Close()
			sessions = redisStore
		}
	}

	service := app.New(cfg, dataStore, charterService, engine, evalClient, searchService, sessions, exportService)

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
		log.Printf("Coop governance API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
