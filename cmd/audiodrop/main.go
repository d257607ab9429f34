package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwygoda/audiodrop/internal/adapter/gemini"
	httpAdapter "github.com/cwygoda/audiodrop/internal/adapter/http"
	"github.com/cwygoda/audiodrop/internal/adapter/processor"
	"github.com/cwygoda/audiodrop/internal/adapter/redis"
	"github.com/cwygoda/audiodrop/internal/adapter/search"
	"github.com/cwygoda/audiodrop/internal/adapter/sqlite"
	"github.com/cwygoda/audiodrop/internal/artifact"
	"github.com/cwygoda/audiodrop/internal/config"
	"github.com/cwygoda/audiodrop/internal/domain"
	"github.com/cwygoda/audiodrop/internal/metrics"
	"github.com/cwygoda/audiodrop/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("starting audiodrop on port %d", cfg.Server.Port)
	if cfg.Path != "" {
		log.Printf("config: %s", cfg.Path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := artifact.NewStore(cfg.Downloads.Dir)
	if err != nil {
		log.Fatalf("failed to create download dir: %v", err)
	}
	log.Printf("download dir: %s", store.Dir())

	registry, err := processor.NewRegistryFromConfig(cfg.Fetchers, cfg.Downloads)
	if err != nil {
		log.Fatalf("failed to initialize fetchers: %v", err)
	}
	for _, f := range registry.Fetchers() {
		log.Printf("fetcher: %s", f.Name())
	}

	m := metrics.New()
	pool := worker.New(registry, cfg.Downloads.Workers, cfg.Downloads.QueueSize, m)

	opts := []domain.Option{
		domain.WithObserver(m),
		domain.WithResubmitPolicy(domain.ResubmitPolicy(cfg.Downloads.Resubmit)),
	}
	journal, closeJournal := openJournal(ctx, cfg.Journal)
	defer closeJournal()
	if journal != nil {
		opts = append(opts, domain.WithJournal(journal))
	}
	svc := domain.NewJobService(registry, pool, opts...)

	// Jobs interrupted by the previous shutdown are shown as failed
	if interrupted, err := svc.Restore(ctx); err != nil {
		log.Printf("warning: failed to restore jobs: %v", err)
	} else if interrupted > 0 {
		log.Printf("marked %d interrupted job(s) as failed", interrupted)
	}

	serverOpts := []httpAdapter.Option{httpAdapter.WithMetrics(m)}
	if searcher, err := newSearchService(ctx, cfg.Search); err != nil {
		log.Printf("warning: search disabled: %v", err)
	} else if searcher != nil {
		serverOpts = append(serverOpts, httpAdapter.WithSearch(searcher))
	} else {
		log.Println("search disabled: no API keys configured")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := httpAdapter.NewServer(svc, store, httpAdapter.Config{
		Addr:      addr,
		StaticDir: cfg.Server.StaticDir,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	}, serverOpts...)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start workers and the outcome consumer
	go pool.Run(ctx)
	consumed := make(chan struct{})
	go func() {
		svc.ConsumeOutcomes(context.Background(), pool.Outcomes())
		close(consumed)
	}()

	// Start HTTP server
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			sigCh <- syscall.SIGTERM
		}
	}()

	sig := <-sigCh
	log.Printf("received signal %v, shutting down", sig)

	// Stop accepting submissions before the pool goes away
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Cancel running downloads; queued ones are reported as failed
	cancel()
	select {
	case <-consumed:
	case <-shutdownCtx.Done():
		log.Println("timed out waiting for workers")
	}

	log.Println("shutdown complete")
}

// openJournal returns the configured journal, or nil for the in-memory
// registry. A Redis journal that cannot connect falls back to memory.
func openJournal(ctx context.Context, cfg config.JournalConfig) (domain.JobJournal, func()) {
	switch cfg.Driver {
	case config.DriverSQLite:
		j, err := sqlite.New(cfg.Path)
		if err != nil {
			log.Fatalf("failed to initialize database: %v", err)
		}
		log.Printf("journal: sqlite %s", cfg.Path)
		return j, func() { j.Close() }
	case config.DriverRedis:
		j, err := redis.New(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			log.Printf("warning: redis not available, keeping jobs in memory only: %v", err)
			return nil, func() {}
		}
		log.Printf("journal: redis %s", cfg.Redis.Addr)
		return j, func() { j.Close() }
	}
	return nil, func() {}
}

// newSearchService wires the configured providers and the Gemini ranker.
// It returns nil when search is not configured.
func newSearchService(ctx context.Context, cfg config.SearchConfig) (*domain.SearchService, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	var providers []domain.SearchProvider
	if cfg.YouTubeAPIKey != "" {
		yt, err := search.NewYouTube(ctx, cfg.YouTubeAPIKey)
		if err != nil {
			return nil, err
		}
		providers = append(providers, yt)
	}
	if cfg.SoundCloudClientID != "" {
		providers = append(providers, search.NewSoundCloud(cfg.SoundCloudClientID, "", nil))
	}

	ranker, err := gemini.New(ctx, gemini.Options{APIKey: cfg.GeminiAPIKey, Model: cfg.Model})
	if err != nil {
		return nil, err
	}

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	log.Printf("search: %v ranked by %s", names, cfg.Model)
	return domain.NewSearchService(ranker, cfg.ProviderLimit, providers...), nil
}
