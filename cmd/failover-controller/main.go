// cmd/failover-controller/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wardendns.io/internal/cache"
	"wardendns.io/internal/cloudflare"
	"wardendns.io/internal/config"
	"wardendns.io/internal/flap"
	"wardendns.io/internal/logging"
	"wardendns.io/internal/notify"
	"wardendns.io/internal/orchestrator"
	"wardendns.io/internal/pgsqlpool"
	"wardendns.io/internal/probe"
	"wardendns.io/internal/redis"
	"wardendns.io/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "Run a single sync + probe cycle + summary and exit")
	noManageDNS := flag.Bool("no-manage-dns", false, "Monitor only, never edit DNS records")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if *noManageDNS {
		cfg.ManageDNS = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize logging
	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.ParseLevel(cfg.LogLevel)
	if err := logging.Initialize(logConfig); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	log.Printf("Starting failover controller: %d targets, probe every %v, sync every %v",
		len(cfg.Targets), cfg.ProbeInterval, cfg.SyncInterval)
	if !cfg.ManageDNS {
		log.Printf("Monitor-only mode: DNS edits disabled")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database pool
	pool := pgsqlpool.NewPool()

	// Hysteresis engine, shared by the store's transactional state upsert
	engine := flap.NewEngine(&flap.Config{
		UpThreshold:      uint(cfg.Flap.UpThreshold),
		DownThreshold:    uint(cfg.Flap.DownThreshold),
		BootstrapFirstUp: cfg.Flap.BootstrapFirstUp,
	})

	// Create storage layer
	storageConfig := &storage.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	pgStore, err := storage.NewPostgresStore(ctx, pool, cfg.Database.ConnectionName, storageConfig, engine)
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}

	if err := pgStore.InitializeSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	log.Printf("Connected to PostgreSQL database at %s:%d/%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)

	// Create cache layers if enabled
	var store storage.Store = pgStore

	if cfg.Cache.Enabled {
		cacheConfig := cache.DefaultConfig()
		if cfg.Cache.MaxEntries > 0 {
			cacheConfig.MaxEntries = cfg.Cache.MaxEntries
		}
		if cfg.Cache.CleanupInterval > 0 {
			cacheConfig.CleanupInterval = cfg.Cache.CleanupInterval
		}
		memCache := cache.NewMemoryCache(cacheConfig)

		if cfg.Redis.Enabled {
			redis.NewClient(cfg.Redis.ClientName, cfg.Redis.Address, true)
			store = storage.NewRedisCachedStore(pgStore, memCache, cfg.Redis.ClientName, cfg.Redis.KeyPrefix, cfg.Cache.TTL)
			log.Printf("Record cache enabled: memory + redis at %s", cfg.Redis.Address)
		} else {
			store = storage.NewCachedStore(pgStore, memCache, cfg.Cache.TTL)
			log.Printf("Record cache enabled: memory, ttl=%v", cfg.Cache.TTL)
		}
	} else {
		log.Printf("Record cache disabled")
	}

	// Test storage health
	if err := store.Health(ctx); err != nil {
		log.Fatalf("Storage health check failed: %v", err)
	}

	// DNS provider client
	provider := cloudflare.NewClient(cfg.Provider.APIToken, cfg.Provider.BaseURL, cfg.Provider.Timeout)

	// Reachability prober
	prober, err := probe.NewProber(cfg.Probe.Method, cfg.Probe.Timeout)
	if err != nil {
		log.Fatalf("Failed to create prober: %v", err)
	}

	// Notifications
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Telegram.Enabled {
		notifier = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, "", cfg.Telegram.Timeout)
		log.Printf("Telegram notifications enabled")
	} else {
		log.Printf("Telegram notifications disabled")
	}

	orch := orchestrator.New(cfg, store, provider, prober, notifier)

	if *once {
		if err := orch.RunOnce(ctx); err != nil {
			log.Printf("Run failed: %v", err)
			shutdown(store, pool)
			os.Exit(1)
		}
		log.Printf("Single run completed")
		shutdown(store, pool)
		return
	}

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Run the control loop in the background
	errChan := make(chan error, 1)
	go func() {
		errChan <- orch.Run(ctx)
	}()

	// Start statistics reporting
	go reportStats(ctx, store)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, starting graceful shutdown...", sig)
		cancel()

		// Give the current cycle time to finish
		select {
		case runErr = <-errChan:
		case <-time.After(cfg.ShutdownTimeout):
			log.Printf("Shutdown timeout exceeded")
		}
	case runErr = <-errChan:
		cancel()
	}

	shutdown(store, pool)

	if runErr != nil {
		log.Printf("Controller stopped with error: %v", runErr)
		os.Exit(1)
	}
	log.Printf("Failover controller shutdown completed")
}

// shutdown releases storage, database and notification resources
func shutdown(store storage.Store, pool *pgsqlpool.Pool) {
	if err := store.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}
	if err := pool.Close(); err != nil {
		log.Printf("Error closing database pool: %v", err)
	}
	redis.CloseAll()
	if logger := logging.GetLogger(); logger != nil {
		logger.Close()
	}
}

// reportStats periodically reports cache statistics
func reportStats(ctx context.Context, store storage.Store) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	type memoryStatsProvider interface {
		GetCacheStats() cache.Stats
	}
	type tieredStatsProvider interface {
		GetCacheStats() storage.CacheStats
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch s := store.(type) {
			case tieredStatsProvider:
				stats := s.GetCacheStats()
				log.Printf("Cache Stats - L1 entries: %d, hits: %d, misses: %d, hit rate: %.2f%%; L2 connected: %t, keys: %d",
					stats.L1Stats.Entries, stats.L1Stats.Hits, stats.L1Stats.Misses,
					stats.L1Stats.HitRate, stats.L2Stats.Connected, stats.L2Stats.KeyCount)
			case memoryStatsProvider:
				stats := s.GetCacheStats()
				log.Printf("Cache Stats - entries: %d, hits: %d, misses: %d, hit rate: %.2f%%, evictions: %d",
					stats.Entries, stats.Hits, stats.Misses, stats.HitRate, stats.Evictions)
			}
		}
	}
}
