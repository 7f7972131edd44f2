package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	apihttp "watt-rewards/internal/api/http"
	"watt-rewards/internal/audit"
	"watt-rewards/internal/auth"
	deviceapp "watt-rewards/internal/devices/application"
	devicerepo "watt-rewards/internal/devices/infrastructure/postgres"
	devicehttp "watt-rewards/internal/devices/interfaces/http"
	"watt-rewards/internal/eventing"
	"watt-rewards/internal/eventing/eventbus"
	eventingrepo "watt-rewards/internal/eventing/infrastructure/postgres"
	"watt-rewards/internal/minting"
	"watt-rewards/internal/observability/metrics"
	"watt-rewards/internal/providers"
	"watt-rewards/internal/providers/chargepoint"
	"watt-rewards/internal/providers/enphase"
	providerrepo "watt-rewards/internal/providers/infrastructure/postgres"
	"watt-rewards/internal/providers/readingcache"
	"watt-rewards/internal/providers/tesla"
	rewardapp "watt-rewards/internal/rewards/application"
	"watt-rewards/internal/rewards/infrastructure/rates"
	rewardrepo "watt-rewards/internal/rewards/infrastructure/postgres"
	rewardinterfaces "watt-rewards/internal/rewards/interfaces"
	rewardhttp "watt-rewards/internal/rewards/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	registry := providers.NewRegistry()
	teslaClient, err := tesla.NewClient(cfg.TeslaBaseURL, cfg.TeslaAuthURL, cfg.TeslaClientID)
	if err != nil {
		logger.Fatalf("tesla client error: %v", err)
	}
	registry.Register(teslaClient)
	enphaseClient, err := enphase.NewClient(cfg.EnphaseBaseURL, cfg.EnphaseAPIKey)
	if err != nil {
		logger.Fatalf("enphase client error: %v", err)
	}
	registry.Register(enphaseClient)
	chargepointClient, err := chargepoint.NewClient(cfg.ChargePointBaseURL)
	if err != nil {
		logger.Fatalf("chargepoint client error: %v", err)
	}
	registry.Register(chargepointClient)

	credStore := providerrepo.NewCredentialStore(db)
	fetcher, err := providers.NewFetcher(registry, credStore, providers.WithFetchTimeout(cfg.ProviderTimeout))
	if err != nil {
		logger.Fatalf("provider fetcher error: %v", err)
	}

	var cache rewardapp.ReadingCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("redis ping error: %v", err)
		}
		cache, err = readingcache.NewRedisCache(redisClient, cfg.ReadingCacheTTL)
		if err != nil {
			logger.Fatalf("reading cache error: %v", err)
		}
	} else {
		cache = readingcache.NewMemoryCache(cfg.ReadingCacheTTL, nil)
	}

	baseBus := eventbus.NewInMemoryBus()
	eventRegistry := eventing.NewRegistry()
	eventRegistry.Register(rewardapp.RewardsClaimed{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, eventRegistry, dlqStore, logger)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, baseBus)

	go func() {
		ticker := time.NewTicker(cfg.DispatchInterval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := dispatcher.Dispatch(context.Background(), 50); err != nil {
				logger.Printf("outbox dispatch error: %v", err)
			}
		}
	}()

	rateTable, err := loadRates(cfg.RatesFile)
	if err != nil {
		logger.Fatalf("rate table error: %v", err)
	}

	deviceLedger := devicerepo.NewLedgerRepository(db)
	deviceService, err := deviceapp.NewService(deviceLedger, fetcher, deviceapp.SystemClock{})
	if err != nil {
		logger.Fatalf("device service error: %v", err)
	}
	deviceHandler, err := devicehttp.NewHandler(deviceService, auditRepo)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}

	claimStore := rewardrepo.NewClaimStore(db)
	entryRepo := rewardrepo.NewEntryRepository(db)
	claimPublisher := rewardinterfaces.NewOutboxPublisher(publisher)
	claimService, err := rewardapp.NewClaimService(deviceLedger, fetcher, claimStore, rateTable, claimPublisher, rewardapp.SystemClock{})
	if err != nil {
		logger.Fatalf("claim service error: %v", err)
	}
	pendingService, err := rewardapp.NewPendingService(deviceLedger, fetcher, cache, rateTable, rewardapp.SystemClock{})
	if err != nil {
		logger.Fatalf("pending service error: %v", err)
	}
	rewardsHandler, err := rewardhttp.NewHandler(claimService, pendingService, entryRepo, auditRepo)
	if err != nil {
		logger.Fatalf("rewards handler error: %v", err)
	}

	if cfg.MintWebhookURL != "" {
		sink, err := minting.NewWebhookSink(cfg.MintWebhookURL, cfg.MintAPIKey)
		if err != nil {
			logger.Fatalf("mint sink error: %v", err)
		}
		consumer, err := minting.NewConsumer(sink, logger)
		if err != nil {
			logger.Fatalf("mint consumer error: %v", err)
		}
		consumer.Register(baseBus, processedStore)
	} else {
		logger.Printf("MINT_WEBHOOK_URL not set; claims will not be submitted for minting")
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/rewards/", rewardsHandler)
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/api/v1/admin/entries", apihttp.NewAdminEntriesHandler(entryRepo))
	flaggedHandler := apihttp.NewFlaggedDevicesHandler(deviceService)
	mux.Handle("/api/v1/admin/devices/flagged", flaggedHandler)
	mux.Handle("/api/v1/admin/devices/flagged/resolve", flaggedHandler)
	mux.Handle("/api/v1/exports/rewards.csv", apihttp.NewExportRewardsCSVHandler(entryRepo))
	mux.Handle("/api/v1/exports/rewards.xlsx", apihttp.NewExportRewardsXLSXHandler(entryRepo))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL        string
	HTTPAddr           string
	JWTSecret          string
	RatesFile          string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	ReadingCacheTTL    time.Duration
	ProviderTimeout    time.Duration
	DispatchInterval   time.Duration
	MintWebhookURL     string
	MintAPIKey         string
	TeslaBaseURL       string
	TeslaAuthURL       string
	TeslaClientID      string
	EnphaseBaseURL     string
	EnphaseAPIKey      string
	ChargePointBaseURL string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:        getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:          getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		RatesFile:          getenvDefault("RATES_FILE", ""),
		RedisAddr:          getenvDefault("REDIS_ADDR", ""),
		RedisPassword:      getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:            getenvIntDefault("REDIS_DB", 0),
		ReadingCacheTTL:    getenvDuration("READING_CACHE_TTL", 5*time.Minute),
		ProviderTimeout:    getenvDuration("PROVIDER_TIMEOUT", 15*time.Second),
		DispatchInterval:   getenvDuration("OUTBOX_DISPATCH_INTERVAL", 15*time.Second),
		MintWebhookURL:     getenvDefault("MINT_WEBHOOK_URL", ""),
		MintAPIKey:         getenvDefault("MINT_API_KEY", ""),
		TeslaBaseURL:       getenvDefault("TESLA_BASE_URL", "https://fleet-api.prd.na.vn.cloud.tesla.com"),
		TeslaAuthURL:       getenvDefault("TESLA_AUTH_URL", "https://auth.tesla.com"),
		TeslaClientID:      getenvDefault("TESLA_CLIENT_ID", ""),
		EnphaseBaseURL:     getenvDefault("ENPHASE_BASE_URL", "https://api.enphaseenergy.com"),
		EnphaseAPIKey:      getenvDefault("ENPHASE_API_KEY", ""),
		ChargePointBaseURL: getenvDefault("CHARGEPOINT_BASE_URL", "https://api.chargepoint.com"),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func loadRates(path string) (*rates.Table, error) {
	if path == "" {
		return rates.Default(), nil
	}
	return rates.LoadFile(path)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
