package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"sentra.org/internal/auth"
	"sentra.org/internal/cache"
	"sentra.org/internal/httpapi"
	"sentra.org/internal/obs"
	"sentra.org/internal/ratelimit"
	"sentra.org/internal/rbac"
	"sentra.org/internal/resilience"
	"sentra.org/internal/token"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("SENTRA_COMMIT"))
	logger := obs.Logger()

	secret := os.Getenv("SENTRA_TOKEN_SECRET")
	if secret == "" {
		log.Fatal("SENTRA_TOKEN_SECRET is required")
	}
	issuer := envDefault("SENTRA_ISSUER", "sentra")

	var db *sql.DB
	if dsn := os.Getenv("SENTRA_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Validation cache: in-process memory tier, with Redis behind it when
	// configured.
	local := cache.NewMemory()
	var validityCache cache.Cache = local
	var redisClient redis.UniversalClient
	if addr := os.Getenv("SENTRA_REDIS_ADDR"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("SENTRA_REDIS_PASSWORD"),
		})
		remote := cache.NewRedis(redisClient, cache.WithRedisPrefix("sentra:"))
		validityCache = cache.NewTiered(local, remote, 5*time.Minute)
	}

	resolver := rbac.NewResolver()
	roles := rbac.DefaultRoles()
	if db != nil {
		loaded, err := rbac.NewPGStore(db).LoadRoles(context.Background())
		if err != nil {
			log.Fatalf("load roles: %v", err)
		}
		if len(loaded) > 0 {
			roles = loaded
		}
	}
	if err := resolver.Load(roles); err != nil {
		log.Fatalf("role graph: %v", err)
	}

	var revocations token.RevocationStore
	if db != nil {
		revocations = token.NewPGStore(db)
	} else {
		logger.Warn("no database configured, revocations are not durable")
		revocations = newMemRevocations()
	}

	tokens, err := token.NewService([]byte(secret), issuer, revocations, validityCache,
		token.WithCleanupPace(envFloat("SENTRA_CLEANUP_BATCHES_PER_SEC", 10)))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	var users auth.UserStore
	if db != nil {
		users = auth.NewPGStore(db)
	} else {
		users = newMemUsers()
	}

	loginLimiter := ratelimit.New(ratelimit.Config{
		MaxRequests: envInt("SENTRA_LOGIN_BURST", 10),
		Window:      time.Minute,
	})

	authSvc, err := auth.NewService(users, tokens, resolver,
		auth.WithLimiter(loginLimiter),
		auth.WithBreaker(resilience.NewBreaker("user-store", resilience.BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		})),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	// Background housekeeping: expired revocation records, idle limiter
	// windows, and dead local cache entries all ride the same ticker. The
	// token service skips a sweep if the previous one is still running.
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(envDuration("SENTRA_CLEANUP_INTERVAL", time.Hour))
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				deleted, err := tokens.CleanupExpired(cleanupCtx)
				if err != nil {
					logger.Error("revocation cleanup failed", "err", err)
				} else if deleted > 0 {
					logger.Info("revocation cleanup", "deleted", deleted)
				}
				if pruned := loginLimiter.PruneIdle(); pruned > 0 {
					logger.Info("limiter windows pruned", "pruned", pruned)
				}
				if evicted := local.CleanupExpired(); evicted > 0 {
					logger.Info("cache entries evicted", "evicted", evicted)
				}
			}
		}
	}()

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, authSvc, version)
	handler := httpapi.RateLimit(api.Handler(),
		envInt("SENTRA_HTTP_BURST", 20), envInt("SENTRA_HTTP_PER_SEC", 10))

	srv := &http.Server{
		Addr:              envDefault("SENTRA_ADDR", ":8080"),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting sentra-authd %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancelCleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
