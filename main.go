package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/carbontrail/carbontrail/backend/go-services/handlers"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/accounts"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/config"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/database"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/mailer"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/oidc"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/profilestore"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/recovery"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/sessions"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/storage"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/tokens"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/users"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/logger"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/metrics"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.SetFormat(os.Getenv("LOG_FORMAT"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: keycloak=%v redis=%v minio=%v profiles=%s", cfg.Keycloak.URL != "", cfg.Redis.Host != "", cfg.MinIO.Endpoint != "", cfg.Profiles.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery(), middleware.CORS(""))

	rdb := connectRedis(ctx, cfg)
	authRoutes := gin.IRouter(r)
	if cfg.RateLimit.Enabled {
		r.Use(rateLimiter(cfg, rdb, "global", cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		authRoutes = r.Group("", rateLimiter(cfg, rdb, "auth", cfg.RateLimit.AuthRPS, cfg.RateLimit.AuthBurst))
	}

	mc, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, database.Retry{Attempts: 5, Backoff: time.Second})
	if err != nil {
		logger.Fatalf("could not connect to MongoDB: %v", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	db := mc.Database(cfg.MongoDB.Database)

	userRepo := users.NewMongoUserRepository(db.Collection("users"))
	if err := userRepo.EnsureIndexes(ctx); err != nil {
		logger.Warnf("users: ensuring indexes failed: %v", err)
	}

	// Redis when available: sessions, blacklist and one-time tokens are shared
	// by every replica. Otherwise sessions go to Mongo and the rest stays in process.
	var (
		sessionRepo sessions.Repository
		blacklist   sessions.Blacklist
		otp         recovery.Store
	)
	if rdb != nil {
		sessionRepo = sessions.NewRedisRepository(rdb, "session:")
		blacklist = sessions.NewRedisBlacklist(rdb)
		otp = recovery.NewRedisStore(rdb, "otp:")
		logger.Infof("using Redis for sessions, token blacklist and one-time tokens")
	} else {
		mongoSessions := sessions.NewMongoRepository(db.Collection("sessions"))
		if err := mongoSessions.EnsureIndexes(ctx); err != nil {
			logger.Warnf("sessions: ensuring indexes failed: %v", err)
		}
		sessionRepo = mongoSessions
		blacklist = sessions.NewMemoryBlacklist()
		otp = recovery.NewMemoryStore()
		logger.Warnf("Redis not configured: token blacklist and one-time tokens are per process")
	}

	profiles, closeProfiles, err := openProfileStore(ctx, cfg, db)
	if err != nil {
		logger.Fatalf("profiles: %v", err)
	}
	defer closeProfiles()

	objects := openObjectStore(ctx, cfg)

	accountSvc := accounts.NewService(cfg, userRepo, sessions.NewService(sessionRepo), blacklist, otp, mailer.LogMailer{})

	verifier := middleware.ChainVerifier{tokens.NewVerifier(cfg)}
	oidcReady := true
	if ext := externalVerifier(ctx, cfg); ext != nil {
		verifier = append(verifier, ext)
	} else if cfg.Keycloak.URL != "" {
		oidcReady = false
	}
	requireAuth := middleware.AuthMiddleware(verifier, blacklist)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		deps := gin.H{"mongo": true, "oidc": oidcReady, "redis": true}
		ready := oidcReady
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := mc.Ping(pingCtx, nil); err != nil {
			deps["mongo"] = false
			ready = false
		}
		if rdb != nil {
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				deps["redis"] = false
				ready = false
			}
		}
		status, label := http.StatusOK, "ready"
		if !ready {
			status, label = http.StatusServiceUnavailable, "not_ready"
		}
		c.JSON(status, gin.H{"status": label, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	handlers.NewAuthHandler(cfg, accountSvc, requireAuth).Register(authRoutes)
	handlers.NewProfileHandler(profiles, accountSvc, requireAuth).Register(r)
	handlers.NewAvatarHandler(objects, accountSvc, requireAuth).Register(r)
	handlers.RegisterSwagger(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting provider service on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// rateLimiter shares counters through Redis when configured and reachable.
func rateLimiter(cfg *config.Config, rdb *redis.Client, scope string, rps float64, burst int) gin.HandlerFunc {
	if !cfg.RateLimit.UseRedis || rdb == nil {
		return middleware.RateLimitMiddleware(rps, burst)
	}
	return middleware.RedisRateLimitMiddleware(rdb, middleware.RateLimit{
		Scope:  scope,
		RPS:    rps,
		Burst:  burst,
		Window: time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
	})
}

func connectRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.Redis.Host == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
		_ = client.Close()
		return nil
	}
	logger.Infof("connected to Redis %s:%s", cfg.Redis.Host, cfg.Redis.Port)
	return client
}

func openProfileStore(ctx context.Context, cfg *config.Config, db *mongo.Database) (profilestore.Store, func(), error) {
	switch cfg.Profiles.Backend {
	case "postgres":
		pool, err := database.ConnectPostgres(ctx, cfg.Postgres.DSN, cfg.MongoDB.Timeout)
		if err != nil {
			return nil, nil, err
		}
		store := profilestore.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensuring schema: %w", err)
		}
		logger.Infof("profiles stored in Postgres")
		return store, pool.Close, nil
	case "memory":
		logger.Warnf("profiles stored in process memory")
		return profilestore.NewMemoryStore(), func() {}, nil
	default:
		return profilestore.NewMongoStore(db.Collection("profiles")), func() {}, nil
	}
}

func openObjectStore(ctx context.Context, cfg *config.Config) storage.Store {
	if cfg.MinIO.Endpoint != "" {
		s, err := storage.NewMinIOStorage(ctx, cfg.MinIO)
		if err == nil {
			logger.Infof("avatars stored in MinIO bucket %s", cfg.MinIO.Bucket)
			return s
		}
		logger.Warnf("MinIO unavailable, falling back to memory: %v", err)
	}
	logger.Warnf("avatars stored in process memory")
	return storage.NewMemoryStore()
}

// externalVerifier accepts Keycloak tokens next to our own.
func externalVerifier(ctx context.Context, cfg *config.Config) middleware.Verifier {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("OIDC_INSECURE")), "true") {
		logger.Warnf("enabling insecure OIDC verifier (development only)")
		return oidc.NewInsecureVerifier()
	}
	if cfg.Keycloak.URL == "" || cfg.Keycloak.ClientID == "" {
		return nil
	}
	issuer := cfg.Keycloak.URL
	if cfg.Keycloak.Realm != "" {
		issuer = oidc.KeycloakIssuer(cfg.Keycloak.URL, cfg.Keycloak.Realm)
	}
	ver, err := oidc.Discover(ctx, oidc.Options{
		Issuer:               issuer,
		ClientID:             cfg.Keycloak.ClientID,
		RequireVerifiedEmail: cfg.Keycloak.RequireVerifiedEmail,
	})
	if err != nil {
		logger.Warnf("failed to initialize OIDC verifier: %v", err)
		return nil
	}
	return ver
}
