// Command gateway is the collaboration gateway's entrypoint: it wires
// config, auth, the connection pool, presence, the distributed lock engine,
// rate limiting, and the WebSocket hub into one gin server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/collabgateway/gateway/internal/v1/auth"
	"github.com/collabgateway/gateway/internal/v1/bus"
	"github.com/collabgateway/gateway/internal/v1/config"
	"github.com/collabgateway/gateway/internal/v1/gateway"
	"github.com/collabgateway/gateway/internal/v1/health"
	"github.com/collabgateway/gateway/internal/v1/lockengine"
	"github.com/collabgateway/gateway/internal/v1/lockstore"
	"github.com/collabgateway/gateway/internal/v1/logging"
	"github.com/collabgateway/gateway/internal/v1/middleware"
	"github.com/collabgateway/gateway/internal/v1/pool"
	"github.com/collabgateway/gateway/internal/v1/presence"
	"github.com/collabgateway/gateway/internal/v1/ratelimit"
	"github.com/collabgateway/gateway/internal/v1/tracing"
)

func main() {
	// Load .env for local development; a missing file is not an error.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		// Logging is not initialized yet; this is the one place we write
		// directly to stderr via the fallback logger.
		logging.Fatal(context.Background(), "invalid configuration", zap.Error(err))
		return
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		return
	}
	ctx := context.Background()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tp, err := tracing.InitTracer(ctx, "collab-gateway", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var validator auth.TokenValidator
	skipAuth := os.Getenv("SKIP_AUTH") == "true"
	if skipAuth {
		logging.Warn(ctx, "authentication disabled: using MockValidator, do not use in production")
		validator = &auth.MockValidator{}
	} else {
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			logging.Fatal(ctx, "AUTH0_DOMAIN and AUTH0_AUDIENCE must be set when SKIP_AUTH is not true")
			return
		}
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Fatal(ctx, "failed to build token validator", zap.Error(err))
			return
		}
		validator = v
	}

	var busService *bus.Service
	var lockStore lockstore.Store
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis", zap.Error(err))
			return
		}
		defer busService.Close()
		lockStore = lockstore.NewRedisStore(busService.Client())
	} else {
		logging.Warn(ctx, "REDIS_ENABLED is false: running single-instance with an in-process lock store")
		lockStore = lockstore.NewInMemoryStore()
	}

	connPool := pool.New(cfg.MaxConnectionsPerUser)
	presenceEngine := presence.New(cfg.RoomLimitFor)
	locks := lockengine.New(lockStore)

	var limiter *ratelimit.Limiter
	if os.Getenv("RATE_LIMIT_DISABLED") != "true" {
		limiter = ratelimit.NewLimiter(ratelimit.Config{Limit: 50, Window: 10 * time.Second}, "ws_event")
	}

	hub := gateway.NewHub(cfg, validator, connPool, presenceEngine, locks, limiter)
	hub.StartStaleReaper()
	hub.StartLockHeartbeat()

	healthHandler := health.NewHandler(busService, lockStore)

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("collab-gateway"))
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins()
	if len(corsConfig.AllowOrigins) == 1 && corsConfig.AllowOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
	}
	router.Use(cors.New(corsConfig))

	router.GET(cfg.Namespace, hub.ServeWs)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "gateway starting", zap.Int("port", cfg.Port), zap.String("namespace", cfg.Namespace))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+2*time.Second)
	defer cancel()

	hub.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "http server forced to shutdown", zap.Error(err))
	}

	logging.Info(ctx, "gateway exited")
}
