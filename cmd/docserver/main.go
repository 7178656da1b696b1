package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/revdoc/handlers"
	"github.com/gogotex/revdoc/internal/archive"
	"github.com/gogotex/revdoc/internal/auth"
	"github.com/gogotex/revdoc/internal/config"
	"github.com/gogotex/revdoc/internal/document/handler"
	"github.com/gogotex/revdoc/internal/document/service"
	"github.com/gogotex/revdoc/internal/revision"
	"github.com/gogotex/revdoc/pkg/logger"
	"github.com/gogotex/revdoc/pkg/metrics"
	"github.com/gogotex/revdoc/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()
	logger.Infof("config loaded: store=%s redis=%v auth=%v archive=%v", cfg.Store.Backend, cfg.Redis.Addr() != "", cfg.Auth.Enabled, cfg.Archive.Enabled())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", addr, err)
		}
		defer rdb.Close()
	}

	st, err := openStore(ctx, cfg, rdb)
	if err != nil {
		return err
	}

	opts := []service.Option{}
	if cfg.Store.SharedTicks {
		opts = append(opts, service.WithTicks(revision.NewRedisSource(rdb, cfg.Redis.Prefix+"tick")))
	}
	if cfg.Archive.Enabled() {
		a, err := archive.NewMinIO(ctx, archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseSSL:    cfg.Archive.UseSSL,
			Bucket:    cfg.Archive.Bucket,
		})
		if err != nil {
			logger.Warnf("archive disabled: %v", err)
		} else {
			opts = append(opts, service.WithArchiver(a))
		}
	}
	svc := service.New(st.repo, opts...)

	if cfg.Server.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog())

	checks := map[string]handlers.Check{"store": st.check}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	handlers.RegisterHealth(r, checks)
	handlers.RegisterSwagger(r)
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("")
	if cfg.Auth.Enabled {
		ver, err := verifier(ctx, cfg.Auth)
		if err != nil {
			return err
		}
		api.Use(middleware.AuthMiddleware(ver, auth.NewRevocations(rdb)))
	}
	// after auth so limits are per subject
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.Window))
	}
	handler.RegisterRoutes(api, svc)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("revdoc listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if cerr := st.close(sctx); cerr != nil {
			logger.Warnf("close store: %v", cerr)
		}
		return err
	})
	return g.Wait()
}

func verifier(ctx context.Context, cfg config.AuthConfig) (middleware.Verifier, error) {
	if cfg.OIDCIssuer != "" {
		logger.Infof("verifying tokens against OIDC issuer %s", cfg.OIDCIssuer)
		return auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
	}
	logger.Infof("verifying HS256 tokens")
	return auth.NewHMACVerifier(cfg.JWTSecret, cfg.JWTIssuer)
}
