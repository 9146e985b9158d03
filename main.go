package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/authsession/handlers"
	"github.com/gogotex/authsession/internal/auth"
	"github.com/gogotex/authsession/internal/config"
	"github.com/gogotex/authsession/internal/database"
	"github.com/gogotex/authsession/internal/oidc"
	"github.com/gogotex/authsession/internal/password"
	"github.com/gogotex/authsession/internal/sessions"
	"github.com/gogotex/authsession/internal/sessions/postgres"
	"github.com/gogotex/authsession/internal/tokens"
	"github.com/gogotex/authsession/internal/users"
	"github.com/gogotex/authsession/pkg/logger"
	"github.com/gogotex/authsession/pkg/metrics"
	"github.com/gogotex/authsession/pkg/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

var startTime = time.Now()

const connectAttempts = 5

// deps holds the backing services the process connected to. Nil fields were not configured.
type deps struct {
	redis    *redis.Client
	mongo    *mongo.Client
	postgres *pgxpool.Pool
}

func (d *deps) close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.mongo != nil {
		_ = d.mongo.Disconnect(context.Background())
	}
	if d.postgres != nil {
		d.postgres.Close()
	}
}

func connect(ctx context.Context, cfg *config.Config) (*deps, error) {
	d := &deps{}
	warn := func(name string) func(int, error) {
		return func(attempt int, err error) {
			logger.Warnf("attempt %d/%d: failed to connect to %s: %v", attempt, connectAttempts, name, err)
		}
	}

	if addr := cfg.Redis.Addr(); addr != "" {
		d.redis = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := d.redis.Ping(ctx).Err(); err != nil {
			d.close()
			return nil, fmt.Errorf("redis ping %s: %w", addr, err)
		}
		logger.Infof("connected to Redis at %s", addr)
	}

	if cfg.MongoDB.URI != "" {
		client, err := database.Retry(ctx, connectAttempts, time.Second, warn("MongoDB"), func(ctx context.Context) (*mongo.Client, error) {
			return database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		})
		if err != nil {
			d.close()
			return nil, err
		}
		d.mongo = client
		logger.Infof("connected to MongoDB database %s", cfg.MongoDB.Database)
	}

	if cfg.Postgres.DSN != "" {
		pool, err := database.Retry(ctx, connectAttempts, time.Second, warn("Postgres"), func(ctx context.Context) (*pgxpool.Pool, error) {
			return database.ConnectPostgres(ctx, cfg.Postgres.DSN, 10*time.Second)
		})
		if err != nil {
			d.close()
			return nil, err
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			d.close()
			return nil, err
		}
		d.postgres = pool
		logger.Infof("connected to Postgres, migrations applied")
	}
	return d, nil
}

func buildUsers(ctx context.Context, cfg *config.Config, d *deps) (*users.Service, error) {
	if cfg.Session.UserStore != "mongo" {
		logger.Warnf("USER_STORE=memory: accounts are lost on restart")
		return users.NewService(users.NewMemoryUserRepository()), nil
	}
	if d.mongo == nil {
		return nil, errors.New("USER_STORE=mongo requires MONGODB_URI")
	}
	repo := users.NewMongoUserRepository(d.mongo.Database(cfg.MongoDB.Database).Collection("users"))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("users indexes: %w", err)
	}
	return users.NewService(repo), nil
}

func buildStore(ctx context.Context, cfg *config.Config, d *deps) (sessions.Store, error) {
	switch cfg.Session.Store {
	case "mongo":
		if d.mongo == nil {
			return nil, errors.New("SESSION_STORE=mongo requires MONGODB_URI")
		}
		repo := sessions.NewMongoRepository(d.mongo.Database(cfg.MongoDB.Database).Collection("sessions"))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("sessions indexes: %w", err)
		}
		return repo, nil
	case "redis":
		if d.redis == nil {
			return nil, errors.New("SESSION_STORE=redis requires REDIS_HOST")
		}
		return sessions.NewRedisRepository(d.redis, "session:"), nil
	case "postgres":
		if d.postgres == nil {
			return nil, errors.New("SESSION_STORE=postgres requires POSTGRES_DSN")
		}
		return postgres.NewStore(d.postgres), nil
	default:
		logger.Warnf("SESSION_STORE=memory: sessions are lost on restart")
		return sessions.NewMemoryRepository(), nil
	}
}

func rateLimiter(cfg *config.Config, d *deps) gin.HandlerFunc {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	if cfg.RateLimit.UseRedis && d.redis != nil {
		win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
		return middleware.RedisRateLimitMiddleware(d.redis, "auth:", cfg.RateLimit.RPS, cfg.RateLimit.Burst, win)
	}
	return middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
}

// cors is a permissive dev policy; production deployments sit behind a proxy that sets it.
func cors(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
	c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusOK)
		return
	}
	c.Next()
}

func readiness(cfg *config.Config, d *deps, idpReady bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := map[string]bool{}
		if d.redis != nil {
			status["redis"] = d.redis.Ping(ctx).Err() == nil
		}
		if d.mongo != nil {
			status["mongo"] = d.mongo.Ping(ctx, nil) == nil
		}
		if d.postgres != nil {
			status["postgres"] = d.postgres.Ping(ctx) == nil
		}
		if cfg.OIDC.Enabled() {
			status["oidc"] = idpReady
		}

		ready := true
		for _, ok := range status {
			ready = ready && ok
		}
		code, label := http.StatusOK, "ready"
		if !ready {
			code, label = http.StatusServiceUnavailable, "not_ready"
		}
		c.JSON(code, gin.H{"status": label, "store": cfg.Session.Store, "deps": status, "uptime": time.Since(startTime).String()})
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	logger.SetFormat(cfg.Log.Format)
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())
	logger.Infof("config loaded: store=%s users=%s oidc=%v mongo=%v redis=%v postgres=%v",
		cfg.Session.Store, cfg.Session.UserStore, cfg.OIDC.Enabled(), cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Postgres.DSN != "")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := connect(ctx, cfg)
	if err != nil {
		logger.Fatalf("backing services: %v", err)
	}
	defer d.close()

	userSvc, err := buildUsers(ctx, cfg, d)
	if err != nil {
		logger.Fatalf("user store: %v", err)
	}
	store, err := buildStore(ctx, cfg, d)
	if err != nil {
		logger.Fatalf("session store: %v", err)
	}

	codec := tokens.NewCodec(cfg.JWT)
	svc := auth.NewService(userSvc, store, codec, password.NewHasher(cfg.Session.BcryptCost), auth.Options{
		AbsoluteTTL:      cfg.Session.AbsoluteTTL,
		ReuseContainment: cfg.Session.ReuseContainment,
	})

	go sessions.RunJanitor(ctx, store, cfg.Session.JanitorInterval)

	var idp handlers.IdentityProvider
	if cfg.OIDC.Enabled() {
		p, err := oidc.NewProvider(ctx, cfg.OIDC)
		if err != nil {
			logger.Warnf("OIDC login disabled: %v", err)
		} else {
			idp = p
			logger.Infof("OIDC login enabled for issuer %s", cfg.OIDC.Issuer)
		}
	}

	r := gin.New()
	r.Use(cors, gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "healthy") })
	r.GET("/ready", readiness(cfg, d, idp != nil))

	h := handlers.NewAuthHandler(cfg, svc, codec, idp)
	if l := rateLimiter(cfg, d); l != nil {
		h.WithRateLimit(l)
	}
	h.Register(r.Group("/"))
	handlers.RegisterSwagger(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting auth service on %s", srv.Addr)
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
