package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "toollend-backend/docs"
	"toollend-backend/internal/inventory"
	"toollend-backend/internal/lending/borrows"
	"toollend-backend/internal/lending/reconcile"
	"toollend-backend/internal/lending/saga"
	"toollend-backend/internal/platform/auth"
	"toollend-backend/internal/platform/config"
	"toollend-backend/internal/platform/db"
	"toollend-backend/internal/platform/docstore"
	"toollend-backend/internal/platform/docstore/memdoc"
	"toollend-backend/internal/platform/docstore/mongodoc"
	"toollend-backend/internal/platform/docstore/mysqldoc"
	"toollend-backend/internal/platform/logger"
	"toollend-backend/internal/platform/scheduler"
	"toollend-backend/internal/reporting"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("toollend: %v", err)
	}
}

// run wires everything and blocks until a signal or a server failure. It
// returns instead of exiting so the deferred cleanups always run.
func run() error {
	// 設定読み込み
	path := config.DefaultPath
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lg, err := logger.New(cfg.Mode)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	lg.Info("starting", zap.String("mode", cfg.Mode), zap.String("store", cfg.Store.Backend), zap.String("auth", cfg.Auth.Provider))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, conn, closeStore, err := openStore(ctx, cfg, lg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	resolver, accounts, err := setupAuth(ctx, cfg, conn, lg)
	if err != nil {
		return fmt.Errorf("set up auth: %w", err)
	}

	runner := saga.NewRunner(store, logger.Named(lg, "saga"))
	borrowSvc := borrows.NewService(store, runner, logger.Named(lg, "borrows"))
	inventorySvc := inventory.NewService(store, logger.Named(lg, "inventory"))

	var (
		reportOpts []reporting.Option
		exporter   scheduler.LedgerExporter
	)
	if cfg.Sheets.Enabled() {
		appender, err := reporting.NewSheetsAppender(ctx, cfg.Sheets, logger.Named(lg, "sheets"))
		if err != nil {
			return fmt.Errorf("create sheets client: %w", err)
		}
		reportOpts = append(reportOpts, reporting.WithSheets(appender, cfg.Sheets.Range))
	}
	reportSvc := reporting.NewService(borrowSvc, logger.Named(lg, "reporting"), reportOpts...)
	if cfg.Sheets.Enabled() {
		exporter = reportSvc
	}

	if cfg.Scheduler.Enabled {
		sweeper := reconcile.NewSweeper(store, runner.Executor(), logger.Named(lg, "reconcile"), cfg.Scheduler.ReconcileBatch)
		sched := scheduler.NewScheduler(cfg.Scheduler, sweeper, exporter, logger.Named(lg, "scheduler"))
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(cfg, lg, resolver, accounts, borrowSvc, inventorySvc, reportSvc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if cfg.Server.TLS() {
			lg.Info("listening (tls)", zap.String("addr", srv.Addr))
			serveErr <- srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
			return
		}
		lg.Info("listening", zap.String("addr", srv.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
	}
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("shutdown", zap.Error(err))
	}
	return nil
}

func newRouter(
	cfg *config.Config,
	lg *zap.Logger,
	resolver auth.Resolver,
	accounts auth.AccountService,
	borrowSvc *borrows.Service,
	inventorySvc *inventory.Service,
	reportSvc *reporting.Service,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(logger.GinMiddleware(logger.Named(lg, "http")), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == config.ModeDev {
		// CORS（開発中のみ必要）
		origins := cfg.Server.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", logger.HeaderRequestID},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Location", logger.HeaderRequestID},
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// /api/v1
	api := r.Group("/api/v1")
	api.Use(auth.Authenticate(resolver, logger.Named(lg, "auth")))

	admin := auth.RequireRole(auth.RoleAdmin)
	staff := auth.RequireRole(auth.RoleStaff, auth.RoleAdmin)

	if accounts != nil {
		auth.RegisterRoutes(api, accounts, admin)
	}
	// borrows answer unauthenticated callers in their own envelope
	borrows.RegisterRoutes(api, borrowSvc)

	protected := api.Group("", auth.RequireAuth())
	inventory.RegisterRoutes(protected, inventorySvc, admin)
	reporting.RegisterRoutes(protected, reportSvc, staff)
	return r
}

// openStore connects the configured backend. conn is the MySQL pool when
// there is one; local accounts live there.
func openStore(ctx context.Context, cfg *config.Config, lg *zap.Logger) (docstore.Store, *sql.DB, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendMySQL:
		conn, err := db.Connect(cfg.DB)
		if err != nil {
			return nil, nil, nil, err
		}
		store := mysqldoc.New(conn)
		if cfg.DB.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = conn.Close()
				return nil, nil, nil, err
			}
		}
		lg.Info("connected to DB", zap.String("dbname", cfg.DB.DBName))
		return store, conn, func() { _ = conn.Close() }, nil

	case config.BackendMongo:
		client, database, err := db.ConnectMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, nil, err
		}
		store := mongodoc.New(database)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, nil, err
		}
		lg.Info("connected to mongodb", zap.String("dbname", cfg.Mongo.DBName))
		closeFn := func() {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(c)
		}
		return store, nil, closeFn, nil

	default:
		lg.Warn("using the in-memory store, data is lost on restart")
		return memdoc.New(), nil, func() {}, nil
	}
}

// setupAuth returns the token resolver and, for the local provider, the
// account service behind /login and /register.
func setupAuth(ctx context.Context, cfg *config.Config, conn *sql.DB, lg *zap.Logger) (auth.Resolver, auth.AccountService, error) {
	if cfg.Auth.Provider == config.AuthRemote {
		return auth.NewRemoteResolver(cfg.Auth), nil, nil
	}

	tokens := auth.NewJWTResolver([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	var accounts auth.AccountStore
	if conn != nil {
		accounts = auth.NewStore(conn)
	} else {
		accounts = auth.NewMemoryStore()
	}
	svc := auth.NewService(accounts, tokens)

	if cfg.Auth.AdminID != "" {
		if err := svc.EnsureAdmin(ctx, cfg.Auth.AdminID, cfg.Auth.AdminPassword); err != nil {
			return nil, nil, err
		}
		lg.Info("admin account ready", zap.String("id", cfg.Auth.AdminID))
	}
	return tokens, svc, nil
}
