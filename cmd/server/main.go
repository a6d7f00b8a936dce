package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/vehicle-marketplace/internal/clock"
	"github.com/iliyamo/vehicle-marketplace/internal/config"
	"github.com/iliyamo/vehicle-marketplace/internal/database"
	"github.com/iliyamo/vehicle-marketplace/internal/handler"
	"github.com/iliyamo/vehicle-marketplace/internal/logger"
	"github.com/iliyamo/vehicle-marketplace/internal/metrics"
	"github.com/iliyamo/vehicle-marketplace/internal/middleware"
	"github.com/iliyamo/vehicle-marketplace/internal/notify"
	"github.com/iliyamo/vehicle-marketplace/internal/queue"
	"github.com/iliyamo/vehicle-marketplace/internal/repository"
	"github.com/iliyamo/vehicle-marketplace/internal/router"
	"github.com/iliyamo/vehicle-marketplace/internal/service"
	"github.com/iliyamo/vehicle-marketplace/internal/storage"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}

	users := repository.NewUserRepo(db)
	listings := repository.NewListingRepo(db)
	claims := repository.NewClaimRepo(db)
	offers := repository.NewOfferRepo(db)
	tx := repository.NewTxManager(db)

	if err := handler.SeedAdmin(ctx, cfg, users, log); err != nil {
		log.Error("seed admin", zap.Error(err))
	}

	// Redis is optional; without it the limiter and cache pass through.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable, rate limiting and caching disabled")
	} else {
		defer rdb.Close()
	}

	m := metrics.New("marketplace")
	hub := notify.NewHub(cfg.SSEBuffer)
	hub.OnChange = m.SubscribersChanged

	qc := config.LoadQueueConfig()
	pub := queue.NewPublisher(qc.URL, qc.Queue, 256, log.Named("queue"))
	go pub.Run(ctx)
	audit := &queue.Consumer{URL: qc.URL, Queue: qc.Queue, LogPath: "logs/marketplace.log", Log: log.Named("audit")}
	go func() {
		if err := audit.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit consumer stopped", zap.Error(err))
		}
	}()

	clk := clock.NewSystem()

	listingOpts := []service.ListingOption{
		service.WithExtension(cfg.ListingExtension),
		service.WithListingLogger(log.Named("listings")),
	}
	if sc := config.LoadStorageConfig(); sc.Endpoint != "" {
		images, err := storage.NewImageStore(ctx, sc.Endpoint, sc.AccessKey, sc.SecretKey, sc.Bucket, sc.UseSSL, log.Named("storage"))
		if err != nil {
			log.Fatal("image store", zap.Error(err))
		}
		listingOpts = append(listingOpts, service.WithImageStore(images))
	} else {
		log.Warn("MINIO_ENDPOINT not set, image uploads disabled")
	}

	reconciler := service.NewReconciler(tx, listings, claims, clk,
		service.WithListingTTL(cfg.ListingTTL),
		service.WithListingFee(cfg.ListingFeeKES),
		service.WithReconcilerPublisher(pub),
		service.WithReconcilerMetrics(m),
		service.WithReconcilerLogger(log.Named("payments")),
	)
	offerSvc := service.NewOfferService(listings, offers, users, clk,
		service.WithBroadcaster(hub),
		service.WithOfferPublisher(pub),
		service.WithOfferMetrics(m),
		service.WithOfferLogger(log.Named("offers")),
	)
	listingSvc := service.NewListingService(listings, offers, clk, listingOpts...)

	go service.NewSweeper(reconciler, clk, cfg.SweepInterval, log.Named("sweeper")).Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// SSE handlers only return once their subscriber is closed.
	e.Server.RegisterOnShutdown(hub.Close)
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORS())
	e.Use(m.Middleware())
	e.Use(middleware.RequestLogger(log.Named("http")))

	guards := router.Guards{
		JWTSecret: cfg.JWTSecret,
		Limiter:   middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
		Cache:     middleware.NewRedisCache(config.LoadCacheConfig(), rdb, log),
	}
	router.RegisterRoutes(e, m.Handler())
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, log), guards)
	router.RegisterListings(e,
		handler.NewListingHandler(listingSvc, log),
		handler.NewOfferHandler(offerSvc, log),
		handler.NewEventHandler(hub, listingSvc, cfg.SSEHeartbeat, log),
		guards,
	)
	router.RegisterPayments(e, handler.NewPaymentHandler(reconciler, log), guards)
	router.RegisterAdmin(e, handler.NewAdminHandler(reconciler, users, log), guards)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}
