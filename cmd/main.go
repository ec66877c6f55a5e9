package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	c "github.com/fjod/go_cart/cart-pricing-service/internal/cache"
	"github.com/fjod/go_cart/cart-pricing-service/internal/clients"
	"github.com/fjod/go_cart/cart-pricing-service/internal/config"
	"github.com/fjod/go_cart/cart-pricing-service/internal/coupon"
	"github.com/fjod/go_cart/cart-pricing-service/internal/currency"
	"github.com/fjod/go_cart/cart-pricing-service/internal/exchange"
	h "github.com/fjod/go_cart/cart-pricing-service/internal/http"
	l "github.com/fjod/go_cart/cart-pricing-service/internal/logger"
	"github.com/fjod/go_cart/cart-pricing-service/internal/poller"
	"github.com/fjod/go_cart/cart-pricing-service/internal/reconcile"
	"github.com/fjod/go_cart/cart-pricing-service/internal/repository"
	s "github.com/fjod/go_cart/cart-pricing-service/internal/service"
)

func main() {
	cfg := config.Load()

	logger, err := l.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Set up MongoDB connection
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoDB.Client().Disconnect(context.Background())

	carts := repository.NewMongoRepository(mongoDB)
	if err := carts.CreateIndexes(ctx); err != nil {
		logger.Fatal("Failed to create cart indexes", zap.Error(err))
	}
	logger.Info("Connected to MongoDB", zap.String("uri", cfg.MongoURI))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	logger.Info("Redis ping succeeded")

	pg, err := repository.NewPostgresRepository(&cfg.Postgres)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pg.Close()
	if err := pg.RunMigrations(&cfg.Postgres); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	currencyList, err := pg.ListCurrencies(ctx)
	if err != nil {
		logger.Fatal("Failed to load currencies", zap.Error(err))
	}
	currencies, err := currency.NewCatalog(currencyList)
	if err != nil {
		logger.Fatal("Invalid currency catalog", zap.Error(err))
	}

	resolver := exchange.NewResolver(currencies.Default().Code, logger)
	refresher := exchange.NewRefresher(
		clients.NewRateFeed(cfg.RatesURL, logger),
		resolver,
		c.NewRateStore(redisClient),
		cfg.RateRefreshInterval,
		cfg.CollaboratorTimeout,
		logger,
	)
	go refresher.Run(ctx)

	catalog := clients.NewCatalogClient(cfg.CatalogURL, cfg.CollaboratorTimeout, logger)
	shipping := clients.NewShippingClient(cfg.ShippingURL, cfg.CollaboratorTimeout, logger)

	service := s.NewCartService(s.Dependencies{
		Repo:        carts,
		Cache:       c.NewRedisCache(redisClient),
		Redemptions: pg,
		Catalog:     catalog,
		Shipping:    shipping,
		Coupons:     coupon.NewEngine(pg),
		Reconciler:  reconcile.NewReconciler(catalog),
		Currencies:  currencies,
		Resolver:    resolver,
		Formatter:   currency.NewFormatter(currencies),
		Logger:      logger,
	})

	events := poller.NewPoller(service, logger, cfg.KafkaBrokers...)
	defer events.Close()
	go events.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.NewRouter(h.NewCartHandler(service, logger), logger, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Cart pricing service listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down cart pricing service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("Cart pricing service stopped")
}
