package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"storefront/internal/cache"
	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/coupon"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/handlers"
	"storefront/internal/logging"
	"storefront/internal/middleware"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/payment/vnpay"
	"storefront/internal/store"
	"storefront/internal/store/memstore"
	"storefront/internal/store/mongostore"
	"storefront/internal/wishlist"
)

func main() {
	if err := config.Load(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	cfg := config.AppEnv
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, variants, closeStore := openStore(cfg, logger)
	defer closeStore()

	variants = catalog.NewResilient(variants, catalog.ResilientOptions{
		Timeout:  cfg.CatalogTimeout,
		Attempts: cfg.CatalogAttempts,
	}, logger)

	cartCache, wishlistCache, closeCache := openCaches(ctx, cfg, logger)
	defer closeCache()

	carts := cart.NewService(st, variants, cartCache, logger)
	wishlists := wishlist.NewService(st, variants, wishlistCache, carts, logger)
	coupons := coupon.NewValidator(st, cfg.CatalogTimeout, logger)

	gateways := map[models.PaymentMethod]payment.Gateway{}
	if cfg.GatewayEnabled() {
		gateways[models.PaymentVNPay] = vnpay.New(vnpay.Config{
			TmnCode:     cfg.VNPayTmnCode,
			HashSecret:  cfg.VNPayHashSecret,
			PayURL:      cfg.VNPayPayURL,
			ReturnURL:   cfg.VNPayReturnURL,
			ExpireAfter: 15 * time.Minute,
		})
	} else {
		logger.Warn("VNPAY credentials not set, gateway checkout disabled")
	}

	orders := checkout.New(st, coupons, carts, gateways, checkout.Options{
		GatewayTimeout:    cfg.GatewayTimeout,
		IdempotencyWindow: cfg.IdempotencyWindow,
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))
	handlers.Register(r, handlers.Services{
		Carts:     carts,
		Wishlists: wishlists,
		Coupons:   coupons,
		Orders:    orders,
		Health:    st,
	}, handlers.RouteOptions{
		JWTSecret: cfg.JWTSecret,
		Limiter:   middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(st, events.NewKafkaWriter(cfg.KafkaTopic, cfg.KafkaBrokers...), cfg.OutboxTick, logger)
		g.Go(func() error {
			publisher.Run(gctx)
			return nil
		})
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events stay in the outbox")
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
		return
	}
	logger.Info("server stopped")
}

func openStore(cfg config.Config, logger *logrus.Logger) (store.Store, catalog.Catalog, func()) {
	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), seedCatalog(logger), func() {}
	}

	client, err := database.Connect(cfg.MongoURI)
	if err != nil {
		logger.WithError(err).Fatal("mongo connection failed")
	}
	db := client.Database(cfg.DBName)
	logger.WithField("db", db.Name()).Info("MongoDB connected")

	if err := database.EnsureIndexes(db, logger); err != nil {
		logger.WithError(err).Fatal("index creation failed")
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			logger.WithError(err).Warn("mongo disconnect failed")
		}
	}
	return mongostore.New(db, logger), catalog.NewMongoCatalog(db, logger), closeFn
}

func openCaches(ctx context.Context, cfg config.Config, logger *logrus.Logger) (cache.Cache[*models.Cart], cache.Cache[*models.Wishlist], func()) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, snapshot cache disabled")
		return cache.Nop[*models.Cart]{}, cache.Nop[*models.Wishlist]{}, func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable, snapshot cache disabled")
		_ = client.Close()
		return cache.Nop[*models.Cart]{}, cache.Nop[*models.Wishlist]{}, func() {}
	}

	return cache.NewRedisCache[*models.Cart](client, "cart", cfg.CacheTTL),
		cache.NewRedisCache[*models.Wishlist](client, "wishlist", cfg.CacheTTL),
		func() { _ = client.Close() }
}

// seedCatalog gives the memory backend something to sell.
func seedCatalog(logger *logrus.Logger) catalog.Catalog {
	cat := catalog.NewMemoryCatalog()
	stock := 50
	id, err := cat.Put(models.Product{
		Name:   "Classic Tee",
		Images: models.StringList{"/public/tee.png"},
		Variants: []models.Variant{
			{Size: "M", Color: "white", Price: 199000, Stock: &stock},
			{Size: "L", Color: "white", Price: 199000, SaleEnabled: true, SalePrice: 159000, Stock: &stock},
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("seed catalog failed")
	}
	logger.WithField("productId", id.Hex()).Info("memory catalog seeded")
	return cat
}
