package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"storefront/internal/backend"
	"storefront/internal/cache"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/circuitbreaker"
	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/handlers"
	"storefront/internal/middleware"
	"storefront/internal/payment"
)

func main() {
	config.Load()
	cfg := config.AppEnv

	client, err := database.Connect(cfg.MongoURI)
	if err != nil {
		log.Fatal(err)
	}

	db := client.Database(cfg.DBName)

	log.Println("MongoDB connected to:", db.Name())

	if err := database.EnsureOrderIndexes(db); err != nil {
		log.Printf("[DB] [WARN] order index warning: %v", err)
	}
	orders := database.NewOrderRepository(db)

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaTopic, cfg.KafkaBrokers...)
		log.Println("[EVENTS] [INFO] publishing order events to", cfg.KafkaTopic)
	}

	var ledger checkout.Ledger = checkout.NewMemoryLedger()
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ledger = cache.NewRedisLedger(redisClient, 0)
		log.Println("[CACHE] [INFO] reconciliation ledger on", cfg.RedisAddr)
	}

	provider := payment.NewStripeProvider(cfg.StripeSecretKey)
	backendClient := backend.NewClient(cfg.BackendURL, nil)
	gateway := payment.NewGateway(backendClient, payment.NewStripeProcessor(cfg.StripeSecretKey), circuitbreaker.Settings{})
	policy := checkout.Policy{
		MaxAttempts:    cfg.CheckoutMaxAttempts,
		PollInterval:   cfg.CheckoutPollInterval,
		PollAttempts:   cfg.CheckoutPollAttempts,
		ConfirmTimeout: cfg.CheckoutConfirmTimeout,
	}

	// Each machine calls the backend with its shopper's own token.
	newMachine := func(p middleware.Principal, c *cart.Cart) *checkout.Machine {
		asUser := backendClient.WithToken(backend.StaticToken(p.Token))
		return checkout.New(c, checkout.Options{
			UserID:     p.UserID,
			Gateway:    gateway.WithCreator(asUser),
			Reconciler: backend.NewOrderReconciler(asUser),
			Ledger:     ledger,
			Policy:     policy,
		})
	}

	sessions := checkout.NewRegistry(cfg.CheckoutSessionTTL)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sessions.Run(ctx, time.Minute)

	userAuth := middleware.UserAuth(cfg.JWTSecret, cfg.IsAdminEmail)
	adminAuth := middleware.AdminAuth(cfg.JWTSecret, cfg.IsAdminEmail)

	r := gin.Default()

	r.POST("/create-payment-intent", userAuth, handlers.CreatePaymentIntent(provider, cfg.Currency))
	r.POST("/confirm-payment", userAuth, handlers.ConfirmPayment(provider))

	r.POST("/orders", userAuth, handlers.CreateOrder(orders, publisher))
	r.GET("/orders", userAuth, handlers.GetOrders(orders))
	r.PUT("/orders/:id", adminAuth, handlers.UpdateOrderStatus(orders, publisher))

	checkoutGroup := r.Group("/checkout")
	checkoutGroup.Use(userAuth)
	handlers.NewCheckoutHandler(sessions, newMachine, cfg.Currency).Register(checkoutGroup)

	admin := r.Group("/admin/api")
	admin.Use(adminAuth)
	{
		admin.GET("/me", func(c *gin.Context) {
			c.JSON(200, gin.H{"ok": true})
		})
		admin.DELETE("/orders/:id", handlers.DeleteOrder(orders))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Println("storefront listening on", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	sessions.CloseAll()
	if err := publisher.Close(); err != nil {
		log.Printf("[EVENTS] [WARN] publisher close: %v", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := client.Disconnect(shutdownCtx); err != nil {
		log.Printf("[DB] [WARN] disconnect: %v", err)
	}
}
