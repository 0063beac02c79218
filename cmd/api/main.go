package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/auth"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/checkout"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/config"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/httpx"
	kafkax "github.com/ariefcatur/go-bookstore-orders.git/internal/kafka"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/metrics"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/payment"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/postgres"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/profiles"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.OrdersTopic, 1024, cfg.ServiceName)
	prod.Start(ctx)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(reg, "api")
	checkoutMetrics := metrics.NewCheckoutMetrics(reg)

	// Repos & services
	cartRepo := &cart.Repo{DB: db}
	profileRepo := &profiles.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db}
	events := &orders.Emitter{Producer: prod, Service: cfg.ServiceName}

	checkoutSvc := &checkout.Service{
		Cart:     cartRepo,
		Profiles: profileRepo,
		Gateway:  payment.NewRazorpay(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.GatewayTimeout),
		Signer:   payment.NewSigner(cfg.RazorpayKeySecret),
		Finalizer: &checkout.Finalizer{
			Orders:      orderRepo,
			Cart:        cartRepo,
			Redis:       rdb,
			Events:      events,
			Metrics:     checkoutMetrics,
			ServiceName: cfg.ServiceName,
		},
		Currency:    cfg.Currency,
		MockOrders:  cfg.MockOrdersEnabled(),
		Metrics:     checkoutMetrics,
		ServiceName: cfg.ServiceName,
	}
	orderSvc := &orders.Service{
		Store:             orderRepo,
		Cache:             orders.NewCache(rdb),
		Events:            events,
		StrictTransitions: cfg.StrictTransitions,
		ServiceName:       cfg.ServiceName,
	}

	// Router
	router := httpx.NewRouter(serverMetrics)
	router.Handle("/metrics", metrics.Handler(reg))
	authn := &httpx.Authenticator{Tokens: auth.NewVerifier(cfg.JWTSecret), Roles: profileRepo, Service: cfg.ServiceName}
	router.Route("/api", func(r chi.Router) {
		r.Use(authn.Middleware)
		(&httpx.CheckoutHandler{Checkout: checkoutSvc, MockOrders: cfg.MockOrdersEnabled(), Timeout: cfg.RequestTimeout}).Register(r)
		(&httpx.CartHandler{Cart: cartRepo, Timeout: cfg.RequestTimeout}).Register(r)
		(&httpx.OrdersHandler{Orders: orderSvc, Timeout: cfg.RequestTimeout}).Register(r)
	})
	if cfg.MockOrdersEnabled() {
		log.Printf("mock orders enabled (APP_ENV=%s)", cfg.AppEnv)
	}

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		// unfinished handlers may still publish; Close makes those drops
		log.Printf("http shutdown: %v", err)
	}
	prod.Close() // flush buffered events, then close the writer
	prod.WaitClosed()
	if n := prod.Dropped(); n > 0 {
		log.Printf("kafka producer dropped %d events", n)
	}
	cancel()
}
