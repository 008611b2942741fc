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

	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/memstore"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/ariefcatur/storefront-orders/internal/reconcile"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var store orders.Store
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			lg.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			lg.Fatal("db migrate", zap.Error(err))
		}
		store = &postgres.Store{DB: db, ClampAtZero: cfg.StockClampAtZero}
	case config.DriverMemory:
		mem := memstore.New(memstore.WithClampAtZero(cfg.StockClampAtZero))
		for id, stock := range cfg.MemorySeedProducts {
			mem.PutProduct(orders.Product{ID: id, Name: id, Stock: stock})
		}
		store = mem
	}

	// Redis (opsional): tanpa Redis, notifikasi jalan in-process
	var (
		rdb      *redis.Client
		notifier orders.Notifier = memstore.NewNotifier()
		cache    orders.StatusCache
		stock    orders.StockIndex
	)
	if cfg.RedisAddr != "" {
		c := redisx.New(cfg.RedisAddr)
		if err := redisx.Ping(ctx, c); err != nil {
			lg.Warn("redis unavailable, running without cache and pub/sub", zap.Error(err))
			_ = c.Close()
		} else {
			defer c.Close()
			rdb = c
			notifier = &redisx.Notifier{Redis: rdb}
			cache = &redisx.StatusCache{Redis: rdb}

			// isi set out-of-stock dari kondisi produk sekarang; perubahan berikutnya ditandai per commit
			set := &redisx.StockSet{Redis: rdb}
			if ps, err := store.ListProducts(ctx); err != nil {
				lg.Warn("list products for stock sync", zap.Error(err))
			} else if err := set.Sync(ctx, ps); err != nil {
				lg.Warn("sync out-of-stock set", zap.Error(err))
			}
			stock = set
		}
	}

	// Kafka producer (opsional)
	var (
		events orders.Publisher
		prod   *kafkax.Producer
	)
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaBrokers[0] != "" {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, lg)
		prod.Start()
		events = prod
	}

	svc := &orders.Service{
		Store:       store,
		Notifier:    notifier,
		Events:      events,
		Stock:       stock,
		Log:         lg,
		ServiceName: cfg.ServiceName,
	}
	engine := &reconcile.Engine{
		Store:           store,
		Notifier:        notifier,
		Events:          events,
		Cache:           cache,
		Stock:           stock,
		Log:             lg,
		ServiceName:     cfg.ServiceName,
		MaxRetries:      cfg.ReconcileMaxRetries,
		BulkConcurrency: cfg.BulkConcurrency,
	}
	if cfg.ReconcileMaxRetries == 0 {
		engine.MaxRetries = -1
	}

	router := httpx.NewRouter(lg)
	oh := &httpx.OrdersHandler{Orders: svc, Engine: engine, Redis: rdb, Log: lg}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		lg.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	lg.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	if prod != nil {
		prod.Close() // tutup inbox -> flush & close writer
		prod.WaitClosed()
	}
}
