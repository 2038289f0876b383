package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-canteen-orders/internal/config"
	"github.com/ariefcatur/go-canteen-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-canteen-orders/internal/kafka"
	"github.com/ariefcatur/go-canteen-orders/internal/mail"
	"github.com/ariefcatur/go-canteen-orders/internal/metrics"
	"github.com/ariefcatur/go-canteen-orders/internal/notify"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
	"github.com/ariefcatur/go-canteen-orders/internal/outbox"
	"github.com/ariefcatur/go-canteen-orders/internal/postgres"
	"github.com/ariefcatur/go-canteen-orders/internal/redisx"
	"github.com/ariefcatur/go-canteen-orders/internal/reports"
	"github.com/ariefcatur/go-canteen-orders/internal/storage"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("api")

	// Store, outbox source and recipient directory
	var (
		store     orders.Store
		source    outbox.Source
		directory notify.Directory
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem, dir := seedDemo()
		store, source, directory = mem, mem, dir
		log.Printf("using in-memory store with demo data")
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.PostgresMax))
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatalf("db migrate: %v", err)
		}
		store = &orders.PGStore{DB: db}
		source = &outbox.PGSource{DB: db}
		directory = &notify.PGDirectory{DB: db}
	}

	// Redis is optional: without it reads skip the cache and the in-process
	// dispatcher runs without dedup.
	var (
		cache httpx.OrderCache
		dedup notify.Deduper
	)
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Printf("redis unavailable at %s, running without cache: %v", cfg.RedisAddr, err)
	} else {
		cache = &redisx.OrderCache{R: rdb}
		dedup = &redisx.Dedup{R: rdb, Service: cfg.ServiceName}
	}

	files := &storage.Local{Dir: cfg.UploadDir}
	engine := &orders.Engine{
		Store:             store,
		Files:             files,
		Metrics:           m,
		Service:           cfg.ServiceName,
		LowStockThreshold: cfg.LowStockThreshold,
		RestockOnCancel:   cfg.RestockOnCancel,
	}
	catalog := &orders.Catalog{
		Store:             store,
		Metrics:           m,
		Service:           cfg.ServiceName,
		LowStockThreshold: cfg.LowStockThreshold,
	}

	// Outbox relay: to Kafka when brokers are configured, otherwise straight
	// into the notification dispatcher.
	relay := &outbox.Relay{
		Source:   source,
		Interval: cfg.OutboxPollInterval,
		Batch:    cfg.OutboxBatch,
		Metrics:  m,
		Service:  cfg.ServiceName,
	}
	if cfg.KafkaEnabled() {
		prod := kafkax.NewProducer(cfg.KafkaBrokers)
		defer prod.Close()
		relay.Publisher = outbox.PublisherFunc(prod.PublishRecord)
		log.Printf("relaying events to kafka %v", cfg.KafkaBrokers)
	} else {
		d := &notify.Dispatcher{
			Directory: directory,
			Mailer:    mail.FromConfig(cfg),
			Dedup:     dedup,
			Metrics:   m,
			Service:   cfg.ServiceName,
			Backoff:   time.Second,
		}
		relay.Publisher = outbox.PublisherFunc(d.PublishRecord)
		log.Printf("no kafka brokers, dispatching notifications in-process")
	}

	weekly := &reports.Weekly{Store: store, Service: cfg.ServiceName}

	router := httpx.NewRouter(m)
	(&httpx.OrdersHandler{Engine: engine, Cache: cache, Service: cfg.ServiceName}).Register(router)
	(&httpx.ProductsHandler{Catalog: catalog, Service: cfg.ServiceName}).Register(router)
	httpx.MountUploads(router, files)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return weekly.Schedule(gctx, cfg.ReportInterval) })
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("exit: %v", err)
	}

	// Last chance to hand committed events over before the process ends.
	flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := relay.Flush(flushCtx); err != nil {
		log.Printf("final outbox flush: %v", err)
	}
}
