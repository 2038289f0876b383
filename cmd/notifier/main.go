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
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-canteen-orders/internal/config"
	kafkax "github.com/ariefcatur/go-canteen-orders/internal/kafka"
	"github.com/ariefcatur/go-canteen-orders/internal/mail"
	"github.com/ariefcatur/go-canteen-orders/internal/metrics"
	"github.com/ariefcatur/go-canteen-orders/internal/notify"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
	"github.com/ariefcatur/go-canteen-orders/internal/postgres"
	"github.com/ariefcatur/go-canteen-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if !cfg.KafkaEnabled() {
		log.Fatal("notifier: KAFKA_BROKERS is required")
	}
	service := cfg.ServiceName + "-notifier"

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.PostgresMax))
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	m := metrics.New("notifier")
	d := &notify.Dispatcher{
		Directory: &notify.PGDirectory{DB: db},
		Mailer:    mail.FromConfig(cfg),
		Dedup:     &redisx.Dedup{R: rdb, Service: service},
		Metrics:   m,
		Service:   service,
		Backoff:   time.Second,
	}

	topics := []string{orders.TopicOrderEvents, orders.TopicReports}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, topics, cfg.NotifierWorkers, service)
	handle := func(ctx context.Context, msg kafka.Message) error {
		ev, err := kafkax.Decode[orders.Envelope](msg.Value)
		if err != nil {
			// poison message: nothing to retry
			log.Printf("skip undecodable message at %s/%d/%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			return nil
		}
		return d.Handle(ctx, ev)
	}

	// metrics endpoint only
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("notifier consumer started: group=%s topics=%v workers=%d", cfg.NotifierGroup, topics, cfg.NotifierWorkers)
		return cons.Start(gctx, handle)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down consumer...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Printf("notifier exit: %v", err)
	}
}
