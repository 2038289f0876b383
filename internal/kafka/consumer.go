package kafka

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-canteen-orders/internal/logging"
)

// Handler returns nil only when the message is done with and its offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

const (
	retryBackoff    = 200 * time.Millisecond
	maxRetryBackoff = 10 * time.Second
)

type Consumer struct {
	r       *kafka.Reader
	workers int
	service string
}

func NewConsumer(brokers []string, group string, topics []string, workers int, service string) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return &Consumer{r: r, workers: max(workers, 1), service: service}
}

// Start fetches until ctx is cancelled. Each partition is pinned to one of
// the workers, so a partition's messages are handled and committed in
// offset order. A failing message is retried in place and holds back the
// rest of its partition until it succeeds.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				c.process(ctx, h, m)
			}
		}(lanes[i])
	}
	stop := func(err error) error {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
		return err
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return stop(nil)
			}
			return stop(err)
		}
		select {
		case lanes[lane(m.Topic, m.Partition, len(lanes))] <- m:
		case <-ctx.Done():
			return stop(nil)
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	f := logging.Fields{Service: c.service, Step: "kafka.consume", EventID: Header(m.Headers, "event_id"), Message: m.Topic}
	if err := handleUntilDone(ctx, h, m, retryBackoff, maxRetryBackoff, func(err error) { logging.Err(f, err) }); err != nil {
		return
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		f.Step = "kafka.commit"
		logging.Err(f, err)
	}
}

// handleUntilDone calls h until it succeeds, doubling the pause between
// attempts up to maxWait. It gives up only when ctx ends, returning ctx.Err().
func handleUntilDone(ctx context.Context, h Handler, m kafka.Message, wait, maxWait time.Duration, onErr func(error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := h(ctx, m)
		if err == nil {
			return nil
		}
		onErr(err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, maxWait)
	}
}

// lane maps a partition to a worker index.
func lane(topic string, partition, n int) int {
	h := fnv.New32a()
	h.Write([]byte(topic))
	h.Write([]byte(strconv.Itoa(partition)))
	return int(h.Sum32() % uint32(n))
}
