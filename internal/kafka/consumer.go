package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/logging"
	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message is fully processed and its offset may be committed.
// A non-nil error makes the consumer retry the same message with backoff.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer fans messages out to workers by partition, so each partition is handled in order
// and a later offset is never committed while an earlier one is still failing.
type Consumer struct {
	r          messageReader
	workers    int
	service    string
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, service string) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, service: service, backoff: 200 * time.Millisecond, maxBackoff: 10 * time.Second}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				c.process(ctx, h, m)
			}
		}(jobs[i])
	}
	defer wg.Wait()
	defer func() {
		for _, ch := range jobs {
			close(ch)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// process runs h until it succeeds, then commits. On shutdown the offset stays uncommitted
// and the message is redelivered to the next consumer of the partition.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	start := time.Now()
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		logging.Err(logging.Fields{Service: c.service, Step: "consume", Status: "handler_error",
			Message: fmt.Sprintf("key=%s partition=%d offset=%d attempt=%d", m.Key, m.Partition, m.Offset, attempt)}, err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if wait *= 2; wait > c.maxBackoff {
			wait = c.maxBackoff
		}
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		logging.Err(logging.Fields{Service: c.service, Step: "consume", Status: "commit_error"}, err)
		return
	}
	logging.Log(logging.Fields{Service: c.service, Step: "consume", Status: "ok", DurationMS: time.Since(start).Milliseconds()})
}
