package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/support-pilot/internal/app"
	"github.com/suPer8Hu/support-pilot/internal/config"
	"github.com/suPer8Hu/support-pilot/internal/conversation"
	"github.com/suPer8Hu/support-pilot/internal/logger"
	"github.com/suPer8Hu/support-pilot/internal/store/rabbitmq"
)

// maxAttempts bounds how often a turn is retried on store outages before
// the message is dead-lettered.
const maxAttempts = 5

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{RequireBroker: true})
	if err != nil {
		log.Fatal("startup failed", "err", err)
	}
	defer a.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", "err", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", "err", err)
	}

	//  strict concurrency control
	concurrency := cfg.WorkerPoolSize
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", "err", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", "err", err)
	}

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With("worker", workerID)
			for d := range jobs {
				handleDelivery(ctx, wlog, a, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

func handleDelivery(ctx context.Context, log *logger.Logger, a *app.App, d amqp.Delivery) {
	env, err := rabbitmq.DecodeInbound(d.Body)
	if err != nil {
		log.Warn("bad message, dead-lettering", "err", err)
		_ = d.Nack(false, false)
		return
	}
	log = log.With("job_id", env.ID, "attempt", env.Attempt)

	start := time.Now()
	res, err := a.Service.HandleInbound(ctx, env.Inbound)
	switch {
	case err == nil:
		log.Info("turn processed", "conversation_id", res.ConversationID, "class", res.Class, "duplicate", res.Duplicate, "cost", time.Since(start))
	case ctx.Err() != nil:
		// shutting down; let another consumer take it
		_ = d.Nack(false, true)
		return
	case errors.Is(err, conversation.ErrInvalidInbound):
		log.Warn("invalid inbound, dead-lettering", "err", err)
		_ = d.Nack(false, false)
		return
	case errors.Is(err, conversation.ErrStoreUnavailable) && env.Attempt+1 < maxAttempts:
		if perr := a.Publisher.PublishRetry(ctx, env, a.Cfg.RetryDelay); perr != nil {
			log.Error("schedule retry failed", "err", perr)
			_ = d.Nack(false, true)
			return
		}
		log.Warn("store unavailable, retry scheduled", "delay", a.Cfg.RetryDelay, "err", err)
	default:
		log.Error("turn failed, dead-lettering", "cost", time.Since(start), "err", err)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Error("ack failed", "err", err)
	}
}
