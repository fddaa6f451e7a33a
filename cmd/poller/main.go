package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/prediction-tournament/internal/bootstrap"
)

const batchSize = 100

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, bootstrap.ConfigPath(), false)
	if err != nil {
		panic(err)
	}
	defer deps.Close()
	log, repo, m := deps.Log, deps.Repo, deps.Metrics

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	log.Infow("outbox poller started", "topic", deps.Config.Kafka.Topic)
	for {
		select {
		case <-ctx.Done():
			log.Info("outbox poller stopped")
			return
		case <-ticker.C:
		}
		events, err := repo.PollOutbox(ctx, batchSize)
		if err != nil {
			log.Errorw("poll outbox", "err", err)
			continue
		}
		for _, evt := range events {
			// stop at the first failure so one aggregate's events stay in order
			if err := repo.PublishEvent(ctx, evt); err != nil {
				m.Outbox("error")
				log.Errorw("publish event", "id", evt.ID, "type", evt.EventType, "err", err)
				break
			}
			if err := repo.MarkOutboxProcessed(ctx, evt.ID); err != nil {
				log.Errorw("mark processed", "id", evt.ID, "err", err)
				break
			}
			m.Outbox("published")
			log.Debugw("event sent", "id", evt.ID, "type", evt.EventType)
		}
	}
}
