package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"pdfchat/internal/model"
	"pdfchat/internal/repository"
)

// UsageStatsWorker consumes usage events and folds them into the document
// registry counters. Events carry identifiers only, never turn content.
type UsageStatsWorker struct {
	conn      *amqp.Connection
	repo      *repository.DocumentRepository
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewUsageStatsWorker(conn *amqp.Connection, repo *repository.DocumentRepository, queueName string) *UsageStatsWorker {
	return &UsageStatsWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
	}
}

func (w *UsageStatsWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var event model.UsageEvent
				if err := json.Unmarshal(d.Body, &event); err != nil {
					log.Printf("worker decode usage event failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := w.apply(event); err != nil {
					log.Printf("worker apply usage event failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *UsageStatsWorker) apply(event model.UsageEvent) error {
	switch event.Kind {
	case model.UsageTurnCompleted:
		if event.RecordID == 0 {
			// Registry was disabled when the conversation started.
			return nil
		}
		return w.repo.RecordTurn(event.RecordID, event.At)
	case model.UsageDocumentIngested:
		// The registry row is written synchronously at ingest time.
		return nil
	default:
		return fmt.Errorf("unknown usage event kind %q", event.Kind)
	}
}

func (w *UsageStatsWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
