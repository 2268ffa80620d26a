package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"lecture-ingest/internal/model"
	"lecture-ingest/internal/platform/rabbitmq"
)

// TaskRetrier re-runs one logged index task.
type TaskRetrier interface {
	Retry(ctx context.Context, taskID uint) error
}

// IndexRetryWorker consumes the index retry queue. Each delivery waits
// retryDelay before the task is retried so a flapping index is not hammered.
type IndexRetryWorker struct {
	conn       *amqp.Connection
	retrier    TaskRetrier
	queueName  string
	retryDelay time.Duration
	logger     *logrus.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIndexRetryWorker(conn *amqp.Connection, retrier TaskRetrier, queueName string, retryDelay time.Duration, logger *logrus.Logger) *IndexRetryWorker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IndexRetryWorker{
		conn:       conn,
		retrier:    retrier,
		queueName:  queueName,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (w *IndexRetryWorker) Start(ctx context.Context) error {
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
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
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
				w.handle(workerCtx, d)
			}
		}
	}()

	w.logger.WithField("queue", w.queueName).Info("index retry worker started")
	return nil
}

// Acknowledger is the part of amqp.Delivery the handler needs.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (w *IndexRetryWorker) handle(ctx context.Context, d amqp.Delivery) {
	w.process(ctx, d.Body, &d)
}

func (w *IndexRetryWorker) process(ctx context.Context, body []byte, ack Acknowledger) {
	var msg model.IndexTaskMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.TaskID == 0 {
		w.logger.WithField("body", string(body)).Warn("worker dropped malformed index task message")
		_ = ack.Nack(false, false)
		return
	}

	if w.retryDelay > 0 {
		timer := time.NewTimer(w.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = ack.Nack(false, true)
			return
		case <-timer.C:
		}
	}

	if err := w.retrier.Retry(ctx, msg.TaskID); err != nil {
		w.logger.WithError(err).WithField("task_id", msg.TaskID).Error("worker retry index task failed")
		_ = ack.Nack(false, true)
		return
	}
	_ = ack.Ack(false)
}

func (w *IndexRetryWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
