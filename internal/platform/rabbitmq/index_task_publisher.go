package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"lecture-ingest/internal/model"
)

// IndexTaskPublisher puts index task ids on the durable retry queue.
type IndexTaskPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewIndexTaskPublisher(conn *amqp.Connection, queueName string) *IndexTaskPublisher {
	return &IndexTaskPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *IndexTaskPublisher) Publish(ctx context.Context, msg model.IndexTaskMessage) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal index task message failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish index task %d failed: %w", msg.TaskID, err)
	}
	return nil
}

// DeclareQueue makes sure the durable queue exists.
func DeclareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s failed: %w", name, err)
	}
	return nil
}
