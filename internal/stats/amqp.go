package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stemsi/trivia-engine/internal/model"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPRecorder forwards results to an external user service over RabbitMQ.
type AMQPRecorder struct {
	ch    Channel
	queue string
}

// NewAMQPRecorder declares the durable queue and returns a recorder publishing to it.
func NewAMQPRecorder(ch Channel, queue string) (*AMQPRecorder, error) {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPRecorder{ch: ch, queue: queue}, nil
}

// RecordBatch publishes every result, stopping at the first failure.
func (r *AMQPRecorder) RecordBatch(ctx context.Context, results []model.GameResult) error {
	for _, res := range results {
		if err := r.RecordOne(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

// RecordOne publishes a single persistent message.
func (r *AMQPRecorder) RecordOne(ctx context.Context, result model.GameResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal game result: %w", err)
	}
	err = r.ch.PublishWithContext(
		ctx,
		"",      // default exchange
		r.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    result.SessionID + ":" + result.UserID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish game result: %w", err)
	}
	return nil
}
