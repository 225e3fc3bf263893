package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
)

// Publisher sends sync entries to the main queue. It implements
// syncqueue.Notifier so services can use it in place of an in-process queue.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// DeclareTopology declares the main, retry and dead-letter queues. Publisher
// and worker must agree on the arguments or the broker rejects the second
// declaration.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := RetryQueue(queue)
	dlqQ := DeadLetterQueue(queue)

	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
}

func RetryQueue(queue string) string      { return queue + ".retry" }
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) Notify(ctx context.Context, e syncqueue.Entry) error {
	body, err := EncodeSyncMessage(e)
	if err != nil {
		return err
	}
	return Publish(ctx, p.ch, p.queue, body, 0, nil)
}

// Publish sends body to queue on the default exchange. A positive ttl sets
// the per-message expiration, which is how the retry queue delays redelivery.
func Publish(ctx context.Context, ch *amqp.Channel, queue string, body []byte, ttl time.Duration, headers amqp.Table) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      headers,
		Timestamp:    time.Now(),
	}
	if ttl > 0 {
		msg.Expiration = formatExpiration(ttl)
	}
	return ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		msg,
	)
}

// RetryLater parks a delivery in the retry queue for delay, counting the
// attempt in its headers. The caller still has to ack the original.
func RetryLater(ctx context.Context, ch *amqp.Channel, queue string, d amqp.Delivery, delay time.Duration) error {
	headers := amqp.Table{attemptsHeader: int32(Attempts(d.Headers) + 1)}
	return Publish(ctx, ch, RetryQueue(queue), d.Body, delay, headers)
}
