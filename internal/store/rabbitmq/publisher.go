// Package rabbitmq carries assistant-reply job ids between the API and
// the worker over a durable queue with retry and dead-letter legs.
package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	retrySuffix = ".retry"
	dlqSuffix   = ".dlq"

	publishTimeout = 5 * time.Second
)

// ReplyJob is the wire payload: just the job id, everything else lives
// in the database.
type ReplyJob struct {
	JobID string `json:"job_id"`
}

// DeclareTopology declares the main queue plus its retry and dead-letter
// companions on the given channel. Both the publisher and the worker go
// through this so the broker never sees two conflicting declarations of
// the same queue.
//
//	main  --reject/nack--> <queue>.dlq
//	retry --TTL expiry---> main
func DeclareTopology(ch *amqp.Channel, queue string) error {
	declare := func(name string, args amqp.Table) error {
		_, err := ch.QueueDeclare(name, true, false, false, false, args)
		return err
	}

	if err := declare(queue+dlqSuffix, nil); err != nil {
		return err
	}
	if err := declare(queue+retrySuffix, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return err
	}
	return declare(queue, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue + dlqSuffix,
	})
}

// Publisher owns a connection and channel dedicated to enqueueing
// assistant-reply jobs.
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

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishJob enqueues a job id as a persistent message so it survives a
// broker restart.
func (p *Publisher) PublishJob(ctx context.Context, jobID string) error {
	body, err := json.Marshal(ReplyJob{JobID: jobID})
	if err != nil {
		return err
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(pctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}
