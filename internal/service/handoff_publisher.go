// Package service provides publishers that announce session outcomes to
// the rest of the booking system over RabbitMQ.  Errors are logged and
// returned so callers can ignore failures without interrupting the
// checkout flow.
package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-sync/internal/pkg/logger"
	q "github.com/iliyamo/cinema-seat-sync/internal/queue"
)

// DefaultHandoffQueue receives one message per completed checkout
// handoff.
const DefaultHandoffQueue = "booking.handoff"

// HandoffPublisher publishes CheckoutHandoffEvents to a durable queue.
// Each publish dials its own connection; handoffs happen at most once
// per session.
type HandoffPublisher struct {
	url   string
	queue string
	log   *zap.Logger
}

// NewHandoffPublisher returns a publisher for the broker at url.  An
// empty queue selects DefaultHandoffQueue.
func NewHandoffPublisher(url, queue string, log *zap.Logger) *HandoffPublisher {
	if url == "" {
		url = q.BrokerURL()
	}
	if queue == "" {
		queue = DefaultHandoffQueue
	}
	if log == nil {
		log = logger.Get()
	}
	return &HandoffPublisher{url: url, queue: queue, log: log.Named("handoff-publisher")}
}

// PublishCheckoutHandoff publishes event as a persistent JSON message.
// The function never panics; any error is logged and returned.
func (p *HandoffPublisher) PublishCheckoutHandoff(ctx context.Context, event q.CheckoutHandoffEvent) error {
	log := p.log.With(zap.String("order_id", event.OrderID), zap.String("lease_id", event.LeaseID))

	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.Warn("dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		log.Warn("queue declare failed", zap.Error(err))
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Warn("marshal event failed", zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    event.OrderID,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		log.Warn("publish failed", zap.Error(err))
		return err
	}
	log.Info("checkout handoff published", zap.String("queue", p.queue))
	return nil
}
