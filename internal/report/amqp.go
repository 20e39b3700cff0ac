package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the subset of *amqp.Channel used by AMQPSink.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a channel and returns the connection that owns it.
type dialFunc func(url string) (channel, io.Closer, error)

// AMQPSink publishes the payload as a persistent JSON message to a durable
// topic exchange. A connection is opened per Send; summaries are sent once
// per run.
type AMQPSink struct {
	URL        string
	Exchange   string
	RoutingKey string

	dial dialFunc
	now  func() time.Time
}

func dialAMQP(url string) (channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// Send implements Sink.
func (s AMQPSink) Send(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}

	dial := s.dial
	if dial == nil {
		dial = dialAMQP
	}
	ch, conn, err := dial(s.URL)
	if err != nil {
		return fmt.Errorf("report: amqp dial: %w", err)
	}
	defer conn.Close()
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		s.Exchange,
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	); err != nil {
		return fmt.Errorf("report: declare exchange %s: %w", s.Exchange, err)
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now(),
		AppId:        "salesetl",
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, s.Exchange, s.RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("report: publish %s/%s: %w", s.Exchange, s.RoutingKey, err)
	}
	return nil
}
