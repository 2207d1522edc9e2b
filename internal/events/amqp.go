package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/config"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
)

// AMQPPublisher publishes events to a durable topic exchange
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	mu       sync.Mutex
}

// NewAMQPPublisher connects to RabbitMQ and declares the event exchange
func NewAMQPPublisher(cfg config.EventsConfig) (*AMQPPublisher, error) {
	conn, channel, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	// Declare exchange
	err = channel.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		exchange: cfg.Exchange,
	}, nil
}

func dial(cfg config.EventsConfig) (*amqp.Connection, *amqp.Channel, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return conn, channel, nil
}

// Publish sends event with its type as routing key
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		event.Type,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the connection
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func encode(event Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    event.ID,
		Type:         event.Type,
		Body:         body,
		Timestamp:    event.OccurredAt,
	}, nil
}

func decode(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("event has no type")
	}
	return event, nil
}

// Subscriber consumes events from a queue bound to the event exchange.
// Messages that cannot be decoded or handled are dead-lettered.
type Subscriber struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *logging.Logger
}

// NewSubscriber declares queueName with its dead-letter queue and binds it
// to the event exchange for each routing pattern
func NewSubscriber(cfg config.EventsConfig, queueName string, patterns []string, logger *logging.Logger) (*Subscriber, error) {
	conn, channel, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Subscriber, error) {
		channel.Close()
		conn.Close()
		return nil, err
	}

	if err := channel.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail(fmt.Errorf("failed to declare exchange: %w", err))
	}

	deadLetterExchange := cfg.Exchange + ".dlx"
	deadLetterQueue := queueName + ".dlq"
	if err := channel.ExchangeDeclare(deadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
		return fail(fmt.Errorf("failed to declare DLQ exchange: %w", err))
	}
	if _, err := channel.QueueDeclare(deadLetterQueue, true, false, false, false, nil); err != nil {
		return fail(fmt.Errorf("failed to declare DLQ: %w", err))
	}
	if err := channel.QueueBind(deadLetterQueue, "", deadLetterExchange, false, nil); err != nil {
		return fail(fmt.Errorf("failed to bind DLQ: %w", err))
	}

	args := amqp.Table{
		"x-dead-letter-exchange": deadLetterExchange,
	}
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		return fail(fmt.Errorf("failed to declare queue: %w", err))
	}
	for _, pattern := range patterns {
		if err := channel.QueueBind(queueName, pattern, cfg.Exchange, false, nil); err != nil {
			return fail(fmt.Errorf("failed to bind queue to %s: %w", pattern, err))
		}
	}

	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Subscriber{conn: conn, channel: channel, queue: queueName, logger: logger}, nil
}

// Consume delivers events to handler until ctx is done. A handler error
// dead-letters the message.
func (s *Subscriber) Consume(ctx context.Context, handler func(context.Context, Event) error) error {
	// Set QoS to limit in-flight messages
	if err := s.channel.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := s.channel.Consume(
		s.queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}

			event, err := decode(msg.Body)
			if err != nil {
				s.logger.WithError(err).Warn("Dead-lettering malformed event")
				msg.Nack(false, false)
				continue
			}

			if err := handler(ctx, event); err != nil {
				s.logger.WithError(err).WithField("event_type", event.Type).Warn("Dead-lettering unhandled event")
				msg.Nack(false, false)
				continue
			}
			msg.Ack(false)
		}
	}
}

// DeadLetterDepth returns the number of messages waiting in the dead-letter queue
func (s *Subscriber) DeadLetterDepth() (int, error) {
	info, err := s.channel.QueueInspect(s.queue + ".dlq")
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return info.Messages, nil
}

// Close closes the connection
func (s *Subscriber) Close() error {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
