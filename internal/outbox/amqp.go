package outbox

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/streadway/amqp"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
)

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ event.Publisher = (*AMQPPublisher)(nil)

// AMQPPublisher publishes events to a topic exchange with the event type as
// routing key and waits for the broker's confirmation.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	confirms <-chan amqp.Confirmation
	exchange string
}

// DialAMQP connects to the broker, declares a durable topic exchange and
// enables publisher confirms.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", exchange)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	p := newAMQPPublisher(ch, confirms, exchange)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, confirms <-chan amqp.Confirmation, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, confirms: confirms, exchange: exchange}
}

// Publish sends e and blocks until the broker acknowledges it.
func (p *AMQPPublisher) Publish(ctx context.Context, e event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.Publish(p.exchange, string(e.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.OccurredAt,
		Type:         string(e.Type),
		Headers: amqp.Table{
			"business_id":  e.BusinessID,
			"aggregate_id": e.AggregateID,
		},
		Body: e.Payload,
	})
	if err != nil {
		return errors.Wrap(err, "publish")
	}

	select {
	case c, ok := <-p.confirms:
		if !ok {
			return errors.New("amqp channel closed")
		}
		if !c.Ack {
			return errors.Errorf("broker rejected event %s", e.ID)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		return errors.Wrap(err, "close channel")
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
