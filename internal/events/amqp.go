package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPForwarder publishes events to a durable topic exchange with routing
// keys like "booking.cancelled", for consumers such as push delivery.
type AMQPForwarder struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// DialAMQP connects, retrying a few times while the broker starts up.
func DialAMQP(url, exchange string, attempts int, delay time.Duration) (*AMQPForwarder, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		time.Sleep(delay)
	}
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPForwarder{conn: conn, ch: ch, exchange: exchange}, nil
}

// RoutingKey maps BookingCancelled to "booking.cancelled".
func RoutingKey(t Type) string {
	return "booking." + strings.ToLower(strings.TrimPrefix(string(t), "Booking"))
}

func (a *AMQPForwarder) Handle(ctx context.Context, ev Event) error {
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ch.PublishWithContext(ctx,
		a.exchange,
		RoutingKey(ev.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			MessageId:    ev.BookingID + ":" + string(ev.Type),
		})
}

func (a *AMQPForwarder) IsClosed() bool { return a.conn == nil || a.conn.IsClosed() }

func (a *AMQPForwarder) Close() error {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
