package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Conn wraps an AMQP connection and implements Opener. The connection itself
// is long-lived; channels opened from it are single-use sessions.
type Conn struct {
	url    string
	conn   *amqp.Connection
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConnOption {
	return func(c *Conn) {
		c.logger = logger
	}
}

// Dial connects to the broker at url.
func Dial(url string, options ...ConnOption) (*Conn, error) {
	c := &Conn{
		url:    url,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, &ConnError{Op: "dial", URL: sanitizeURL(url), Err: err}
	}
	c.conn = conn
	c.logger.Info("connected to broker", "url", sanitizeURL(url))
	return c, nil
}

// OpenChannel opens a fresh channel on the connection.
func (c *Conn) OpenChannel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil, ErrConnClosed
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, &ConnError{Op: "open channel", URL: sanitizeURL(c.url), Err: err}
	}
	return &amqpChannel{ch: ch}, nil
}

// Close closes the connection and every channel opened from it.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// amqpChannel adapts *amqp.Channel to the Channel interface.
type amqpChannel struct {
	ch *amqp.Channel
}

func (a *amqpChannel) DeclareExchange(name, kind string, opts ExchangeOptions) error {
	return a.ch.ExchangeDeclare(
		name,
		kind,
		opts.Durable,
		opts.AutoDelete,
		opts.Internal,
		false, // no-wait
		amqp.Table(opts.Arguments),
	)
}

func (a *amqpChannel) DeclareQueue(name string, opts QueueOptions) (Queue, error) {
	q, err := a.ch.QueueDeclare(
		name,
		opts.Durable,
		opts.AutoDelete,
		opts.Exclusive,
		false, // no-wait
		amqp.Table(opts.Arguments),
	)
	if err != nil {
		return Queue{}, err
	}
	return Queue{Name: q.Name, Messages: q.Messages, Consumers: q.Consumers}, nil
}

func (a *amqpChannel) BindQueue(queue, exchange, routingKey string, args Table) error {
	return a.ch.QueueBind(queue, routingKey, exchange, false, amqp.Table(args))
}

func (a *amqpChannel) Publish(ctx context.Context, exchange, routingKey string, msg Publishing) error {
	return a.ch.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   msg.ContentType,
			CorrelationId: msg.CorrelationID,
			ReplyTo:       msg.ReplyTo,
			Headers:       amqp.Table(msg.Headers),
			Timestamp:     time.Now(),
			Body:          msg.Body,
		},
	)
}

func (a *amqpChannel) Consume(queue string, opts ConsumeOptions) (Subscription, error) {
	deliveries, err := a.ch.Consume(
		queue,
		opts.ConsumerTag,
		opts.AutoAck,
		opts.Exclusive,
		false, // no-local
		false, // no-wait
		amqp.Table(opts.Arguments),
	)
	if err != nil {
		return nil, err
	}

	sub := &amqpSubscription{
		tag:        opts.ConsumerTag,
		deliveries: make(chan Delivery),
		cancels:    a.ch.NotifyCancel(make(chan string, 1)),
	}
	go sub.pump(deliveries)
	return sub, nil
}

func (a *amqpChannel) NotifyClose(receiver chan error) <-chan error {
	closes := a.ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		err, ok := <-closes
		if !ok || err == nil {
			receiver <- nil
		} else {
			receiver <- err
		}
		close(receiver)
	}()
	return receiver
}

func (a *amqpChannel) Close() error {
	return a.ch.Close()
}

// amqpSubscription adapts the amqp091 delivery stream.
type amqpSubscription struct {
	tag        string
	deliveries chan Delivery
	cancels    <-chan string
}

func (s *amqpSubscription) ConsumerTag() string         { return s.tag }
func (s *amqpSubscription) Deliveries() <-chan Delivery { return s.deliveries }
func (s *amqpSubscription) Cancels() <-chan string      { return s.cancels }

func (s *amqpSubscription) pump(in <-chan amqp.Delivery) {
	defer close(s.deliveries)
	for d := range in {
		s.deliveries <- Delivery{
			ConsumerTag:   d.ConsumerTag,
			CorrelationID: d.CorrelationId,
			ReplyTo:       d.ReplyTo,
			Exchange:      d.Exchange,
			RoutingKey:    d.RoutingKey,
			Headers:       Table(d.Headers),
			Body:          d.Body,
		}
	}
}

// sanitizeURL strips credentials from a broker URL before logging.
func sanitizeURL(url string) string {
	if len(url) > 20 {
		return url[:10] + "***" + url[len(url)-10:]
	}
	return "***"
}
