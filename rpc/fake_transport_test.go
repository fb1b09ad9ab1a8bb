package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/archSeer/hare/transport"
)

// fakeOpener hands out scripted fake channels and records how many were
// opened.
type fakeOpener struct {
	mu       sync.Mutex
	channels []*fakeChannel
	openErrs []error // consumed per open, nil entries succeed
}

func (o *fakeOpener) OpenChannel() (transport.Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	idx := len(o.channels)
	if idx < len(o.openErrs) && o.openErrs[idx] != nil {
		err := o.openErrs[idx]
		o.channels = append(o.channels, nil)
		return nil, err
	}

	ch := newFakeChannel(fmt.Sprintf("amq.gen-%d", idx))
	o.channels = append(o.channels, ch)
	return ch, nil
}

func (o *fakeOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.channels)
}

func (o *fakeOpener) channel(i int) *fakeChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.channels[i]
}

type fakePublish struct {
	Exchange   string
	RoutingKey string
	Msg        transport.Publishing
}

type fakeBinding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// fakeChannel records declarations and publishes and lets tests inject
// deliveries, consumer cancellations, and liveness loss.
type fakeChannel struct {
	mu             sync.Mutex
	genName        string
	exchanges      map[string]string
	queues         map[string]transport.QueueOptions
	bindings       []fakeBinding
	publishes      []fakePublish
	sub            *fakeSubscription
	closeReceivers []chan error
	closed         bool

	declareExchangeErr error
	declareQueueErr    error
	consumeErr         error
	publishErr         error
}

func newFakeChannel(genName string) *fakeChannel {
	return &fakeChannel{
		genName:   genName,
		exchanges: make(map[string]string),
		queues:    make(map[string]transport.QueueOptions),
	}
}

func (c *fakeChannel) DeclareExchange(name, kind string, opts transport.ExchangeOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareExchangeErr != nil {
		return c.declareExchangeErr
	}
	c.exchanges[name] = kind
	return nil
}

func (c *fakeChannel) DeclareQueue(name string, opts transport.QueueOptions) (transport.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareQueueErr != nil {
		return transport.Queue{}, c.declareQueueErr
	}
	if name == "" {
		name = c.genName
	}
	c.queues[name] = opts
	return transport.Queue{Name: name}, nil
}

func (c *fakeChannel) BindQueue(queue, exchange, routingKey string, args transport.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, fakeBinding{Queue: queue, Exchange: exchange, RoutingKey: routingKey})
	return nil
}

func (c *fakeChannel) Publish(ctx context.Context, exchange, routingKey string, msg transport.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.publishes = append(c.publishes, fakePublish{Exchange: exchange, RoutingKey: routingKey, Msg: msg})
	return nil
}

func (c *fakeChannel) Consume(queue string, opts transport.ConsumeOptions) (transport.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	tag := opts.ConsumerTag
	if tag == "" {
		tag = "ctag-fake"
	}
	c.sub = &fakeSubscription{
		tag:        tag,
		queue:      queue,
		deliveries: make(chan transport.Delivery, 32),
		cancels:    make(chan string, 1),
	}
	return c.sub, nil
}

func (c *fakeChannel) NotifyClose(receiver chan error) <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeReceivers = append(c.closeReceivers, receiver)
	return receiver
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) publishCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.publishes)
}

func (c *fakeChannel) publishAt(i int) fakePublish {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publishes[i]
}

func (c *fakeChannel) allPublishes() []fakePublish {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fakePublish, len(c.publishes))
	copy(out, c.publishes)
	return out
}

func (c *fakeChannel) hasExchange(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.exchanges[name]
	return ok
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// deliver injects a delivery on the channel's subscription. The consumer
// tag defaults to the subscription's own tag.
func (c *fakeChannel) deliver(d transport.Delivery) {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if d.ConsumerTag == "" {
		d.ConsumerTag = sub.tag
	}
	sub.deliveries <- d
}

// cancelConsumer simulates a broker-initiated consumer cancellation.
func (c *fakeChannel) cancelConsumer() {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	sub.cancels <- sub.tag
}

// lose simulates a channel liveness loss.
func (c *fakeChannel) lose(err error) {
	c.mu.Lock()
	receivers := c.closeReceivers
	c.closeReceivers = nil
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		close(sub.deliveries)
	}
	for _, r := range receivers {
		r <- err
		close(r)
	}
}

type fakeSubscription struct {
	tag        string
	queue      string
	deliveries chan transport.Delivery
	cancels    chan string
}

func (s *fakeSubscription) ConsumerTag() string                    { return s.tag }
func (s *fakeSubscription) Deliveries() <-chan transport.Delivery { return s.deliveries }
func (s *fakeSubscription) Cancels() <-chan string                 { return s.cancels }
