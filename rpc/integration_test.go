package rpc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archSeer/hare/topology"
	"github.com/archSeer/hare/transport"
)

// memBroker is a minimal in-process broker: direct-exchange routing only,
// enough to run a client and a server against each other without a network.
type memBroker struct {
	mu       sync.Mutex
	queues   map[string]chan transport.Delivery
	bindings map[string]string // "exchange/key" -> queue
	genSeq   int
}

func newMemBroker() *memBroker {
	return &memBroker{
		queues:   make(map[string]chan transport.Delivery),
		bindings: make(map[string]string),
	}
}

func (b *memBroker) queue(name string) chan transport.Delivery {
	if q, ok := b.queues[name]; ok {
		return q
	}
	q := make(chan transport.Delivery, 64)
	b.queues[name] = q
	return q
}

func (b *memBroker) route(exchange, key string) (chan transport.Delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if exchange == "" {
		q, ok := b.queues[key]
		return q, ok
	}
	name, ok := b.bindings[exchange+"/"+key]
	if !ok {
		return nil, false
	}
	q, ok := b.queues[name]
	return q, ok
}

type memOpener struct {
	broker *memBroker
}

func (o *memOpener) OpenChannel() (transport.Channel, error) {
	return &memChannel{broker: o.broker, done: make(chan struct{})}, nil
}

type memChannel struct {
	broker *memBroker
	done   chan struct{}
	once   sync.Once
}

func (c *memChannel) DeclareExchange(name, kind string, opts transport.ExchangeOptions) error {
	return nil
}

func (c *memChannel) DeclareQueue(name string, opts transport.QueueOptions) (transport.Queue, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if name == "" {
		c.broker.genSeq++
		name = fmt.Sprintf("mem.gen-%d", c.broker.genSeq)
	}
	c.broker.queue(name)
	return transport.Queue{Name: name}, nil
}

func (c *memChannel) BindQueue(queue, exchange, routingKey string, args transport.Table) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.bindings[exchange+"/"+routingKey] = queue
	return nil
}

func (c *memChannel) Publish(ctx context.Context, exchange, routingKey string, msg transport.Publishing) error {
	q, ok := c.broker.route(exchange, routingKey)
	if !ok {
		return fmt.Errorf("memBroker: no route for %s/%s", exchange, routingKey)
	}
	q <- transport.Delivery{
		CorrelationID: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		Exchange:      exchange,
		RoutingKey:    routingKey,
		Headers:       msg.Headers,
		Body:          msg.Body,
	}
	return nil
}

func (c *memChannel) Consume(queue string, opts transport.ConsumeOptions) (transport.Subscription, error) {
	c.broker.mu.Lock()
	q := c.broker.queue(queue)
	c.broker.mu.Unlock()

	sub := &fakeSubscription{
		tag:        opts.ConsumerTag,
		queue:      queue,
		deliveries: make(chan transport.Delivery, 64),
		cancels:    make(chan string, 1),
	}
	go func() {
		for {
			select {
			case d := <-q:
				d.ConsumerTag = sub.tag
				select {
				case sub.deliveries <- d:
				case <-c.done:
					return
				}
			case <-c.done:
				return
			}
		}
	}()
	return sub, nil
}

func (c *memChannel) NotifyClose(receiver chan error) <-chan error {
	go func() {
		<-c.done
		receiver <- nil
		close(receiver)
	}()
	return receiver
}

func (c *memChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func TestEndToEndPingPong(t *testing.T) {
	broker := newMemBroker()

	serverBehavior := &scriptedServerBehavior{
		onRequest: func(payload []byte, meta Meta, state any) (ServerDecision, any) {
			if string(payload) == "ping" {
				return Reply([]byte("pong")), state
			}
			return NoReply(), state
		},
	}
	server, err := NewServer(&memOpener{broker}, topology.Config{
		Exchange: &topology.ExchangeConfig{Name: "rpc"},
		Queue:    &topology.QueueConfig{Name: "rpc.server"},
		Bind:     &topology.BindConfig{RoutingKey: "worker"},
	}, serverBehavior, WithLogger(testLogger()))
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(&memOpener{broker}, topology.Config{
		Exchange: &topology.ExchangeConfig{Name: "rpc"},
	}, nil, WithLogger(testLogger()))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, []byte("ping"), WithRoutingKey("worker"))
	require.NoError(t, err)
	assert.Equal(t, "pong", string(resp))
}

func TestEndToEndConcurrentCallers(t *testing.T) {
	broker := newMemBroker()

	echo := &scriptedServerBehavior{
		onRequest: func(payload []byte, meta Meta, state any) (ServerDecision, any) {
			return Reply(append([]byte("echo:"), payload...)), state
		},
	}
	server, err := NewServer(&memOpener{broker}, topology.Config{
		Exchange: &topology.ExchangeConfig{Name: "rpc"},
		Queue:    &topology.QueueConfig{Name: "rpc.echo"},
		Bind:     &topology.BindConfig{RoutingKey: "echo"},
	}, echo, WithLogger(testLogger()))
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(&memOpener{broker}, topology.Config{
		Exchange: &topology.ExchangeConfig{Name: "rpc"},
	}, nil, WithLogger(testLogger()))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	bodies := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("msg-%d", i))
			bodies[i], errs[i] = client.Request(ctx, payload, WithRoutingKey("echo"))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("echo:msg-%d", i), string(bodies[i]))
	}
}

func TestEndToEndDeferredReply(t *testing.T) {
	broker := newMemBroker()

	metas := make(chan Meta, 1)
	deferred := &scriptedServerBehavior{
		onRequest: func(payload []byte, meta Meta, state any) (ServerDecision, any) {
			metas <- meta
			return NoReply(), state
		},
	}
	server, err := NewServer(&memOpener{broker}, topology.Config{
		Exchange: &topology.ExchangeConfig{Name: "rpc"},
		Queue:    &topology.QueueConfig{Name: "rpc.slow"},
		Bind:     &topology.BindConfig{RoutingKey: "slow"},
	}, deferred, WithLogger(testLogger()))
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(&memOpener{broker}, topology.Config{
		Exchange: &topology.ExchangeConfig{Name: "rpc"},
	}, nil, WithLogger(testLogger()))
	require.NoError(t, err)
	defer client.Close()

	// Answer out of band, well after the handler returned.
	go func() {
		meta := <-metas
		time.Sleep(20 * time.Millisecond)
		server.Reply(context.Background(), meta, []byte("done"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, []byte("work"), WithRoutingKey("slow"))
	require.NoError(t, err)
	assert.Equal(t, "done", string(resp))
}
