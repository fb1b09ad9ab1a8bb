package rpc

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/archSeer/hare/topology"
	"github.com/archSeer/hare/transport"
)

// Client is an RPC client actor. It keeps one channel connected, declares
// its topology plus a private response queue on every (re)connect, and
// matches inbound responses to suspended callers by correlation id.
//
// All events — calls, deliveries, cancellations, liveness loss — flow
// through one sequential loop; the Client never shares channel-derived
// resources with anything else.
type Client struct {
	link     *link
	behavior ClientBehavior

	calls chan *requestCall
	stops chan *stopRequest

	events chan sessionEvent
	done   chan struct{}

	runCtx context.Context
	cancel context.CancelFunc

	// loop-owned, never touched outside run()
	sess     *session
	state    any
	registry *registry

	stopReason error
}

type requestCall struct {
	ctx     context.Context
	payload []byte
	opts    RequestOptions
	reply   chan requestResult
}

type stopRequest struct {
	reason error
}

type actorConfig struct {
	logger  *slog.Logger
	limiter *rate.Limiter
	initial any
}

// Option configures a Client or Server.
type Option func(*actorConfig)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *actorConfig) {
		c.logger = logger
	}
}

// WithReconnectLimiter throttles reconnect attempts after a liveness loss.
// By default reconnects are immediate and unthrottled.
func WithReconnectLimiter(limiter *rate.Limiter) Option {
	return func(c *actorConfig) {
		c.limiter = limiter
	}
}

// WithInitial sets the value handed to Behavior.Init.
func WithInitial(initial any) Option {
	return func(c *actorConfig) {
		c.initial = initial
	}
}

// NewClient starts a client actor. The topology config is parsed and
// validated before any network activity; a validation failure means no
// channel is ever opened. If cfg has no queue section a private, exclusive,
// auto-delete response queue is added. A nil behavior forwards every request
// unchanged.
func NewClient(opener transport.Opener, cfg topology.Config, behavior ClientBehavior, opts ...Option) (*Client, error) {
	ac := &actorConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(ac)
	}
	if behavior == nil {
		behavior = ForwardBehavior{}
	}

	if cfg.Queue == nil {
		cfg.Queue = &topology.QueueConfig{
			Name: "hare.reply." + shortID(),
			Options: transport.QueueOptions{
				Exclusive:  true,
				AutoDelete: true,
			},
		}
	}

	decl, err := topology.Parse(cfg)
	if err != nil {
		return nil, err
	}

	state, err := behavior.Init(ac.initial)
	if err != nil {
		return nil, err
	}

	l := &link{
		opener: opener,
		decl:   decl,
		consume: transport.ConsumeOptions{
			ConsumerTag: "hare.ctag." + shortID(),
			AutoAck:     true,
			Exclusive:   true,
		},
		limiter: ac.limiter,
		logger:  ac.logger,
	}

	runCtx, cancel := context.WithCancel(context.Background())

	sess, err := l.connect(runCtx)
	if err != nil {
		cancel()
		safeCallback(func() { behavior.Terminate(err, state) })
		return nil, err
	}

	c := &Client{
		link:     l,
		behavior: behavior,
		calls:    make(chan *requestCall),
		stops:    make(chan *stopRequest),
		events:   make(chan sessionEvent),
		done:     make(chan struct{}),
		runCtx:   runCtx,
		cancel:   cancel,
		sess:     sess,
		state:    state,
		registry: newRegistry(),
	}

	go sess.pump(c.events, c.done)
	go c.run()

	return c, nil
}

// RequestOption shapes a single request.
type RequestOption func(*RequestOptions)

// WithRoutingKey sets the routing key the request is published with.
func WithRoutingKey(key string) RequestOption {
	return func(o *RequestOptions) {
		o.RoutingKey = key
	}
}

// WithContentType sets the content type of the request payload.
func WithContentType(contentType string) RequestOption {
	return func(o *RequestOptions) {
		o.ContentType = contentType
	}
}

// WithHeaders sets application headers on the request.
func WithHeaders(headers transport.Table) RequestOption {
	return func(o *RequestOptions) {
		o.Headers = headers
	}
}

// Request publishes payload to the configured destination and blocks until
// the matching response arrives or ctx expires. Concurrent requests are
// matched by correlation id, not issue order.
//
// A request in flight across a channel loss is not retried; it fails via
// ctx like any other unanswered request.
func (c *Client) Request(ctx context.Context, payload []byte, opts ...RequestOption) ([]byte, error) {
	ro := RequestOptions{ContentType: "application/octet-stream"}
	for _, opt := range opts {
		opt(&ro)
	}

	call := &requestCall{
		ctx:     ctx,
		payload: payload,
		opts:    ro,
		reply:   make(chan requestResult, 1),
	}

	select {
	case c.calls <- call:
	case <-c.done:
		return nil, c.reasonOrStopped()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-call.reply:
		return res.body, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the connection state of the actor.
func (c *Client) Status() Status {
	return c.link.Status()
}

// Close stops the actor gracefully: the terminate hook runs, then the
// channel is released and every suspended caller is answered with
// ErrStopped.
func (c *Client) Close() error {
	select {
	case c.stops <- &stopRequest{}:
		<-c.done
	case <-c.done:
	}
	return nil
}

// Done is closed once the actor has fully stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the stop reason, nil until the actor stops or when it stopped
// gracefully.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.stopReason
	default:
		return nil
	}
}

func (c *Client) reasonOrStopped() error {
	if c.stopReason != nil {
		return c.stopReason
	}
	return ErrStopped
}

// run is the actor loop. It exclusively owns sess, state, and registry.
func (c *Client) run() {
	for {
		select {
		case call := <-c.calls:
			if stopped := c.handleCall(call); stopped {
				return
			}
		case req := <-c.stops:
			c.terminate(req.reason)
			return
		case ev := <-c.events:
			if ev.gen != c.sess.gen {
				continue // stale generation
			}
			if ev.kind == evClosed {
				if stopped := c.handleClosed(ev); stopped {
					return
				}
				continue
			}
			if stopped := c.handleNotification(ev); stopped {
				return
			}
		}
	}
}

// handleCall runs the user request hook and acts on its decision. Reports
// whether the actor stopped.
func (c *Client) handleCall(call *requestCall) bool {
	var (
		decision ClientDecision
		newState any
	)
	err := safeCallback(func() {
		decision, newState = c.behavior.HandleRequest(call.ctx, call.payload, call.opts, c.state)
	})
	if err != nil {
		call.reply <- requestResult{err: err}
		c.terminate(err)
		return true
	}
	c.state = newState

	switch decision.kind {
	case decisionAnswer:
		call.reply <- requestResult{body: decision.response}

	case decisionStop:
		if decision.response != nil {
			call.reply <- requestResult{body: decision.response}
		} else {
			reason := decision.reason
			if reason == nil {
				reason = ErrStopped
			}
			call.reply <- requestResult{err: reason}
		}
		c.terminate(decision.reason)
		return true

	case decisionForwardWith:
		c.forward(call, decision.payload, decision.opts)

	default: // decisionForward
		c.forward(call, call.payload, call.opts)
	}
	return false
}

// forward publishes the request and suspends the caller under a fresh
// correlation id. The publish is fire-and-forget: the loop resumes its
// mailbox immediately.
func (c *Client) forward(call *requestCall, payload []byte, opts RequestOptions) {
	id := c.registry.generate()
	msg := transport.Publishing{
		ContentType:   opts.ContentType,
		CorrelationID: id,
		ReplyTo:       c.sess.exports.Queue,
		Headers:       opts.Headers,
		Body:          payload,
	}
	if err := c.sess.channel.Publish(call.ctx, c.sess.exports.Exchange, opts.RoutingKey, msg); err != nil {
		call.reply <- requestResult{err: err}
		return
	}
	c.registry.register(id, call.reply)
}

// handleNotification classifies a queue notification and dispatches it.
func (c *Client) handleNotification(ev sessionEvent) bool {
	switch classify(ev, c.sess.sub.ConsumerTag()) {
	case outcomeDelivered:
		d := ev.delivery
		waiter, ok := c.registry.pop(d.CorrelationID)
		if !ok {
			// Response for a request we no longer track; drop it.
			c.link.logger.Debug("dropping unmatched response",
				"correlationId", d.CorrelationID,
			)
			return false
		}
		select {
		case waiter <- requestResult{body: d.Body}:
		default:
		}
		return false

	case outcomeSubscribed:
		meta := Meta{
			Exchange:    c.sess.exports.Exchange,
			Queue:       c.sess.exports.Queue,
			ConsumerTag: ev.tag,
		}
		return c.userUpdate(func() (any, error) {
			return c.behavior.HandleReady(meta, c.state)
		})

	case outcomeCancelled:
		c.terminate(ErrCancelled)
		return true

	default: // outcomeUnrecognized
		return c.userUpdate(func() (any, error) {
			return c.behavior.HandleInfo(infoMessage(ev), c.state)
		})
	}
}

// handleClosed reacts to a liveness loss: every channel-derived resource is
// discarded and a fresh connect attempt is made. Pending requests are not
// retried; they fail by their own timeouts.
func (c *Client) handleClosed(ev sessionEvent) bool {
	c.link.logger.Warn("channel lost, reconnecting",
		"generation", ev.gen,
		"error", ev.err,
		"pending", c.registry.len(),
	)

	sess, err := c.link.reconnect(c.runCtx)
	if err != nil {
		c.terminate(err)
		return true
	}
	c.sess = sess
	go sess.pump(c.events, c.done)
	return false
}

// userUpdate applies a state-updating user callback, stopping the actor on
// error or panic. Reports whether the actor stopped.
func (c *Client) userUpdate(fn func() (any, error)) bool {
	var (
		newState any
		hookErr  error
	)
	err := safeCallback(func() {
		newState, hookErr = fn()
	})
	if err == nil {
		err = hookErr
	}
	if err != nil {
		c.terminate(err)
		return true
	}
	c.state = newState
	return false
}

// terminate stops the actor: the user hook runs first, then the channel is
// released and suspended callers are answered.
func (c *Client) terminate(reason error) {
	safeCallback(func() { c.behavior.Terminate(reason, c.state) })

	if c.sess != nil {
		c.sess.channel.Close()
	}
	c.link.setStatus(StatusDisconnected)

	drainReason := reason
	if drainReason == nil {
		drainReason = ErrStopped
	}
	c.registry.drain(drainReason)

	c.stopReason = reason
	c.cancel()
	close(c.done)

	c.link.logger.Info("client stopped", "reason", reason)
}

// infoMessage picks what an unrecognized notification surfaces to
// HandleInfo.
func infoMessage(ev sessionEvent) any {
	if ev.kind == evDelivered {
		return ev.delivery
	}
	return ev.tag
}

func shortID() string {
	return uuid.New().String()[:8]
}
