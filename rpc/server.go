package rpc

import (
	"context"
	"log/slog"

	"github.com/archSeer/hare/topology"
	"github.com/archSeer/hare/transport"
)

// Server is an RPC server actor. It declares and consumes a shared request
// queue and hands every delivery to the user behavior together with a
// completed Meta. Replies are published to the reply-target embedded in the
// request, tagged with its correlation id.
//
// The server consumes without acknowledgments: it trusts the broker's
// delivery semantics rather than tracking acks itself. That is a policy
// choice, not an accident.
type Server struct {
	link     *link
	behavior ServerBehavior

	replies chan *replyCall
	stops   chan *stopRequest

	events chan sessionEvent
	done   chan struct{}

	runCtx context.Context
	cancel context.CancelFunc

	// loop-owned, never touched outside run()
	sess  *session
	state any

	stopReason error
}

type replyCall struct {
	ctx      context.Context
	meta     Meta
	response []byte
	errc     chan error
}

// NewServer starts a server actor consuming the queue declared by cfg. The
// config is parsed and validated before any network activity; a queue
// section is required because the server has nothing to consume without
// one.
func NewServer(opener transport.Opener, cfg topology.Config, behavior ServerBehavior, opts ...Option) (*Server, error) {
	ac := &actorConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(ac)
	}

	if cfg.Queue == nil {
		return nil, &topology.ConfigError{Action: "queue", Field: "name", Reason: "server requires a queue section"}
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

	s := &Server{
		link:     l,
		behavior: behavior,
		replies:  make(chan *replyCall),
		stops:    make(chan *stopRequest),
		events:   make(chan sessionEvent),
		done:     make(chan struct{}),
		runCtx:   runCtx,
		cancel:   cancel,
		sess:     sess,
		state:    state,
	}

	go sess.pump(s.events, s.done)
	go s.run()

	return s, nil
}

// Reply publishes response to the reply-target carried in meta, tagged with
// its correlation id. It is valid any time after the meta was observed,
// including long after the originating handler returned.
func (s *Server) Reply(ctx context.Context, meta Meta, response []byte) error {
	if meta.ReplyTo == "" {
		return ErrNoReplyTarget
	}

	call := &replyCall{
		ctx:      ctx,
		meta:     meta,
		response: response,
		errc:     make(chan error, 1),
	}

	select {
	case s.replies <- call:
	case <-s.done:
		return s.reasonOrStopped()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-call.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the connection state of the actor.
func (s *Server) Status() Status {
	return s.link.Status()
}

// Close stops the actor gracefully.
func (s *Server) Close() error {
	select {
	case s.stops <- &stopRequest{}:
		<-s.done
	case <-s.done:
	}
	return nil
}

// Done is closed once the actor has fully stopped.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the stop reason, nil until the actor stops or when it stopped
// gracefully.
func (s *Server) Err() error {
	select {
	case <-s.done:
		return s.stopReason
	default:
		return nil
	}
}

func (s *Server) reasonOrStopped() error {
	if s.stopReason != nil {
		return s.stopReason
	}
	return ErrStopped
}

// run is the actor loop. It exclusively owns sess and state.
func (s *Server) run() {
	for {
		select {
		case call := <-s.replies:
			call.errc <- s.publishReply(call.ctx, call.meta, call.response)
		case req := <-s.stops:
			s.terminate(req.reason)
			return
		case ev := <-s.events:
			if ev.gen != s.sess.gen {
				continue // stale generation
			}
			if ev.kind == evClosed {
				if stopped := s.handleClosed(ev); stopped {
					return
				}
				continue
			}
			if stopped := s.handleNotification(ev); stopped {
				return
			}
		}
	}
}

// handleNotification classifies a queue notification and dispatches it.
func (s *Server) handleNotification(ev sessionEvent) bool {
	switch classify(ev, s.sess.sub.ConsumerTag()) {
	case outcomeDelivered:
		return s.handleRequest(ev.delivery)

	case outcomeSubscribed:
		meta := Meta{
			Exchange:    s.sess.exports.Exchange,
			Queue:       s.sess.exports.Queue,
			ConsumerTag: ev.tag,
		}
		return s.userUpdate(func() (any, error) {
			return s.behavior.HandleReady(meta, s.state)
		})

	case outcomeCancelled:
		s.terminate(ErrCancelled)
		return true

	default: // outcomeUnrecognized
		return s.userUpdate(func() (any, error) {
			return s.behavior.HandleInfo(infoMessage(ev), s.state)
		})
	}
}

// handleRequest completes the delivery's meta with the resolved topology
// handles and runs the user handler. Reports whether the actor stopped.
func (s *Server) handleRequest(d transport.Delivery) bool {
	meta := Meta{
		CorrelationID: d.CorrelationID,
		ReplyTo:       d.ReplyTo,
		Exchange:      s.sess.exports.Exchange,
		Queue:         s.sess.exports.Queue,
		RoutingKey:    d.RoutingKey,
		ConsumerTag:   d.ConsumerTag,
		Headers:       d.Headers,
	}

	var (
		decision ServerDecision
		newState any
	)
	err := safeCallback(func() {
		decision, newState = s.behavior.HandleRequest(s.runCtx, d.Body, meta, s.state)
	})
	if err != nil {
		s.terminate(err)
		return true
	}
	s.state = newState

	switch decision.kind {
	case decisionReply:
		if err := s.publishReply(s.runCtx, meta, decision.response); err != nil {
			// The channel is likely going down; the close notification
			// drives recovery.
			s.link.logger.Error("reply publish failed",
				"correlationId", meta.CorrelationID,
				"replyTo", meta.ReplyTo,
				"error", err,
			)
		}
		return false

	case decisionStop:
		s.terminate(decision.reason)
		return true

	default: // decisionNoReply
		return false
	}
}

// publishReply sends a correlated response to the reply-target from meta.
// Replies go through the default exchange so the reply-target is addressed
// directly as a queue.
func (s *Server) publishReply(ctx context.Context, meta Meta, response []byte) error {
	if meta.ReplyTo == "" {
		return ErrNoReplyTarget
	}
	return s.sess.channel.Publish(ctx, "", meta.ReplyTo, transport.Publishing{
		ContentType:   "application/octet-stream",
		CorrelationID: meta.CorrelationID,
		Body:          response,
	})
}

// handleClosed reacts to a liveness loss exactly like the client: discard
// everything channel-derived and connect fresh.
func (s *Server) handleClosed(ev sessionEvent) bool {
	s.link.logger.Warn("channel lost, reconnecting",
		"generation", ev.gen,
		"error", ev.err,
	)

	sess, err := s.link.reconnect(s.runCtx)
	if err != nil {
		s.terminate(err)
		return true
	}
	s.sess = sess
	go sess.pump(s.events, s.done)
	return false
}

// userUpdate applies a state-updating user callback, stopping the actor on
// error or panic. Reports whether the actor stopped.
func (s *Server) userUpdate(fn func() (any, error)) bool {
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
		s.terminate(err)
		return true
	}
	s.state = newState
	return false
}

// terminate stops the actor: the user hook runs first, then the channel is
// released.
func (s *Server) terminate(reason error) {
	safeCallback(func() { s.behavior.Terminate(reason, s.state) })

	if s.sess != nil {
		s.sess.channel.Close()
	}
	s.link.setStatus(StatusDisconnected)

	s.stopReason = reason
	s.cancel()
	close(s.done)

	s.link.logger.Info("server stopped", "reason", reason)
}
