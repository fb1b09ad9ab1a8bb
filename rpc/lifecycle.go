package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/archSeer/hare/topology"
	"github.com/archSeer/hare/transport"
)

// Status is the connection state of an actor.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// session is one generation of channel-derived resources: the channel, the
// topology it declared, and the consumer subscription on the declared queue.
// A session is invalidated the instant its close notification fires and is
// never reused; a reconnect always builds a fresh one.
type session struct {
	gen     uint64
	channel transport.Channel
	exports topology.Exports
	sub     transport.Subscription
	closes  <-chan error
}

// pump forwards the session's notifications into the actor mailbox, stamped
// with the session generation, starting with the subscription confirmation.
// It exits after the close notification or when the actor is done.
func (s *session) pump(events chan<- sessionEvent, done <-chan struct{}) {
	send := func(ev sessionEvent) bool {
		ev.gen = s.gen
		select {
		case events <- ev:
			return true
		case <-done:
			return false
		}
	}

	if !send(sessionEvent{kind: evSubscribed, tag: s.sub.ConsumerTag()}) {
		return
	}

	deliveries := s.sub.Deliveries()
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				// Delivery stream ended; the close notification follows.
				deliveries = nil
				continue
			}
			if !send(sessionEvent{kind: evDelivered, tag: d.ConsumerTag, delivery: d}) {
				return
			}
		case tag := <-s.sub.Cancels():
			if !send(sessionEvent{kind: evCancelled, tag: tag}) {
				return
			}
		case err := <-s.closes:
			send(sessionEvent{kind: evClosed, err: err})
			return
		case <-done:
			return
		}
	}
}

// link owns the reconnect state machine shared by client and server actors.
// They differ only in the topology they declare and how they classify
// deliveries.
type link struct {
	opener  transport.Opener
	decl    *topology.Declaration
	consume transport.ConsumeOptions
	limiter *rate.Limiter
	logger  *slog.Logger

	gen    uint64
	status atomic.Int32
}

func (l *link) setStatus(s Status) {
	l.status.Store(int32(s))
}

// Status returns the current connection state.
func (l *link) Status() Status {
	return Status(l.status.Load())
}

// connect runs the whole connect chain: open a fresh channel, execute the
// declaration against it, subscribe to the declared queue, and install the
// liveness monitor. Any failure abandons the attempt wholesale; no partial
// topology is left referenced.
func (l *link) connect(ctx context.Context) (*session, error) {
	l.setStatus(StatusConnecting)

	ch, err := l.opener.OpenChannel()
	if err != nil {
		l.setStatus(StatusDisconnected)
		return nil, err
	}

	exports, err := l.decl.Run(ctx, ch)
	if err != nil {
		ch.Close()
		l.setStatus(StatusDisconnected)
		return nil, err
	}

	sub, err := ch.Consume(exports.Queue, l.consume)
	if err != nil {
		ch.Close()
		l.setStatus(StatusDisconnected)
		return nil, fmt.Errorf("rpc: consume %s: %w", exports.Queue, err)
	}

	closes := ch.NotifyClose(make(chan error, 1))

	l.gen++
	l.setStatus(StatusConnected)
	l.logger.Info("channel connected",
		"generation", l.gen,
		"exchange", exports.Exchange,
		"queue", exports.Queue,
	)

	return &session{
		gen:     l.gen,
		channel: ch,
		exports: exports,
		sub:     sub,
		closes:  closes,
	}, nil
}

// reconnect waits for the optional limiter and builds a fresh session after
// a liveness loss. Without a limiter the retry is immediate.
func (l *link) reconnect(ctx context.Context) (*session, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return l.connect(ctx)
}

// safeCallback invokes a user callback, converting a panic into an actor
// failure so the terminate hook still sees the reason.
func safeCallback(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rpc: callback panic: %v", r)
		}
	}()
	fn()
	return nil
}
