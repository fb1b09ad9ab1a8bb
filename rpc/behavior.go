package rpc

import (
	"context"

	"github.com/archSeer/hare/transport"
)

// Meta describes where a message came from and where its reply should go.
// For a server request it carries everything needed to answer later: the
// reply-target queue and the correlation id the caller is waiting on.
type Meta struct {
	CorrelationID string
	ReplyTo       string
	Exchange      string
	Queue         string
	RoutingKey    string
	ConsumerTag   string
	Headers       transport.Table
}

// RequestOptions shape an outbound client request.
type RequestOptions struct {
	RoutingKey  string
	ContentType string
	Headers     transport.Table
}

// Behavior is the callback interface shared by client and server actors.
// Embed NopBehavior to only override what you need.
type Behavior interface {
	// Init produces the initial user state. Returning ErrIgnore aborts
	// startup without treating it as a failure; any other error refuses
	// startup with that reason.
	Init(initial any) (state any, err error)

	// HandleReady is invoked once the consumer subscription is confirmed
	// after every (re)connect. A non-nil error stops the actor.
	HandleReady(meta Meta, state any) (any, error)

	// HandleInfo receives inbound messages unrelated to the actor's own
	// subscription. A non-nil error stops the actor.
	HandleInfo(msg any, state any) (any, error)

	// Terminate runs exactly once when the actor stops, before the channel
	// is released. reason is nil on a graceful Close.
	Terminate(reason error, state any)
}

// ClientBehavior extends Behavior with the client-side request hook.
type ClientBehavior interface {
	Behavior

	// HandleRequest inspects an outbound request before it is published and
	// decides how to proceed: forward it, rewrite it, answer it locally, or
	// stop the actor.
	HandleRequest(ctx context.Context, payload []byte, opts RequestOptions, state any) (ClientDecision, any)
}

// ServerBehavior extends Behavior with the server-side request hook.
type ServerBehavior interface {
	Behavior

	// HandleRequest processes an inbound request. meta alone carries enough
	// to answer later via Server.Reply, so returning NoReply and replying
	// out of band is fully supported.
	HandleRequest(ctx context.Context, payload []byte, meta Meta, state any) (ServerDecision, any)
}

type decisionKind int

const (
	decisionForward decisionKind = iota
	decisionForwardWith
	decisionAnswer
	decisionNoReply
	decisionReply
	decisionStop
)

// ClientDecision is the outcome of ClientBehavior.HandleRequest.
type ClientDecision struct {
	kind     decisionKind
	payload  []byte
	opts     RequestOptions
	response []byte
	reason   error
}

// Forward publishes the request unchanged.
func Forward() ClientDecision {
	return ClientDecision{kind: decisionForward}
}

// ForwardWith publishes a substituted payload and options instead of the
// caller's originals.
func ForwardWith(payload []byte, opts RequestOptions) ClientDecision {
	return ClientDecision{kind: decisionForwardWith, payload: payload, opts: opts}
}

// Answer short-circuits the request with an immediate response; nothing is
// published.
func Answer(response []byte) ClientDecision {
	return ClientDecision{kind: decisionAnswer, response: response}
}

// StopWith stops the actor with reason. If response is non-nil the caller
// still receives it before the actor goes down.
func StopWith(reason error, response []byte) ClientDecision {
	return ClientDecision{kind: decisionStop, reason: reason, response: response}
}

// ServerDecision is the outcome of ServerBehavior.HandleRequest.
type ServerDecision struct {
	kind     decisionKind
	response []byte
	reason   error
}

// NoReply continues without publishing a response. The handler (or anything
// holding the Meta) may reply later via Server.Reply.
func NoReply() ServerDecision {
	return ServerDecision{kind: decisionNoReply}
}

// Reply publishes response to the request's reply-target, tagged with its
// correlation id.
func Reply(response []byte) ServerDecision {
	return ServerDecision{kind: decisionReply, response: response}
}

// Stop stops the actor with reason.
func Stop(reason error) ServerDecision {
	return ServerDecision{kind: decisionStop, reason: reason}
}

// NopBehavior provides no-op defaults for every Behavior hook.
type NopBehavior struct{}

// Init returns the initial value unchanged as the user state.
func (NopBehavior) Init(initial any) (any, error) { return initial, nil }

// HandleReady keeps the state unchanged.
func (NopBehavior) HandleReady(meta Meta, state any) (any, error) { return state, nil }

// HandleInfo keeps the state unchanged.
func (NopBehavior) HandleInfo(msg any, state any) (any, error) { return state, nil }

// Terminate does nothing.
func (NopBehavior) Terminate(reason error, state any) {}

// ForwardBehavior is the default client behavior: every request is forwarded
// unchanged.
type ForwardBehavior struct {
	NopBehavior
}

// HandleRequest forwards the request as-is.
func (ForwardBehavior) HandleRequest(ctx context.Context, payload []byte, opts RequestOptions, state any) (ClientDecision, any) {
	return Forward(), state
}
