package rpc

import (
	"errors"
)

var (
	// ErrCancelled is the stop reason when the broker revokes the actor's
	// consumer subscription. The actor does not resubscribe.
	ErrCancelled = errors.New("rpc: subscription cancelled by broker")

	// ErrStopped is returned to callers of a stopped actor.
	ErrStopped = errors.New("rpc: actor stopped")

	// ErrIgnore can be returned from Behavior.Init to abort startup without
	// reporting a failure.
	ErrIgnore = errors.New("rpc: init ignored")

	// ErrNoReplyTarget is returned when a reply is attempted for a request
	// that carried no reply-to address.
	ErrNoReplyTarget = errors.New("rpc: no reply target in request meta")
)
