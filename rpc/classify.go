package rpc

import (
	"github.com/archSeer/hare/transport"
)

// eventKind enumerates everything a session can surface to the actor loop.
type eventKind int

const (
	evSubscribed eventKind = iota // consumer registration confirmed
	evDelivered                   // a message arrived
	evCancelled                   // broker revoked the consumer
	evClosed                      // channel liveness lost
)

// sessionEvent is one transport notification, stamped with the generation of
// the session that produced it so stale events can be discarded.
type sessionEvent struct {
	gen      uint64
	kind     eventKind
	tag      string
	delivery transport.Delivery
	err      error
}

// outcome is the classification of a queue notification against a known
// consumer subscription.
type outcome int

const (
	outcomeUnrecognized outcome = iota
	outcomeSubscribed
	outcomeDelivered
	outcomeCancelled
)

// classify interprets ev against the subscription identified by consumerTag.
// It is total: every event maps to exactly one outcome, and a notification
// belonging to the subscription is never reported as unrecognized.
//
// evClosed is a transport-level signal, not a queue notification; it is
// handled by the lifecycle before classification and never reaches here in
// normal operation, so it classifies as unrecognized.
func classify(ev sessionEvent, consumerTag string) outcome {
	switch ev.kind {
	case evSubscribed:
		if ev.tag == consumerTag {
			return outcomeSubscribed
		}
	case evDelivered:
		if ev.delivery.ConsumerTag == consumerTag {
			return outcomeDelivered
		}
	case evCancelled:
		if ev.tag == consumerTag {
			return outcomeCancelled
		}
	}
	return outcomeUnrecognized
}
