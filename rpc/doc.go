// Package rpc implements request/reply actors over an AMQP-style broker.
//
// A Client publishes requests to a configured destination, declares a
// private response queue, and suspends each caller until the response
// carrying that caller's correlation id arrives. A Server consumes a shared
// request queue, hands each delivery to a user ServerBehavior, and publishes
// correlated replies — immediately from the handler or later via
// Server.Reply, because the request Meta alone carries everything a reply
// needs.
//
// Each actor is one sequential event loop: public calls, deliveries,
// subscription notifications, and channel liveness loss all flow through a
// single mailbox. Channels and the topology declared on them belong to
// exactly one actor generation; a liveness loss discards them wholesale and
// a fresh channel is connected. Requests in flight across a channel loss are
// not retried — they fail through the caller's own timeout.
//
// User code plugs in through the Behavior interfaces; embed NopBehavior and
// override only the hooks you need. A panic or error escaping a hook stops
// the actor and still runs its Terminate hook with the reason.
package rpc
