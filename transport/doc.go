// Package transport defines the broker adapter contract the rpc actors
// consume — open channel, declare topology, publish, consume, monitor
// liveness — and provides the amqp091-go backed implementation of it.
//
// The rpc and topology packages only ever see these interfaces, so tests
// (and alternative brokers) can swap in their own Opener.
package transport
