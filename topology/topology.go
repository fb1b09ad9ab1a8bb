// Package topology validates and executes declarative broker topology:
// ordered exchange, queue, and binding declarations run against a fresh
// channel on every connect.
//
// Parsing and execution are deliberately separated. Parse is pure and runs
// once at actor startup, so configuration mistakes surface before any network
// activity; Run requires an open channel and is repeated after every
// reconnect.
package topology

import (
	"context"

	"github.com/archSeer/hare/transport"
)

// DefaultExchangeKind is used when Config.Exchange.Kind is unset.
const DefaultExchangeKind = "direct"

// ExchangeConfig declares an exchange. Name is required.
type ExchangeConfig struct {
	Name    string
	Kind    string
	Options transport.ExchangeOptions
}

// QueueConfig declares a queue. An empty Name requests a broker-generated
// (server-named) queue.
type QueueConfig struct {
	Name    string
	Options transport.QueueOptions
}

// BindConfig binds the declared queue to the declared exchange.
type BindConfig struct {
	RoutingKey string
	Arguments  transport.Table
}

// Config is the declarative topology an actor requires. Sections are
// optional; present sections are declared in exchange, queue, bind order.
type Config struct {
	Exchange *ExchangeConfig
	Queue    *QueueConfig
	Bind     *BindConfig
}

// Exports accumulates the resources produced by earlier actions so later
// actions can reference them. Handles are valid only for the channel the
// declaration ran against.
type Exports struct {
	Exchange string
	Queue    string
}

// Action is one step of a declaration. Validate is pure; Run requires an
// open channel and may read and extend the exports of earlier actions.
type Action interface {
	// Name identifies the action in errors ("exchange", "queue", "bind").
	Name() string
	Validate() error
	Run(ctx context.Context, ch transport.Channel, exp *Exports) error
}

// Declaration is a validated, ordered sequence of actions. It is created
// once at actor startup and immutable thereafter.
type Declaration struct {
	actions []Action
}

// Parse builds a Declaration from cfg, validating every action in order and
// failing on the first invalid one. No I/O occurs.
func Parse(cfg Config) (*Declaration, error) {
	var actions []Action
	if cfg.Exchange != nil {
		actions = append(actions, &ExchangeAction{Config: *cfg.Exchange})
	}
	if cfg.Queue != nil {
		actions = append(actions, &QueueAction{Config: *cfg.Queue})
	}
	if cfg.Bind != nil {
		actions = append(actions, &BindAction{Config: *cfg.Bind, withQueue: cfg.Queue != nil, withExchange: cfg.Exchange != nil})
	}

	for _, action := range actions {
		if err := action.Validate(); err != nil {
			return nil, err
		}
	}
	return &Declaration{actions: actions}, nil
}

// Run executes every action in order against ch, forwarding exports. The
// first failure aborts the run; no cleanup is attempted because the caller
// discards the channel wholesale on error.
func (d *Declaration) Run(ctx context.Context, ch transport.Channel) (Exports, error) {
	var exp Exports
	for _, action := range d.actions {
		if err := action.Run(ctx, ch, &exp); err != nil {
			return Exports{}, &DeclareError{Action: action.Name(), Err: err}
		}
	}
	return exp, nil
}

// Len returns the number of actions in the declaration.
func (d *Declaration) Len() int {
	return len(d.actions)
}

// ExchangeAction declares an exchange and exports its name.
type ExchangeAction struct {
	Config ExchangeConfig
}

func (a *ExchangeAction) Name() string { return "exchange" }

func (a *ExchangeAction) Validate() error {
	if a.Config.Name == "" {
		return &ConfigError{Action: a.Name(), Field: "name", Reason: "required"}
	}
	switch a.Config.Kind {
	case "", "direct", "fanout", "topic", "headers":
	default:
		return &ConfigError{Action: a.Name(), Field: "kind", Reason: "unknown exchange kind " + a.Config.Kind}
	}
	return nil
}

func (a *ExchangeAction) Run(ctx context.Context, ch transport.Channel, exp *Exports) error {
	kind := a.Config.Kind
	if kind == "" {
		kind = DefaultExchangeKind
	}
	if err := ch.DeclareExchange(a.Config.Name, kind, a.Config.Options); err != nil {
		return err
	}
	exp.Exchange = a.Config.Name
	return nil
}

// QueueAction declares a queue and exports its resolved name, which may be
// broker-generated.
type QueueAction struct {
	Config QueueConfig
}

func (a *QueueAction) Name() string { return "queue" }

func (a *QueueAction) Validate() error {
	// An empty name is valid: the broker generates one.
	return nil
}

func (a *QueueAction) Run(ctx context.Context, ch transport.Channel, exp *Exports) error {
	q, err := ch.DeclareQueue(a.Config.Name, a.Config.Options)
	if err != nil {
		return err
	}
	exp.Queue = q.Name
	return nil
}

// BindAction binds the exported queue to the exported exchange.
type BindAction struct {
	Config       BindConfig
	withQueue    bool
	withExchange bool
}

func (a *BindAction) Name() string { return "bind" }

func (a *BindAction) Validate() error {
	if !a.withExchange {
		return &ConfigError{Action: a.Name(), Field: "exchange", Reason: "bind requires an exchange section"}
	}
	if !a.withQueue {
		return &ConfigError{Action: a.Name(), Field: "queue", Reason: "bind requires a queue section"}
	}
	return nil
}

func (a *BindAction) Run(ctx context.Context, ch transport.Channel, exp *Exports) error {
	return ch.BindQueue(exp.Queue, exp.Exchange, a.Config.RoutingKey, a.Config.Arguments)
}
