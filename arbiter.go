package arbiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/arbiter/internal/merge"
	"github.com/dshills/arbiter/internal/sched"
	"github.com/dshills/arbiter/topic"
)

// Broker is an independent publish/subscribe instance: its own topic
// tree, default options, and id space. Subscriptions and persisted
// messages never cross brokers.
//
// All methods are safe for concurrent use; the broker serializes state
// transitions on an internal mutex.
type Broker struct {
	mu       sync.Mutex
	tree     *topic.Tree
	defaults Options

	ids  atomic.Uint64
	loop sched.Loop

	id  string
	log *zap.Logger
}

// New creates a fresh broker with its own tree, options, and id
// generator.
func New(opts ...BrokerOption) *Broker {
	b := &Broker{
		tree:     topic.NewTree(),
		defaults: DefaultOptions(),
		id:       uuid.NewString(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(zap.String("broker", b.id))
	return b
}

// ID returns the broker's instance id, used to correlate log lines when
// several brokers share a process.
func (b *Broker) ID() string {
	return b.id
}

// Defaults returns a copy of the broker's current default options.
func (b *Broker) Defaults() Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.defaults
}

// SetDefaults replaces the broker's default options. The change affects
// subsequent operations only.
func (b *Broker) SetDefaults(o Options) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaults = o
}

// options merges per-call options over the broker defaults.
func (b *Broker) options(opts []Option) Options {
	b.mu.Lock()
	o := b.defaults
	b.mu.Unlock()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Subscribe registers fn on every topic of the expression and returns
// one token per topic. fn may be any of the invoker's supported shapes;
// any other value is kept as a no-op subscriber. Unless IgnorePersisted
// is set, persisted messages from each topic's subtree replay to fn
// immediately, merged across descendants in publication order.
//
// The only error is the input-shape error for a non-string topic.
func (b *Broker) Subscribe(topics any, fn any, opts ...Option) ([]*Token, error) {
	names, err := splitTopics(topics)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	o := b.options(opts)

	tokens := make([]*Token, 0, len(names))
	for _, name := range names {
		tokens = append(tokens, b.subscribeOne(name, fn, o))
	}
	return tokens, nil
}

func (b *Broker) subscribeOne(name string, fn any, o Options) *Token {
	b.mu.Lock()
	node := b.tree.Materialize(topic.Topic(name))
	id := b.ids.Add(1)
	node.InsertSubscription(&topic.Subscription{
		ID:       id,
		Fn:       fn,
		Priority: o.Priority,
		Context:  o.Context,
	})

	var replay []*topic.PersistedMessage
	if !o.IgnorePersisted {
		replay = b.persistedSubtreeLocked(node)
	}
	b.mu.Unlock()

	b.log.Debug("subscribed",
		zap.String("topic", name),
		zap.Uint64("id", id),
		zap.Float64("priority", o.Priority),
		zap.Int("replayed", len(replay)),
	)

	// Late delivery: replay outcomes are fire-and-forget.
	for _, m := range replay {
		invoke(fn, Message{Topic: string(m.Topic), Data: m.Data, Context: o.Context})
	}

	return &Token{Topic: name, ID: id, Priority: o.Priority}
}

// persistedSubtreeLocked merges the persisted messages of node and all
// its descendants into publication order.
func (b *Broker) persistedSubtreeLocked(node *topic.Node) []*topic.PersistedMessage {
	var lists [][]*topic.PersistedMessage
	for _, n := range b.tree.Descendants(node) {
		if msgs := n.PersistedMessages(); len(msgs) > 0 {
			lists = append(lists, msgs)
		}
	}
	return merge.Sorted(lists, func(m *topic.PersistedMessage) uint64 { return m.Order })
}

// Publish dispatches data to the active subscribers of name and of
// every ancestor of name, and returns the publication future governed by
// the effective latch. name must be a single topic, not an expression.
//
// With Sync false (the default) the entire dispatch runs on a later
// turn; the returned publication exists immediately but its counters
// stay zero until dispatch begins. Two async publishes from the same
// turn dispatch in order.
func (b *Broker) Publish(name any, data any, opts ...Option) (*Publication, error) {
	t, ok := topicName(name)
	if !ok {
		return nil, fmt.Errorf("publish: %w", ErrTopicNotString)
	}
	o := b.options(opts)
	pub := newPublication()

	run := func() { b.dispatch(t, data, o, pub) }
	if o.Sync {
		run()
	} else {
		b.loop.Defer(run)
	}
	return pub, nil
}

// dispatch is one publish turn: resolve the lineage, snapshot the
// dispatch list, launch through the resolver, then persist.
func (b *Broker) dispatch(name string, data any, o Options, pub *Publication) {
	b.mu.Lock()
	list := b.dispatchListLocked(topic.Topic(name), o)
	b.mu.Unlock()

	b.log.Debug("publishing",
		zap.String("topic", name),
		zap.Int("subscribers", len(list)),
		zap.Bool("sync", o.Sync),
		zap.Bool("persist", o.Persist),
	)

	r := newResolver(pub, o, list, name, data, b.log)
	r.run()

	if o.Persist {
		b.mu.Lock()
		order := b.ids.Add(1)
		node := b.tree.Materialize(topic.Topic(name))
		node.AppendPersisted(&topic.PersistedMessage{
			Topic: topic.Topic(name),
			Data:  data,
			Order: order,
		})
		b.mu.Unlock()
		pub.setToken(&Token{Topic: name, ID: order})
	}
}

// dispatchListLocked builds the launch queue. Bubbling merges the
// lineage's per-node lists by priority, so a higher priority anywhere in
// the ancestor chain fires first; within equal priority, registration
// order holds inside a node and ancestors win across nodes. With
// PreventBubble only exact-topic subscribers qualify.
func (b *Broker) dispatchListLocked(name topic.Topic, o Options) []*topic.Subscription {
	lineage := b.tree.Lineage(name)
	if o.PreventBubble {
		last := lineage[len(lineage)-1]
		if last.Topic() != name {
			return nil
		}
		return last.DispatchOrder()
	}

	var lists [][]*topic.Subscription
	for _, n := range lineage {
		if l := n.DispatchOrder(); len(l) > 0 {
			lists = append(lists, l)
		}
	}
	return merge.Sorted(lists, func(s *topic.Subscription) float64 { return -s.Priority })
}

// Unsubscribe removes subscriptions, or merely suspends them when
// suspend is true. The target is a *Token from Subscribe or a topic
// expression; a topic sweeps the topic node and all its descendants.
// Results report per-target success: false means nothing matched, and
// is never an error.
func (b *Broker) Unsubscribe(target any, suspend bool) []bool {
	if tok, ok := asToken(target); ok {
		if tok == nil {
			return []bool{false}
		}
		return []bool{b.unsubscribeToken(tok, suspend)}
	}
	names, err := splitTopics(target)
	if err != nil {
		return []bool{false}
	}
	out := make([]bool, len(names))
	for i, name := range names {
		out[i] = b.sweepSubscriptions(name, suspend)
	}
	return out
}

func (b *Broker) unsubscribeToken(tok *Token, suspend bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	node := b.tree.AncestorSearch(topic.Topic(tok.Topic))
	if node.Topic() != topic.Topic(tok.Topic) {
		return false
	}
	if suspend {
		return node.SetSuspended(tok.Priority, tok.ID, true)
	}
	return node.RemoveSubscription(tok.Priority, tok.ID)
}

func (b *Broker) sweepSubscriptions(name string, suspend bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	node := b.tree.AncestorSearch(topic.Topic(name))
	if node.Topic() != topic.Topic(name) {
		return false
	}
	affected := 0
	for _, n := range b.tree.Descendants(node) {
		if suspend {
			affected += n.SuspendAll(true)
		} else {
			affected += n.RemoveAllSubscriptions()
		}
	}
	return affected > 0
}

// Resubscribe reactivates suspended subscriptions. The target is a
// *Token or a topic expression; a topic sweeps the topic node and all
// its descendants. False means nothing matched.
func (b *Broker) Resubscribe(target any) []bool {
	if tok, ok := asToken(target); ok {
		if tok == nil {
			return []bool{false}
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		node := b.tree.AncestorSearch(topic.Topic(tok.Topic))
		if node.Topic() != topic.Topic(tok.Topic) {
			return []bool{false}
		}
		return []bool{node.SetSuspended(tok.Priority, tok.ID, false)}
	}
	names, err := splitTopics(target)
	if err != nil {
		return []bool{false}
	}
	out := make([]bool, len(names))
	for i, name := range names {
		out[i] = b.resubscribeSweep(name)
	}
	return out
}

func (b *Broker) resubscribeSweep(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	node := b.tree.AncestorSearch(topic.Topic(name))
	if node.Topic() != topic.Topic(name) {
		return false
	}
	affected := 0
	for _, n := range b.tree.Descendants(node) {
		affected += n.SuspendAll(false)
	}
	return affected > 0
}

// RemovePersisted removes retained publications. With no argument it
// clears every persisted message in the broker. Each target may be the
// *Token or *Publication of a persisting publish (removing exactly that
// message) or a topic expression (clearing the topic node and all its
// descendants, leaving ancestors and siblings untouched). False means
// nothing matched.
func (b *Broker) RemovePersisted(targets ...any) []bool {
	if len(targets) == 0 {
		b.mu.Lock()
		for _, n := range b.tree.Descendants(b.tree.Root()) {
			n.ClearPersisted()
		}
		b.mu.Unlock()
		return []bool{true}
	}

	var out []bool
	for _, target := range targets {
		if pub, ok := target.(*Publication); ok {
			target = pub.Token()
		}
		if tok, ok := asToken(target); ok {
			out = append(out, b.removePersistedToken(tok))
			continue
		}
		names, err := splitTopics(target)
		if err != nil {
			out = append(out, false)
			continue
		}
		for _, name := range names {
			out = append(out, b.removePersistedSweep(name))
		}
	}
	return out
}

func (b *Broker) removePersistedToken(tok *Token) bool {
	if tok == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	node := b.tree.AncestorSearch(topic.Topic(tok.Topic))
	if node.Topic() != topic.Topic(tok.Topic) {
		return false
	}
	return node.RemovePersistedOrder(tok.ID)
}

func (b *Broker) removePersistedSweep(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	node := b.tree.AncestorSearch(topic.Topic(name))
	if node.Topic() != topic.Topic(name) {
		return false
	}
	removed := 0
	for _, n := range b.tree.Descendants(node) {
		removed += n.ClearPersisted()
	}
	return removed > 0
}

// Drain blocks until every publish turn deferred before the call has
// run, or until ctx is done. It does not wait for subscriber futures to
// settle and does not stop the broker.
func (b *Broker) Drain(ctx context.Context) error {
	return b.loop.Drain(ctx)
}

// asToken accepts a *Token or a Token value.
func asToken(v any) (*Token, bool) {
	switch t := v.(type) {
	case *Token:
		if t == nil {
			return nil, true
		}
		return t, true
	case Token:
		return &t, true
	default:
		return nil, false
	}
}
