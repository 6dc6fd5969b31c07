// Package arbiter is an in-process, hierarchical, topic-based
// publish/subscribe broker with promissory publication semantics: every
// publish yields a future whose settlement depends on a configurable
// aggregation policy, the latch, over the outcomes of the notified
// subscribers.
//
// # Topics
//
// Topics are dotted strings forming a hierarchy: publishing to "a.b"
// also notifies subscribers of "a" and of the root (the empty topic),
// unless the publish prevents bubbling. Topic arguments to Subscribe,
// Unsubscribe, Resubscribe and RemovePersisted may be expressions, a
// comma-separated string or a slice, expanding to one result per topic.
//
// # Publications
//
// Publish returns a *Publication immediately; by default the dispatch
// itself runs on a later turn, in FIFO order with other async publishes.
// Subscribers launch in priority order (higher first) across the whole
// ancestor chain, bounded by the per-publish semaphore. Each outcome
// feeds the latch:
//
//	pub, _ := broker.Publish("jobs.build", payload,
//		arbiter.WithLatch(2),      // fulfill once two subscribers fulfilled
//		arbiter.WithSemaphore(4),  // at most four invocations in flight
//	)
//	values, err := pub.Await(ctx)
//
// A latch >= 1 is an absolute count, a latch < 1 a fraction of the
// dispatch list; the default requires every subscriber to fulfill. When
// the latch becomes impossible the publication rejects early with the
// accumulated rejection values.
//
// # Subscribers
//
// A subscriber is a function over Message in any of the shapes invoke
// supports: plain value/error returns, a returned future, or a
// node-style completion callback. Subscriber errors and panics never
// escape; they become rejection outcomes on the publication.
//
// # Persistence
//
// Publishing with WithPersist retains the message on its topic node;
// later subscribers to the topic or any ancestor receive the retained
// subtree in publication order at subscribe time. RemovePersisted drops
// retained messages by token, by topic subtree, or entirely.
//
// Brokers created by New are fully independent and safe for concurrent
// use.
package arbiter
