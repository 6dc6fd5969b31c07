package arbiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/arbiter/promise"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustSubscribe(t *testing.T, b *Broker, topics any, fn any, opts ...Option) []*Token {
	t.Helper()
	tokens, err := b.Subscribe(topics, fn, opts...)
	if err != nil {
		t.Fatalf("Subscribe(%v) failed: %v", topics, err)
	}
	return tokens
}

func TestAncestorDelivery(t *testing.T) {
	b := New()
	calls := map[string]int{}
	spy := func(name string) func(Message) {
		return func(m Message) {
			if m.Data != nil {
				t.Errorf("%s got data %v, want nil", name, m.Data)
			}
			if m.Topic != "a.b" {
				t.Errorf("%s got topic %q, want \"a.b\"", name, m.Topic)
			}
			calls[name]++
		}
	}
	mustSubscribe(t, b, "a", spy("f"))
	mustSubscribe(t, b, "a.b", spy("g"))
	mustSubscribe(t, b, "", spy("h"))

	pub, err := b.Publish("a.b", nil, WithSync())
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if _, err := pub.Await(testCtx(t)); err != nil {
		t.Fatalf("Await() failed: %v", err)
	}

	for _, name := range []string{"f", "g", "h"} {
		if calls[name] != 1 {
			t.Errorf("%s invoked %d times, want 1", name, calls[name])
		}
	}
}

func TestPriorityAcrossLineage(t *testing.T) {
	b := New()
	var order []string
	mustSubscribe(t, b, "a", func(Message) { order = append(order, "low") }, WithPriority(1))
	mustSubscribe(t, b, "a.b", func(Message) { order = append(order, "high") }, WithPriority(10))

	b.Publish("a.b", nil, WithSync())

	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Errorf("invocation order = %v, want [high low]", order)
	}
}

func TestEqualPriorityRegistrationOrder(t *testing.T) {
	b := New()
	var order []int
	for i := 0; i < 4; i++ {
		i := i
		mustSubscribe(t, b, "t", func(Message) { order = append(order, i) })
	}

	b.Publish("t", nil, WithSync())

	for i, v := range order {
		if v != i {
			t.Fatalf("registration order broken: got %v", order)
		}
	}
}

func TestLatchCount(t *testing.T) {
	b := New()
	promises := make([]*promise.Promise, 3)
	for i := range promises {
		p := promise.New()
		promises[i] = p
		mustSubscribe(t, b, "work", func(Message) *promise.Promise { return p })
	}

	pub, err := b.Publish("work", nil, WithSync(), WithLatch(2))
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if pub.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", pub.Pending())
	}

	promises[2].Fulfill("third")
	promises[0].Fulfill("first")

	values, err := pub.Await(testCtx(t))
	if err != nil {
		t.Fatalf("Await() failed: %v", err)
	}
	// Completion order, not dispatch order.
	if len(values) != 2 || values[0] != "third" || values[1] != "first" {
		t.Errorf("values = %v, want [third first]", values)
	}
	if pub.Fulfilled() != 2 || pub.Pending() != 1 {
		t.Errorf("counters = %d fulfilled, %d pending; want 2, 1", pub.Fulfilled(), pub.Pending())
	}
}

func TestLatchInfeasibleRejectsEmpty(t *testing.T) {
	b := New()
	pub, err := b.Publish("nobody.home", nil, WithSync(), WithLatch(1))
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	_, err = pub.Await(testCtx(t))
	var latchErr *LatchError
	if !errors.As(err, &latchErr) {
		t.Fatalf("Await() error = %v, want *LatchError", err)
	}
	if len(latchErr.Rejections) != 0 {
		t.Errorf("Rejections = %v, want empty", latchErr.Rejections)
	}
}

func TestDefaultLatchRejectsWithZeroSubscribers(t *testing.T) {
	b := New()
	pub, _ := b.Publish("empty", nil, WithSync())
	if _, err := pub.Await(testCtx(t)); err == nil {
		t.Error("publish with zero subscribers fulfilled under the default latch, want rejection")
	}
}

func TestSemaphoreOne(t *testing.T) {
	b := New()
	var invoked []int
	promises := make([]*promise.Promise, 3)
	for i := range promises {
		i := i
		p := promise.New()
		promises[i] = p
		mustSubscribe(t, b, "q", func(Message) *promise.Promise {
			invoked = append(invoked, i)
			return p
		}, WithPriority(float64(3-i))) // subscriber 0 has the highest priority
	}

	pub, err := b.Publish("q", nil, WithSync(), WithSemaphore(1))
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	if len(invoked) != 1 || invoked[0] != 0 {
		t.Fatalf("after publish, invoked = %v, want [0]", invoked)
	}

	promises[0].Fulfill(nil)
	if len(invoked) != 2 || invoked[1] != 1 {
		t.Fatalf("after first settle, invoked = %v, want [0 1]", invoked)
	}

	promises[1].Fulfill(nil)
	if len(invoked) != 3 || invoked[2] != 2 {
		t.Fatalf("after second settle, invoked = %v, want [0 1 2]", invoked)
	}

	promises[2].Fulfill(nil)
	if _, err := pub.Await(testCtx(t)); err != nil {
		t.Fatalf("Await() failed: %v", err)
	}
}

func TestPersistedReplayOrder(t *testing.T) {
	defaults := DefaultOptions()
	defaults.Sync = true
	b := New(WithDefaults(defaults))

	b.Publish("x.y.z", "data1", WithPersist())
	b.Publish("x", "data2", WithPersist())

	var got []string
	mustSubscribe(t, b, "x", func(m Message) {
		got = append(got, fmt.Sprintf("%s=%v", m.Topic, m.Data))
	})

	want := []string{"x.y.z=data1", "x=data2"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("replay = %v, want %v", got, want)
	}

	if res := b.RemovePersisted("x"); len(res) != 1 || !res[0] {
		t.Fatalf("RemovePersisted(\"x\") = %v, want [true]", res)
	}

	var after []string
	mustSubscribe(t, b, "x", func(m Message) {
		after = append(after, m.Topic)
	})
	if len(after) != 0 {
		t.Errorf("replay after RemovePersisted = %v, want none", after)
	}
}

func TestIgnorePersisted(t *testing.T) {
	b := New()
	b.Publish("p", "kept", WithSync(), WithPersist())

	calls := 0
	mustSubscribe(t, b, "p", func(Message) { calls++ }, WithIgnorePersisted())
	if calls != 0 {
		t.Errorf("subscriber replayed %d messages with IgnorePersisted, want 0", calls)
	}

	mustSubscribe(t, b, "p", func(Message) { calls++ })
	if calls != 1 {
		t.Errorf("plain subscriber replayed %d messages, want 1", calls)
	}
}

func TestRemovePersistedScopes(t *testing.T) {
	b := New()
	b.Publish("x.y.z", 1, WithSync(), WithPersist())
	b.Publish("y.k", 2, WithSync(), WithPersist())

	// Clearing "x" leaves the sibling subtree alone.
	b.RemovePersisted("x")

	var got []string
	mustSubscribe(t, b, "", func(m Message) { got = append(got, m.Topic) })
	if len(got) != 1 || got[0] != "y.k" {
		t.Fatalf("replay after scoped clear = %v, want [y.k]", got)
	}

	// No argument clears everything.
	if res := b.RemovePersisted(); len(res) != 1 || !res[0] {
		t.Fatal("RemovePersisted() did not report success")
	}
	var all []string
	mustSubscribe(t, b, "", func(m Message) { all = append(all, m.Topic) })
	if len(all) != 0 {
		t.Errorf("replay after full clear = %v, want none", all)
	}
}

func TestRemovePersistedByToken(t *testing.T) {
	b := New()
	pub, _ := b.Publish("doc", "v1", WithSync(), WithPersist())
	tok := pub.Token()
	if tok == nil {
		t.Fatal("persisting publish has no token")
	}
	if tok.Topic != "doc" {
		t.Errorf("token topic = %q, want doc", tok.Topic)
	}

	if res := b.RemovePersisted(tok); len(res) != 1 || !res[0] {
		t.Fatalf("RemovePersisted(token) = %v, want [true]", res)
	}
	if res := b.RemovePersisted(tok); res[0] {
		t.Error("RemovePersisted(token) twice = true, want false")
	}

	// The publication itself unwraps to its token.
	pub2, _ := b.Publish("doc", "v2", WithSync(), WithPersist())
	if res := b.RemovePersisted(pub2); len(res) != 1 || !res[0] {
		t.Fatalf("RemovePersisted(publication) = %v, want [true]", res)
	}
}

func TestSuspendAndResubscribeByToken(t *testing.T) {
	b := New()
	calls := 0
	tokens := mustSubscribe(t, b, "s", func(Message) { calls++ })

	if res := b.Unsubscribe(tokens[0], true); !res[0] {
		t.Fatal("Unsubscribe(token, suspend) = false, want true")
	}
	b.Publish("s", nil, WithSync())
	if calls != 0 {
		t.Errorf("suspended subscriber invoked %d times, want 0", calls)
	}

	if res := b.Resubscribe(tokens[0]); !res[0] {
		t.Fatal("Resubscribe(token) = false, want true")
	}
	b.Publish("s", nil, WithSync())
	if calls != 1 {
		t.Errorf("resubscribed subscriber invoked %d times, want 1", calls)
	}
}

func TestUnsubscribeRemovesPermanently(t *testing.T) {
	b := New()
	calls := 0
	tokens := mustSubscribe(t, b, "gone", func(Message) { calls++ })

	if res := b.Unsubscribe(tokens[0], false); !res[0] {
		t.Fatal("Unsubscribe(token) = false, want true")
	}
	b.Publish("gone", nil, WithSync())
	if calls != 0 {
		t.Errorf("removed subscriber invoked %d times, want 0", calls)
	}

	// Removal is terminal: the token no longer resolves.
	if res := b.Resubscribe(tokens[0]); res[0] {
		t.Error("Resubscribe() after removal = true, want false")
	}
	if res := b.Unsubscribe(tokens[0], false); res[0] {
		t.Error("Unsubscribe() twice = true, want false")
	}
}

func TestTopicSweepSuspendsDescendants(t *testing.T) {
	b := New()
	calls := 0
	mustSubscribe(t, b, "m", func(Message) { calls++ })
	mustSubscribe(t, b, "m.x", func(Message) { calls++ })

	if res := b.Unsubscribe("m", true); !res[0] {
		t.Fatal("Unsubscribe(\"m\", suspend) = false, want true")
	}
	b.Publish("m.x", nil, WithSync())
	if calls != 0 {
		t.Errorf("swept subscribers invoked %d times, want 0", calls)
	}

	if res := b.Resubscribe("m"); !res[0] {
		t.Fatal("Resubscribe(\"m\") = false, want true")
	}
	b.Publish("m.x", nil, WithSync())
	if calls != 2 {
		t.Errorf("after sweep resubscribe, %d invocations, want 2", calls)
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	b := New()
	if res := b.Unsubscribe("never.seen", false); res[0] {
		t.Error("Unsubscribe of unknown topic = true, want false")
	}
	if res := b.Unsubscribe(&Token{Topic: "x", ID: 99}, false); res[0] {
		t.Error("Unsubscribe of unknown token = true, want false")
	}
	if res := b.Unsubscribe(42, false); res[0] {
		t.Error("Unsubscribe of garbage = true, want false")
	}
}

func TestPreventBubble(t *testing.T) {
	b := New()
	var order []string
	mustSubscribe(t, b, "", func(Message) { order = append(order, "root") })
	mustSubscribe(t, b, "p.q", func(Message) { order = append(order, "exact") })

	b.Publish("p.q", nil, WithSync(), WithPreventBubble())
	if len(order) != 1 || order[0] != "exact" {
		t.Errorf("preventBubble delivered to %v, want [exact]", order)
	}

	// Without an exact-topic node nothing fires, so the latch rejects.
	pub, _ := b.Publish("p.q.r", nil, WithSync(), WithPreventBubble())
	if _, err := pub.Await(testCtx(t)); err == nil {
		t.Error("preventBubble publish to an unmaterialized topic fulfilled, want rejection")
	}
	if len(order) != 1 {
		t.Errorf("preventBubble to descendant topic delivered to %v", order[1:])
	}
}

func TestDuplicateAncestorSubscriptionsFireOncePerAncestor(t *testing.T) {
	b := New()
	calls := 0
	fn := func(Message) { calls++ }
	mustSubscribe(t, b, "d", fn)
	mustSubscribe(t, b, "d.e", fn)

	b.Publish("d.e", nil, WithSync())
	if calls != 2 {
		t.Errorf("subscriber on two ancestors invoked %d times, want 2", calls)
	}
}

func TestTopicExpression(t *testing.T) {
	b := New()
	calls := map[string]int{}
	tokens := mustSubscribe(t, b, "a, b ,c", func(m Message) { calls[m.Topic]++ })

	if len(tokens) != 3 {
		t.Fatalf("Subscribe(expression) returned %d tokens, want 3", len(tokens))
	}
	wantTopics := []string{"a", "b", "c"}
	for i, tok := range tokens {
		if tok.Topic != wantTopics[i] {
			t.Errorf("token %d topic = %q, want %q", i, tok.Topic, wantTopics[i])
		}
	}

	for _, name := range wantTopics {
		b.Publish(name, nil, WithSync())
	}
	for _, name := range wantTopics {
		if calls[name] != 1 {
			t.Errorf("topic %q delivered %d times, want 1", name, calls[name])
		}
	}

	res := b.Unsubscribe("a,b", false)
	if len(res) != 2 || !res[0] || !res[1] {
		t.Errorf("Unsubscribe(\"a,b\") = %v, want [true true]", res)
	}
}

func TestNonStringTopicErrors(t *testing.T) {
	b := New()

	if _, err := b.Subscribe(42, func(Message) {}); err == nil {
		t.Error("Subscribe(42) succeeded, want error")
	} else {
		if !strings.Contains(err.Error(), "string") {
			t.Errorf("Subscribe error %q does not mention \"string\"", err)
		}
		if !errors.Is(err, ErrTopicNotString) {
			t.Errorf("Subscribe error %v is not ErrTopicNotString", err)
		}
	}

	if _, err := b.Publish(true, nil); err == nil {
		t.Error("Publish(true) succeeded, want error")
	} else if !strings.Contains(err.Error(), "string") {
		t.Errorf("Publish error %q does not mention \"string\"", err)
	}
}

func TestEmptyTopicTargetsRoot(t *testing.T) {
	b := New()
	calls := 0
	mustSubscribe(t, b, "", func(Message) { calls++ })

	b.Publish("deep.down.below", nil, WithSync())
	b.Publish("", nil, WithSync())
	if calls != 2 {
		t.Errorf("root subscriber invoked %d times, want 2", calls)
	}
}

func TestBrokerIndependence(t *testing.T) {
	b1 := New()
	b2 := New()

	calls := 0
	tok1 := mustSubscribe(t, b1, "shared", func(Message) { calls++ })

	b2.Publish("shared", nil, WithSync())
	if calls != 0 {
		t.Error("publish on one broker reached a subscriber of another")
	}

	// Independent id spaces.
	tok2 := mustSubscribe(t, b2, "shared", func(Message) {})
	if tok1[0].ID != 1 || tok2[0].ID != 1 {
		t.Errorf("token ids = %d and %d, want 1 and 1", tok1[0].ID, tok2[0].ID)
	}

	if b1.ID() == b2.ID() {
		t.Error("brokers share an instance id")
	}
}

func TestAsyncPublishFIFO(t *testing.T) {
	b := New()
	var got []any
	donech := make(chan struct{}, 2)
	mustSubscribe(t, b, "fifo", func(m Message) {
		got = append(got, m.Data)
		donech <- struct{}{}
	})

	b.Publish("fifo", 1)
	b.Publish("fifo", 2)

	if err := b.Drain(testCtx(t)); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	<-donech
	<-donech
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("async delivery order = %v, want [1 2]", got)
	}
}

func TestAsyncPublishReturnsBeforeDispatch(t *testing.T) {
	b := New()
	block := make(chan struct{})
	mustSubscribe(t, b, "later", func(Message) { <-block })

	pub, err := b.Publish("later", nil)
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	// The future exists before any subscriber ran.
	if pub.Fulfilled() != 0 || pub.Rejected() != 0 {
		t.Error("counters moved before the dispatch turn")
	}

	close(block)
	if err := b.Drain(testCtx(t)); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if _, err := pub.Await(testCtx(t)); err != nil {
		t.Errorf("Await() failed: %v", err)
	}
}

func TestMutableDefaults(t *testing.T) {
	b := New()
	o := b.Defaults()
	o.Sync = true
	o.Latch = 1
	b.SetDefaults(o)

	calls := 0
	mustSubscribe(t, b, "cfg", func(Message) { calls++ })

	// No Drain needed: the new defaults made publishes synchronous.
	b.Publish("cfg", nil)
	if calls != 1 {
		t.Errorf("publish with mutated defaults ran %d subscribers inline, want 1", calls)
	}
}

func TestDetachedMethodValues(t *testing.T) {
	b := New()
	subscribe := b.Subscribe
	publish := b.Publish
	unsubscribe := b.Unsubscribe

	calls := 0
	tokens, err := subscribe("detached", func(Message) { calls++ })
	if err != nil {
		t.Fatalf("detached Subscribe failed: %v", err)
	}
	if _, err := publish("detached", nil, WithSync()); err != nil {
		t.Fatalf("detached Publish failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("detached operations delivered %d times, want 1", calls)
	}
	if res := unsubscribe(tokens[0], false); !res[0] {
		t.Error("detached Unsubscribe = false, want true")
	}
}

func TestConcurrentPublishes(t *testing.T) {
	b := New()
	var delivered int64
	countCh := make(chan struct{}, 1024)
	mustSubscribe(t, b, "load", func(Message) { countCh <- struct{}{} })

	var g errgroup.Group
	const n = 200
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := b.Publish("load.worker", nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent publish failed: %v", err)
	}
	if err := b.Drain(testCtx(t)); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}

	for i := 0; i < n; i++ {
		select {
		case <-countCh:
			delivered++
		case <-time.After(time.Second):
			t.Fatalf("delivered %d publishes, want %d", delivered, n)
		}
	}
}
