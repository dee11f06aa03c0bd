package bus

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Memory is an in-process bus with the same delivery contract as the real
// one: at-least-once, per-subscription queues, redelivery on handler error,
// no ordering guarantee after a nack. Used by tests and local runs.
type Memory struct {
	mu     sync.Mutex
	subs   map[string]map[string]Handler    // topic -> group -> handler
	queues map[string]map[string][]delivery // topic -> group -> pending

	// MaxAttempts bounds redelivery per message so a poison message cannot
	// hang Drain. Dropped messages are retained for inspection.
	MaxAttempts int
	Dropped     []Message
}

type delivery struct {
	msg      Message
	attempts int
}

func NewMemory() *Memory {
	return &Memory{
		subs:        make(map[string]map[string]Handler),
		queues:      make(map[string]map[string][]delivery),
		MaxAttempts: 5,
	}
}

// Subscribe registers a handler for a named group on a topic. Messages
// published afterwards are queued per group until drained.
func (b *Memory) Subscribe(topic, group string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]Handler)
		b.queues[topic] = make(map[string][]delivery)
	}
	b.subs[topic][group] = h
}

func (b *Memory) Publish(_ context.Context, m Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for group := range b.subs[m.Topic] {
		b.queues[m.Topic][group] = append(b.queues[m.Topic][group], delivery{msg: m})
	}
	return nil
}

// Pending reports queued-but-undelivered messages across all groups.
func (b *Memory) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, groups := range b.queues {
		for _, q := range groups {
			n += len(q)
		}
	}
	return n
}

// Drain delivers until every queue is empty. Handlers may publish while
// being drained; those messages are delivered in the same call. A handler
// error requeues the message at the tail, up to MaxAttempts.
func (b *Memory) Drain(ctx context.Context) error {
	for i := 0; i < 100000; i++ {
		d, topic, group, ok := b.pop()
		if !ok {
			return nil
		}
		h := b.handler(topic, group)
		if err := h(ctx, d.msg); err != nil {
			d.attempts++
			if d.attempts >= b.MaxAttempts {
				b.mu.Lock()
				b.Dropped = append(b.Dropped, d.msg)
				b.mu.Unlock()
				continue
			}
			b.mu.Lock()
			b.queues[topic][group] = append(b.queues[topic][group], d)
			b.mu.Unlock()
		}
	}
	return errors.New("memory bus did not quiesce")
}

func (b *Memory) pop() (delivery, string, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range sortedKeys(b.queues) {
		groups := b.queues[topic]
		for _, group := range sortedKeys(groups) {
			q := groups[group]
			if len(q) == 0 {
				continue
			}
			d := q[0]
			groups[group] = q[1:]
			return d, topic, group, true
		}
	}
	return delivery{}, "", "", false
}

func (b *Memory) handler(topic, group string) Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[topic][group]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
