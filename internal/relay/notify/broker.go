// Package notify is a tiny in-process event fan-in: long-poll handlers
// subscribe on a topic and a single Publish wakes everyone waiting on it.
package notify

import "sync"

type Broker struct {
	mu     sync.Mutex
	topics map[string][]chan struct{}
}

func NewBroker() *Broker {
	return &Broker{topics: make(map[string][]chan struct{})}
}

// Subscribe registers interest in topic. The returned channel receives at
// most one signal; cancel must be called when the subscriber is done.
func (b *Broker) Subscribe(topic string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[topic]
		for i, s := range subs {
			if s == ch {
				b.topics[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
	}
	return ch, cancel
}

// Publish wakes every current subscriber of topic. Non-blocking: a
// subscriber that already has a pending signal is not queued twice.
func (b *Broker) Publish(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.topics[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
