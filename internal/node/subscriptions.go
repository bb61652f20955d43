package node

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zhangyunhao116/skipset"

	"ringkv/pkg/listener"
	"ringkv/pkg/protocol"
)

type push struct {
	key   string
	value string
}

type subscription struct {
	all  atomic.Bool
	keys *skipset.OrderedSet[string]
}

func (s *subscription) wants(key string) bool {
	return s.all.Load() || s.keys.Contains(key)
}

// subscriptions fans applied writes out to interested connections as
// SUBSCRIPTION_UPDATE frames.
type subscriptions struct {
	mu     sync.RWMutex
	byConn map[*clientConn]*subscription

	gauge  prometheus.Gauge
	pusher *listener.Listener[push]
	log    *slog.Logger
}

func newSubscriptions(gauge prometheus.Gauge, queue int) *subscriptions {
	s := &subscriptions{
		byConn: make(map[*clientConn]*subscription),
		gauge:  gauge,
		log:    slog.Default().With("component", "subscriptions"),
	}
	s.pusher = listener.New[push]("subscriptions", queue, s.fanout)
	return s
}

func (s *subscriptions) start(ctx context.Context) { s.pusher.Start(ctx) }
func (s *subscriptions) stop() { s.pusher.Stop() }

// subscribe registers key for c; an empty key means every key.
func (s *subscriptions) subscribe(c *clientConn, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.byConn[c]
	if !ok {
		sub = &subscription{keys: skipset.New[string]()}
		s.byConn[c] = sub
		s.gauge.Set(float64(len(s.byConn)))
	}
	if key == "" {
		sub.all.Store(true)
		return
	}
	sub.keys.Add(key)
}

// unsubscribe removes key for c; an empty key drops every subscription of c.
func (s *subscriptions) unsubscribe(c *clientConn, key string) {
	if key == "" {
		s.drop(c)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byConn[c]
	if !ok {
		return
	}
	sub.keys.Remove(key)
	if !sub.all.Load() && sub.keys.Len() == 0 {
		delete(s.byConn, c)
		s.gauge.Set(float64(len(s.byConn)))
	}
}

func (s *subscriptions) drop(c *clientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byConn[c]; ok {
		delete(s.byConn, c)
		s.gauge.Set(float64(len(s.byConn)))
	}
}

func (s *subscriptions) publish(key, value string) {
	s.mu.RLock()
	empty := len(s.byConn) == 0
	s.mu.RUnlock()
	if empty {
		return
	}
	s.pusher.Submit(push{key: key, value: value})
}

func (s *subscriptions) fanout(p push) error {
	s.mu.RLock()
	targets := make([]*clientConn, 0, len(s.byConn))
	for c, sub := range s.byConn {
		if sub.wants(p.key) {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	msg := protocol.Message{Status: protocol.StatusSubscriptionUpdate, Key: p.key, Value: p.value}
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			s.log.Debug("push failed", "conn", c.id.String(), "error", err)
		}
	}
	return nil
}
