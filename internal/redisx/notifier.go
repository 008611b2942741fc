package redisx

import (
	"context"
	"fmt"
	"sync"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// Notifier carries per-account order change signals over Redis Pub/Sub, so every API
// replica sees writes made by any other replica.
type Notifier struct {
	Redis *redis.Client
}

var _ orders.Notifier = (*Notifier)(nil)

func (n *Notifier) Notify(ctx context.Context, accountID string) error {
	return n.Redis.Publish(ctx, fmt.Sprintf(ChannelOrdersChanged, accountID), "changed").Err()
}

func (n *Notifier) Subscribe(ctx context.Context, accountID string) (orders.Subscription, error) {
	ps := n.Redis.Subscribe(ctx, fmt.Sprintf(ChannelOrdersChanged, accountID))
	// tunggu konfirmasi subscribe supaya error koneksi langsung kelihatan
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", accountID, err)
	}
	s := &pubsubSubscription{ps: ps, ch: make(chan struct{}, 1)}
	go s.pump(ps.Channel())
	return s, nil
}

type pubsubSubscription struct {
	ps   *redis.PubSub
	ch   chan struct{}
	once sync.Once
}

func (s *pubsubSubscription) pump(msgs <-chan *redis.Message) {
	defer close(s.ch)
	for range msgs {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

func (s *pubsubSubscription) Changes() <-chan struct{} { return s.ch }

func (s *pubsubSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
