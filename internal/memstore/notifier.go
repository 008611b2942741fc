package memstore

import (
	"context"
	"sync"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// Notifier fans change signals out to in-process subscribers. Signals coalesce:
// a subscriber that has not drained the previous one sees a single pending signal.
type Notifier struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

var _ orders.Notifier = (*Notifier)(nil)

func NewNotifier() *Notifier {
	return &Notifier{subs: map[string]map[*subscription]struct{}{}}
}

func (n *Notifier) Notify(_ context.Context, accountID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs[accountID] {
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (n *Notifier) Subscribe(_ context.Context, accountID string) (orders.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sub := &subscription{n: n, accountID: accountID, ch: make(chan struct{}, 1)}
	if n.subs[accountID] == nil {
		n.subs[accountID] = map[*subscription]struct{}{}
	}
	n.subs[accountID][sub] = struct{}{}
	return sub, nil
}

// Subscribers reports how many live subscriptions accountID has.
func (n *Notifier) Subscribers(accountID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[accountID])
}

type subscription struct {
	n         *Notifier
	accountID string
	ch        chan struct{}
	once      sync.Once
}

func (s *subscription) Changes() <-chan struct{} { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.n.mu.Lock()
		defer s.n.mu.Unlock()
		delete(s.n.subs[s.accountID], s)
		if len(s.n.subs[s.accountID]) == 0 {
			delete(s.n.subs, s.accountID)
		}
		close(s.ch)
	})
	return nil
}
