package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/desklet/internal/model"
)

const subscriptionsKey = "push_subscriptions"

// SubscriptionStore keeps Web Push subscriptions in the KV store, keyed by
// endpoint.
type SubscriptionStore struct {
	mu sync.Mutex
	kv KV
}

func NewSubscriptionStore(kv KV) *SubscriptionStore {
	return &SubscriptionStore{kv: kv}
}

// Upsert adds sub or replaces the keys of an existing subscription with the
// same endpoint.
func (s *SubscriptionStore) Upsert(ctx context.Context, sub model.PushSubscription, now time.Time) (*model.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	existing, ok := subs[sub.Endpoint]
	if ok {
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.CreatedAt = now
	}
	subs[sub.Endpoint] = sub
	if err := s.save(ctx, subs); err != nil {
		return nil, fmt.Errorf("save push subscription: %w", err)
	}
	return &sub, nil
}

// List returns subscriptions, newest first.
func (s *SubscriptionStore) List(ctx context.Context) ([]model.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.PushSubscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	return out, nil
}

func (s *SubscriptionStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}

// DeleteByEndpoint reports whether a subscription was removed.
func (s *SubscriptionStore) DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := subs[endpoint]; !ok {
		return false, nil
	}
	delete(subs, endpoint)
	if err := s.save(ctx, subs); err != nil {
		return false, fmt.Errorf("delete push subscription: %w", err)
	}
	return true, nil
}

func (s *SubscriptionStore) load(ctx context.Context) (map[string]model.PushSubscription, error) {
	var list []model.PushSubscription
	if _, err := GetJSON(ctx, s.kv, subscriptionsKey, &list); err != nil {
		return nil, fmt.Errorf("load push subscriptions: %w", err)
	}
	subs := make(map[string]model.PushSubscription, len(list))
	for _, sub := range list {
		subs[sub.Endpoint] = sub
	}
	return subs, nil
}

func (s *SubscriptionStore) save(ctx context.Context, subs map[string]model.PushSubscription) error {
	list := make([]model.PushSubscription, 0, len(subs))
	for _, sub := range subs {
		list = append(list, sub)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Endpoint < list[j].Endpoint })
	return SetJSON(ctx, s.kv, subscriptionsKey, list)
}
