package store

import (
	"sync"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/model"
)

// MemoryFederationStore is a mutex-guarded in-memory FederationStore.
// Records are deep-copied on the way in and out so callers never alias
// store state.
type MemoryFederationStore struct {
	mu   sync.RWMutex
	recs map[string]*model.Federation
}

func NewMemoryFederationStore() *MemoryFederationStore {
	return &MemoryFederationStore{recs: make(map[string]*model.Federation)}
}

func (s *MemoryFederationStore) Get(id string) (*model.Federation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (s *MemoryFederationStore) Save(f *model.Federation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[f.ID] = f.Clone()
	return nil
}

func (s *MemoryFederationStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *MemoryFederationStore) All() ([]*model.Federation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Federation, 0, len(s.recs))
	for _, f := range s.recs {
		out = append(out, f.Clone())
	}
	return out, nil
}

// MemoryFederatedResourceStore is a mutex-guarded in-memory
// FederatedResourceStore.
type MemoryFederatedResourceStore struct {
	mu   sync.RWMutex
	recs map[string]*model.FederatedResource
}

func NewMemoryFederatedResourceStore() *MemoryFederatedResourceStore {
	return &MemoryFederatedResourceStore{recs: make(map[string]*model.FederatedResource)}
}

func (s *MemoryFederatedResourceStore) Get(aggregationID string) (*model.FederatedResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fr, ok := s.recs[aggregationID]
	if !ok {
		return nil, ErrNotFound
	}
	return fr.Clone(), nil
}

func (s *MemoryFederatedResourceStore) Save(fr *model.FederatedResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[fr.AggregationID] = fr.Clone()
	return nil
}

func (s *MemoryFederatedResourceStore) Delete(aggregationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, aggregationID)
	return nil
}

func (s *MemoryFederatedResourceStore) All() ([]*model.FederatedResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.FederatedResource, 0, len(s.recs))
	for _, fr := range s.recs {
		out = append(out, fr.Clone())
	}
	return out, nil
}

// MemorySubscriptionStore is a mutex-guarded in-memory SubscriptionStore.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	recs map[string]*model.Subscription
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{recs: make(map[string]*model.Subscription)}
}

func (s *MemorySubscriptionStore) Get(platformID string) (*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.recs[platformID]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (s *MemorySubscriptionStore) Save(sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[sub.PlatformID] = sub.Clone()
	return nil
}

func (s *MemorySubscriptionStore) Delete(platformID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, platformID)
	return nil
}

func (s *MemorySubscriptionStore) All() ([]*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Subscription, 0, len(s.recs))
	for _, sub := range s.recs {
		out = append(out, sub.Clone())
	}
	return out, nil
}
