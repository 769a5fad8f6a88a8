package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/domain"
)

// MemoryStore implements RecordStore in process. Ids are sequential numbers.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.RemoteRecord
	nextID  int64
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]domain.RemoteRecord),
		nextID:  1,
		now:     time.Now,
	}
}

func (s *MemoryStore) List(_ context.Context, customerID string) ([]domain.RemoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RemoteRecord, 0)
	for _, r := range s.records {
		if r.CustomerID == customerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) ||
			(out[i].CreatedAt.Equal(out[j].CreatedAt) && lessID(out[i].ID, out[j].ID))
	})
	return out, nil
}

func lessID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func (s *MemoryStore) Get(_ context.Context, customerID, id string) (domain.RemoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok || r.CustomerID != customerID {
		return domain.RemoteRecord{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Create(_ context.Context, customerID, productID string, quantity int) (domain.RemoteRecord, error) {
	if err := validate(customerID, productID, quantity); err != nil {
		return domain.RemoteRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.CustomerID == customerID && r.ProductID == productID {
			return domain.RemoteRecord{}, ErrDuplicate
		}
	}
	now := s.now()
	r := domain.RemoteRecord{
		ID:         strconv.FormatInt(s.nextID, 10),
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   quantity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.nextID++
	s.records[r.ID] = r
	return r, nil
}

func (s *MemoryStore) UpdateQuantity(_ context.Context, customerID, id string, quantity int) (domain.RemoteRecord, error) {
	if err := validQuantity(quantity); err != nil {
		return domain.RemoteRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok || r.CustomerID != customerID {
		return domain.RemoteRecord{}, ErrNotFound
	}
	r.Quantity = quantity
	r.UpdatedAt = s.now()
	s.records[id] = r
	return r, nil
}

func (s *MemoryStore) Delete(_ context.Context, customerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok || r.CustomerID != customerID {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
