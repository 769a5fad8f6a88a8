package synchronizer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/fjod/go_cart/cartsync/internal/remote"
)

// fakeStore is an in-memory remote cart. Rows can be hidden from the next N list calls
// to imitate a store that is slow to show new writes.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int
	records []fakeRow

	listErr, createErr, updateErr, deleteErr error
	// blockLists makes the next N list calls wait until their context is done.
	blockLists int

	listCalls, createCalls, updateCalls, deleteCalls int
}

type fakeRow struct {
	rec    domain.RemoteRecord
	hidden int
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1}
}

func transientErr(msg string) error {
	return fmt.Errorf("%w: %s", remote.ErrTransient, msg)
}

// seed stores a row directly; it stays invisible to the next hiddenFor list calls.
func (f *fakeStore) seed(customerID, productID string, quantity int, updatedAt time.Time, hiddenFor int) domain.RemoteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := domain.RemoteRecord{
		ID:         strconv.Itoa(f.nextID),
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   quantity,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
	}
	f.nextID++
	f.records = append(f.records, fakeRow{rec: rec, hidden: hiddenFor})
	return rec
}

func (f *fakeStore) ListCarts(ctx context.Context) ([]domain.RemoteRecord, error) {
	f.mu.Lock()
	f.listCalls++
	if f.blockLists > 0 {
		f.blockLists--
		f.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.RemoteRecord
	for i := range f.records {
		if f.records[i].hidden > 0 {
			f.records[i].hidden--
			continue
		}
		out = append(out, f.records[i].rec)
	}
	return out, nil
}

func (f *fakeStore) CreateCart(_ context.Context, customerID, productID string, quantity int) (domain.RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return domain.RemoteRecord{}, f.createErr
	}
	for _, row := range f.records {
		if row.rec.CustomerID == customerID && row.rec.ProductID == productID {
			return domain.RemoteRecord{}, fmt.Errorf("create: %w", remote.ErrConflict)
		}
	}
	now := time.Now()
	rec := domain.RemoteRecord{
		ID:         strconv.Itoa(f.nextID),
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   quantity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	f.nextID++
	f.records = append(f.records, fakeRow{rec: rec})
	return rec, nil
}

func (f *fakeStore) UpdateQuantity(_ context.Context, recordID string, quantity int) (domain.RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return domain.RemoteRecord{}, f.updateErr
	}
	for i := range f.records {
		if f.records[i].rec.ID == recordID {
			f.records[i].rec.Quantity = quantity
			f.records[i].rec.UpdatedAt = time.Now()
			return f.records[i].rec, nil
		}
	}
	return domain.RemoteRecord{}, fmt.Errorf("update: %w", remote.ErrNotFound)
}

func (f *fakeStore) DeleteCart(_ context.Context, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.records {
		if f.records[i].rec.ID == recordID {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete: %w", remote.ErrNotFound)
}

func (f *fakeStore) rows() []domain.RemoteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RemoteRecord, 0, len(f.records))
	for _, row := range f.records {
		out = append(out, row.rec)
	}
	return out
}

func (f *fakeStore) calls() (list, create, update, del int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.createCalls, f.updateCalls, f.deleteCalls
}

func (f *fakeStore) set(fn func(f *fakeStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// replace deletes the row with id and stores a new row for the same pair under a new id.
func (f *fakeStore) replace(id string) domain.RemoteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].rec.ID != id {
			continue
		}
		rec := f.records[i].rec
		rec.ID = strconv.Itoa(f.nextID)
		rec.UpdatedAt = time.Now()
		f.nextID++
		f.records[i] = fakeRow{rec: rec}
		return rec
	}
	return domain.RemoteRecord{}
}
