package session

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/auth"
	"github.com/fjod/go_cart/cartsync/internal/cache"
	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/fjod/go_cart/cartsync/internal/localcart"
	"github.com/fjod/go_cart/cartsync/internal/synchronizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type emptyStore struct{}

func (emptyStore) ListCarts(context.Context) ([]domain.RemoteRecord, error) { return nil, nil }

func (emptyStore) CreateCart(_ context.Context, customerID, productID string, quantity int) (domain.RemoteRecord, error) {
	return domain.RemoteRecord{ID: customerID + "-" + productID, CustomerID: customerID, ProductID: productID, Quantity: quantity}, nil
}

func (emptyStore) UpdateQuantity(_ context.Context, recordID string, quantity int) (domain.RemoteRecord, error) {
	return domain.RemoteRecord{ID: recordID, Quantity: quantity}, nil
}

func (emptyStore) DeleteCart(context.Context, string) error { return nil }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := zaptest.NewLogger(t)
	factory := func(gate *auth.Gate) *synchronizer.Synchronizer {
		return synchronizer.New(localcart.New(), emptyStore{}, gate, cache.NewMemoryCache(time.Minute),
			synchronizer.DefaultConfig(), logger)
	}
	r := NewRegistry(factory, Config{IdleTTL: time.Minute, CleanupInterval: time.Hour}, logger)
	t.Cleanup(func() { require.NoError(t, r.Close()) })
	return r
}

func TestGet_CreatesAndReuses(t *testing.T) {
	r := newTestRegistry(t)

	s1, err := r.Get("")
	require.NoError(t, err)
	require.NotEmpty(t, s1.ID)

	again, err := r.Get(s1.ID)
	require.NoError(t, err)
	assert.Same(t, s1, again)

	other, err := r.Get("not-a-live-session")
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, other.ID)
	assert.NotEqual(t, "not-a-live-session", other.ID)
	assert.Equal(t, 2, r.Len())
}

func TestClearUser_EmptiesSignedInSessionsOnly(t *testing.T) {
	r := newTestRegistry(t)

	alice, err := r.Get("")
	require.NoError(t, err)
	bob, err := r.Get("")
	require.NoError(t, err)

	alice.Gate.SignIn("alice", "t1")
	bob.Gate.SignIn("bob", "t2")
	alice.Sync.Cart().Add(domain.Product{ID: "p1", Price: 100})
	bob.Sync.Cart().Add(domain.Product{ID: "p1", Price: 100})

	assert.Equal(t, 1, r.ClearUser(context.Background(), "alice"))
	assert.Zero(t, alice.Sync.Cart().Len())
	assert.Equal(t, 1, bob.Sync.Cart().Len())
	assert.Zero(t, r.ClearUser(context.Background(), ""))
}

func TestExpireIdle(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Now()
	r.now = func() time.Time { return now }

	stale, err := r.Get("")
	require.NoError(t, err)
	now = now.Add(45 * time.Second)
	fresh, err := r.Get("")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	r.expireIdle()

	assert.Equal(t, 1, r.Len())
	got, err := r.Get(fresh.ID)
	require.NoError(t, err)
	assert.Same(t, fresh, got)

	// the closed synchronizer rejects further remote work
	stale.Gate.SignIn("u1", "tok")
	res, err := stale.Sync.AddItem(domain.Product{ID: "p1"}).Wait(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, synchronizer.ErrClosed)
}

func TestGet_AfterClose(t *testing.T) {
	r := NewRegistry(func(gate *auth.Gate) *synchronizer.Synchronizer {
		return synchronizer.New(localcart.New(), emptyStore{}, gate, cache.NewMemoryCache(0),
			synchronizer.DefaultConfig(), zap.NewNop())
	}, Config{}, zap.NewNop())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := r.Get("")
	assert.ErrorIs(t, err, ErrClosed)
}
