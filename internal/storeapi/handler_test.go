package storeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/auth"
	"github.com/fjod/go_cart/cartsync/internal/cache"
	"github.com/fjod/go_cart/cartsync/internal/catalog"
	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/fjod/go_cart/cartsync/internal/localcart"
	"github.com/fjod/go_cart/cartsync/internal/remote"
	"github.com/fjod/go_cart/cartsync/internal/retry"
	"github.com/fjod/go_cart/cartsync/internal/store"
	"github.com/fjod/go_cart/cartsync/internal/synchronizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testCatalog = `
products:
  "1":
    name: Galaxy S24
    price: "99.99 SAR"
    currency: SAR
  "2":
    name: Pixel 8
    price: "50 SAR"
    currency: SAR
`

type testEnv struct {
	server *httptest.Server
	base   *remote.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	handler := NewCartsHandler(store.NewMemoryStore(), cat, auth.InsecureVerifier{}, logger)
	srv := httptest.NewServer(NewRouter(handler, logger))
	t.Cleanup(srv.Close)

	base := remote.NewClient(remote.Config{
		BaseURL: srv.URL + "/api",
		Timeout: 2 * time.Second,
		Breaker: remote.BreakerConfig{FailureThreshold: 5, OpenTimeout: time.Second},
	}, logger)
	return &testEnv{server: srv, base: base}
}

// as returns a client authenticated as uid; the insecure verifier takes the token as the uid.
func (e *testEnv) as(uid string) *remote.Client {
	return e.base.WithTokenSource(remote.StaticToken(uid))
}

func TestList_OnlyCallerRowsWithPopulatedRelations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.as("alice").CreateCart(ctx, "alice", "1", 2)
	require.NoError(t, err)
	_, err = env.as("bob").CreateCart(ctx, "bob", "1", 1)
	require.NoError(t, err)

	records, err := env.as("alice").ListCarts(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "alice", rec.CustomerID)
	assert.Equal(t, "1", rec.ProductID)
	assert.Equal(t, 2, rec.Quantity)
	require.NotNil(t, rec.Product)
	assert.Equal(t, "Galaxy S24", rec.Product.Name)
	assert.Equal(t, domain.Money(9999), rec.Product.Price)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestCreate_ForeignCustomerForbidden(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.as("alice").CreateCart(context.Background(), "bob", "1", 1)
	assert.ErrorIs(t, err, remote.ErrUnauthorized)

	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
}

func TestCreate_DuplicateConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.as("alice")

	_, err := alice.CreateCart(ctx, "alice", "1", 1)
	require.NoError(t, err)
	_, err = alice.CreateCart(ctx, "alice", "1", 1)
	assert.ErrorIs(t, err, remote.ErrConflict)
}

func TestForeignRowsAreNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.as("alice").CreateCart(ctx, "alice", "1", 1)
	require.NoError(t, err)

	_, err = env.as("bob").UpdateQuantity(ctx, rec.ID, 7)
	assert.ErrorIs(t, err, remote.ErrNotFound)
	assert.ErrorIs(t, env.as("bob").DeleteCart(ctx, rec.ID), remote.ErrNotFound)

	updated, err := env.as("alice").UpdateQuantity(ctx, rec.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Quantity)

	require.NoError(t, env.as("alice").DeleteCart(ctx, rec.ID))
	records, err := env.as("alice").ListCarts(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRequestsNeedBearerToken(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/carts")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreate_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/carts", strings.NewReader(`{"data":`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParsePopulate(t *testing.T) {
	tests := []struct {
		query string
		want  populate
	}{
		{"", populate{}},
		{"populate=product", populate{product: true}},
		{"populate=product,customer", populate{product: true, customer: true}},
		{"populate=*", populate{product: true, customer: true}},
		{"populate=customer&populate=product", populate{product: true, customer: true}},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/carts?"+tt.query, nil)
		assert.Equal(t, tt.want, parsePopulate(r), tt.query)
	}
}

func TestSynchronizerAgainstStore(t *testing.T) {
	env := newTestEnv(t)
	logger := zaptest.NewLogger(t)

	gate := auth.NewGate()
	cfg := synchronizer.DefaultConfig()
	cfg.Lookup = retry.Policy{Kind: retry.KindConstant, Interval: 5 * time.Millisecond, Attempts: 5}
	s := synchronizer.New(localcart.New(), env.base.WithTokenSource(gate), gate,
		cache.NewMemoryCache(time.Minute), cfg, logger)
	t.Cleanup(func() { _ = s.Close() })

	s.AddItem(domain.Product{ID: "1", Name: "Galaxy S24", Price: 9999})
	s.AddItem(domain.Product{ID: "2", Name: "Pixel 8", Price: 5000})
	s.Increment("1")

	gate.SignIn("alice", "alice")
	report, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Failed)

	require.Eventually(t, func() bool {
		records, err := env.as("alice").ListCarts(context.Background())
		return err == nil && len(records) == 2
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := s.RemoveItem("2").Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	records, err := env.as("alice").ListCarts(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].ProductID)
	assert.Equal(t, 2, records[0].Quantity)
	assert.Equal(t, "199.98", s.Cart().TotalPrice().String())
}
