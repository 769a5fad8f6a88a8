// Package synchronizer keeps the remote cart of the signed-in user consistent with the
// local cart. Local changes are applied immediately; remote work runs in the background,
// one task at a time per product.
package synchronizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/auth"
	"github.com/fjod/go_cart/cartsync/internal/cache"
	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/fjod/go_cart/cartsync/internal/localcart"
	"github.com/fjod/go_cart/cartsync/internal/remote"
	"github.com/fjod/go_cart/cartsync/internal/retry"
	"github.com/fjod/go_cart/cartsync/internal/sequencer"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RemoteStore is the remote cart resource.
type RemoteStore interface {
	ListCarts(ctx context.Context) ([]domain.RemoteRecord, error)
	CreateCart(ctx context.Context, customerID, productID string, quantity int) (domain.RemoteRecord, error)
	UpdateQuantity(ctx context.Context, recordID string, quantity int) (domain.RemoteRecord, error)
	DeleteCart(ctx context.Context, recordID string) error
}

// Gate is the authentication state the synchronizer follows.
type Gate interface {
	CurrentUserID() string
	Subscribe(fn func(auth.Change)) (unsubscribe func())
}

type Config struct {
	// Lookup polls the remote cart for a record id that is not known yet.
	Lookup retry.Policy `yaml:"lookup"`
	// Mutation wraps every create, update and delete call.
	Mutation retry.Policy `yaml:"mutation"`
	// RollbackFailedAdds removes a locally added item once its remote create is given up.
	RollbackFailedAdds   bool `yaml:"rollback_failed_adds"`
	ReconcileConcurrency int  `yaml:"reconcile_concurrency"`
	// FetchTimeout bounds one remote cart listing. The listing is shared by concurrent
	// callers and never runs on a caller's context.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Lookup: retry.Policy{
			Kind:     retry.KindConstant,
			Interval: 500 * time.Millisecond,
			Delay:    500 * time.Millisecond,
			Attempts: 5,
		},
		Mutation: retry.Policy{
			Kind:        retry.KindExponential,
			Interval:    200 * time.Millisecond,
			MaxInterval: 2 * time.Second,
			Attempts:    3,
		},
		ReconcileConcurrency: 4,
		FetchTimeout:         10 * time.Second,
	}
}

type tracking struct {
	recordID string
	state    domain.SyncState
	lastErr  error
}

// ItemStatus is a line item together with its reconciliation state.
type ItemStatus struct {
	Item      domain.LineItem
	Sync      domain.SyncState
	RecordID  string
	LastError error
}

type Synchronizer struct {
	cart      *localcart.Cache
	remote    RemoteStore
	gate      Gate
	snapshots cache.SnapshotCache
	cfg       Config
	logger    *zap.Logger

	seq *sequencer.Sequencer
	sfg singleflight.Group

	// localMu serializes check-then-act sequences on the local cart.
	localMu sync.Mutex

	mu         sync.Mutex
	trackedFor string
	tracked    map[string]*tracking
	closed     bool

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func New(cart *localcart.Cache, store RemoteStore, gate Gate, snapshots cache.SnapshotCache, cfg Config, logger *zap.Logger) *Synchronizer {
	if cfg.ReconcileConcurrency < 1 {
		cfg.ReconcileConcurrency = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		cart:       cart,
		remote:     store,
		gate:       gate,
		snapshots:  snapshots,
		cfg:        cfg,
		logger:     logger,
		seq:        sequencer.New(),
		trackedFor: gate.CurrentUserID(),
		tracked:    make(map[string]*tracking),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.unsubscribe = gate.Subscribe(s.onAuthChange)
	return s
}

func (s *Synchronizer) Cart() *localcart.Cache {
	return s.cart
}

// Items returns the local cart with the sync state of every line.
func (s *Synchronizer) Items() []ItemStatus {
	items := s.cart.Items()
	anonymous := s.gate.CurrentUserID() == ""

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ItemStatus, 0, len(items))
	for _, item := range items {
		st := ItemStatus{Item: item, Sync: domain.SyncStateLocalOnly}
		if t, ok := s.tracked[item.Product.ID]; ok && !anonymous {
			st.Sync = t.state
			st.RecordID = t.recordID
			st.LastError = t.lastErr
		}
		out = append(out, st)
	}
	return out
}

// Close stops background work. Pending operations finish with a cancelled context and
// no timer outlives the call.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.unsubscribe()
	s.cancel()
	err := s.seq.Close()
	s.wg.Wait()
	return err
}

// ClearCart empties the local cart and forgets every remote link, without touching the
// remote store. Used after a checkout consumed the remote rows.
func (s *Synchronizer) ClearCart(ctx context.Context) {
	s.localMu.Lock()
	s.cart.Clear()
	s.localMu.Unlock()

	userID := s.gate.CurrentUserID()
	s.mu.Lock()
	s.tracked = make(map[string]*tracking)
	s.mu.Unlock()

	if userID != "" {
		s.invalidate(ctx, userID)
	}
}

func (s *Synchronizer) onAuthChange(c auth.Change) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.trackedFor = c.Current
	s.tracked = make(map[string]*tracking)
	if c.Current != "" {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if c.Previous != "" {
		// the lines belonged to the previous account and are persisted remotely
		s.localMu.Lock()
		s.cart.Clear()
		s.localMu.Unlock()
		s.invalidate(s.ctx, c.Previous)
	}

	if c.Current == "" {
		return
	}
	go func() {
		defer s.wg.Done()
		report, err := s.Reconcile(s.ctx)
		if err != nil {
			s.logger.Warn("reconcile after sign-in failed", zap.String("user_id", c.Current), zap.Error(err))
			return
		}
		s.logger.Info("cart reconciled after sign-in",
			zap.String("user_id", c.Current),
			zap.Int("created", report.Created),
			zap.Int("merged", report.Merged),
			zap.Int("failed", report.Failed))
	}()
}

func (s *Synchronizer) submit(op *Operation, task func(ctx context.Context)) *Operation {
	err := s.seq.Submit(op.ProductID, func(ctx context.Context) {
		task(ctx)
		// every path inside task finishes op; this only guards against a missed branch
		op.finish(Result{State: domain.OpStateFailed, Err: errors.New("operation ended without result")})
	})
	if err != nil {
		op.finish(Result{State: domain.OpStateFailed, Err: ErrClosed})
	}
	return op
}

func (s *Synchronizer) track(userID, productID string, mutate func(t *tracking)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackedFor != userID {
		return
	}
	t, ok := s.tracked[productID]
	if !ok {
		t = &tracking{state: domain.SyncStatePending}
		s.tracked[productID] = t
	}
	mutate(t)
}

func (s *Synchronizer) link(userID, productID, recordID string) {
	s.track(userID, productID, func(t *tracking) {
		t.recordID = recordID
		t.state = domain.SyncStateSynced
		t.lastErr = nil
	})
}

func (s *Synchronizer) markPending(userID, productID string) {
	s.track(userID, productID, func(t *tracking) {
		t.state = domain.SyncStatePending
	})
}

func (s *Synchronizer) markLocalOnly(userID, productID string, err error) {
	s.track(userID, productID, func(t *tracking) {
		t.state = domain.SyncStateLocalOnly
		t.lastErr = err
	})
}

func (s *Synchronizer) forgetRecord(userID, productID string) {
	s.track(userID, productID, func(t *tracking) {
		t.recordID = ""
	})
}

func (s *Synchronizer) untrack(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, productID)
}

func (s *Synchronizer) knownRecord(userID, productID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackedFor != userID {
		return ""
	}
	if t, ok := s.tracked[productID]; ok {
		return t.recordID
	}
	return ""
}

// stillSignedIn reports whether userID is still the current user.
func (s *Synchronizer) stillSignedIn(userID string) bool {
	return userID != "" && s.gate.CurrentUserID() == userID
}

// fetchRemote lists the remote cart of userID, keeps only the rows owned by that user and
// stores the result as the latest snapshot. Concurrent callers share one request, which
// runs on the synchronizer's context bounded by FetchTimeout; each caller stops waiting
// when its own ctx is done.
func (s *Synchronizer) fetchRemote(ctx context.Context, userID string) ([]domain.RemoteRecord, error) {
	ch := s.sfg.DoChan(userID, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
		defer cancel()

		records, err := s.remote.ListCarts(fctx)
		if err != nil {
			return nil, err
		}
		owned := domain.OwnedBy(records, userID)

		snap := &cache.Snapshot{UserID: userID, Records: owned, FetchedAt: time.Now()}
		if errSet := s.snapshots.Set(fctx, userID, snap); errSet != nil {
			s.logger.Warn("snapshot cache set failed", zap.String("user_id", userID), zap.Error(errSet))
		}
		return owned, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.RemoteRecord), nil
	}
}

// cachedRecord looks for the record in the last fetched snapshot without calling the store.
func (s *Synchronizer) cachedRecord(ctx context.Context, userID, productID string) (domain.RemoteRecord, bool) {
	snap, err := s.snapshots.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("snapshot cache get failed", zap.String("user_id", userID), zap.Error(err))
		}
		return domain.RemoteRecord{}, false
	}
	return domain.FindRecord(snap.Records, userID, productID)
}

func (s *Synchronizer) invalidate(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.snapshots.Delete(ctx, userID); err != nil {
		s.logger.Warn("snapshot cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// lookupRecordID resolves the remote record of productID: known id, then the cached
// snapshot, then polling the store. found=false with a nil error means every poll
// succeeded and none showed the record.
func (s *Synchronizer) lookupRecordID(ctx context.Context, op *Operation, userID, productID string) (string, bool, error) {
	if id := s.knownRecord(userID, productID); id != "" {
		return id, true, nil
	}
	if rec, ok := s.cachedRecord(ctx, userID, productID); ok {
		s.link(userID, productID, rec.ID)
		return rec.ID, true, nil
	}

	op.set(domain.OpStatePolling)
	var (
		recordID string
		lastErr  error
	)
	res := retry.Until(ctx, s.cfg.Lookup, func(ctx context.Context) (bool, error) {
		records, err := s.fetchRemote(ctx, userID)
		if err != nil {
			lastErr = err
			return false, classify(err)
		}
		lastErr = nil
		rec, ok := domain.FindRecord(records, userID, productID)
		if ok {
			recordID = rec.ID
		}
		return ok, nil
	})
	if res.OK() {
		s.link(userID, productID, recordID)
		return recordID, true, nil
	}
	if res.Outcome == retry.Aborted && lastErr == nil {
		lastErr = res.Err
	}
	s.logger.Debug("remote record lookup gave up",
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Int("attempts", res.Attempts),
		zap.String("outcome", string(res.Outcome)))
	return "", false, lastErr
}

// classify marks failures that retrying cannot fix. A deadline hit by a shared fetch is
// retryable; the caller's own cancellation is seen by the retry loop itself.
func classify(err error) error {
	if err == nil || remote.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return retry.Permanent(err)
}
