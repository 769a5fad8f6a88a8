package synchronizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/fjod/go_cart/cartsync/internal/remote"
	"github.com/fjod/go_cart/cartsync/internal/retry"
	"go.uber.org/zap"
)

// errItemGone stops a remote write whose product left the local cart meanwhile.
var errItemGone = errors.New("item no longer in local cart")

// AddItem puts the product in the local cart with quantity 1 and, for a signed-in user,
// ensures a remote record exists. Adding a product already in the cart is a no-op.
func (s *Synchronizer) AddItem(p domain.Product) *Operation {
	op := newOperation(domain.OpAdd, p.ID)

	s.localMu.Lock()
	added := s.cart.Add(p)
	s.localMu.Unlock()
	if !added {
		op.finish(Result{State: domain.OpStateDone, Noop: true})
		return op
	}
	op.set(domain.OpStateLocalApplied)

	userID := s.gate.CurrentUserID()
	if userID == "" {
		op.finish(Result{State: domain.OpStateLocalOnly})
		return op
	}
	s.markPending(userID, p.ID)
	return s.submit(op, func(ctx context.Context) {
		s.runAdd(ctx, op, userID)
	})
}

func (s *Synchronizer) runAdd(ctx context.Context, op *Operation, userID string) {
	pid := op.ProductID
	if !s.stillSignedIn(userID) {
		op.finish(Result{State: domain.OpStateFailed, Err: ErrUserChanged})
		return
	}
	op.set(domain.OpStateBackendChecking)

	rec, created, err := s.ensureRecord(ctx, userID, pid)
	switch {
	case errors.Is(err, errItemGone):
		op.finish(Result{State: domain.OpStateDone, Noop: true})
		return
	case err != nil:
		s.giveUpAdd(userID, pid, err)
		op.finish(Result{State: domain.OpStateLocalOnly, Err: fmt.Errorf("%w: %w", ErrCreateFailed, err)})
		return
	}
	op.finish(Result{State: domain.OpStateBackendReconciled, RecordID: rec.ID, Noop: !created})
}

// ensureRecord returns the remote record of pid, creating it from the local line when the
// store has none. The local quantity is pushed when the found record disagrees. created
// reports whether this call wrote a new row.
func (s *Synchronizer) ensureRecord(ctx context.Context, userID, pid string) (rec domain.RemoteRecord, created bool, err error) {
	if id := s.knownRecord(userID, pid); id != "" {
		return domain.RemoteRecord{ID: id, CustomerID: userID, ProductID: pid}, false, nil
	}

	records, err := s.fetchRemote(ctx, userID)
	if err != nil {
		// creation is still safe: the store rejects a second row for the pair with 409
		s.logger.Debug("remote cart fetch failed before create",
			zap.String("user_id", userID), zap.String("product_id", pid), zap.Error(err))
	} else if found, ok := domain.FindRecord(records, userID, pid); ok {
		s.link(userID, pid, found.ID)
		if err := s.alignQuantity(ctx, found); err != nil {
			s.logger.Warn("remote quantity align failed",
				zap.String("record_id", found.ID), zap.Error(err))
		}
		return found, false, nil
	}

	if _, ok := s.cart.Get(pid); !ok {
		return domain.RemoteRecord{}, false, errItemGone
	}
	rec, err = s.createRecord(ctx, userID, pid)
	if err != nil {
		return domain.RemoteRecord{}, false, err
	}
	s.link(userID, pid, rec.ID)
	s.invalidate(ctx, userID)
	if err := s.alignQuantity(ctx, rec); err != nil {
		s.logger.Warn("remote quantity align failed", zap.String("record_id", rec.ID), zap.Error(err))
	}
	s.logger.Info("remote cart record created",
		zap.String("user_id", userID),
		zap.String("product_id", pid),
		zap.String("record_id", rec.ID))
	return rec, true, nil
}

// createRecord creates the row with the quantity the local line has at call time. A 409
// means another writer got there first; its row is adopted.
func (s *Synchronizer) createRecord(ctx context.Context, userID, pid string) (domain.RemoteRecord, error) {
	var rec domain.RemoteRecord
	res := retry.Do(ctx, s.cfg.Mutation, func(ctx context.Context) error {
		item, ok := s.cart.Get(pid)
		if !ok {
			return retry.Permanent(errItemGone)
		}
		created, err := s.remote.CreateCart(ctx, userID, pid, item.Quantity)
		if err != nil {
			return classify(err)
		}
		rec = created
		return nil
	})
	if res.OK() {
		return rec, nil
	}
	if !errors.Is(res.Err, remote.ErrConflict) {
		return domain.RemoteRecord{}, res.Err
	}

	s.invalidate(ctx, userID)
	records, err := s.fetchRemote(ctx, userID)
	if err != nil {
		return domain.RemoteRecord{}, fmt.Errorf("refetch after conflict: %w", err)
	}
	existing, ok := domain.FindRecord(records, userID, pid)
	if !ok {
		return domain.RemoteRecord{}, res.Err
	}
	s.logger.Info("adopted existing remote cart record",
		zap.String("product_id", pid), zap.String("record_id", existing.ID))
	return existing, nil
}

// alignQuantity pushes the local quantity when rec carries a different one. Records with an
// unknown quantity are left alone.
func (s *Synchronizer) alignQuantity(ctx context.Context, rec domain.RemoteRecord) error {
	item, ok := s.cart.Get(rec.ProductID)
	if !ok || rec.Quantity == 0 || item.Quantity == rec.Quantity {
		return nil
	}
	_, err := s.pushQuantity(ctx, rec.ID, rec.ProductID)
	if errors.Is(err, errItemGone) {
		return nil
	}
	return err
}

func (s *Synchronizer) giveUpAdd(userID, pid string, err error) {
	s.logger.Warn("remote add given up, item kept local only",
		zap.String("user_id", userID),
		zap.String("product_id", pid),
		zap.Bool("rollback", s.cfg.RollbackFailedAdds),
		zap.Error(err))

	if !s.cfg.RollbackFailedAdds {
		s.markLocalOnly(userID, pid, err)
		return
	}
	s.localMu.Lock()
	s.cart.Remove(pid)
	s.localMu.Unlock()
	s.untrack(pid)
}
