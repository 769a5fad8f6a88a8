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

// Increment raises the local quantity by one and schedules a remote update.
func (s *Synchronizer) Increment(productID string) *Operation {
	op := newOperation(domain.OpQuantity, productID)

	s.localMu.Lock()
	_, ok := s.cart.Increment(productID)
	s.localMu.Unlock()
	if !ok {
		op.finish(Result{State: domain.OpStateDone, Noop: true})
		return op
	}
	return s.scheduleQuantity(op)
}

// Decrement lowers the local quantity by one. A line at quantity 1 is removed through
// RemoveItem, so the returned operation is then a remove.
func (s *Synchronizer) Decrement(productID string) *Operation {
	s.localMu.Lock()
	item, ok := s.cart.Get(productID)
	if ok && item.Quantity <= 1 {
		s.localMu.Unlock()
		return s.RemoveItem(productID)
	}
	if ok {
		_, ok = s.cart.Decrement(productID)
	}
	s.localMu.Unlock()

	op := newOperation(domain.OpQuantity, productID)
	if !ok {
		op.finish(Result{State: domain.OpStateDone, Noop: true})
		return op
	}
	return s.scheduleQuantity(op)
}

func (s *Synchronizer) scheduleQuantity(op *Operation) *Operation {
	op.set(domain.OpStateLocalApplied)
	userID := s.gate.CurrentUserID()
	if userID == "" {
		op.finish(Result{State: domain.OpStateLocalOnly})
		return op
	}
	s.markPending(userID, op.ProductID)
	return s.submit(op, func(ctx context.Context) {
		s.runQuantity(ctx, op, userID)
	})
}

func (s *Synchronizer) runQuantity(ctx context.Context, op *Operation, userID string) {
	pid := op.ProductID
	if !s.stillSignedIn(userID) {
		op.finish(Result{State: domain.OpStateFailed, Err: ErrUserChanged})
		return
	}
	if _, ok := s.cart.Get(pid); !ok {
		op.finish(Result{State: domain.OpStateDone, Noop: true})
		return
	}

	op.set(domain.OpStateLookingUpRemoteID)
	recordID, found, err := s.lookupRecordID(ctx, op, userID, pid)
	if !found && err != nil {
		s.giveUpQuantity(op, userID, pid, err)
		return
	}

	if found {
		op.set(domain.OpStatePushing)
		_, err = s.pushQuantity(ctx, recordID, pid)
		if errors.Is(err, remote.ErrNotFound) {
			// deleted by another device; recreate below
			s.forgetRecord(userID, pid)
			found = false
		} else if err != nil && !errors.Is(err, errItemGone) {
			s.giveUpQuantity(op, userID, pid, err)
			return
		}
	}

	if !found {
		op.set(domain.OpStatePushing)
		rec, err := s.createRecord(ctx, userID, pid)
		if errors.Is(err, errItemGone) {
			op.finish(Result{State: domain.OpStateDone, Noop: true})
			return
		}
		if err != nil {
			s.giveUpQuantity(op, userID, pid, err)
			return
		}
		recordID = rec.ID
	}

	s.link(userID, pid, recordID)
	s.invalidate(ctx, userID)
	op.finish(Result{State: domain.OpStateSynced, RecordID: recordID})
}

// pushQuantity writes the quantity the local line has at call time.
func (s *Synchronizer) pushQuantity(ctx context.Context, recordID, pid string) (domain.RemoteRecord, error) {
	var rec domain.RemoteRecord
	res := retry.Do(ctx, s.cfg.Mutation, func(ctx context.Context) error {
		item, ok := s.cart.Get(pid)
		if !ok {
			return retry.Permanent(errItemGone)
		}
		updated, err := s.remote.UpdateQuantity(ctx, recordID, item.Quantity)
		if err != nil {
			return classify(err)
		}
		rec = updated
		return nil
	})
	if !res.OK() {
		return domain.RemoteRecord{}, res.Err
	}
	return rec, nil
}

func (s *Synchronizer) giveUpQuantity(op *Operation, userID, pid string, cause error) {
	err := fmt.Errorf("%w: %w", ErrUpdateFailed, cause)
	s.markLocalOnly(userID, pid, err)
	s.logger.Warn("remote quantity update given up",
		zap.String("user_id", userID),
		zap.String("product_id", pid),
		zap.Error(err))
	op.finish(Result{State: domain.OpStateLocalOnly, Err: err})
}
