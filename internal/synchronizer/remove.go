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

// RemoveItem deletes the line. For a signed-in user the local line stays until the remote
// record is confirmed deleted; when that cannot be done the operation fails with
// ErrRemoveFailed or ErrRemoteRecordNotFound and the line is kept.
func (s *Synchronizer) RemoveItem(productID string) *Operation {
	op := newOperation(domain.OpRemove, productID)

	s.localMu.Lock()
	if _, ok := s.cart.Get(productID); !ok {
		s.localMu.Unlock()
		op.finish(Result{State: domain.OpStateDone, Noop: true})
		return op
	}
	userID := s.gate.CurrentUserID()
	if userID == "" || s.isLocalOnly(userID, productID) {
		s.cart.Remove(productID)
		s.localMu.Unlock()
		s.untrack(productID)
		op.finish(Result{State: domain.OpStateDone})
		return op
	}
	s.localMu.Unlock()

	s.markPending(userID, productID)
	return s.submit(op, func(ctx context.Context) {
		s.runRemove(ctx, op, userID)
	})
}

func (s *Synchronizer) runRemove(ctx context.Context, op *Operation, userID string) {
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
	if !found {
		s.failRemove(op, userID, pid, err)
		return
	}

	op.set(domain.OpStateDeleting)
	gone, res := s.deleteRecord(ctx, recordID)
	if !res.OK() {
		s.failRemove(op, userID, pid, res.Err)
		return
	}
	if gone {
		// another device may have deleted the row and created a new one for the product
		s.forgetRecord(userID, pid)
		s.invalidate(ctx, userID)

		op.set(domain.OpStateLookingUpRemoteID)
		freshID, found, err := s.lookupRecordID(ctx, op, userID, pid)
		switch {
		case found:
			op.set(domain.OpStateDeleting)
			if _, res := s.deleteRecord(ctx, freshID); !res.OK() {
				s.failRemove(op, userID, pid, res.Err)
				return
			}
			recordID = freshID
		case err != nil:
			s.failRemove(op, userID, pid, err)
			return
		}
	}

	s.localMu.Lock()
	s.cart.Remove(pid)
	s.localMu.Unlock()
	s.untrack(pid)
	s.invalidate(ctx, userID)

	s.logger.Info("remote cart record deleted",
		zap.String("user_id", userID),
		zap.String("product_id", pid),
		zap.String("record_id", recordID))
	op.finish(Result{State: domain.OpStateDone, RecordID: recordID})
}

// deleteRecord deletes recordID under the mutation policy. gone reports that the store no
// longer had the record.
func (s *Synchronizer) deleteRecord(ctx context.Context, recordID string) (gone bool, res retry.Result) {
	res = retry.Do(ctx, s.cfg.Mutation, func(ctx context.Context) error {
		err := s.remote.DeleteCart(ctx, recordID)
		if errors.Is(err, remote.ErrNotFound) {
			gone = true
			return nil
		}
		return classify(err)
	})
	return gone, res
}

func (s *Synchronizer) failRemove(op *Operation, userID, pid string, cause error) {
	var err error
	if cause == nil {
		err = ErrRemoteRecordNotFound
	} else {
		err = fmt.Errorf("%w: %w", ErrRemoveFailed, cause)
	}
	s.track(userID, pid, func(t *tracking) {
		t.state = domain.SyncStateSynced
		if t.recordID == "" {
			t.state = domain.SyncStateLocalOnly
		}
		t.lastErr = err
	})
	s.logger.Warn("remote remove failed, item kept",
		zap.String("user_id", userID),
		zap.String("product_id", pid),
		zap.Error(err))
	op.finish(Result{State: domain.OpStateFailed, Err: err})
}

func (s *Synchronizer) isLocalOnly(userID, productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackedFor != userID {
		return false
	}
	t, ok := s.tracked[productID]
	return ok && t.state == domain.SyncStateLocalOnly && t.recordID == ""
}
