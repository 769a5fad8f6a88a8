package synchronizer

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/go_cart/cartsync/internal/domain"
	"golang.org/x/sync/errgroup"
)

// ReconcileReport counts what one reconcile pass changed.
type ReconcileReport struct {
	Fetched int `json:"fetched"`
	// Merged remote rows that were missing locally.
	Merged int `json:"merged"`
	// Updated local lines overwritten by a newer remote quantity.
	Updated int `json:"updated"`
	Pushed  int `json:"pushed"`
	Created int `json:"created"`
	Failed  int `json:"failed"`
}

// Reconcile brings the local cart and the remote cart of the current user together. Rows
// only present remotely are merged in; lines only present locally are created remotely.
// Where both exist the side with the newer timestamp wins. Running it again while a pass
// is in flight creates no duplicate rows.
func (s *Synchronizer) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	userID := s.gate.CurrentUserID()
	if userID == "" {
		return report, ErrSignedOut
	}
	records, err := s.fetchRemote(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("fetch remote cart: %w", err)
	}
	report.Fetched = len(records)

	var (
		push   []string
		create []string
	)
	remoteByProduct := make(map[string]domain.RemoteRecord, len(records))

	s.localMu.Lock()
	for _, rec := range records {
		if _, dup := remoteByProduct[rec.ProductID]; dup {
			continue
		}
		remoteByProduct[rec.ProductID] = rec

		item, ok := s.cart.Get(rec.ProductID)
		switch {
		case !ok:
			if s.cart.Put(domain.LineItem{Product: productOf(rec), Quantity: rec.Quantity, UpdatedAt: rec.UpdatedAt}) {
				report.Merged++
			}
		case item.Quantity == rec.Quantity:
		case rec.UpdatedAt.After(item.UpdatedAt):
			s.cart.SetQuantity(rec.ProductID, rec.Quantity, rec.UpdatedAt)
			report.Updated++
		default:
			push = append(push, rec.ProductID)
		}
	}
	for _, item := range s.cart.Items() {
		if _, ok := remoteByProduct[item.Product.ID]; !ok {
			create = append(create, item.Product.ID)
		}
	}
	s.localMu.Unlock()

	for pid, rec := range remoteByProduct {
		s.link(userID, pid, rec.ID)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.ReconcileConcurrency)
	count := func(op *Operation, ok *int) error {
		res, err := op.Wait(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		switch {
		case res.Err != nil:
			report.Failed++
		case !res.Noop:
			*ok++
		}
		return nil
	}

	for _, pid := range push {
		pid := pid
		g.Go(func() error {
			op := newOperation(domain.OpQuantity, pid)
			s.markPending(userID, pid)
			s.submit(op, func(ctx context.Context) { s.runQuantity(ctx, op, userID) })
			return count(op, &report.Pushed)
		})
	}
	for _, pid := range create {
		pid := pid
		g.Go(func() error {
			op := newOperation(domain.OpAdd, pid)
			s.markPending(userID, pid)
			s.submit(op, func(ctx context.Context) { s.runAdd(ctx, op, userID) })
			return count(op, &report.Created)
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func productOf(rec domain.RemoteRecord) domain.Product {
	if rec.Product != nil {
		p := *rec.Product
		p.ID = rec.ProductID
		return p
	}
	return domain.Product{ID: rec.ProductID}
}
