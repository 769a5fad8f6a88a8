package cache

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/domain"
)

// Snapshot is the most recently fetched remote cart for a user.
type Snapshot struct {
	UserID    string                `json:"user_id"`
	Records   []domain.RemoteRecord `json:"records"`
	FetchedAt time.Time             `json:"fetched_at"`
}

type SnapshotCache interface {
	Get(ctx context.Context, userID string) (*Snapshot, error)
	Set(ctx context.Context, userID string, snapshot *Snapshot) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")
