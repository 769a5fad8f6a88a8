package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed sqlite_migrations/*.sql
var sqliteMigrationsFS embed.FS

// SQLiteStore keeps cart records in a single database file. Timestamps are stored as unix
// nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// sqlite has a single writer
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RunMigrations() error {
	source, err := iofs.New(sqliteMigrationsFS, "sqlite_migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{
		MigrationsTable: "cartsync_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func scanSQLiteRecord(row rowScanner) (domain.RemoteRecord, error) {
	var (
		rec                  domain.RemoteRecord
		id                   int64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &rec.CustomerID, &rec.ProductID, &rec.Quantity, &createdAt, &updatedAt); err != nil {
		return domain.RemoteRecord{}, err
	}
	rec.ID = strconv.FormatInt(id, 10)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, customerID string) ([]domain.RemoteRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM cart_records WHERE customer_id = ? ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("query cart records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RemoteRecord, 0)
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart record row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, customerID, id string) (domain.RemoteRecord, error) {
	n, ok := parseID(id)
	if !ok {
		return domain.RemoteRecord{}, ErrNotFound
	}

	query := `SELECT ` + recordColumns + ` FROM cart_records WHERE id = ? AND customer_id = ?`
	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, query, n, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RemoteRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.RemoteRecord{}, fmt.Errorf("query cart record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Create(ctx context.Context, customerID, productID string, quantity int) (domain.RemoteRecord, error) {
	if err := validate(customerID, productID, quantity); err != nil {
		return domain.RemoteRecord{}, err
	}

	now := time.Now().UnixNano()
	query := `INSERT INTO cart_records (customer_id, product_id, quantity, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?)
	          RETURNING ` + recordColumns

	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, query, customerID, productID, quantity, now, now))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.RemoteRecord{}, ErrDuplicate
		}
		return domain.RemoteRecord{}, fmt.Errorf("insert cart record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) UpdateQuantity(ctx context.Context, customerID, id string, quantity int) (domain.RemoteRecord, error) {
	if err := validQuantity(quantity); err != nil {
		return domain.RemoteRecord{}, err
	}
	n, ok := parseID(id)
	if !ok {
		return domain.RemoteRecord{}, ErrNotFound
	}

	query := `UPDATE cart_records SET quantity = ?, updated_at = ?
	          WHERE id = ? AND customer_id = ?
	          RETURNING ` + recordColumns

	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, query, quantity, time.Now().UnixNano(), n, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RemoteRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.RemoteRecord{}, fmt.Errorf("update cart record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, customerID, id string) error {
	n, ok := parseID(id)
	if !ok {
		return ErrNotFound
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM cart_records WHERE id = ? AND customer_id = ?`, n, customerID)
	if err != nil {
		return fmt.Errorf("delete cart record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete cart record: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation accepts the extended code and, when extended codes are off, the
// primary constraint code. Other constraints are ruled out by validate.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT
}
