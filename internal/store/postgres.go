package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Credentials struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (c Credentials) dsn() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName,
		sslMode)
}

// PostgresStore keeps cart records in the cart_records table. Ids are BIGSERIAL values.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, cred Credentials) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cred.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.PingContext(ctx); e2 != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresStore{db: db}, nil
}

// RunMigrations applies the embedded schema migrations.
func (s *PostgresStore) RunMigrations() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(s.db, &postgres.Config{
		MigrationsTable: "cartsync_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}
	return nil
}

const recordColumns = `id, customer_id, product_id, quantity, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.RemoteRecord, error) {
	var (
		rec domain.RemoteRecord
		id  int64
	)
	if err := row.Scan(&id, &rec.CustomerID, &rec.ProductID, &rec.Quantity, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return domain.RemoteRecord{}, err
	}
	rec.ID = strconv.FormatInt(id, 10)
	return rec, nil
}

func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil && n > 0
}

func (s *PostgresStore) List(ctx context.Context, customerID string) ([]domain.RemoteRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM cart_records WHERE customer_id = $1 ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("query cart records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RemoteRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
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

func (s *PostgresStore) Get(ctx context.Context, customerID, id string) (domain.RemoteRecord, error) {
	n, ok := parseID(id)
	if !ok {
		return domain.RemoteRecord{}, ErrNotFound
	}

	query := `SELECT ` + recordColumns + ` FROM cart_records WHERE id = $1 AND customer_id = $2`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, n, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RemoteRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.RemoteRecord{}, fmt.Errorf("query cart record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, customerID, productID string, quantity int) (domain.RemoteRecord, error) {
	if err := validate(customerID, productID, quantity); err != nil {
		return domain.RemoteRecord{}, err
	}

	query := `INSERT INTO cart_records (customer_id, product_id, quantity, created_at, updated_at)
	          VALUES ($1, $2, $3, NOW(), NOW())
	          RETURNING ` + recordColumns

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, customerID, productID, quantity))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.RemoteRecord{}, ErrDuplicate
		}
		return domain.RemoteRecord{}, fmt.Errorf("insert cart record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) UpdateQuantity(ctx context.Context, customerID, id string, quantity int) (domain.RemoteRecord, error) {
	if err := validQuantity(quantity); err != nil {
		return domain.RemoteRecord{}, err
	}
	n, ok := parseID(id)
	if !ok {
		return domain.RemoteRecord{}, ErrNotFound
	}

	query := `UPDATE cart_records SET quantity = $1, updated_at = NOW()
	          WHERE id = $2 AND customer_id = $3
	          RETURNING ` + recordColumns

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, quantity, n, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RemoteRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.RemoteRecord{}, fmt.Errorf("update cart record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, customerID, id string) error {
	n, ok := parseID(id)
	if !ok {
		return ErrNotFound
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM cart_records WHERE id = $1 AND customer_id = $2`, n, customerID)
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

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
