package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(cred *Credentials) (*PostgresStore, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

// CreateOrder inserts the order, keyed by the client-generated idempotency
// key. A conflicting insert returns the id the key already produced.
func (s *PostgresStore) CreateOrder(ctx context.Context, draft *domain.OrderDraft, idempotencyKey string) (string, error) {
	payload, err := json.Marshal(draft)
	if err != nil {
		return "", fmt.Errorf("failed to marshal order draft: %w", err)
	}

	var orderID string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO orders (id, user_id, status, payment_method, total_amount, payload, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`,
		draft.OrderID,
		draft.UserID,
		domain.OrderStatusPlaced.String(),
		string(draft.PaymentMethod),
		draft.TotalAmount,
		payload,
		idempotencyKey,
		time.Now(),
	).Scan(&orderID)

	if errors.Is(err, sql.ErrNoRows) {
		// Duplicate request: hand back the order the key already created.
		errLookup := s.db.QueryRowContext(ctx,
			`SELECT id FROM orders WHERE idempotency_key = $1`, idempotencyKey).Scan(&orderID)
		if errLookup != nil {
			return "", fmt.Errorf("failed to resolve duplicate idempotency key: %w", errLookup)
		}
		return orderID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to create order: %w", err)
	}

	return orderID, nil
}

func (s *PostgresStore) ListOpenOrders(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE user_id = $1 AND status NOT IN ($2, $3, $4)
		ORDER BY created_at`,
		userID,
		domain.OrderStatusDelivered.String(),
		domain.OrderStatusCancelled.String(),
		domain.OrderStatusFailed.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if errScan := rows.Scan(&id); errScan != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", errScan)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
		status.String(), time.Now(), orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
