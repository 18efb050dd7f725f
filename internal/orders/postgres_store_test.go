package orders

import (
	"context"
	"testing"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	store, err := NewPostgresStore(creds)
	require.NoError(t, err)

	err = store.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return store, cleanup
}

func testDraft(userID string) *domain.OrderDraft {
	return &domain.OrderDraft{
		OrderID: uuid.NewString(),
		UserID:  userID,
		Lines: []domain.CorrectedLine{
			{ProductID: 1, Quantity: 2, Price: 25.0, MRP: 30.0, DisplayName: "Bread"},
		},
		TotalAmount:   50.0,
		Currency:      "INR",
		PaymentMethod: domain.PaymentCashOnDelivery,
		CreatedAt:     time.Now(),
	}
}

func TestCreateOrder_Success(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	draft := testDraft("u1")

	orderID, err := store.CreateOrder(ctx, draft, "order-"+draft.OrderID)
	require.NoError(t, err)
	assert.Equal(t, draft.OrderID, orderID)
}

func TestCreateOrder_DuplicateIdempotencyKeyReturnsSameID(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	draft := testDraft("u1")
	key := "order-" + draft.OrderID

	firstID, err := store.CreateOrder(ctx, draft, key)
	require.NoError(t, err)

	// A retry carries the same key but a regenerated order id; it must get
	// back the original order, and no second row may exist.
	retry := testDraft("u1")
	secondID, err := store.CreateOrder(ctx, retry, key)
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID)

	var count int
	err = store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE idempotency_key = $1`, key).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListOpenOrders_ExcludesTerminalStatuses(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	placed := testDraft("u1")
	delivered := testDraft("u1")
	cancelled := testDraft("u1")
	otherUser := testDraft("u2")

	for _, d := range []*domain.OrderDraft{placed, delivered, cancelled, otherUser} {
		_, err := store.CreateOrder(ctx, d, "order-"+d.OrderID)
		require.NoError(t, err)
	}

	require.NoError(t, store.UpdateStatus(ctx, delivered.OrderID, domain.OrderStatusDelivered))
	require.NoError(t, store.UpdateStatus(ctx, cancelled.OrderID, domain.OrderStatusCancelled))

	open, err := store.ListOpenOrders(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{placed.OrderID}, open)
}

func TestListOpenOrders_IncludesNonTerminalProgress(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	draft := testDraft("u1")
	_, err := store.CreateOrder(ctx, draft, "order-"+draft.OrderID)
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, draft.OrderID, domain.OrderStatusOutForDelivery))

	open, err := store.ListOpenOrders(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{draft.OrderID}, open)
}

func TestListOpenOrders_Empty(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	open, err := store.ListOpenOrders(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestUpdateStatus_UnknownOrder(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	err := store.UpdateStatus(context.Background(), uuid.NewString(), domain.OrderStatusDelivered)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
