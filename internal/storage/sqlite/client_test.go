package sqlite

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsight/backend/internal/storage/models"
)

func setupMock(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewClientWithDB(db), mock
}

func TestUpsertStore(t *testing.T) {
	client, mock := setupMock(t)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	store := &models.Store{
		ID:          "a9f3c2d1",
		ShopDomain:  "mystore.myshopify.com",
		SealedToken: "sealed-token",
		Scopes:      "read_orders,read_products",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO stores").
		WithArgs(store.ID, store.ShopDomain, store.SealedToken, store.Scopes, now.Unix(), now.Unix()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, client.UpsertStore(store))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStore(t *testing.T) {
	client, mock := setupMock(t)

	created := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	updated := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "shop_domain", "sealed_token", "scopes", "created_at", "updated_at"}).
		AddRow("a9f3c2d1", "mystore.myshopify.com", "sealed-token", "read_orders", created.Unix(), updated.Unix())

	mock.ExpectQuery("SELECT (.+) FROM stores WHERE shop_domain").
		WithArgs("mystore.myshopify.com").
		WillReturnRows(rows)

	store, err := client.GetStore("mystore.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, "a9f3c2d1", store.ID)
	assert.Equal(t, "sealed-token", store.SealedToken)
	assert.Equal(t, created.Unix(), store.CreatedAt.Unix())
	assert.Equal(t, updated.Unix(), store.UpdatedAt.Unix())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStoreNotInstalled(t *testing.T) {
	client, mock := setupMock(t)

	mock.ExpectQuery("SELECT (.+) FROM stores WHERE shop_domain").
		WithArgs("ghost.myshopify.com").
		WillReturnError(sql.ErrNoRows)

	store, err := client.GetStore("ghost.myshopify.com")
	assert.Nil(t, store)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestInsertQuestionRecord(t *testing.T) {
	client, mock := setupMock(t)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	record := &models.QuestionRecord{
		ID:         "q-1",
		ShopDomain: "mystore.myshopify.com",
		Question:   "How are sales?",
		Answer:     "Sales are steady.",
		Confidence: "medium",
		QueryUsed:  "SELECT * FROM orders",
		LatencyMS:  843,
		CreatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO question_history").
		WithArgs(record.ID, record.ShopDomain, record.Question, record.Answer, record.Confidence,
			record.QueryUsed, record.LatencyMS, now.Unix()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, client.InsertQuestionRecord(record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQuestionHistory(t *testing.T) {
	client, mock := setupMock(t)

	newer := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	older := time.Date(2024, 6, 9, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "question", "answer", "confidence", "query_used", "latency_ms", "created_at"}).
		AddRow("q-2", "Top products?", "Mugs.", "high", "SELECT * FROM products", 512, newer.Unix()).
		AddRow("q-1", "How are sales?", "Steady.", "low", "SELECT * FROM orders", 730, older.Unix())

	mock.ExpectQuery("SELECT (.+) FROM question_history").
		WithArgs("mystore.myshopify.com", 20).
		WillReturnRows(rows)

	records, err := client.GetQuestionHistory("mystore.myshopify.com", 20)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "q-2", records[0].ID)
	assert.Equal(t, "q-1", records[1].ID)
	assert.Equal(t, "mystore.myshopify.com", records[0].ShopDomain)
	assert.Equal(t, 512, records[0].LatencyMS)
	assert.Equal(t, newer.Unix(), records[0].CreatedAt.Unix())
}
