package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/storage/models"
	"github.com/shopsight/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

// NewClientWithDB wraps an existing handle. Used by tests that substitute a
// mock driver.
func NewClientWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		shop_domain TEXT UNIQUE NOT NULL,
		sealed_token TEXT NOT NULL,
		scopes TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stores_domain ON stores(shop_domain);

	CREATE TABLE IF NOT EXISTS question_history (
		id TEXT PRIMARY KEY,
		shop_domain TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT,
		confidence TEXT,
		query_used TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_questions_store ON question_history(shop_domain);
	CREATE INDEX IF NOT EXISTS idx_questions_created ON question_history(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// UpsertStore inserts a store or refreshes its credentials on reinstall.
func (c *Client) UpsertStore(store *models.Store) error {
	query := `
		INSERT INTO stores (id, shop_domain, sealed_token, scopes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(shop_domain) DO UPDATE SET
			sealed_token = excluded.sealed_token,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at
	`

	_, err := c.db.Exec(
		query,
		store.ID,
		store.ShopDomain,
		store.SealedToken,
		store.Scopes,
		store.CreatedAt.Unix(),
		store.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert store: %w", err)
	}

	logger.Info("Store saved", zap.String("shop_domain", store.ShopDomain))
	return nil
}

func (c *Client) GetStore(shopDomain string) (*models.Store, error) {
	query := `SELECT id, shop_domain, sealed_token, scopes, created_at, updated_at FROM stores WHERE shop_domain = ?`

	var store models.Store
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, shopDomain).Scan(
		&store.ID,
		&store.ShopDomain,
		&store.SealedToken,
		&store.Scopes,
		&createdAt,
		&updatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get store: %w", err)
	}

	store.CreatedAt = time.Unix(createdAt, 0)
	store.UpdatedAt = time.Unix(updatedAt, 0)

	return &store, nil
}

func (c *Client) InsertQuestionRecord(record *models.QuestionRecord) error {
	query := `
		INSERT INTO question_history (id, shop_domain, question, answer, confidence, query_used,
			latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.ShopDomain,
		record.Question,
		record.Answer,
		record.Confidence,
		record.QueryUsed,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert question record: %w", err)
	}

	logger.Info("Question recorded",
		zap.String("question_id", record.ID),
		zap.String("shop_domain", record.ShopDomain),
		zap.String("confidence", record.Confidence),
	)

	return nil
}

func (c *Client) GetQuestionHistory(shopDomain string, limit int) ([]models.QuestionRecord, error) {
	query := `
		SELECT id, question, answer, confidence, query_used, latency_ms, created_at
		FROM question_history
		WHERE shop_domain = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, shopDomain, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get question history: %w", err)
	}
	defer rows.Close()

	var records []models.QuestionRecord
	for rows.Next() {
		var r models.QuestionRecord
		var createdAt int64

		err := rows.Scan(&r.ID, &r.Question, &r.Answer, &r.Confidence, &r.QueryUsed, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.ShopDomain = shopDomain
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, nil
}
