package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/agent"
	"github.com/shopsight/backend/internal/cache/redis"
	"github.com/shopsight/backend/internal/formatter"
	"github.com/shopsight/backend/internal/insight"
	"github.com/shopsight/backend/internal/intent"
	"github.com/shopsight/backend/internal/llm"
	"github.com/shopsight/backend/internal/shopify"
	"github.com/shopsight/backend/internal/shopifyql"
	"github.com/shopsight/backend/internal/storage/sqlite"
	"github.com/shopsight/backend/pkg/config"
	"github.com/shopsight/backend/pkg/crypto"
)

const (
	testStore = "demo-store.myshopify.com"
	testToken = "shpat_handler_test"
)

// scriptedGateway answers the classifier via CompleteObject and the
// remaining pipeline stages via successive Complete calls.
type scriptedGateway struct {
	objectJSON string
	replies    []string
	completed  int
}

func (g *scriptedGateway) Complete(_ context.Context, _ llm.CompletionRequest) (string, error) {
	i := g.completed
	g.completed++
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return "", errors.New("no scripted reply left")
}

func (g *scriptedGateway) CompleteObject(_ context.Context, _ llm.CompletionRequest, out any) error {
	return json.Unmarshal([]byte(g.objectJSON), out)
}

func setupDB(t *testing.T) (*sqlite.Client, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlite.NewClientWithDB(db), mock
}

func setupCache(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	host, portStr, found := strings.Cut(mr.Addr(), ":")
	require.True(t, found)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := redis.NewClient(host, port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func newSealer(t *testing.T) *crypto.TokenSealer {
	t.Helper()

	sealer, err := crypto.NewTokenSealer("handler-test-secret")
	require.NoError(t, err)
	return sealer
}

// pipelineFactory builds a real agent over a scripted gateway and a local
// Shopify stand-in; gotToken records the credential the handler passed in.
func pipelineFactory(t *testing.T, gw llm.Gateway, gotToken *string) AgentFactory {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/orders.json"):
			json.NewEncoder(w).Encode(map[string]any{"orders": []map[string]any{
				{"id": 1, "total_price": "25.00", "line_items": []map[string]any{{"title": "Mug", "quantity": 1, "price": "25.00"}}},
				{"id": 2, "total_price": "40.00", "line_items": []map[string]any{{"title": "Kettle", "quantity": 2, "price": "20.00"}}},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := config.ShopifyConfig{
		APIVersion:        "2024-01",
		RequestTimeoutSec: 2,
		MaxAttempts:       2,
		InitialRetryMS:    10,
	}

	return func(shopDomain, accessToken string) *agent.Agent {
		if gotToken != nil {
			*gotToken = accessToken
		}
		log := zap.NewNop()
		return agent.New(
			intent.NewClassifier(gw, log),
			shopifyql.NewGenerator(gw, log),
			shopify.NewClientWithBaseURL(srv.URL, accessToken, cfg, log),
			insight.NewSynthesizer(gw, log),
			formatter.NewFormatter(gw, log),
			log,
		)
	}
}

func newQuestionApp(h *QuestionHandler) *fiber.App {
	app := fiber.New()
	app.Post("/api/v1/questions", h.HandleQuestion)
	app.Get("/api/v1/questions/history", h.HandleHistory)
	return app
}

func postQuestion(t *testing.T, app *fiber.App, storeID, question string) *http.Response {
	t.Helper()

	body, err := json.Marshal(map[string]string{
		"store_id": storeID,
		"question": question,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/questions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()

	var payload struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Error
}

func storeRows(t *testing.T, sealer *crypto.TokenSealer) *sqlmock.Rows {
	t.Helper()

	sealed, err := sealer.Seal(testToken)
	require.NoError(t, err)

	now := time.Now().Unix()
	return sqlmock.NewRows([]string{"id", "shop_domain", "sealed_token", "scopes", "created_at", "updated_at"}).
		AddRow("store-1", testStore, sealed, "read_orders", now, now)
}

const handlerClassification = `{
	"category": "sales_trends",
	"confidence": 0.9,
	"entities": [],
	"metrics": ["total"]
}`

const handlerQuery = "SELECT title, SUM(total_price) FROM orders GROUP BY title"

func TestHandleQuestionInvalidStore(t *testing.T) {
	db, _ := setupDB(t)
	h := NewQuestionHandler(db, nil, newSealer(t), nil, time.Minute)
	app := newQuestionApp(h)

	resp := postQuestion(t, app, "not a domain", "How are sales?")

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid store_id format. Must be a valid Shopify domain (e.g., store-name.myshopify.com)", decodeError(t, resp))
}

func TestHandleQuestionEmptyQuestion(t *testing.T) {
	db, _ := setupDB(t)
	h := NewQuestionHandler(db, nil, newSealer(t), nil, time.Minute)
	app := newQuestionApp(h)

	resp := postQuestion(t, app, testStore, "   ")

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Question cannot be empty", decodeError(t, resp))
}

func TestHandleQuestionStoreNotInstalled(t *testing.T) {
	db, mock := setupDB(t)
	mock.ExpectQuery("SELECT .+ FROM stores").
		WithArgs(testStore).
		WillReturnError(sql.ErrNoRows)

	h := NewQuestionHandler(db, nil, newSealer(t), nil, time.Minute)
	app := newQuestionApp(h)

	resp := postQuestion(t, app, testStore, "How are sales?")

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Store not found. Please install the app first.", decodeError(t, resp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleQuestionRoundTrip(t *testing.T) {
	sealer := newSealer(t)

	db, mock := setupDB(t)
	mock.ExpectQuery("SELECT .+ FROM stores").
		WithArgs(testStore).
		WillReturnRows(storeRows(t, sealer))
	mock.ExpectExec("INSERT INTO question_history").
		WillReturnResult(sqlmock.NewResult(1, 1))

	gw := &scriptedGateway{
		objectJSON: handlerClassification,
		replies: []string{
			handlerQuery,
			"Kettles outsold mugs this week.",
			"Kettles were your top seller this week.",
		},
	}

	var gotToken string
	h := NewQuestionHandler(db, nil, sealer, pipelineFactory(t, gw, &gotToken), time.Minute)
	app := newQuestionApp(h)

	resp := postQuestion(t, app, testStore, "What sold best this week?")

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var env agent.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Contains(t, env.Answer, "Kettles were your top seller this week.")
	assert.Equal(t, "low", env.Confidence)
	assert.Equal(t, handlerQuery, env.QueryUsed)
	assert.NotEmpty(t, env.ReasoningSteps)

	assert.Equal(t, testToken, gotToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleQuestionCacheHit(t *testing.T) {
	cache := setupCache(t)

	cached := agent.Envelope{
		Answer:     "Cached: mugs sold well.",
		Confidence: "high",
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, cache.SetAnswer(context.Background(), testStore, "How are sales?", cached, time.Minute))

	db, mock := setupDB(t)

	factoryCalled := false
	factory := func(shopDomain, accessToken string) *agent.Agent {
		factoryCalled = true
		return nil
	}

	h := NewQuestionHandler(db, cache, newSealer(t), factory, time.Minute)
	app := newQuestionApp(h)

	resp := postQuestion(t, app, testStore, "How are sales?")

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var env agent.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "Cached: mugs sold well.", env.Answer)
	assert.Equal(t, "high", env.Confidence)

	assert.False(t, factoryCalled, "cache hit must not run the pipeline")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleHistory(t *testing.T) {
	db, mock := setupDB(t)

	now := time.Now().Unix()
	rows := sqlmock.NewRows([]string{"id", "question", "answer", "confidence", "query_used", "latency_ms", "created_at"}).
		AddRow("q-2", "How are sales?", "Sales are up.", "high", "SELECT 1 FROM orders", 820, now).
		AddRow("q-1", "Top products?", "Mugs lead.", "medium", "", 640, now-60)

	mock.ExpectQuery("SELECT .+ FROM question_history").
		WithArgs(testStore, 20).
		WillReturnRows(rows)

	h := NewQuestionHandler(db, nil, newSealer(t), nil, time.Minute)
	app := newQuestionApp(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions/history?store_id="+testStore, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		StoreID string        `json:"store_id"`
		History []historyItem `json:"history"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	assert.Equal(t, testStore, payload.StoreID)
	require.Len(t, payload.History, 2)
	assert.Equal(t, "q-2", payload.History[0].ID)
	assert.Equal(t, "Sales are up.", payload.History[0].Answer)
	assert.Equal(t, "SELECT 1 FROM orders", payload.History[0].QueryUsed)
	assert.Equal(t, 820, payload.History[0].LatencyMS)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleHistoryLimitCapped(t *testing.T) {
	db, mock := setupDB(t)

	mock.ExpectQuery("SELECT .+ FROM question_history").
		WithArgs(testStore, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "question", "answer", "confidence", "query_used", "latency_ms", "created_at"}))

	h := NewQuestionHandler(db, nil, newSealer(t), nil, time.Minute)
	app := newQuestionApp(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions/history?store_id="+testStore+"&limit=500", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleHistoryInvalidStore(t *testing.T) {
	db, _ := setupDB(t)
	h := NewQuestionHandler(db, nil, newSealer(t), nil, time.Minute)
	app := newQuestionApp(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions/history?store_id=bogus", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
