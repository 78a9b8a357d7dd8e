package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsight/backend/pkg/config"
)

func testShopifyConfig() config.ShopifyConfig {
	return config.ShopifyConfig{
		APIKey:          "client-key-123",
		APISecret:       "client-secret-456",
		APIVersion:      "2024-01",
		Scopes:          "read_products,read_orders",
		RedirectBaseURL: "https://app.example.com",
	}
}

func newAuthApp(h *AuthHandler) *fiber.App {
	app := fiber.New()
	app.Get("/api/v1/auth/shopify", h.HandleInstall)
	app.Get("/api/v1/auth/shopify/callback", h.HandleCallback)
	return app
}

func TestHandleInstallRedirects(t *testing.T) {
	db, _ := setupDB(t)
	h := NewAuthHandler(db, newSealer(t), testShopifyConfig())
	app := newAuthApp(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/shopify?shop=demo-store", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	require.Equal(t, fiber.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	assert.Equal(t, "demo-store.myshopify.com", location.Host)
	assert.Equal(t, "/admin/oauth/authorize", location.Path)

	query := location.Query()
	assert.Equal(t, "client-key-123", query.Get("client_id"))
	assert.Equal(t, "read_products,read_orders", query.Get("scope"))
	assert.Equal(t, "https://app.example.com/api/v1/auth/shopify/callback", query.Get("redirect_uri"))
	assert.Len(t, query.Get("state"), 32)
}

func TestHandleInstallMissingShop(t *testing.T) {
	db, _ := setupDB(t)
	h := NewAuthHandler(db, newSealer(t), testShopifyConfig())
	app := newAuthApp(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/shopify", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "shop parameter is required", decodeError(t, resp))
}

func TestHandleInstallRejectsCustomDomain(t *testing.T) {
	db, _ := setupDB(t)
	h := NewAuthHandler(db, newSealer(t), testShopifyConfig())
	app := newAuthApp(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/shopify?shop=evil.example.com", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid shop domain", decodeError(t, resp))
}

func TestHandleCallbackSuccess(t *testing.T) {
	var exchanged struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		Code         string `json:"code"`
	}

	shopifyStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/admin/oauth/access_token", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&exchanged))

		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "shpat_fresh_token",
			"scope":        "read_products,read_orders",
		})
	}))
	t.Cleanup(shopifyStub.Close)

	db, mock := setupDB(t)
	mock.ExpectExec("INSERT INTO stores").
		WithArgs(
			sqlmock.AnyArg(),
			"demo-store.myshopify.com",
			sqlmock.AnyArg(),
			"read_products,read_orders",
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sealer := newSealer(t)
	h := NewAuthHandlerWithShopBaseURL(db, sealer, testShopifyConfig(), shopifyStub.URL)
	app := newAuthApp(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/shopify/callback?shop=demo-store&code=auth-code-789", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Message    string `json:"message"`
		ShopDomain string `json:"shop_domain"`
		Scope      string `json:"scope"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "Authentication successful", payload.Message)
	assert.Equal(t, "demo-store.myshopify.com", payload.ShopDomain)
	assert.Equal(t, "read_products,read_orders", payload.Scope)

	assert.Equal(t, "client-key-123", exchanged.ClientID)
	assert.Equal(t, "client-secret-456", exchanged.ClientSecret)
	assert.Equal(t, "auth-code-789", exchanged.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCallbackExchangeRejected(t *testing.T) {
	shopifyStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(shopifyStub.Close)

	db, mock := setupDB(t)
	h := NewAuthHandlerWithShopBaseURL(db, newSealer(t), testShopifyConfig(), shopifyStub.URL)
	app := newAuthApp(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/shopify/callback?shop=demo-store&code=bad-code", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Failed to exchange code for token", decodeError(t, resp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCallbackMissingParams(t *testing.T) {
	db, _ := setupDB(t)
	h := NewAuthHandler(db, newSealer(t), testShopifyConfig())
	app := newAuthApp(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/shopify/callback?shop=demo-store", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "shop and code parameters are required", decodeError(t, resp))
}
