package handlers

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/metrics"
	"github.com/shopsight/backend/internal/storage/models"
	"github.com/shopsight/backend/internal/storage/sqlite"
	"github.com/shopsight/backend/pkg/config"
	"github.com/shopsight/backend/pkg/crypto"
	"github.com/shopsight/backend/pkg/logger"
)

type AuthHandler struct {
	db     *sqlite.Client
	sealer *crypto.TokenSealer
	cfg    config.ShopifyConfig

	httpClient *http.Client
	// shopBaseURL overrides https://{shop} so tests can point the token
	// exchange at a local server.
	shopBaseURL string
}

func NewAuthHandler(db *sqlite.Client, sealer *crypto.TokenSealer, cfg config.ShopifyConfig) *AuthHandler {
	return &AuthHandler{
		db:         db,
		sealer:     sealer,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func NewAuthHandlerWithShopBaseURL(db *sqlite.Client, sealer *crypto.TokenSealer, cfg config.ShopifyConfig, shopBaseURL string) *AuthHandler {
	h := NewAuthHandler(db, sealer, cfg)
	h.shopBaseURL = shopBaseURL
	return h
}

func (h *AuthHandler) shopURL(shopDomain string) string {
	if h.shopBaseURL != "" {
		return h.shopBaseURL
	}
	return "https://" + shopDomain
}

// HandleInstall sends the merchant to Shopify's authorization page.
func (h *AuthHandler) HandleInstall(c *fiber.Ctx) error {
	shop := c.Query("shop")
	if shop == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "shop parameter is required",
		})
	}

	shopDomain := models.NormalizeShopDomain(shop)
	if !storeIDPattern.MatchString(shopDomain) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid shop domain",
		})
	}

	if h.cfg.APIKey == "" {
		logger.Error("Shopify API key not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Shopify API key not configured",
		})
	}

	state, err := nonce()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to initiate OAuth flow",
		})
	}

	params := url.Values{}
	params.Set("client_id", h.cfg.APIKey)
	params.Set("scope", h.cfg.Scopes)
	params.Set("redirect_uri", h.cfg.RedirectBaseURL+"/api/v1/auth/shopify/callback")
	params.Set("state", state)

	authURL := fmt.Sprintf("%s/admin/oauth/authorize?%s", h.shopURL(shopDomain), params.Encode())

	logger.Info("Initiating OAuth", zap.String("shop_domain", shopDomain))
	return c.Redirect(authURL, fiber.StatusFound)
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// HandleCallback exchanges the authorization code for an access token and
// stores it sealed.
func (h *AuthHandler) HandleCallback(c *fiber.Ctx) error {
	shop := c.Query("shop")
	code := c.Query("code")
	if shop == "" || code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "shop and code parameters are required",
		})
	}

	shopDomain := models.NormalizeShopDomain(shop)

	token, err := h.exchangeCode(shopDomain, code)
	if err != nil {
		logger.Error("Token exchange failed", zap.String("shop_domain", shopDomain), zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Failed to exchange code for token",
		})
	}

	sealed, err := h.sealer.Seal(token.AccessToken)
	if err != nil {
		logger.Error("Failed to seal access token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store credentials",
		})
	}

	now := time.Now().UTC()
	store := &models.Store{
		ID:          uuid.New().String(),
		ShopDomain:  shopDomain,
		SealedToken: sealed,
		Scopes:      token.Scope,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.db.UpsertStore(store); err != nil {
		logger.Error("Failed to save store", zap.String("shop_domain", shopDomain), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store credentials",
		})
	}

	metrics.StoresInstalled.Inc()
	logger.Info("Store authenticated", zap.String("shop_domain", shopDomain))

	return c.JSON(fiber.Map{
		"message":     "Authentication successful",
		"shop_domain": shopDomain,
		"scope":       token.Scope,
	})
}

func (h *AuthHandler) exchangeCode(shopDomain, code string) (accessTokenResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"client_id":     h.cfg.APIKey,
		"client_secret": h.cfg.APISecret,
		"code":          code,
	})
	if err != nil {
		return accessTokenResponse{}, fmt.Errorf("failed to build exchange payload: %w", err)
	}

	resp, err := h.httpClient.Post(
		h.shopURL(shopDomain)+"/admin/oauth/access_token",
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		return accessTokenResponse{}, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return accessTokenResponse{}, fmt.Errorf("token exchange returned status %d", resp.StatusCode)
	}

	var token accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return accessTokenResponse{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return accessTokenResponse{}, fmt.Errorf("token response carried no access token")
	}

	return token, nil
}

func nonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
