package handlers

import (
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/agent"
	"github.com/shopsight/backend/internal/cache/redis"
	"github.com/shopsight/backend/internal/storage/models"
	"github.com/shopsight/backend/internal/storage/sqlite"
	"github.com/shopsight/backend/pkg/crypto"
	"github.com/shopsight/backend/pkg/logger"
)

// storeIDPattern accepts bare myshopify domains only; callers normalize
// scheme and suffix before hitting the API.
var storeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-]*\.myshopify\.com$`)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// AgentFactory builds a pipeline bound to one store's credentials. The
// handler resolves and decrypts the token; the factory wires everything
// else.
type AgentFactory func(shopDomain, accessToken string) *agent.Agent

type QuestionHandler struct {
	db           *sqlite.Client
	cache        *redis.Client
	sealer       *crypto.TokenSealer
	newAgent     AgentFactory
	cacheTTL     time.Duration
	cacheEnabled bool
}

func NewQuestionHandler(db *sqlite.Client, cache *redis.Client, sealer *crypto.TokenSealer, factory AgentFactory, cacheTTL time.Duration) *QuestionHandler {
	return &QuestionHandler{
		db:           db,
		cache:        cache,
		sealer:       sealer,
		newAgent:     factory,
		cacheTTL:     cacheTTL,
		cacheEnabled: cache != nil,
	}
}

type questionRequest struct {
	StoreID  string `json:"store_id"`
	Question string `json:"question"`
}

func (h *QuestionHandler) HandleQuestion(c *fiber.Ctx) error {
	var req questionRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if !storeIDPattern.MatchString(req.StoreID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid store_id format. Must be a valid Shopify domain (e.g., store-name.myshopify.com)",
		})
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question cannot be empty",
		})
	}

	if h.cacheEnabled {
		var cached agent.Envelope
		hit, err := h.cache.GetAnswer(c.Context(), req.StoreID, question, &cached)
		if err != nil {
			logger.Warn("Answer cache lookup failed", zap.Error(err))
		}
		if hit {
			return c.JSON(cached)
		}
	}

	store, err := h.db.GetStore(req.StoreID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Store not found. Please install the app first.",
			})
		}
		logger.Error("Store lookup failed", zap.String("store", req.StoreID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to look up store",
		})
	}

	accessToken, err := h.sealer.Open(store.SealedToken)
	if err != nil {
		logger.Error("Failed to unseal store token", zap.String("store", req.StoreID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to access store credentials",
		})
	}

	logger.Info("Processing question",
		zap.String("store", req.StoreID),
		zap.Int("question_length", len(question)),
	)

	start := time.Now()
	envelope := h.newAgent(store.ShopDomain, accessToken).ProcessQuestion(c.Context(), question)
	latency := int(time.Since(start).Milliseconds())

	h.persistQuestion(c, store.ShopDomain, question, envelope, latency)

	if h.cacheEnabled {
		if err := h.cache.SetAnswer(c.Context(), req.StoreID, question, envelope, h.cacheTTL); err != nil {
			logger.Warn("Answer cache fill failed", zap.Error(err))
		}
	}

	return c.JSON(envelope)
}

// persistQuestion records the exchange for the history endpoint. Persistence
// problems never fail the request; the merchant already has the answer.
func (h *QuestionHandler) persistQuestion(c *fiber.Ctx, shopDomain, question string, envelope agent.Envelope, latencyMS int) {
	record := &models.QuestionRecord{
		ID:         uuid.New().String(),
		ShopDomain: shopDomain,
		Question:   question,
		Answer:     envelope.Answer,
		Confidence: envelope.Confidence,
		QueryUsed:  envelope.QueryUsed,
		LatencyMS:  latencyMS,
		CreatedAt:  time.Now().UTC(),
	}

	if err := h.db.InsertQuestionRecord(record); err != nil {
		logger.Warn("Failed to record question", zap.Error(err))
	}

	if h.cacheEnabled {
		if err := h.cache.IncrementQuestionCount(c.Context(), shopDomain); err != nil {
			logger.Warn("Failed to increment question count", zap.Error(err))
		}
	}
}

type historyItem struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Confidence string    `json:"confidence"`
	QueryUsed  string    `json:"query_used,omitempty"`
	LatencyMS  int       `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *QuestionHandler) HandleHistory(c *fiber.Ctx) error {
	storeID := c.Query("store_id")
	if !storeIDPattern.MatchString(storeID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid store_id format. Must be a valid Shopify domain (e.g., store-name.myshopify.com)",
		})
	}

	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := h.db.GetQuestionHistory(storeID, limit)
	if err != nil {
		logger.Error("Failed to load question history", zap.String("store", storeID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load question history",
		})
	}

	items := make([]historyItem, len(records))
	for i, r := range records {
		items[i] = historyItem{
			ID:         r.ID,
			Question:   r.Question,
			Answer:     r.Answer,
			Confidence: r.Confidence,
			QueryUsed:  r.QueryUsed,
			LatencyMS:  r.LatencyMS,
			CreatedAt:  r.CreatedAt,
		}
	}

	return c.JSON(fiber.Map{
		"store_id": storeID,
		"history":  items,
	})
}
