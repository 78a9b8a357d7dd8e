package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// xssPattern screens question text that would end up stored in history and
// rendered inside the embedded admin UI. Natural-language questions are
// otherwise passed through untouched; query safety is enforced on the
// generated ShopifyQL, not on the question.
var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQuestionLength int
	Logger            *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 2000
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		// Presence and emptiness checks belong to the handler; this layer
		// only rejects what should never reach the pipeline at all.
		var req map[string]interface{}
		if err := c.BodyParser(&req); err != nil {
			return c.Next()
		}

		question, ok := req["question"].(string)
		if !ok {
			return c.Next()
		}

		if len(question) > cfg.MaxQuestionLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Question exceeds maximum length",
			})
		}

		if xssPattern.MatchString(question) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("Rejected question with markup injection",
					zap.String("ip", c.IP()),
				)
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid question content",
			})
		}

		return c.Next()
	}
}
