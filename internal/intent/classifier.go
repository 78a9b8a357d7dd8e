package intent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/llm"
	"github.com/shopsight/backend/internal/metrics"
)

const classifySystemPrompt = `You are an analytics assistant for Shopify merchants. Classify the merchant's question into exactly one category:
- inventory_projection: future inventory needs and reorder planning
- sales_trends: revenue and sales patterns over time
- customer_behavior: purchase frequency, retention and customer segments
- product_performance: how individual products are selling
- stockout_prediction: risk of products running out of stock
- unknown: anything that does not fit the categories above

Respond with a JSON object of this exact shape:
{
  "category": "<one category name>",
  "time_period": {"description": "<time phrase from the question>", "days": <signed integer: negative for the past, positive for the future>},
  "entities": ["<product names, collections or customer segments mentioned>"],
  "metrics": ["<requested measures, e.g. count, sum, average, total, max, min>"],
  "confidence": <number between 0.0 and 1.0>
}

Set "time_period" to null when the question names no time window. Keep
entities and metrics empty rather than guessing.`

// classification mirrors the JSON object the reasoning service returns.
type classification struct {
	Category   string      `json:"category"`
	TimePeriod *TimePeriod `json:"time_period"`
	Entities   []string    `json:"entities"`
	Metrics    []string    `json:"metrics"`
	Confidence float64     `json:"confidence"`
}

type Classifier struct {
	gateway llm.Gateway
	logger  *zap.Logger
}

func NewClassifier(gateway llm.Gateway, log *zap.Logger) *Classifier {
	return &Classifier{gateway: gateway, logger: log}
}

// Classify turns a raw question into an Intent. It never fails: any error
// from the reasoning service degrades to an unknown intent with zero
// confidence so the pipeline can still answer with caveats.
func (c *Classifier) Classify(ctx context.Context, question string) Intent {
	req := llm.CompletionRequest{
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   fmt.Sprintf("Classify this question: %s", question),
		Temperature:  0.3,
		MaxTokens:    500,
	}

	var parsed classification
	if err := c.gateway.CompleteObject(ctx, req, &parsed); err != nil {
		c.logger.Warn("intent classification failed, degrading to unknown",
			zap.String("question", question),
			zap.Error(err),
		)
		return unknownIntent(question)
	}

	category, recognized := ParseType(parsed.Category)
	if !recognized {
		c.logger.Warn("unrecognized intent category",
			zap.String("category", parsed.Category),
			zap.String("question", question),
		)
	}

	result := Intent{
		Category:    category,
		TimePeriod:  parsed.TimePeriod,
		Entities:    parsed.Entities,
		Metrics:     parsed.Metrics,
		Confidence:  clamp01(parsed.Confidence),
		RawQuestion: question,
	}
	if result.Entities == nil {
		result.Entities = []string{}
	}
	if result.Metrics == nil {
		result.Metrics = []string{}
	}

	metrics.IntentConfidence.Observe(result.Confidence)
	c.logger.Debug("question classified",
		zap.String("category", category.String()),
		zap.Float64("confidence", result.Confidence),
	)

	return result
}

func unknownIntent(question string) Intent {
	return Intent{
		Category:    TypeUnknown,
		Entities:    []string{},
		Metrics:     []string{},
		Confidence:  0,
		RawQuestion: question,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
