package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/intent"
	"github.com/shopsight/backend/internal/llm"
	"github.com/shopsight/backend/internal/shopify"
)

const synthesizeSystemPrompt = `You are a retail analytics expert writing for a store owner with no technical background. Analyze the data sample and answer the merchant's question with specific, actionable observations. Mention concrete numbers from the data. Do not mention queries, databases or APIs.`

// maxSummarizedRecords caps how much raw data goes into the prompt; the
// remainder is represented as a count.
const maxSummarizedRecords = 10

const fallbackInsights = "Unable to generate insights from the data."

type Synthesizer struct {
	gateway llm.Gateway
	logger  *zap.Logger
}

func NewSynthesizer(gateway llm.Gateway, log *zap.Logger) *Synthesizer {
	return &Synthesizer{gateway: gateway, logger: log}
}

// Generate computes the data-quality confidence and asks the reasoning
// service for a narrative over a sample of the records. It never fails:
// reasoning errors degrade to a fixed low-confidence result.
func (s *Synthesizer) Generate(ctx context.Context, ds Dataset, question string, category intent.Type) Result {
	confidence := ConfidenceForCount(ds.Size())

	userPrompt := buildSynthesisPrompt(ds, question, category)

	raw, err := s.gateway.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: synthesizeSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.5,
		MaxTokens:    500,
	})
	if err != nil {
		s.logger.Warn("insight synthesis failed",
			zap.String("category", category.String()),
			zap.Int("data_points", ds.Size()),
			zap.Error(err),
		)
		return Result{Insights: fallbackInsights, Confidence: ConfidenceLow, DataPoints: 0}
	}

	return Result{
		Insights:   strings.TrimSpace(raw),
		Confidence: confidence,
		DataPoints: ds.Size(),
	}
}

func buildSynthesisPrompt(ds Dataset, question string, category intent.Type) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", question)
	fmt.Fprintf(&b, "Analysis type: %s\n", category)
	fmt.Fprintf(&b, "Records retrieved: %d\n", ds.Size())

	if line := orderValueSummary(ds.Orders); line != "" {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteString("Data sample:\n")
	b.WriteString(summarize(ds))

	return b.String()
}

// summarize renders up to the first maxSummarizedRecords records, walking
// collections in retrieval order, then notes how many were left out.
func summarize(ds Dataset) string {
	total := ds.Size()
	if total == 0 {
		return "(no records)"
	}

	lines := make([]string, 0, maxSummarizedRecords+1)
	appendRecord := func(kind string, v any) bool {
		if len(lines) >= maxSummarizedRecords {
			return false
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return true
		}
		lines = append(lines, fmt.Sprintf("%s: %s", kind, raw))
		return true
	}

	for _, order := range ds.Orders {
		if !appendRecord("order", order) {
			break
		}
	}
	for _, product := range ds.Products {
		if !appendRecord("product", product) {
			break
		}
	}
	for _, customer := range ds.Customers {
		if !appendRecord("customer", customer) {
			break
		}
	}
	for _, level := range ds.Inventory {
		if !appendRecord("inventory", level) {
			break
		}
	}

	if total > maxSummarizedRecords {
		lines = append(lines, fmt.Sprintf("... and %d more records", total-maxSummarizedRecords))
	}

	return strings.Join(lines, "\n")
}

// orderValueSummary gives the model distribution context it cannot infer
// from a ten-record sample.
func orderValueSummary(orders []shopify.Order) string {
	if len(orders) < 2 {
		return ""
	}

	values := make([]float64, len(orders))
	for i, order := range orders {
		values[i] = order.TotalPrice.Float64()
	}

	mean, _ := stats.Mean(values)
	median, _ := stats.Median(values)
	return fmt.Sprintf("Order values: mean %.2f, median %.2f across %d orders", mean, median, len(orders))
}
