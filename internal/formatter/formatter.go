package formatter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/insight"
	"github.com/shopsight/backend/internal/intent"
	"github.com/shopsight/backend/internal/llm"
)

const formatSystemPrompt = `You are an expert at explaining business analytics in simple terms.

Your role is to:
1. Convert technical analysis into plain English
2. Avoid jargon and technical terms
3. Use conversational, friendly language
4. Include specific numbers with context
5. Make insights actionable

Write like you're explaining to a friend who owns a store, not a data scientist.`

// jargonPattern matches technical terms as whole words so substitution never
// rewrites identifiers that merely embed one.
var jargonPattern = regexp.MustCompile(`(?i)\b(api|query|database|sql|json|http|endpoint|parameter|aggregation|schema)\b`)

var jargonReplacements = map[string]string{
	"api":         "system",
	"query":       "search",
	"database":    "records",
	"sql":         "data",
	"json":        "data",
	"http":        "connection",
	"endpoint":    "service",
	"parameter":   "setting",
	"aggregation": "summary",
	"schema":      "structure",
}

// Formatter turns raw analytical prose into merchant-facing language.
type Formatter struct {
	gateway llm.Gateway
	logger  *zap.Logger
}

func NewFormatter(gateway llm.Gateway, log *zap.Logger) *Formatter {
	return &Formatter{gateway: gateway, logger: log}
}

// Format rewrites insights through the reasoning service, then enforces the
// jargon ban deterministically in case the model ignored its instructions,
// and annotates the text with data volume and confidence caveats. A rewrite
// failure returns the raw insights unchanged.
func (f *Formatter) Format(ctx context.Context, insights, question string, confidence insight.Confidence, dataPoints int) string {
	rewritten, err := f.gateway.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: formatSystemPrompt,
		UserPrompt:   buildFormatPrompt(insights, question, confidence),
		Temperature:  0.3,
		MaxTokens:    600,
	})
	if err != nil {
		f.logger.Warn("response formatting failed, returning raw insights", zap.Error(err))
		return insights
	}

	text := strings.TrimSpace(rewritten)
	if ContainsJargon(text) {
		f.logger.Warn("formatted response still contains technical terms")
		text = StripJargon(text)
	}

	text = withDataPointNote(text, dataPoints)
	return withConfidenceCaveat(text, confidence)
}

func buildFormatPrompt(insights, question string, confidence insight.Confidence) string {
	return fmt.Sprintf(`Rewrite this analysis in simple, business-friendly language.

Original Question: %q
Confidence: %s

Analysis:
%s

Requirements:
- Use simple, conversational language
- Avoid technical jargon
- Include specific numbers with context
- Make it actionable
- Keep it concise (2-3 paragraphs)

Rewritten response:`, question, confidence, insights)
}

// ContainsJargon reports whether any banned technical term appears as a
// whole word.
func ContainsJargon(text string) bool {
	return jargonPattern.MatchString(text)
}

// StripJargon replaces every banned term with its plain-language equivalent.
func StripJargon(text string) string {
	return jargonPattern.ReplaceAllStringFunc(text, func(match string) string {
		if replacement, ok := jargonReplacements[strings.ToLower(match)]; ok {
			return replacement
		}
		return match
	})
}

func withDataPointNote(text string, dataPoints int) string {
	if dataPoints > 0 && !strings.Contains(strings.ToLower(text), "based on") {
		return text + fmt.Sprintf("\n\n(Based on analysis of %d data points)", dataPoints)
	}
	return text
}

func withConfidenceCaveat(text string, confidence insight.Confidence) string {
	if confidence != insight.ConfidenceLow && confidence != insight.ConfidenceMedium {
		return text
	}
	if strings.Contains(strings.ToLower(text), "confidence") {
		return text
	}
	return text + fmt.Sprintf("\n\nNote: This analysis has %s confidence due to limited data. Consider gathering more information for better insights.", confidence)
}

// ReorderRecommendation projects demand from the daily sales rate and
// suggests an order quantity net of stock on hand.
func ReorderRecommendation(product string, currentStock int, velocity float64, leadDays int) string {
	projected := velocity * float64(leadDays)
	reorder := projected - float64(currentStock)
	if reorder < 0 {
		reorder = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Based on your sales velocity of %.1f units per day, you'll need approximately %.0f units", velocity, projected)
	if product != "" {
		fmt.Fprintf(&b, " of %s", product)
	}
	fmt.Fprintf(&b, " over the next %d days. ", leadDays)

	if currentStock > 0 {
		fmt.Fprintf(&b, "With %d units currently in stock, consider reordering %.0f units to avoid stockouts.", currentStock, reorder)
	} else {
		fmt.Fprintf(&b, "Consider ordering %.0f units.", projected)
	}

	return b.String()
}

// CustomerAnalysis renders segment counts with percentages and picks the
// advice matching the dominant pattern.
func CustomerAnalysis(segments insight.CustomerSegments) string {
	if segments.Total == 0 {
		return "No customer data available for analysis."
	}

	total := float64(segments.Total)
	oneTimePct := float64(segments.OneTime) / total * 100
	repeatPct := float64(segments.Repeat) / total * 100
	frequentPct := float64(segments.Frequent) / total * 100

	var b strings.Builder
	fmt.Fprintf(&b, "Out of %d customers:\n", segments.Total)
	fmt.Fprintf(&b, "- %d (%.1f%%) are one-time buyers\n", segments.OneTime, oneTimePct)
	fmt.Fprintf(&b, "- %d (%.1f%%) are repeat customers (2-5 orders)\n", segments.Repeat, repeatPct)
	fmt.Fprintf(&b, "- %d (%.1f%%) are frequent buyers (5+ orders)\n", segments.Frequent, frequentPct)

	switch {
	case oneTimePct > 60:
		b.WriteString("\nConsider implementing a loyalty program to convert one-time buyers into repeat customers.")
	case frequentPct > 30:
		b.WriteString("\nYou have a strong base of loyal customers. Focus on retention and referral programs.")
	}

	return b.String()
}

var methodologyByCategory = map[intent.Type]string{
	intent.TypeSalesTrends:         "We compared sales across different time periods to identify patterns.",
	intent.TypeCustomerBehavior:    "We grouped customers based on their purchase frequency.",
	intent.TypeInventoryProjection: "We projected future needs by multiplying your daily sales rate by the number of days ahead.",
	intent.TypeStockoutPrediction:  "We projected future needs by multiplying your daily sales rate by the number of days ahead.",
	intent.TypeProductPerformance:  "We ranked products by units sold and the revenue they brought in.",
}

// ExplainMethodology describes in plain language how an analysis category
// arrives at its numbers.
func ExplainMethodology(category intent.Type) string {
	if explanation, ok := methodologyByCategory[category]; ok {
		return explanation
	}
	return "Analysis based on your historical data."
}
