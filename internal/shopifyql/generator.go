package shopifyql

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/intent"
	"github.com/shopsight/backend/internal/llm"
)

const generateSystemPrompt = `You are a ShopifyQL expert. Write exactly one ShopifyQL query that answers the merchant's question.

Rules:
- The query must be a single SELECT statement with a FROM clause.
- Read only from the listed data sources.
- When a time filter is given, include it verbatim in the WHERE clause.
- When aggregations are given, use them in the SELECT list.
- Return only the query text, with no explanation and no code fences.`

// aggregationMap is the fixed metric-name to aggregation-function table.
// Lookups are case-insensitive on the metric name.
var aggregationMap = map[string]string{
	"count":   "COUNT(*)",
	"sum":     "SUM(quantity)",
	"average": "AVG(price)",
	"total":   "SUM(total_price)",
	"max":     "MAX(quantity)",
	"min":     "MIN(quantity)",
}

const defaultAggregation = "COUNT(*)"

var forbiddenKeyword = regexp.MustCompile(`(?i)\b(create|alter|insert|update|delete|drop)\b`)

// Query pairs the generated text with the authoritative list of sources it
// reads from, so downstream retrieval never has to sniff the text.
type Query struct {
	Text    string
	Sources []Source
}

// GenerationError means no executable query could be produced; the offending
// text is never returned to callers for execution.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot generate query: %s: %v", e.Reason, e.Err)
	}
	return "cannot generate query: " + e.Reason
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type Generator struct {
	gateway llm.Gateway
	logger  *zap.Logger
}

func NewGenerator(gateway llm.Gateway, log *zap.Logger) *Generator {
	return &Generator{gateway: gateway, logger: log}
}

// Generate produces a validated query for the intent. The time filter and
// aggregations are synthesized deterministically before the reasoning call;
// the model only assembles them into query text, and that text is validated
// before it is returned. Validation failures are reported, never repaired.
func (g *Generator) Generate(ctx context.Context, it intent.Intent) (Query, error) {
	plan := PlanFor(it)

	timeFilter := TimeFilter(it.TimePeriod, time.Now().UTC())
	aggregations := Aggregations(it.Metrics)

	userPrompt := buildGeneratePrompt(it, plan, timeFilter, aggregations)

	raw, err := g.gateway.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: generateSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.2,
		MaxTokens:    300,
	})
	if err != nil {
		return Query{}, &GenerationError{Reason: "reasoning service failed", Err: err}
	}

	text := stripFences(raw)
	if err := ValidateQuery(text); err != nil {
		g.logger.Warn("generated query rejected",
			zap.String("query", text),
			zap.Error(err),
		)
		return Query{}, &GenerationError{Reason: err.Error()}
	}

	g.logger.Debug("query generated",
		zap.String("query", text),
		zap.Int("sources", len(plan.Sources)),
	)

	return Query{Text: text, Sources: plan.Sources}, nil
}

func buildGeneratePrompt(it intent.Intent, plan DataPlan, timeFilter, aggregations string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", it.RawQuestion)
	fmt.Fprintf(&b, "Intent category: %s\n", it.Category)
	fmt.Fprintf(&b, "Data sources: %s\n", joinSources(plan.Sources))

	if timeFilter != "" {
		fmt.Fprintf(&b, "Time filter: %s\n", timeFilter)
	} else {
		b.WriteString("Time filter: none\n")
	}
	if aggregations != "" {
		fmt.Fprintf(&b, "Aggregations: %s\n", aggregations)
	} else {
		b.WriteString("Aggregations: none\n")
	}
	if len(it.Entities) > 0 {
		fmt.Fprintf(&b, "Filter to these entities: %s\n", strings.Join(it.Entities, ", "))
	}

	return b.String()
}

// TimeFilter renders the deterministic WHERE fragment for a time window.
// Negative days produce an inclusive created_at range ending at now; positive
// days produce a forward-looking projected_date bound. All date arithmetic
// uses the single now instant the caller passes in.
func TimeFilter(tp *intent.TimePeriod, now time.Time) string {
	if tp == nil || tp.Days == nil {
		return ""
	}

	const layout = "2006-01-02"
	days := *tp.Days
	if days < 0 {
		start := now.AddDate(0, 0, days)
		return fmt.Sprintf("created_at >= '%s' AND created_at <= '%s'",
			start.Format(layout), now.Format(layout))
	}

	end := now.AddDate(0, 0, days)
	return fmt.Sprintf("projected_date <= '%s'", end.Format(layout))
}

// Aggregations maps requested metric names to canonical aggregation calls.
// Unrecognized names fall back to COUNT(*) rather than failing.
func Aggregations(metricNames []string) string {
	if len(metricNames) == 0 {
		return ""
	}

	parts := make([]string, 0, len(metricNames))
	for _, name := range metricNames {
		agg, ok := aggregationMap[strings.ToLower(name)]
		if !ok {
			agg = defaultAggregation
		}
		parts = append(parts, agg)
	}
	return strings.Join(parts, ", ")
}

// ValidateQuery enforces the safety contract on generated text: non-blank,
// a SELECT and a FROM present, and no mutating keyword as a whole word.
// Substring hits inside identifiers (created_at) must not reject.
func ValidateQuery(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return errors.New("query is empty")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.Contains(upper, "SELECT") {
		return errors.New("missing SELECT clause")
	}
	if !strings.Contains(upper, "FROM") {
		return errors.New("missing FROM clause")
	}

	if match := forbiddenKeyword.FindString(trimmed); match != "" {
		return fmt.Errorf("contains forbidden keyword %q", strings.ToLower(match))
	}

	return nil
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```sql")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func joinSources(sources []Source) string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
