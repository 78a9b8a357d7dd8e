package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/formatter"
	"github.com/shopsight/backend/internal/insight"
	"github.com/shopsight/backend/internal/intent"
	"github.com/shopsight/backend/internal/metrics"
	"github.com/shopsight/backend/internal/shopify"
	"github.com/shopsight/backend/internal/shopifyql"
)

// Envelope is the terminal artifact of one processed question.
type Envelope struct {
	Answer         string    `json:"answer"`
	Confidence     string    `json:"confidence"`
	QueryUsed      string    `json:"query_used,omitempty"`
	ReasoningSteps []string  `json:"reasoning_steps"`
	Timestamp      time.Time `json:"timestamp"`
}

// trace accumulates the human-readable steps for one question. It lives for
// exactly one ProcessQuestion call; the envelope receives the backing slice
// and nothing else ever touches it again.
type trace struct {
	steps  []string
	onStep func(string)
}

func (t *trace) add(step string) {
	t.steps = append(t.steps, step)
	if t.onStep != nil {
		t.onStep(step)
	}
}

// Agent walks a question through the five-stage pipeline: classify, plan,
// generate, retrieve, explain.
type Agent struct {
	classifier  *intent.Classifier
	generator   *shopifyql.Generator
	retriever   *shopify.Client
	synthesizer *insight.Synthesizer
	formatter   *formatter.Formatter
	logger      *zap.Logger
}

func New(
	classifier *intent.Classifier,
	generator *shopifyql.Generator,
	retriever *shopify.Client,
	synthesizer *insight.Synthesizer,
	fmtr *formatter.Formatter,
	log *zap.Logger,
) *Agent {
	return &Agent{
		classifier:  classifier,
		generator:   generator,
		retriever:   retriever,
		synthesizer: synthesizer,
		formatter:   fmtr,
		logger:      log,
	}
}

// ProcessQuestion answers a natural-language question. It never returns an
// error: any terminal failure becomes a low-confidence envelope carrying the
// failure reason and the steps completed so far.
func (a *Agent) ProcessQuestion(ctx context.Context, question string) Envelope {
	return a.process(ctx, question, nil)
}

// ProcessQuestionStreaming behaves like ProcessQuestion but invokes onStep
// for every reasoning step as it is appended, for callers that relay
// progress live.
func (a *Agent) ProcessQuestionStreaming(ctx context.Context, question string, onStep func(step string)) Envelope {
	return a.process(ctx, question, onStep)
}

func (a *Agent) process(ctx context.Context, question string, onStep func(string)) Envelope {
	start := time.Now()
	tr := &trace{onStep: onStep}

	it := a.understandIntent(ctx, question, tr)

	a.planDataSources(it, tr)

	query, err := a.generateQuery(ctx, it, tr)
	if err != nil {
		return a.failureEnvelope(it, err, start, tr)
	}

	dataset := a.executeQuery(ctx, query, it, tr)

	answer, confidence := a.explainResults(ctx, dataset, it, tr)

	metrics.QuestionTotal.WithLabelValues("ok").Inc()
	metrics.QuestionDuration.WithLabelValues(it.Category.String()).Observe(time.Since(start).Seconds())
	metrics.ConfidenceLevel.WithLabelValues(string(confidence)).Inc()

	a.logger.Info("question processed",
		zap.String("intent", it.Category.String()),
		zap.String("confidence", string(confidence)),
		zap.Int("data_points", dataset.Size()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return Envelope{
		Answer:         answer,
		Confidence:     string(confidence),
		QueryUsed:      query.Text,
		ReasoningSteps: tr.steps,
		Timestamp:      time.Now().UTC(),
	}
}

func (a *Agent) understandIntent(ctx context.Context, question string, tr *trace) intent.Intent {
	tr.add("Step 1: Analyzing question to understand intent")

	it := a.classifier.Classify(ctx, question)

	tr.add(fmt.Sprintf("Identified intent: %s", it.Category))
	if it.TimePeriod != nil {
		tr.add(fmt.Sprintf("Time period: %s", it.TimePeriod.Description))
	}
	if len(it.Entities) > 0 {
		tr.add(fmt.Sprintf("Entities: %s", strings.Join(it.Entities, ", ")))
	}

	return it
}

func (a *Agent) planDataSources(it intent.Intent, tr *trace) shopifyql.DataPlan {
	tr.add("Step 2: Determining required data sources")

	plan := shopifyql.PlanFor(it)

	names := make([]string, len(plan.Sources))
	for i, source := range plan.Sources {
		names[i] = string(source)
	}
	tr.add(fmt.Sprintf("Data sources needed: %s", strings.Join(names, ", ")))

	return plan
}

func (a *Agent) generateQuery(ctx context.Context, it intent.Intent, tr *trace) (shopifyql.Query, error) {
	tr.add("Step 3: Generating ShopifyQL query")

	query, err := a.generator.Generate(ctx, it)
	if err != nil {
		return shopifyql.Query{}, err
	}

	tr.add(fmt.Sprintf("Generated query: %s...", truncate(query.Text, 100)))
	return query, nil
}

// executeQuery retrieves every collection the query references and merges
// the results. Retrieval failures are logged and leave that collection
// empty; the pipeline still answers, with confidence reduced by the smaller
// dataset.
func (a *Agent) executeQuery(ctx context.Context, query shopifyql.Query, it intent.Intent, tr *trace) insight.Dataset {
	tr.add("Step 4: Executing query against Shopify")

	var ds insight.Dataset
	for _, source := range query.Sources {
		if err := a.fetchCollection(ctx, source, it, &ds); err != nil {
			a.logger.Warn("data retrieval failed, continuing with partial results",
				zap.String("collection", string(source)),
				zap.Error(err),
			)
		}
	}

	tr.add(fmt.Sprintf("Retrieved %d records", ds.Size()))
	return ds
}

func (a *Agent) fetchCollection(ctx context.Context, source shopifyql.Source, it intent.Intent, ds *insight.Dataset) error {
	switch source {
	case shopifyql.SourceOrders:
		orders, err := a.retriever.GetOrders(ctx, orderParamsFor(it))
		if err != nil {
			return err
		}
		ds.Orders = orders
		metrics.RecordsRetrieved.WithLabelValues("orders").Observe(float64(len(orders)))

	case shopifyql.SourceProducts:
		products, err := a.retriever.GetProducts(ctx, shopify.ProductParams{})
		if err != nil {
			return err
		}
		ds.Products = products
		metrics.RecordsRetrieved.WithLabelValues("products").Observe(float64(len(products)))

	case shopifyql.SourceCustomers:
		customers, err := a.retriever.GetCustomers(ctx, shopify.CustomerParams{})
		if err != nil {
			return err
		}
		ds.Customers = customers
		metrics.RecordsRetrieved.WithLabelValues("customers").Observe(float64(len(customers)))

	case shopifyql.SourceInventoryLevels:
		levels, err := a.retriever.GetInventoryLevels(ctx)
		if err != nil {
			return err
		}
		ds.Inventory = levels
		metrics.RecordsRetrieved.WithLabelValues("inventory_levels").Observe(float64(len(levels)))
	}

	return nil
}

// orderParamsFor narrows order retrieval to the question's past window. A
// forward-looking window has no creation bounds, so projections still see
// the full recent history.
func orderParamsFor(it intent.Intent) shopify.OrderParams {
	params := shopify.OrderParams{}

	tp := it.TimePeriod
	if tp == nil || tp.Days == nil || *tp.Days >= 0 {
		return params
	}

	tp.Resolve(time.Now().UTC())
	params.CreatedAtMin = tp.StartDate
	params.CreatedAtMax = tp.EndDate
	return params
}

func (a *Agent) explainResults(ctx context.Context, ds insight.Dataset, it intent.Intent, tr *trace) (string, insight.Confidence) {
	tr.add("Step 5: Analyzing results and generating insights")

	result := a.synthesizer.Generate(ctx, ds, it.RawQuestion, it.Category)
	answer := a.formatter.Format(ctx, result.Insights, it.RawQuestion, result.Confidence, result.DataPoints)

	tr.add("Generated business-friendly insights")
	return answer, result.Confidence
}

func (a *Agent) failureEnvelope(it intent.Intent, err error, start time.Time, tr *trace) Envelope {
	a.logger.Error("failed to process question",
		zap.String("intent", it.Category.String()),
		zap.Error(err),
	)

	metrics.QuestionTotal.WithLabelValues("error").Inc()
	metrics.QuestionDuration.WithLabelValues(it.Category.String()).Observe(time.Since(start).Seconds())
	metrics.ConfidenceLevel.WithLabelValues(string(insight.ConfidenceLow)).Inc()

	return Envelope{
		Answer:         fmt.Sprintf("I encountered an error while processing your question: %s", err),
		Confidence:     string(insight.ConfidenceLow),
		ReasoningSteps: tr.steps,
		Timestamp:      time.Now().UTC(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
