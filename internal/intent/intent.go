package intent

import "time"

// Type is the fixed category inventory a question can classify into.
type Type string

const (
	TypeInventoryProjection Type = "inventory_projection"
	TypeSalesTrends         Type = "sales_trends"
	TypeCustomerBehavior    Type = "customer_behavior"
	TypeProductPerformance  Type = "product_performance"
	TypeStockoutPrediction  Type = "stockout_prediction"
	TypeUnknown             Type = "unknown"
)

// ParseType maps a raw category string to a Type. The second return reports
// whether the string named a known category; unrecognized input maps to
// TypeUnknown.
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case TypeInventoryProjection, TypeSalesTrends, TypeCustomerBehavior,
		TypeProductPerformance, TypeStockoutPrediction, TypeUnknown:
		return Type(s), true
	default:
		return TypeUnknown, false
	}
}

func (t Type) String() string {
	return string(t)
}

// TimePeriod is the question's time window. Days is signed: negative means
// N days into the past, positive N days into the future, nil means the
// question named no explicit window.
type TimePeriod struct {
	Description string     `json:"description"`
	Days        *int       `json:"days"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// Resolve fills StartDate/EndDate from one reference instant. Callers must
// pass the same now for every derivation within a single question.
func (tp *TimePeriod) Resolve(now time.Time) {
	if tp == nil || tp.Days == nil {
		return
	}

	days := *tp.Days
	if days < 0 {
		start := now.AddDate(0, 0, days)
		end := now
		tp.StartDate = &start
		tp.EndDate = &end
	} else {
		start := now
		end := now.AddDate(0, 0, days)
		tp.StartDate = &start
		tp.EndDate = &end
	}
}

// Intent is the immutable result of classifying one question.
type Intent struct {
	Category    Type        `json:"category"`
	TimePeriod  *TimePeriod `json:"time_period,omitempty"`
	Entities    []string    `json:"entities"`
	Metrics     []string    `json:"metrics"`
	Confidence  float64     `json:"confidence"`
	RawQuestion string      `json:"raw_question"`
}

const ambiguityThreshold = 0.7

// IsAmbiguous reports whether the classification is too uncertain to act on
// without caveats.
func (i Intent) IsAmbiguous() bool {
	return i.Confidence < ambiguityThreshold
}
