// Package intent defines the intent profile consumed by the routing layer
// and a thin keyword classifier that produces one.
//
// Classification here is deliberately lightweight: a rule pass over the
// request text, no model calls. Callers that need semantic classification
// can plug their own Classifier implementation; the router only depends on
// the Profile contract.
package intent

// Category buckets a request by the kind of work it asks for.
type Category string

const (
	CategoryCode      Category = "code"
	CategoryReasoning Category = "reasoning"
	CategoryCreative  Category = "creative"
	CategorySummary   Category = "summary"
	CategorySearch    Category = "search"
	CategoryChat      Category = "chat"
	// CategoryFast marks short, latency-sensitive requests. It is only
	// honored downstream when confidence is high and complexity is low.
	CategoryFast  Category = "fast"
	CategoryOther Category = "other"
)

// Known reports whether c is one of the defined categories.
func (c Category) Known() bool {
	switch c {
	case CategoryCode, CategoryReasoning, CategoryCreative, CategorySummary,
		CategorySearch, CategoryChat, CategoryFast, CategoryOther:
		return true
	}
	return false
}

// Complexity grades how much work a request likely needs.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
	ComplexityDeep   Complexity = "deep"
)

// ConfidenceUnknown is the sentinel for an absent confidence value.
const ConfidenceUnknown = -1.0

// Profile is the classification result attached to a sub-task before
// routing. Confidence is in [0,1], or ConfidenceUnknown when the
// classifier could not estimate one.
type Profile struct {
	Category   Category
	Confidence float64
	Complexity Complexity
}

// HasConfidence reports whether the profile carries a usable confidence.
func (p Profile) HasConfidence() bool {
	return p.Confidence >= 0
}
