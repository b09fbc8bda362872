package domain

// Query is what the search fan-out sends to each backend.
type Query struct {
	// Text is the query string.
	Text string

	// Namespace restricts results when the backend can filter natively.
	Namespace string

	// Vector is an optional caller-supplied query embedding.
	Vector []float32

	// Limit is a per-backend cap on returned hits.
	Limit int
}

// SearchOptions configures a fused search.
type SearchOptions struct {
	// Namespace restricts results to one namespace.
	Namespace string

	// Limit is the maximum number of fused results.
	Limit int

	// RequiredMetadata keeps only records whose metadata contains
	// every key with an equal value.
	RequiredMetadata Metadata

	// Vector is passed through to vector-capable backends.
	Vector []float32
}

// DefaultSearchOptions returns sensible defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Limit: 20}
}

// SearchHit is one raw hit returned by one backend.
type SearchHit struct {
	// RecordID identifies the logical record.
	RecordID string `json:"record_id"`

	// Score is backend-native; higher is better.
	Score float64 `json:"score"`

	// Backend is the backend that produced the hit.
	Backend string `json:"backend"`
}

// SearchResult is a fused, index-resolved result.
type SearchResult struct {
	// Record is the canonical record from the unified index.
	Record Record `json:"record"`

	// Score is the maximum score across contributing backends.
	Score float64 `json:"score"`

	// ContributingBackends lists the backends that returned this record,
	// ordered by priority then name.
	ContributingBackends []string `json:"contributing_backends"`
}

// SearchResponse is the output of a fused search.
type SearchResponse struct {
	// Results is ranked by score descending.
	Results []SearchResult `json:"results"`

	// Contributing lists backends that answered before the deadline.
	Contributing []string `json:"contributing"`

	// Failed lists backends that errored or missed the deadline.
	Failed []BackendOutcome `json:"failed,omitempty"`
}
