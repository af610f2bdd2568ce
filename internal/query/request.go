// Package query implements the scoring and aggregation engine: request
// model, similarity resolution (dense and ANN-prefiltered), and the
// ordered derivation/filter pipeline.
package query

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/output"
)

// Request shape limits, enforced before the embedding call.
const (
	MaxQueries  = 3
	MaxQueryLen = 512
	MaxOutputs  = 8
)

// SimAgg selects how per-query similarities collapse into one value per row.
type SimAgg string

const (
	SimAggMean SimAgg = "mean"
	SimAggMin  SimAgg = "min"
	SimAggMax  SimAgg = "max"
)

// Clip is a closed interval used both to rescale a column into [0, 1] and
// to filter a column to a sub-range.
type Clip struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the closed interval.
func (c Clip) Contains(v float64) bool { return v >= c.Min && v <= c.Max }

// Weight is either a literal multiplier or the name of a column supplying
// a per-row multiplier.
type Weight struct {
	Column string
	Value  float64
}

// UnmarshalJSON accepts a JSON number (literal weight) or string (column
// name).
func (w *Weight) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &w.Column)
	}
	if err := json.Unmarshal(b, &w.Value); err != nil {
		return fmt.Errorf("weight must be a number or column name: %w", err)
	}
	return nil
}

// MarshalJSON emits the same shape UnmarshalJSON accepts.
func (w Weight) MarshalJSON() ([]byte, error) {
	if w.Column != "" {
		return json.Marshal(w.Column)
	}
	return json.Marshal(w.Value)
}

// Request is the fully declarative query input.
type Request struct {
	Dataset string   `json:"dataset"`
	Queries []string `json:"queries"`

	// SimAgg collapses the per-query similarity columns into one value per
	// row. Defaults to mean.
	SimAgg SimAgg `json:"sim_agg"`

	// TsDecay is the exponential recency decay constant applied to row age
	// in days. Defaults to 0.1.
	TsDecay *float64 `json:"ts_decay"`

	// PreFilterANN restricts similarity computation to the union of each
	// query's top-K ANN neighbors. Rows absent from a query's top-K get
	// similarity exactly 0 for that query, not the true (sub-cutoff)
	// value; this approximation is part of the API contract. Ignored when
	// Queries is empty.
	PreFilterANN *int `json:"pre_filter_ann"`

	// PreFilterClip drops rows whose column values fall outside the range,
	// before similarity-dependent derivations.
	PreFilterClip map[string]Clip `json:"pre_filter_clip"`

	// Scales derives `{col}_scaled`: clip into [min, max], then rescale
	// linearly to [0, 1].
	Scales map[string]Clip `json:"scales"`

	// Thresholds derives `{col}_thresh`: 1 where col >= threshold, else 0.
	Thresholds map[string]float64 `json:"thresholds"`

	// Weights defines final_score as the sum of col * weight. An empty map
	// yields a zero score for every row.
	Weights map[string]Weight `json:"weights"`

	// PostFilterClip drops rows whose column values fall outside the
	// range. Each clip is applied immediately after its column is derived
	// (assign-then-filter); clips on never-derived columns apply in a
	// final pass.
	PostFilterClip map[string]Clip `json:"post_filter_clip"`

	Outputs []output.Spec `json:"outputs"`
}

// EffectiveTsDecay returns the decay constant with its default applied.
func (r *Request) EffectiveTsDecay() float64 {
	if r.TsDecay == nil {
		return 0.1
	}
	return *r.TsDecay
}

// EffectiveSimAgg returns the aggregation with its default applied.
func (r *Request) EffectiveSimAgg() SimAgg {
	if r.SimAgg == "" {
		return SimAggMean
	}
	return r.SimAgg
}

// Validate checks request shape. It runs before the embedding call so
// malformed requests fail without paying embedding cost.
func (r *Request) Validate() error {
	if r.Dataset == "" {
		return fmt.Errorf("%w: dataset is required", domain.ErrInvalidRequest)
	}
	if len(r.Queries) > MaxQueries {
		return fmt.Errorf("%w: at most %d queries, got %d", domain.ErrInvalidRequest, MaxQueries, len(r.Queries))
	}
	for i, q := range r.Queries {
		if q == "" {
			return fmt.Errorf("%w: query %d is empty", domain.ErrInvalidRequest, i)
		}
		if len(q) > MaxQueryLen {
			return fmt.Errorf("%w: query %d exceeds %d bytes", domain.ErrInvalidRequest, i, MaxQueryLen)
		}
	}

	switch r.EffectiveSimAgg() {
	case SimAggMean, SimAggMin, SimAggMax:
	default:
		return fmt.Errorf("%w: unknown sim_agg %q", domain.ErrInvalidRequest, r.SimAgg)
	}

	if d := r.EffectiveTsDecay(); d < 0 {
		return fmt.Errorf("%w: ts_decay must be >= 0, got %s", domain.ErrInvalidRequest, strconv.FormatFloat(d, 'g', -1, 64))
	}

	if r.PreFilterANN != nil && *r.PreFilterANN <= 0 {
		return fmt.Errorf("%w: pre_filter_ann must be > 0", domain.ErrInvalidRequest)
	}

	// Scaling needs a non-degenerate range: the rescale divides by
	// (max - min). Raising here beats silently emitting zeros, which
	// masks configuration bugs.
	for col, c := range r.Scales {
		if c.Max <= c.Min {
			return fmt.Errorf("%w: scale for %q has max %g <= min %g", domain.ErrInvalidClip, col, c.Max, c.Min)
		}
	}
	// Filter clips may be degenerate (an equality filter) but not inverted.
	for col, c := range r.PreFilterClip {
		if c.Max < c.Min {
			return fmt.Errorf("%w: pre_filter_clip for %q has max %g < min %g", domain.ErrInvalidClip, col, c.Max, c.Min)
		}
	}
	for col, c := range r.PostFilterClip {
		if c.Max < c.Min {
			return fmt.Errorf("%w: post_filter_clip for %q has max %g < min %g", domain.ErrInvalidClip, col, c.Max, c.Min)
		}
	}

	if len(r.Outputs) == 0 {
		return fmt.Errorf("%w: at least one output is required", domain.ErrInvalidRequest)
	}
	if len(r.Outputs) > MaxOutputs {
		return fmt.Errorf("%w: at most %d outputs, got %d", domain.ErrInvalidRequest, MaxOutputs, len(r.Outputs))
	}
	for i := range r.Outputs {
		if err := r.Outputs[i].Validate(); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	return nil
}
