// Package output projects the final scored table into serialized result
// blocks: top-K item listings, grouped aggregates, and rasterized
// heatmaps. Every output in a request sees the same table; blocks are
// concatenated in request order.
package output

import (
	"fmt"

	"github.com/aurelle-dev/threadlens/internal/dataset"
	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/table"
)

// Spec selects exactly one output variant.
type Spec struct {
	Items   *Items   `json:"items,omitempty"`
	GroupBy *GroupBy `json:"group_by,omitempty"`
	Heatmap *Heatmap `json:"heatmap,omitempty"`
}

// Validate enforces the exactly-one-variant invariant and variant shape.
func (s *Spec) Validate() error {
	n := 0
	if s.Items != nil {
		n++
	}
	if s.GroupBy != nil {
		n++
	}
	if s.Heatmap != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: exactly one of items, group_by, heatmap must be set, got %d", domain.ErrInvalidRequest, n)
	}
	switch {
	case s.Items != nil:
		return s.Items.validate()
	case s.GroupBy != nil:
		return s.GroupBy.validate()
	default:
		return s.Heatmap.validate()
	}
}

// Calculate serializes the selected variant against the final table.
func (s *Spec) Calculate(d *dataset.Dataset, t *table.Table) ([]byte, error) {
	switch {
	case s.Items != nil:
		return s.Items.calculate(t)
	case s.GroupBy != nil:
		return s.GroupBy.calculate(t)
	case s.Heatmap != nil:
		return s.Heatmap.calculate(d, t)
	}
	return nil, fmt.Errorf("%w: empty output spec", domain.ErrInvalidRequest)
}
