package output

import (
	"fmt"

	"github.com/aurelle-dev/threadlens/internal/codec"
	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/table"
)

// Items lists rows sorted by a column, optionally truncated.
type Items struct {
	// Cols are the columns to serialize, in order. Defaults to id and
	// final_score.
	Cols     []string `json:"cols,omitempty"`
	OrderBy  string   `json:"order_by,omitempty"`
	OrderAsc bool     `json:"order_asc,omitempty"`
	Limit    *int     `json:"limit,omitempty"`
}

func (o *Items) cols() []string {
	if len(o.Cols) == 0 {
		return []string{"id", "final_score"}
	}
	return o.Cols
}

func (o *Items) orderBy() string {
	if o.OrderBy == "" {
		return "final_score"
	}
	return o.OrderBy
}

func (o *Items) validate() error {
	if o.Limit != nil && *o.Limit < 0 {
		return fmt.Errorf("%w: items limit must be >= 0", domain.ErrInvalidRequest)
	}
	return nil
}

func (o *Items) calculate(t *table.Table) ([]byte, error) {
	sorted, err := t.SortBy(o.orderBy(), o.OrderAsc)
	if err != nil {
		return nil, domain.NewUnknownColumn(o.orderBy(), "items.order_by")
	}
	if o.Limit != nil {
		sorted = sorted.Head(*o.Limit)
	}
	out, err := codec.Pack(sorted, o.cols())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return out, nil
}
