package output

import (
	"fmt"
	"math"
	"sort"

	"github.com/goccy/go-json"

	"github.com/aurelle-dev/threadlens/internal/codec"
	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/table"
)

// AggCol names a column and the reduction applied to it within each group.
// The wire shape is a two-element array ["col", "agg"], a list rather than
// a map so values come back in a deterministic column order.
type AggCol struct {
	Col string
	Agg string
}

// UnmarshalJSON decodes the ["col", "agg"] pair.
func (a *AggCol) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("aggregation must be a [column, method] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("aggregation must be a [column, method] pair, got %d elements", len(pair))
	}
	a.Col, a.Agg = pair[0], pair[1]
	return nil
}

// MarshalJSON emits the ["col", "agg"] pair.
func (a AggCol) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{a.Col, a.Agg})
}

// GroupBy replaces row identity with an integer group key and aggregates
// the requested columns within each group. To filter groups, filter the
// original column being grouped on.
type GroupBy struct {
	By string `json:"by"`
	// Bucket, when set, assigns each row to group floor(value / bucket)
	// instead of its raw value. Numeric columns only.
	Bucket   *float64 `json:"bucket,omitempty"`
	Cols     []AggCol `json:"cols,omitempty"`
	OrderBy  string   `json:"order_by,omitempty"`
	OrderAsc *bool    `json:"order_asc,omitempty"`
	Limit    *int     `json:"limit,omitempty"`
}

func (o *GroupBy) cols() []AggCol {
	if len(o.Cols) == 0 {
		return []AggCol{{Col: "final_score", Agg: "sum"}}
	}
	return o.Cols
}

func (o *GroupBy) orderBy() string {
	if o.OrderBy == "" {
		return "group"
	}
	return o.OrderBy
}

func (o *GroupBy) orderAsc() bool {
	if o.OrderAsc == nil {
		return true
	}
	return *o.OrderAsc
}

func (o *GroupBy) validate() error {
	if o.By == "" {
		return fmt.Errorf("%w: group_by.by is required", domain.ErrInvalidRequest)
	}
	if o.Bucket != nil && *o.Bucket <= 0 {
		return fmt.Errorf("%w: group_by.bucket must be > 0", domain.ErrInvalidRequest)
	}
	if o.Limit != nil && *o.Limit < 0 {
		return fmt.Errorf("%w: group_by.limit must be >= 0", domain.ErrInvalidRequest)
	}
	for _, c := range o.cols() {
		switch c.Agg {
		case "sum", "mean", "min", "max", "count":
		default:
			return fmt.Errorf("%w: unknown aggregation %q for column %q", domain.ErrInvalidRequest, c.Agg, c.Col)
		}
	}
	return nil
}

// aggState accumulates one column within one group.
type aggState struct {
	n   int
	sum float64
	min float64
	max float64
}

func (a *aggState) add(v float64) {
	if a.n == 0 {
		a.min, a.max = v, v
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	a.n++
	a.sum += v
}

func (a *aggState) value(agg string) float64 {
	switch agg {
	case "sum":
		return a.sum
	case "mean":
		return a.sum / float64(a.n)
	case "min":
		return a.min
	case "max":
		return a.max
	case "count":
		return float64(a.n)
	}
	panic("output: unknown aggregation " + agg)
}

func (o *GroupBy) calculate(t *table.Table) ([]byte, error) {
	byCol, ok := t.Col(o.By)
	if !ok {
		return nil, domain.NewUnknownColumn(o.By, "group_by.by")
	}
	if !byCol.IsNumeric() {
		return nil, fmt.Errorf("%w: group_by.by column %q is not numeric", domain.ErrInvalidRequest, o.By)
	}

	aggCols := o.cols()
	srcCols := make([]*table.Column, len(aggCols))
	for i, c := range aggCols {
		src, ok := t.Col(c.Col)
		if !ok {
			return nil, domain.NewUnknownColumn(c.Col, "group_by.cols")
		}
		if !src.IsNumeric() {
			return nil, fmt.Errorf("%w: aggregated column %q is not numeric", domain.ErrInvalidRequest, c.Col)
		}
		srcCols[i] = src
	}

	// Accumulate per group, in one pass over the rows.
	states := make(map[int64][]*aggState)
	for i := 0; i < t.Len(); i++ {
		key := o.groupKey(byCol.Float64At(i))
		st, ok := states[key]
		if !ok {
			st = make([]*aggState, len(aggCols))
			for j := range st {
				st[j] = &aggState{}
			}
			states[key] = st
		}
		for j, src := range srcCols {
			st[j].add(src.Float64At(i))
		}
	}

	keys := make([]int64, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })

	grouped := table.New(len(keys))
	groupVals := make([]int64, len(keys))
	copy(groupVals, keys)
	if err := grouped.Set("group", table.Int64s(groupVals)); err != nil {
		return nil, err
	}
	for j, c := range aggCols {
		vals := make([]float64, len(keys))
		for i, k := range keys {
			vals[i] = states[k][j].value(c.Agg)
		}
		if err := grouped.Set(c.Col, aggregateColumn(srcCols[j].Kind(), c.Agg, vals)); err != nil {
			return nil, err
		}
	}

	sorted, err := grouped.SortBy(o.orderBy(), o.orderAsc())
	if err != nil {
		return nil, domain.NewUnknownColumn(o.orderBy(), "group_by.order_by")
	}
	if o.Limit != nil {
		sorted = sorted.Head(*o.Limit)
	}

	names := make([]string, 0, 1+len(aggCols))
	names = append(names, "group")
	for _, c := range aggCols {
		names = append(names, c.Col)
	}
	out, err := codec.Pack(sorted, names)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return out, nil
}

// groupKey maps a row value to its integer group.
func (o *GroupBy) groupKey(v float64) int64 {
	if o.Bucket != nil {
		return int64(math.Floor(v / *o.Bucket))
	}
	return int64(math.Floor(v))
}

// aggregateColumn materializes aggregated values with the output kind
// implied by the source column and the reduction: mean widens to float64,
// count is int64, and sum/min/max keep the source kind (bool promotes to
// int64).
func aggregateColumn(src table.Kind, agg string, vals []float64) *table.Column {
	switch agg {
	case "mean":
		return table.Float64s(vals)
	case "count":
		return toInt64s(vals)
	}
	switch src {
	case table.KindFloat32:
		out := make([]float32, len(vals))
		for i, v := range vals {
			out[i] = float32(v)
		}
		return table.Float32s(out)
	case table.KindFloat64:
		return table.Float64s(vals)
	case table.KindUint32:
		// Sums can exceed uint32; emit int64 like the other integer kinds.
		return toInt64s(vals)
	default:
		return toInt64s(vals)
	}
}

func toInt64s(vals []float64) *table.Column {
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = int64(v)
	}
	return table.Int64s(out)
}
