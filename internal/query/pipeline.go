package query

import (
	"math"
	"time"

	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/table"
)

// Run derives the scoring columns on a resolved candidate table, in a
// fixed stage order: recency, similarity aggregation, scales,
// thresholds, final score, then any leftover post-filters. A post-filter
// clip naming a derived column is applied the moment that column exists,
// so every later stage sees only surviving rows.
func Run(t *table.Table, simCols []string, req *Request, now time.Time) (*table.Table, error) {
	p := &pipeline{t: t, req: req, applied: map[string]bool{}}

	if err := p.tsNorm(now); err != nil {
		return nil, err
	}
	if err := p.simAgg(simCols); err != nil {
		return nil, err
	}
	if err := p.scales(); err != nil {
		return nil, err
	}
	if err := p.thresholds(); err != nil {
		return nil, err
	}
	if err := p.finalScore(); err != nil {
		return nil, err
	}
	if err := p.remainingFilters(); err != nil {
		return nil, err
	}
	return p.t, nil
}

type pipeline struct {
	t       *table.Table
	req     *Request
	applied map[string]bool
}

// filterIfClipped applies the post-filter clip for a just-derived
// column, once.
func (p *pipeline) filterIfClipped(name string) error {
	clip, ok := p.req.PostFilterClip[name]
	if !ok || p.applied[name] {
		return nil
	}
	p.applied[name] = true
	col, err := numericCol(p.t, name, "post_filter_clip")
	if err != nil {
		return err
	}
	mask := make([]bool, p.t.Len())
	for i := range mask {
		mask[i] = clip.Contains(col.Float64At(i))
	}
	p.t = p.t.Filter(mask)
	return nil
}

// tsNorm derives exp(-decay * age_days) from ts_day.
func (p *pipeline) tsNorm(now time.Time) error {
	ts, err := numericCol(p.t, "ts_day", "ts_norm")
	if err != nil {
		return err
	}
	decay := p.req.EffectiveTsDecay()
	today := float64(now.UnixMilli()) / 1000 / (60 * 60 * 24)
	vals := make([]float64, p.t.Len())
	for i := range vals {
		vals[i] = math.Exp(-decay * (today - ts.Float64At(i)))
	}
	if err := p.t.Set("ts_norm", table.Float64s(vals)); err != nil {
		return err
	}
	return p.filterIfClipped("ts_norm")
}

// simAgg collapses the per-query similarity columns into one `sim`
// column and drops the per-query ones. No queries means no sim column.
func (p *pipeline) simAgg(simCols []string) error {
	if len(simCols) == 0 {
		return nil
	}
	cols := make([]*table.Column, len(simCols))
	for i, name := range simCols {
		col, ok := p.t.Col(name)
		if !ok {
			return domain.NewUnknownColumn(name, "sim_agg")
		}
		cols[i] = col
	}
	agg := p.req.EffectiveSimAgg()
	vals := make([]float32, p.t.Len())
	for i := range vals {
		v := cols[0].Float64At(i)
		switch agg {
		case SimAggMean:
			for _, c := range cols[1:] {
				v += c.Float64At(i)
			}
			v /= float64(len(cols))
		case SimAggMin:
			for _, c := range cols[1:] {
				v = math.Min(v, c.Float64At(i))
			}
		case SimAggMax:
			for _, c := range cols[1:] {
				v = math.Max(v, c.Float64At(i))
			}
		}
		vals[i] = float32(v)
	}
	for _, name := range simCols {
		p.t.Drop(name)
	}
	if err := p.t.Set("sim", table.Float32s(vals)); err != nil {
		return err
	}
	return p.filterIfClipped("sim")
}

// scales derives `{col}_scaled`: clip into the interval, then map it
// linearly onto [0, 1].
func (p *pipeline) scales() error {
	for _, name := range sortedKeys(p.req.Scales) {
		col, err := numericCol(p.t, name, "scales")
		if err != nil {
			return err
		}
		clip := p.req.Scales[name]
		span := clip.Max - clip.Min
		vals := make([]float32, p.t.Len())
		for i := range vals {
			v := math.Min(math.Max(col.Float64At(i), clip.Min), clip.Max)
			vals[i] = float32((v - clip.Min) / span)
		}
		derived := name + "_scaled"
		if err := p.t.Set(derived, table.Float32s(vals)); err != nil {
			return err
		}
		if err := p.filterIfClipped(derived); err != nil {
			return err
		}
	}
	return nil
}

// thresholds derives boolean `{col}_thresh` columns, usable as weights.
func (p *pipeline) thresholds() error {
	for _, name := range sortedKeys(p.req.Thresholds) {
		col, err := numericCol(p.t, name, "thresholds")
		if err != nil {
			return err
		}
		threshold := p.req.Thresholds[name]
		vals := make([]bool, p.t.Len())
		for i := range vals {
			vals[i] = col.Float64At(i) >= threshold
		}
		derived := name + "_thresh"
		if err := p.t.Set(derived, table.Bools(vals)); err != nil {
			return err
		}
		if err := p.filterIfClipped(derived); err != nil {
			return err
		}
	}
	return nil
}

// finalScore derives the weighted sum. Accumulation happens in float64
// and the column lands as float32. An empty weight map legitimately
// scores every row zero.
func (p *pipeline) finalScore() error {
	acc := make([]float64, p.t.Len())
	for _, name := range sortedKeys(p.req.Weights) {
		col, err := numericCol(p.t, name, "weights")
		if err != nil {
			return err
		}
		w := p.req.Weights[name]
		if w.Column != "" {
			wcol, err := numericCol(p.t, w.Column, "weights")
			if err != nil {
				return err
			}
			for i := range acc {
				acc[i] += col.Float64At(i) * wcol.Float64At(i)
			}
		} else {
			for i := range acc {
				acc[i] += col.Float64At(i) * w.Value
			}
		}
	}
	vals := make([]float32, len(acc))
	for i, v := range acc {
		vals[i] = float32(v)
	}
	if err := p.t.Set("final_score", table.Float32s(vals)); err != nil {
		return err
	}
	return p.filterIfClipped("final_score")
}

// remainingFilters applies post-filter clips that never matched a
// derived column, which must therefore name source columns.
func (p *pipeline) remainingFilters() error {
	for _, name := range sortedKeys(p.req.PostFilterClip) {
		if p.applied[name] {
			continue
		}
		col, err := numericCol(p.t, name, "post_filter_clip")
		if err != nil {
			return err
		}
		clip := p.req.PostFilterClip[name]
		mask := make([]bool, p.t.Len())
		for i := range mask {
			mask[i] = clip.Contains(col.Float64At(i))
		}
		p.t = p.t.Filter(mask)
	}
	return nil
}
