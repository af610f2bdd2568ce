package query

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/aurelle-dev/threadlens/internal/ann"
	"github.com/aurelle-dev/threadlens/internal/dataset"
	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/table"
)

type stubIndex struct {
	hits [][]ann.Result
	err  error
	k    int
}

func (s *stubIndex) Query(_ context.Context, vectors [][]float32, k int) ([][]ann.Result, error) {
	s.k = k
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

func (s *stubIndex) Close() error { return nil }

func resolveDataset(t *testing.T, idx ann.Index) *dataset.Dataset {
	t.Helper()
	tbl := table.New(4)
	set(t, tbl, "id", table.Uint32s([]uint32{1, 2, 3, 4}))
	set(t, tbl, "ts_day", table.Float64s([]float64{10, 20, 30, 40}))
	set(t, tbl, "votes", table.Int64s([]int64{0, 5, 10, 20}))
	emb := []float32{
		1, 0,
		0, 1,
		0.6, 0.8,
		-1, 0,
	}
	d, err := dataset.NewInMemory("posts", tbl, emb, 2, dataset.Bounds{}, idx)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestResolveDenseSimilarities(t *testing.T) {
	d := resolveDataset(t, nil)
	req := &Request{Dataset: "posts", Queries: []string{"a", "b"}}
	vectors := [][]float32{{1, 0}, {0, 1}}
	got, simCols, err := Resolve(context.Background(), d, req, vectors)
	if err != nil {
		t.Fatal(err)
	}
	if len(simCols) != 2 || simCols[0] != "sim0" || simCols[1] != "sim1" {
		t.Fatalf("sim cols: got %v", simCols)
	}
	sim0 := f32s(t, got, "sim0")
	sim1 := f32s(t, got, "sim1")
	want0 := []float32{1, 0, 0.6, -1}
	want1 := []float32{0, 1, 0.8, 0}
	for i := range want0 {
		if math.Abs(float64(sim0[i]-want0[i])) > 1e-6 || math.Abs(float64(sim1[i]-want1[i])) > 1e-6 {
			t.Fatalf("row %d: sims (%v, %v), want (%v, %v)", i, sim0[i], sim1[i], want0[i], want1[i])
		}
	}
}

func TestResolveDensePreFilterKeepsAlignment(t *testing.T) {
	d := resolveDataset(t, nil)
	req := &Request{
		Dataset:       "posts",
		Queries:       []string{"a"},
		PreFilterClip: map[string]Clip{"votes": {Min: 5, Max: 20}},
	}
	got, _, err := Resolve(context.Background(), d, req, [][]float32{{1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 3 {
		t.Fatalf("rows: got %d, want 3", got.Len())
	}
	// Row id=1 was filtered out, so the survivors' similarities must be
	// those of rows 2, 3, 4, not a shifted window.
	ids, _ := got.Col("id")
	sims := f32s(t, got, "sim0")
	want := map[uint32]float32{2: 0, 3: 0.6, 4: -1}
	for i := 0; i < got.Len(); i++ {
		id := ids.Uint32Values()[i]
		if math.Abs(float64(sims[i]-want[id])) > 1e-6 {
			t.Fatalf("id %d: sim %v, want %v", id, sims[i], want[id])
		}
	}
}

func TestResolvePreFilterStringColumn(t *testing.T) {
	tbl := table.New(2)
	set(t, tbl, "id", table.Uint32s([]uint32{1, 2}))
	set(t, tbl, "ts_day", table.Float64s([]float64{10, 20}))
	set(t, tbl, "title", table.Strings([]string{"a", "b"}))
	d, err := dataset.NewInMemory("posts", tbl, []float32{1, 0, 0, 1}, 2, dataset.Bounds{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	req := &Request{
		Dataset:       "posts",
		PreFilterClip: map[string]Clip{"title": {Min: 0, Max: 1}},
	}
	_, _, err = Resolve(context.Background(), d, req, nil)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("got %v", err)
	}
	if errors.Is(err, domain.ErrUnknownColumn) {
		t.Fatalf("string column reported as unknown: %v", err)
	}
}

func TestResolveNoQueries(t *testing.T) {
	d := resolveDataset(t, nil)
	req := &Request{
		Dataset:       "posts",
		PreFilterClip: map[string]Clip{"votes": {Min: 0, Max: 5}},
	}
	got, simCols, err := Resolve(context.Background(), d, req, nil)
	if err != nil {
		t.Fatal(err)
	}
	if simCols != nil {
		t.Fatalf("sim cols without queries: %v", simCols)
	}
	if got.Len() != 2 {
		t.Fatalf("rows: got %d, want 2", got.Len())
	}
	// The result is a copy; deriving columns on it must not touch the
	// dataset's own table.
	set(t, got, "scratch", table.Float64s([]float64{0, 0}))
	if d.Table.Has("scratch") {
		t.Fatal("result aliases the dataset table")
	}
}

func TestResolveANNUnionAndZeroFill(t *testing.T) {
	k := 2
	idx := &stubIndex{hits: [][]ann.Result{
		{{ID: 1, Distance: 0}, {ID: 3, Distance: 0.4}},
		{{ID: 2, Distance: 0}, {ID: 99, Distance: 0.1}},
	}}
	d := resolveDataset(t, idx)
	req := &Request{Dataset: "posts", Queries: []string{"a", "b"}, PreFilterANN: &k}
	got, simCols, err := Resolve(context.Background(), d, req, [][]float32{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if idx.k != k {
		t.Fatalf("index queried with k=%d, want %d", idx.k, k)
	}
	// Union of hits is ids 1, 2, 3; id 99 is unknown to the table and
	// dropped. A row missing from one query's top-K scores 0 for it.
	if got.Len() != 3 {
		t.Fatalf("rows: got %d, want 3", got.Len())
	}
	ids, _ := got.Col("id")
	sim0 := f32s(t, got, simCols[0])
	sim1 := f32s(t, got, simCols[1])
	want := map[uint32][2]float32{
		1: {1, 0},
		2: {0, 1},
		3: {0.6, 0},
	}
	for i := 0; i < got.Len(); i++ {
		id := ids.Uint32Values()[i]
		w := want[id]
		if math.Abs(float64(sim0[i]-w[0])) > 1e-6 || math.Abs(float64(sim1[i]-w[1])) > 1e-6 {
			t.Fatalf("id %d: sims (%v, %v), want %v", id, sim0[i], sim1[i], w)
		}
	}
}

func TestResolveANNRowsSubsetOfDense(t *testing.T) {
	// The stub returns each vector's true nearest neighbors, so the ANN
	// resolution must surface a subset of the rows the dense resolution
	// keeps under the same pre-filter.
	k := 2
	idx := &stubIndex{hits: [][]ann.Result{
		{{ID: 1, Distance: 0}, {ID: 3, Distance: 0.4}},
		{{ID: 2, Distance: 0}, {ID: 3, Distance: 0.2}},
	}}
	vectors := [][]float32{{1, 0}, {0, 1}}
	clip := map[string]Clip{"votes": {Min: 5, Max: 20}}

	dense, _, err := Resolve(context.Background(), resolveDataset(t, nil),
		&Request{Dataset: "posts", Queries: []string{"a", "b"}, PreFilterClip: clip}, vectors)
	if err != nil {
		t.Fatal(err)
	}
	approx, _, err := Resolve(context.Background(), resolveDataset(t, idx),
		&Request{Dataset: "posts", Queries: []string{"a", "b"}, PreFilterANN: &k, PreFilterClip: clip}, vectors)
	if err != nil {
		t.Fatal(err)
	}

	denseIDs := make(map[uint32]bool)
	col, _ := dense.Col("id")
	for _, id := range col.Uint32Values() {
		denseIDs[id] = true
	}
	col, _ = approx.Col("id")
	for _, id := range col.Uint32Values() {
		if !denseIDs[id] {
			t.Fatalf("ann row id=%d absent from dense resolution", id)
		}
	}
	if approx.Len() == 0 {
		t.Fatal("ann resolution kept no rows")
	}
}

func TestResolveANNWithoutIndex(t *testing.T) {
	k := 10
	d := resolveDataset(t, nil)
	req := &Request{Dataset: "posts", Queries: []string{"a"}, PreFilterANN: &k}
	_, _, err := Resolve(context.Background(), d, req, [][]float32{{1, 0}})
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("got %v", err)
	}
}

func TestResolveVectorCountMismatch(t *testing.T) {
	d := resolveDataset(t, nil)
	req := &Request{Dataset: "posts", Queries: []string{"a", "b"}}
	if _, _, err := Resolve(context.Background(), d, req, [][]float32{{1, 0}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolveThenRun(t *testing.T) {
	d := resolveDataset(t, nil)
	req := &Request{
		Dataset: "posts",
		Queries: []string{"a"},
		Scales:  map[string]Clip{"votes": {Min: 0, Max: 20}},
		Weights: map[string]Weight{
			"sim":          {Value: 1},
			"votes_scaled": {Value: 0.5},
		},
	}
	resolved, simCols, err := Resolve(context.Background(), d, req, [][]float32{{1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Run(resolved, simCols, req, day(40))
	if err != nil {
		t.Fatal(err)
	}
	// id=1: sim 1 + 0.5*0 = 1; id=4: sim -1 + 0.5*1 = -0.5. ts_norm is
	// derived but unweighted so it does not move the score.
	scores := f32s(t, got, "final_score")
	want := []float32{1, 0.125, 0.85, -0.5}
	for i, w := range want {
		if math.Abs(float64(scores[i]-w)) > 1e-6 {
			t.Fatalf("row %d: final_score %v, want %v", i, scores[i], w)
		}
	}
}
