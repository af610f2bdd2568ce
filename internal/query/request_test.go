package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/output"
)

func validRequest() *Request {
	return &Request{
		Dataset: "posts",
		Queries: []string{"rust async runtimes"},
		Outputs: []output.Spec{{Items: &output.Items{}}},
	}
}

func TestRequestJSONWeights(t *testing.T) {
	raw := `{
		"dataset": "posts",
		"queries": ["q"],
		"weights": {"sim": 1.5, "votes_scaled": "ts_norm"},
		"outputs": [{"items": {}}]
	}`
	var r Request
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatal(err)
	}
	if w := r.Weights["sim"]; w.Column != "" || w.Value != 1.5 {
		t.Fatalf("literal weight: got %+v", w)
	}
	if w := r.Weights["votes_scaled"]; w.Column != "ts_norm" {
		t.Fatalf("column weight: got %+v", w)
	}

	out, err := json.Marshal(Weight{Column: "ts_norm"})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"ts_norm"` {
		t.Fatalf("marshal column weight: got %s", out)
	}
}

func TestRequestDefaults(t *testing.T) {
	r := validRequest()
	if got := r.EffectiveTsDecay(); got != 0.1 {
		t.Fatalf("ts_decay default: got %v", got)
	}
	if got := r.EffectiveSimAgg(); got != SimAggMean {
		t.Fatalf("sim_agg default: got %v", got)
	}
	zero := 0.0
	r.TsDecay = &zero
	if got := r.EffectiveTsDecay(); got != 0 {
		t.Fatalf("explicit zero decay: got %v", got)
	}
}

func TestRequestValidate(t *testing.T) {
	if err := validRequest().Validate(); err != nil {
		t.Fatal(err)
	}

	for name, tc := range map[string]struct {
		mut  func(*Request)
		want error
	}{
		"missing dataset":   {func(r *Request) { r.Dataset = "" }, domain.ErrInvalidRequest},
		"too many queries":  {func(r *Request) { r.Queries = []string{"a", "b", "c", "d"} }, domain.ErrInvalidRequest},
		"empty query":       {func(r *Request) { r.Queries = []string{""} }, domain.ErrInvalidRequest},
		"oversized query":   {func(r *Request) { r.Queries = []string{strings.Repeat("q", MaxQueryLen+1)} }, domain.ErrInvalidRequest},
		"bad sim_agg":       {func(r *Request) { r.SimAgg = "median" }, domain.ErrInvalidRequest},
		"negative decay":    {func(r *Request) { d := -1.0; r.TsDecay = &d }, domain.ErrInvalidRequest},
		"zero ann k":        {func(r *Request) { k := 0; r.PreFilterANN = &k }, domain.ErrInvalidRequest},
		"degenerate scale":  {func(r *Request) { r.Scales = map[string]Clip{"votes": {Min: 1, Max: 1}} }, domain.ErrInvalidClip},
		"inverted prefilter": {
			func(r *Request) { r.PreFilterClip = map[string]Clip{"votes": {Min: 2, Max: 1}} },
			domain.ErrInvalidClip,
		},
		"inverted postfilter": {
			func(r *Request) { r.PostFilterClip = map[string]Clip{"votes": {Min: 2, Max: 1}} },
			domain.ErrInvalidClip,
		},
		"no outputs": {func(r *Request) { r.Outputs = nil }, domain.ErrInvalidRequest},
		"too many outputs": {
			func(r *Request) {
				r.Outputs = make([]output.Spec, MaxOutputs+1)
				for i := range r.Outputs {
					r.Outputs[i] = output.Spec{Items: &output.Items{}}
				}
			},
			domain.ErrInvalidRequest,
		},
		"empty output": {func(r *Request) { r.Outputs = []output.Spec{{}} }, domain.ErrInvalidRequest},
	} {
		r := validRequest()
		tc.mut(r)
		if err := r.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", name, err, tc.want)
		}
	}
}

func TestRequestEqualityFilterAllowed(t *testing.T) {
	r := validRequest()
	r.PreFilterClip = map[string]Clip{"votes": {Min: 3, Max: 3}}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
}
