package ann

import (
	"context"
	"fmt"

	"github.com/hupe1980/vecgo"
	"github.com/hupe1980/vecgo/index"
	"github.com/hupe1980/vecgo/index/hnsw"
)

// hnswM and hnswEF match the construction parameters used by the offline
// index builder. EF here is the search-time explore factor.
const (
	hnswM  = 32
	hnswEF = 128
)

// VecgoIndex adapts a vecgo HNSW database to the Index contract. The row
// id is stored as the per-vector payload, so internal vecgo ids never
// leak out.
type VecgoIndex struct {
	db *vecgo.Vecgo[uint32]
}

var _ Index = (*VecgoIndex)(nil)

// Open loads an index snapshot.
func Open(path string) (*VecgoIndex, error) {
	db, err := vecgo.NewFromFilename[uint32](path)
	if err != nil {
		return nil, fmt.Errorf("open ann snapshot %s: %w", path, err)
	}
	return &VecgoIndex{db: db}, nil
}

// Build constructs an in-memory HNSW index over the given vectors.
// ids[i] is stored as the payload for vectors[i]. Used by the offline
// index builder and by tests; the serving path uses Open.
func Build(ids []uint32, vectors [][]float32, dim int) (*VecgoIndex, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("build ann index: %d ids for %d vectors", len(ids), len(vectors))
	}
	_ = dim // dimension is inferred from the first inserted vector

	db := vecgo.NewHNSW[uint32](func(o *hnsw.Options) {
		o.M = hnswM
		o.EF = hnswEF
		o.DistanceType = index.DistanceTypeCosineSimilarity
	})

	for i, v := range vectors {
		if _, err := db.Insert(vecgo.VectorWithData[uint32]{Vector: v, Data: ids[i]}); err != nil {
			return nil, fmt.Errorf("insert vector for id %d: %w", ids[i], err)
		}
	}
	return &VecgoIndex{db: db}, nil
}

// Save writes an index snapshot that Open can load.
func (x *VecgoIndex) Save(path string) error {
	if err := x.db.SaveToFile(path); err != nil {
		return fmt.Errorf("save ann snapshot %s: %w", path, err)
	}
	return nil
}

// Query implements Index.
func (x *VecgoIndex) Query(ctx context.Context, vectors [][]float32, k int) ([][]Result, error) {
	out := make([][]Result, len(vectors))
	for i, v := range vectors {
		hits, err := x.db.KNNSearch(v, k, func(o *vecgo.KNNSearchOptions) {
			o.EF = hnswEF
		})
		if err != nil {
			return nil, fmt.Errorf("knn query %d: %w", i, err)
		}
		rs := make([]Result, len(hits))
		for j, h := range hits {
			rs[j] = Result{ID: h.Data, Distance: h.Distance}
		}
		out[i] = rs
	}
	return out, nil
}

// Close releases the snapshot.
func (x *VecgoIndex) Close() error {
	return nil
}
