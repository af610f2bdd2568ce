// Package ann wraps approximate nearest-neighbor search behind the small
// contract the query engine needs. Index construction is an offline
// concern; the serving path only opens snapshots.
package ann

import "context"

// Result is one neighbor: the row id stored with the vector and the
// distance reported by the index. For cosine-distance indexes over
// unit-normalized vectors, similarity is 1 - distance.
type Result struct {
	ID       uint32
	Distance float32
}

// Index answers batched top-k queries. Implementations must be safe for
// concurrent use; the serving layer shares one Index per dataset across
// all requests.
type Index interface {
	// Query returns up to k neighbors for each query vector, in the order
	// the vectors were given.
	Query(ctx context.Context, vectors [][]float32, k int) ([][]Result, error)
	Close() error
}
