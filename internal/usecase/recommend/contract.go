package recommend

import "github.com/aurelle-dev/threadlens/internal/dataset"

// DatasetProvider resolves a dataset name to its loaded snapshot and the
// embedder its vectors were built with.
type DatasetProvider interface {
	Get(name string) (dataset.Entry, error)
}
