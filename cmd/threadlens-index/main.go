// Command threadlens-index builds the ANN snapshot for a dataset so that
// index construction stays out of the serving path. It reads the table
// and embedding matrix from the snapshot directory and writes
// <name>-ann.vgo next to them.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/aurelle-dev/threadlens/internal/ann"
	"github.com/aurelle-dev/threadlens/internal/config"
	"github.com/aurelle-dev/threadlens/internal/dataset"
	logpkg "github.com/aurelle-dev/threadlens/internal/logger"
)

func main() {
	dir := flag.String("dir", "data", "snapshot directory")
	name := flag.String("name", "", "dataset name")
	flag.Parse()

	logger, err := logpkg.NewLogger(config.GetEnv())
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: threadlens-index -dir <dir> -name <dataset>")
		os.Exit(2)
	}

	if err := run(*dir, *name, logger); err != nil {
		logger.Fatal("Index build failed", zap.String("name", *name), zap.Error(err))
	}
}

func run(dir, name string, logger *zap.Logger) error {
	start := time.Now()

	d, err := dataset.Load(dir, name, dataset.LoadOptions{})
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	defer d.Close()

	idCol, ok := d.Table.Col("id")
	if !ok {
		return fmt.Errorf("dataset %s: missing id column", name)
	}
	ids := idCol.Uint32Values()

	vectors := make([][]float32, d.Table.Len())
	for i := range vectors {
		vectors[i] = d.EmbRow(i)
	}

	logger.Info("Building HNSW index",
		zap.String("name", name),
		zap.Int("rows", len(vectors)),
		zap.Int("emb_dim", d.EmbDim()),
	)

	idx, err := ann.Build(ids, vectors, d.EmbDim())
	if err != nil {
		return err
	}
	defer idx.Close()

	path := dataset.ANNPath(dir, name)
	if err := idx.Save(path); err != nil {
		return err
	}

	logger.Info("ANN snapshot written",
		zap.String("path", path),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
