package recommend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/metrics"
	"github.com/aurelle-dev/threadlens/internal/query"
)

// Service executes recommendation queries end to end: embed the query
// texts, resolve similarities against the dataset, run the scoring
// pipeline, and serialize the requested output blocks.
type Service struct {
	datasets DatasetProvider
	log      *zap.Logger
	now      func() time.Time
}

// New creates a query service.
func New(datasets DatasetProvider, log *zap.Logger) *Service {
	return &Service{datasets: datasets, log: log, now: time.Now}
}

// Query runs one request and returns the concatenated output blocks.
func (s *Service) Query(ctx context.Context, req *query.Request) ([]byte, error) {
	start := time.Now()
	out, err := s.query(ctx, req)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.QueryRequestsTotal.WithLabelValues(req.Dataset, status).Inc()
	if err == nil {
		metrics.QueryDuration.WithLabelValues(req.Dataset).Observe(time.Since(start).Seconds())
		metrics.QueryResponseBytes.WithLabelValues(req.Dataset).Observe(float64(len(out)))
	}
	return out, err
}

func (s *Service) query(ctx context.Context, req *query.Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	entry, err := s.datasets.Get(req.Dataset)
	if err != nil {
		return nil, err
	}

	vectors, tokens, err := s.embedQueries(ctx, entry.Embedder, req.Queries)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}

	t, simCols, err := query.Resolve(ctx, entry.Dataset, req, vectors)
	if err != nil {
		return nil, err
	}
	metrics.QueryCandidateRows.WithLabelValues(req.Dataset).Observe(float64(t.Len()))

	scored, err := query.Run(t, simCols, req, s.now())
	if err != nil {
		return nil, err
	}

	var out []byte
	for i := range req.Outputs {
		block, err := req.Outputs[i].Calculate(entry.Dataset, scored)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		out = append(out, block...)
	}

	s.log.Debug("query executed",
		zap.String("dataset", req.Dataset),
		zap.Int("queries", len(req.Queries)),
		zap.Int("tokens", tokens),
		zap.Int("candidate_rows", t.Len()),
		zap.Int("result_rows", scored.Len()),
		zap.Int("outputs", len(req.Outputs)),
		zap.Int("response_bytes", len(out)),
	)
	return out, nil
}

// embedQueries turns the query texts into unit vectors. Providers are
// expected to return normalized embeddings already; normalizing again is
// a no-op for those and corrects the ones that do not.
func (s *Service) embedQueries(ctx context.Context, embedder domain.Embedder, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}
	if embedder == nil {
		return nil, 0, fmt.Errorf("%w: dataset does not accept text queries", domain.ErrInvalidRequest)
	}
	res, err := embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, 0, err
	}
	if len(res.Embeddings) != len(texts) {
		return nil, 0, fmt.Errorf("%w: got %d embeddings for %d queries",
			domain.ErrEmbeddingProviderError, len(res.Embeddings), len(texts))
	}
	for _, v := range res.Embeddings {
		domain.Normalize(v)
	}
	return res.Embeddings, res.TotalTokens, nil
}
