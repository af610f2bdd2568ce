// Package ws serves queries over a websocket. One connection multiplexes
// many in-flight queries: clients tag each request with an id and match
// responses by it, so slow queries never block fast ones.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/query"
)

// maxMessageSize bounds inbound frames. Requests are small control
// structures; results can be large but flow the other way.
const maxMessageSize = 1 << 20

// QueryRunner executes one recommendation query.
type QueryRunner interface {
	Query(ctx context.Context, req *query.Request) ([]byte, error)
}

// queryEnvelope is one inbound frame: a msgpack map carrying the request
// id and the JSON-encoded query payload.
type queryEnvelope struct {
	ID    int64  `msgpack:"id"`
	Input []byte `msgpack:"input"`
}

// resultEnvelope is one outbound frame. Exactly one of Output and Error
// is set.
type resultEnvelope struct {
	ID     int64      `msgpack:"id"`
	Output []byte     `msgpack:"output,omitempty"`
	Error  *wireError `msgpack:"error,omitempty"`
}

type wireError struct {
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

// Handler upgrades HTTP requests to websocket query connections.
type Handler struct {
	queries  QueryRunner
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket query handler.
func NewHandler(queries QueryRunner, logger *zap.Logger) *Handler {
	return &Handler{
		queries: queries,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ServeHTTP handles GET /ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.serve(r.Context(), conn)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	// gorilla allows one concurrent writer per connection.
	var wg sync.WaitGroup
	var writeMu sync.Mutex

	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			break
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		var env queryEnvelope
		if err := msgpack.Unmarshal(raw, &env); err != nil {
			h.write(conn, &writeMu, &resultEnvelope{
				Error: &wireError{Code: "bad_request", Message: "malformed envelope"},
			})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			h.write(conn, &writeMu, h.run(ctx, &env))
		}()
	}
	wg.Wait()
}

// run executes one query and builds its response envelope. It runs in
// a bare goroutine, so a panicking query must not escape: it would tear
// down the whole process, not just this connection.
func (h *Handler) run(ctx context.Context, env *queryEnvelope) (res *resultEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("query panicked", zap.Int64("request_id", env.ID), zap.Any("panic", r), zap.Stack("stack"))
			res = &resultEnvelope{ID: env.ID, Error: &wireError{
				Code:    "internal_error",
				Message: "internal error",
			}}
		}
	}()

	var req query.Request
	if err := json.Unmarshal(env.Input, &req); err != nil {
		return &resultEnvelope{ID: env.ID, Error: &wireError{
			Code:    "bad_request",
			Message: "invalid request body: " + err.Error(),
		}}
	}

	out, err := h.queries.Query(ctx, &req)
	if err != nil {
		return &resultEnvelope{ID: env.ID, Error: errorToWire(err)}
	}
	// A query can legitimately produce zero bytes only if outputs is
	// empty, which validation rejects; out is always non-nil here.
	return &resultEnvelope{ID: env.ID, Output: out}
}

func (h *Handler) write(conn *websocket.Conn, mu *sync.Mutex, env *resultEnvelope) {
	raw, err := msgpack.Marshal(env)
	if err != nil {
		h.logger.Error("encode response envelope", zap.Error(err))
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		h.logger.Warn("websocket write failed", zap.Error(err))
	}
}

// errorToWire maps domain errors to wire codes, hiding internals.
func errorToWire(err error) *wireError {
	var uc *domain.UnknownColumnError
	if errors.As(err, &uc) {
		return &wireError{Code: "unknown_column", Message: uc.Error()}
	}
	for _, m := range []struct {
		sentinel error
		code     string
	}{
		{domain.ErrNotFound, "dataset_not_found"},
		{domain.ErrUnknownColumn, "unknown_column"},
		{domain.ErrInvalidRequest, "invalid_request"},
		{domain.ErrInvalidClip, "invalid_clip"},
		{domain.ErrIndexUnavailable, "index_unavailable"},
		{domain.ErrCorruptData, "corrupt_dataset"},
		{domain.ErrRateLimited, "rate_limited"},
		{domain.ErrEmbeddingQuotaExceeded, "embedding_quota_exceeded"},
		{domain.ErrEmbeddingProviderError, "embedding_provider_error"},
	} {
		if errors.Is(err, m.sentinel) {
			return &wireError{Code: m.code, Message: m.sentinel.Error()}
		}
	}
	return &wireError{Code: "internal_error", Message: "internal error"}
}
