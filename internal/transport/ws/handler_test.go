package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/query"
)

// --- Mocks ---

type mockQueries struct {
	fn func(req *query.Request) ([]byte, error)
}

func (m *mockQueries) Query(_ context.Context, req *query.Request) ([]byte, error) {
	return m.fn(req)
}

func dial(t *testing.T, q QueryRunner) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewHandler(q, zap.NewNop()))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func send(t *testing.T, conn *websocket.Conn, id int64, req *query.Request) {
	t.Helper()
	input, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := msgpack.Marshal(&queryEnvelope{ID: id, Input: input})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		t.Fatal(err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) resultEnvelope {
	t.Helper()
	kind, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got %d", kind)
	}
	var env resultEnvelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	return env
}

// --- Tests ---

func TestRoundTrip(t *testing.T) {
	q := &mockQueries{fn: func(req *query.Request) ([]byte, error) {
		if req.Dataset != "posts" {
			t.Errorf("expected dataset posts, got %q", req.Dataset)
		}
		return []byte{0xAA, 0xBB}, nil
	}}
	conn := dial(t, q)

	send(t, conn, 7, &query.Request{Dataset: "posts"})
	env := recv(t, conn)

	if env.ID != 7 {
		t.Errorf("expected id 7, got %d", env.ID)
	}
	if env.Error != nil {
		t.Fatalf("unexpected error: %+v", env.Error)
	}
	if string(env.Output) != "\xaa\xbb" {
		t.Errorf("unexpected output: %v", env.Output)
	}
}

func TestDomainErrorEnvelope(t *testing.T) {
	q := &mockQueries{fn: func(*query.Request) ([]byte, error) {
		return nil, domain.ErrNotFound
	}}
	conn := dial(t, q)

	send(t, conn, 3, &query.Request{Dataset: "missing"})
	env := recv(t, conn)

	if env.ID != 3 {
		t.Errorf("expected id 3, got %d", env.ID)
	}
	if env.Error == nil || env.Error.Code != "dataset_not_found" {
		t.Fatalf("expected dataset_not_found, got %+v", env.Error)
	}
}

func TestMalformedInputEchoesID(t *testing.T) {
	q := &mockQueries{fn: func(*query.Request) ([]byte, error) {
		t.Error("query must not run for malformed input")
		return nil, nil
	}}
	conn := dial(t, q)

	raw, err := msgpack.Marshal(&queryEnvelope{ID: 11, Input: []byte(`{"dataset":`)})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		t.Fatal(err)
	}

	env := recv(t, conn)
	if env.ID != 11 {
		t.Errorf("expected id 11, got %d", env.ID)
	}
	if env.Error == nil || env.Error.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %+v", env.Error)
	}
}

func TestMultiplexedQueries(t *testing.T) {
	release := make(chan struct{})
	q := &mockQueries{fn: func(req *query.Request) ([]byte, error) {
		if req.Dataset == "slow" {
			<-release
		}
		return []byte(req.Dataset), nil
	}}
	conn := dial(t, q)

	send(t, conn, 1, &query.Request{Dataset: "slow"})
	send(t, conn, 2, &query.Request{Dataset: "fast"})

	first := recv(t, conn)
	if first.ID != 2 || string(first.Output) != "fast" {
		t.Fatalf("expected fast query to finish first, got id=%d output=%q", first.ID, first.Output)
	}

	close(release)
	second := recv(t, conn)
	if second.ID != 1 || string(second.Output) != "slow" {
		t.Fatalf("expected slow query second, got id=%d output=%q", second.ID, second.Output)
	}
}

func TestQueryPanicKeepsConnectionAlive(t *testing.T) {
	q := &mockQueries{fn: func(req *query.Request) ([]byte, error) {
		if req.Dataset == "boom" {
			panic("column kind mismatch")
		}
		return []byte("ok"), nil
	}}
	conn := dial(t, q)

	send(t, conn, 1, &query.Request{Dataset: "boom"})
	env := recv(t, conn)
	if env.ID != 1 {
		t.Errorf("expected id 1, got %d", env.ID)
	}
	if env.Error == nil || env.Error.Code != "internal_error" {
		t.Fatalf("expected internal_error, got %+v", env.Error)
	}
	if env.Error.Message != "internal error" {
		t.Errorf("panic detail leaked: %q", env.Error.Message)
	}

	// The connection must survive the panic and keep serving.
	send(t, conn, 2, &query.Request{Dataset: "posts"})
	env = recv(t, conn)
	if env.ID != 2 || env.Error != nil || string(env.Output) != "ok" {
		t.Fatalf("connection dead after panic: %+v", env)
	}
}

func TestInternalErrorHidden(t *testing.T) {
	q := &mockQueries{fn: func(*query.Request) ([]byte, error) {
		return nil, context.DeadlineExceeded
	}}
	conn := dial(t, q)

	send(t, conn, 5, &query.Request{})
	env := recv(t, conn)

	if env.Error == nil || env.Error.Code != "internal_error" {
		t.Fatalf("expected internal_error, got %+v", env.Error)
	}
	if env.Error.Message != "internal error" {
		t.Errorf("internal detail leaked: %q", env.Error.Message)
	}
}
