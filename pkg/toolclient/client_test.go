package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tools", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tools": [
			{"name": "resolve_datetime", "description": "resolves datetimes", "parameters": {"type": "object"}},
			{"name": "get_weather", "description": "fetches weather", "parameters": {"type": "object"}}
		]}`)
	})
	mux.HandleFunc("/v1/tools/resolve_datetime", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result": {"parsable": true}}`)
	})
	mux.HandleFunc("/v1/tools/get_weather", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error": {"code": "tool_runtime_error", "message": "unknown location \"Tatooine\""}}`)
	})
	mux.HandleFunc("/v1/tools/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"code": "invalid_tool_call", "message": "unknown tool"}}`)
	})
	return httptest.NewServer(mux)
}

func TestListTools(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()

	c := New(srv.URL)
	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name != "resolve_datetime" || tools[1].Name != "get_weather" {
		t.Errorf("unexpected catalog order: %+v", tools)
	}
}

func TestListToolsCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `{"tools": []}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.ListTools(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected 1 catalog fetch, got %d", n)
	}

	c.Invalidate()
	if _, err := c.ListTools(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("expected 2 catalog fetches after Invalidate, got %d", n)
	}
}

func TestInvoke(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.Invoke(context.Background(), "resolve_datetime", json.RawMessage(`{"start": {"mode": "now"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		Parsable bool `json:"parsable"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !out.Parsable {
		t.Error("expected parsable result")
	}
}

func TestInvokeRuntimeErrorPassthrough(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Invoke(context.Background(), "get_weather", json.RawMessage(`{"location": "Tatooine"}`))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	ce, ok := err.(*CallError)
	if !ok {
		t.Fatalf("expected *CallError, got %T", err)
	}
	if ce.Code != v1alpha1.ToolErrRuntimeError {
		t.Errorf("expected code %s, got %s", v1alpha1.ToolErrRuntimeError, ce.Code)
	}
	if ce.Message != `unknown location "Tatooine"` {
		t.Errorf("provider message must pass through unchanged, got %q", ce.Message)
	}
	if Unreachable(err) {
		t.Error("runtime errors must not be classified as unreachable")
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Invoke(context.Background(), "nonexistent", nil)
	ce, ok := err.(*CallError)
	if !ok {
		t.Fatalf("expected *CallError, got %T", err)
	}
	if ce.Code != v1alpha1.ToolErrInvalidCall {
		t.Errorf("expected code %s, got %s", v1alpha1.ToolErrInvalidCall, ce.Code)
	}
}

func TestInvokeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing is listening

	c := New(srv.URL)
	_, err := c.Invoke(context.Background(), "resolve_datetime", nil)
	if !Unreachable(err) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}

func TestInvokeRetriesUnreachable(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			// Drop the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack failed: %v", err)
			}
			conn.Close()
			return
		}
		fmt.Fprint(w, `{"result": {"ok": true}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetries(3), WithRetryBackoff(time.Millisecond))
	result, err := c.Invoke(context.Background(), "resolve_datetime", nil)
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	if string(result) != `{"ok": true}` {
		t.Errorf("unexpected result: %s", result)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestInvokeDoesNotRetryRuntimeErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error": {"code": "tool_runtime_error", "message": "boom"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetries(3), WithRetryBackoff(time.Millisecond))
	_, err := c.Invoke(context.Background(), "resolve_datetime", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("runtime errors must not be retried, got %d attempts", n)
	}
}
