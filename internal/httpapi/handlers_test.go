package httpapi

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"seacooler/internal/kvstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	store, err := kvstore.Open(kvstore.Config{
		Dir:           dir,
		Key:           []byte("0123456789abcdef"),
		FilterN:       1024,
		FilterEpsilon: 0.02,
		Workers:       1,
	})
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, log.Default())
}

func TestPutThenGet(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/keys/alice", bytes.NewBufferString("hello"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/keys/alice", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String()[:len("hello")]; got != "hello" {
		t.Fatalf("GET body = %q, want prefix hello", got)
	}
}

func TestGetMissingKeyIs404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/keys/nope", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestPutThenDeleteThenGet(t *testing.T) {
	s := newTestServer(t)

	put := httptest.NewRequest(http.MethodPut, "/v1/keys/bob", bytes.NewBufferString("v"))
	s.ServeHTTP(httptest.NewRecorder(), put)

	del := httptest.NewRequest(http.MethodDelete, "/v1/keys/bob", nil)
	recDel := httptest.NewRecorder()
	s.ServeHTTP(recDel, del)
	if recDel.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", recDel.Code, http.StatusNoContent)
	}

	get := httptest.NewRequest(http.MethodGet, "/v1/keys/bob", nil)
	recGet := httptest.NewRecorder()
	s.ServeHTTP(recGet, get)
	if recGet.Code != http.StatusNotFound {
		t.Fatalf("GET after delete status = %d, want %d", recGet.Code, http.StatusNotFound)
	}
}

func TestPutTwiceUpdatesValue(t *testing.T) {
	s := newTestServer(t)

	first := httptest.NewRequest(http.MethodPut, "/v1/keys/carol", bytes.NewBufferString("v1"))
	s.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPut, "/v1/keys/carol", bytes.NewBufferString("v2longer"))
	recSecond := httptest.NewRecorder()
	s.ServeHTTP(recSecond, second)
	if recSecond.Code != http.StatusNoContent {
		t.Fatalf("second PUT status = %d, want %d", recSecond.Code, http.StatusNoContent)
	}

	get := httptest.NewRequest(http.MethodGet, "/v1/keys/carol", nil)
	recGet := httptest.NewRecorder()
	s.ServeHTTP(recGet, get)
	if got := recGet.Body.String()[:len("v2longer")]; got != "v2longer" {
		t.Fatalf("GET body = %q, want prefix v2longer", got)
	}
}
