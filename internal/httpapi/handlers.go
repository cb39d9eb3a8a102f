// Package httpapi is a thin HTTP front end for the storage core: a
// handful of get/put/delete-by-key routes that call straight into
// kvstore.Store. No JSON schema validation or authorization logic
// lives here — the permission token, if any, is passed through
// untouched.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"seacooler/internal/kvstore"
	"seacooler/internal/xerr"
)

// Server wires a kvstore.Store to a small set of REST routes. It holds
// no package-level mutable state; each instance is constructed once
// in cmd/seacoolerd and injected.
type Server struct {
	store  *kvstore.Store
	logger *log.Logger
	router *mux.Router
}

// New builds a Server with its routes registered.
func New(store *kvstore.Store, logger *log.Logger) *Server {
	s := &Server{store: store, logger: logger, router: mux.NewRouter()}
	s.router.HandleFunc("/v1/keys/{key}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/keys/{key}", s.handlePut).Methods(http.MethodPut)
	s.router.HandleFunc("/v1/keys/{key}", s.handleDelete).Methods(http.MethodDelete)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	value, ok, err := s.store.Select(key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(value)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	value, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := s.store.Insert(key, value); err != nil {
		if err := s.store.Update(key, value); err != nil {
			s.writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.store.Delete(key); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Printf("httpapi: %v", err)

	status := http.StatusInternalServerError
	var xe *xerr.Error
	if errors.As(err, &xe) {
		switch xe.Kind {
		case xerr.Capacity:
			status = http.StatusBadRequest
		case xerr.Logic:
			status = http.StatusConflict
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
