package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
)

// FakeServer is an in-memory notebook collaborator for tests, grounded
// on ricochet1k-orbitmesh's go-chi router usage. It backs CreateNotebook
// /GetNotebook/ForkNotebook/DeleteNotebook with an in-memory map so
// client-side tests don't need a live collaborator.
type FakeServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	nextID  int
	records map[string]*Notebook
}

// NewFakeServer starts a FakeServer listening on an ephemeral local port.
func NewFakeServer() *FakeServer {
	f := &FakeServer{records: make(map[string]*Notebook)}

	r := chi.NewRouter()
	r.Post("/notebook", f.handleCreate)
	r.Get("/notebook/{id}", f.handleGet)
	r.Post("/notebook/{id}/fork", f.handleFork)
	r.Delete("/notebook/{id}", f.handleDelete)

	f.srv = httptest.NewServer(r)
	return f
}

// URL is the fake server's base URL, suitable for httpapi.New.
func (f *FakeServer) URL() string { return f.srv.URL }

// Close shuts the fake server down.
func (f *FakeServer) Close() { f.srv.Close() }

func (f *FakeServer) allocID() string {
	f.nextID++
	return "nb_" + strconv.Itoa(f.nextID)
}

func (f *FakeServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var opts CreateOptions
	_ = json.NewDecoder(r.Body).Decode(&opts)

	f.mu.Lock()
	nb := &Notebook{ID: f.allocID(), Status: "running", Env: opts.Env}
	f.records[nb.ID] = nb
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, nb)
}

func (f *FakeServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	f.mu.Lock()
	nb, ok := f.records[id]
	f.mu.Unlock()

	if !ok {
		http.Error(w, "notebook not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

func (f *FakeServer) handleFork(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	f.mu.Lock()
	src, ok := f.records[id]
	var fork *Notebook
	if ok {
		fork = &Notebook{ID: f.allocID(), Status: "running", Env: src.Env}
		f.records[fork.ID] = fork
	}
	f.mu.Unlock()

	if !ok {
		http.Error(w, "notebook not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, fork)
}

func (f *FakeServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	f.mu.Lock()
	_, ok := f.records[id]
	delete(f.records, id)
	f.mu.Unlock()

	if !ok {
		http.Error(w, "notebook not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
