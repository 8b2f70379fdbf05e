// Local API server for trying out volley suites and load plans without
// pointing at a real service. Serves a small in-memory orders API plus
// deterministic status and delay endpoints for threshold experiments.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"
)

type order struct {
	ID    int     `json:"id"`
	Item  string  `json:"item"`
	Total float64 `json:"total"`
	State string  `json:"state"`
}

type orderStore struct {
	mu     sync.Mutex
	nextID int
	orders map[int]order
}

func newOrderStore() *orderStore {
	s := &orderStore{nextID: 3, orders: map[int]order{
		1: {ID: 1, Item: "widget", Total: 9.50, State: "open"},
		2: {ID: 2, Item: "gadget", Total: 24.00, State: "shipped"},
	}}
	return s
}

func (s *orderStore) list() []order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]order, 0, len(s.orders))
	for id := 1; id < s.nextID; id++ {
		if o, ok := s.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func (s *orderStore) get(id int) (order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

func (s *orderStore) create(o order) order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.nextID
	if o.State == "" {
		o.State = "open"
	}
	s.nextID++
	s.orders[o.ID] = o
	return o
}

func (s *orderStore) delete(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return false
	}
	delete(s.orders, id)
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	runtime.GOMAXPROCS(runtime.NumCPU())

	store := newOrderStore()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	mux.HandleFunc("GET /orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"orders": store.list()})
	})

	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		var o order
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		writeJSON(w, http.StatusCreated, store.create(o))
	})

	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order id must be numeric"})
			return
		}
		o, ok := store.get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such order"})
			return
		}
		writeJSON(w, http.StatusOK, o)
	})

	mux.HandleFunc("DELETE /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil || !store.delete(id) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such order"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Responds with the requested status, no body work. Handy as a
	// load target with zero server-side variance.
	mux.HandleFunc("GET /status/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.PathValue("code"))
		if err != nil || code < 100 || code > 599 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status code must be 100-599"})
			return
		}
		w.WriteHeader(code)
		fmt.Fprint(w, http.StatusText(code))
	})

	// Sleeps for the given duration before answering, for timeout and
	// latency-threshold experiments, e.g. /delay/250ms.
	mux.HandleFunc("GET /delay/{d}", func(w http.ResponseWriter, r *http.Request) {
		d, err := time.ParseDuration(r.PathValue("d"))
		if err != nil || d < 0 || d > 30*time.Second {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "delay must be a duration up to 30s"})
			return
		}
		time.Sleep(d)
		writeJSON(w, http.StatusOK, map[string]string{"slept": d.String()})
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	log.Printf("volley test server listening on %s", *addr)
	log.Printf("using %d CPU cores", runtime.NumCPU())
	log.Printf("endpoints: /health /orders /orders/{id} /status/{code} /delay/{d}")

	if err := server.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
