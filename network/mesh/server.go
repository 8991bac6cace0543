// Package mesh is the HTTP surface of a node: the client-facing game API
// and the peer endpoints of the 2PC mesh, on one port.
package mesh

import (
	"net/http"

	"cartas/configs"
	"cartas/eventbus"
	"cartas/network"
	"cartas/network/coordinator"
	"cartas/network/participant"
	"cartas/storage"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	store  storage.Store
	coord  *coordinator.Manager
	part   *participant.Manager
	bus    *eventbus.Bus
	router *mux.Router
}

func New(store storage.Store, coord *coordinator.Manager, part *participant.Manager, bus *eventbus.Bus) *Server {
	s := &Server{
		store:  store,
		coord:  coord,
		part:   part,
		bus:    bus,
		router: mux.NewRouter(),
	}
	s.mount()
	return s
}

func (s *Server) mount() {
	r := s.router

	// Client-facing API.
	r.HandleFunc("/", wrapHandler(s.handleStatus)).Methods(http.MethodGet)
	r.HandleFunc("/servidores", wrapHandler(s.handleServidores)).Methods(http.MethodGet)
	r.HandleFunc("/jogador/entrar", wrapHandler(s.handleEntrar)).Methods(http.MethodPost)
	r.HandleFunc("/inventario/{id_jogador}", wrapHandler(s.handleVerInventario)).Methods(http.MethodGet)
	r.HandleFunc("/pacote/abrir/{id_jogador}", wrapHandler(s.handleAbrirPacote)).Methods(http.MethodPost)
	r.HandleFunc("/inventario/troca/{id_jogador_a}/{id_jogador_b}",
		wrapHandler(s.handleTroca)).Methods(http.MethodPost)

	// Peer endpoints of the 2PC mesh.
	r.HandleFunc(network.EndpointPreparePacote, wrapHandler(s.handlePrepare)).Methods(http.MethodPost)
	r.HandleFunc(network.EndpointPrepareTroca, wrapHandler(s.handlePrepare)).Methods(http.MethodPost)
	r.HandleFunc(network.EndpointDecidePacote, wrapHandler(s.handleDecide)).Methods(http.MethodPost)
	r.HandleFunc(network.EndpointDecideTroca, wrapHandler(s.handleDecide)).Methods(http.MethodPost)

	// Server-to-server match plumbing.
	r.HandleFunc("/pareamento/solicitar", wrapHandler(s.handlePareamento)).Methods(http.MethodPost)
	r.HandleFunc("/partida/jogada", wrapHandler(s.handleJogada)).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler wraps the router with request logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return handlers.RecoveryHandler()(
		handlers.CombinedLoggingHandler(configs.Logger().Writer(), s.router))
}

// httpError carries the status code and the client-visible detail.
type httpError struct {
	status int
	detail string
}

func (e *httpError) Error() string {
	return e.detail
}

func errBadRequest(detail string) error {
	return &httpError{status: http.StatusBadRequest, detail: detail}
}

func errNotFound(detail string) error {
	return &httpError{status: http.StatusNotFound, detail: detail}
}

func errUnavailable(detail string) error {
	return &httpError{status: http.StatusServiceUnavailable, detail: detail}
}

func errInternal(detail string) error {
	return &httpError{status: http.StatusInternalServerError, detail: detail}
}

// wrapHandler adapts error-returning handlers. Errors leave as a JSON
// body {"detail": ...} with the mapped status code.
func wrapHandler(fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		status := http.StatusInternalServerError
		if he, ok := err.(*httpError); ok {
			status = he.status
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}
