package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"autoreply/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

func New() *Server {
	return &Server{Mux: mux.NewRouter()}
}

// Handler wraps the router with request metrics and access logging.
func (s *Server) Handler() http.Handler {
	s.Mux.Use(Metrics(observability.APIRequests))
	return Logging(s.Mux)
}
