package controlplane

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/logger"
)

// Server accepts worker requests on a loopback port and queues them for
// the master loop.
type Server struct {
	requests chan *Request
	gatherer prometheus.Gatherer
	log      logger.Logger

	listener net.Listener
	srv      *http.Server
}

// NewServer creates a server. Metrics are served from gatherer, or from
// the default registry when it is nil.
func NewServer(gatherer prometheus.Gatherer, log logger.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Server{
		requests: make(chan *Request),
		gatherer: gatherer,
		log:      log,
	}
}

// Requests delivers every load, save and proxy call. Each must be answered
// with Handle or Respond.
func (s *Server) Requests() <-chan *Request {
	return s.requests
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle(PathMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Use(requireProtocol)
		r.Post("/load", s.handleLoad)
		r.Post("/save", s.handleSave)
		r.Post("/proxy", s.handleProxy)
	})
	return r
}

// Start listens on an ephemeral loopback port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrControl,
			"Can't start the control plane",
			"Use --in-process to run workers without it")
	}
	s.listener = ln
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.log.Error("control plane stopped: %v", err)
		}
	}()
	s.log.Debug("control plane listening on %s", s.URL())
	return nil
}

// URL is the base URL workers connect to. Empty before Start.
func (s *Server) URL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Close stops the server.
func (s *Server) Close(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func requireProtocol(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Header.Get(ProtocolHeader); v != ProtocolVersion {
			writeError(w, http.StatusBadRequest, errors.New(errors.ErrControl,
				fmt.Sprintf("Unsupported control protocol %q, expected %q", v, ProtocolVersion),
				"The master and worker binaries differ; rebuild shipit"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	req := newRequest(KindLoad)
	req.Load = &LoadRequest{}
	if !decode(w, r, req.Load) {
		return
	}
	if resp, ok := s.roundTrip(w, r, req); ok {
		writeJSON(w, http.StatusOK, resp.Load)
	}
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	req := newRequest(KindSave)
	req.Save = &SaveRequest{}
	if !decode(w, r, req.Save) {
		return
	}
	if _, ok := s.roundTrip(w, r, req); ok {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	req := newRequest(KindProxy)
	req.Proxy = &ProxyRequest{}
	if !decode(w, r, req.Proxy) {
		return
	}
	if resp, ok := s.roundTrip(w, r, req); ok {
		writeJSON(w, http.StatusOK, resp.Proxy)
	}
}

// roundTrip hands req to the master loop and waits for the answer.
func (s *Server) roundTrip(w http.ResponseWriter, r *http.Request, req *Request) (Response, bool) {
	s.log.Debug("control plane %s request", req.Kind)

	select {
	case s.requests <- req:
	case <-r.Context().Done():
		return Response{}, false
	}

	select {
	case resp := <-req.reply:
		if resp.Err != nil {
			writeError(w, http.StatusInternalServerError, resp.Err)
			return Response{}, false
		}
		return resp, true
	case <-r.Context().Done():
		return Response{}, false
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.WrapWithCode(err, errors.ErrControl, "Invalid request body", ""))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := ErrorResponse{Error: err.Error(), SoftStop: errors.IsSoftStop(err)}
	var stop *errors.SoftStop
	if stderrors.As(err, &stop) {
		resp.Error = stop.Reason
	}
	writeJSON(w, status, resp)
}
