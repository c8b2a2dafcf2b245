// Package httpserver serves the XRPC endpoints over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/blackmichael/bluesky-appview/internal/api"
	"github.com/blackmichael/bluesky-appview/internal/config"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/xrpcerr"
)

// HeaderRequestID carries the request ID assigned by the access log.
const HeaderRequestID = "X-Request-Id"

// Server is the HTTP server for the appview.
type Server struct {
	cfg        *config.Config
	routes     map[string]api.Handler
	logger     *slog.Logger
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server, *http.ServeMux)

// WithDataplane mounts a data plane handler at dataplane.PathPrefix.
func WithDataplane(h http.Handler) Option {
	return func(_ *Server, mux *http.ServeMux) {
		mux.Handle(dataplane.PathPrefix, h)
	}
}

// NewServer creates a new HTTP server over the given XRPC routes.
func NewServer(cfg *config.Config, routes map[string]api.Handler, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		routes: routes,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/did.json", s.handleDIDDoc)
	mux.HandleFunc("GET /xrpc/{nsid}", s.handleXRPC)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	for _, opt := range opts {
		opt(s, mux)
	}

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{api.HeaderContentLabelers, api.HeaderRepoRev, HeaderRequestID},
	}).Handler(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withAccessLog(logger, handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type didService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

type didDocument struct {
	Context []string     `json:"@context"`
	ID      string       `json:"id"`
	Service []didService `json:"service"`
}

// handleDIDDoc publishes the did:web document. The same endpoint serves
// both the appview and the keyword feeds.
func (s *Server) handleDIDDoc(w http.ResponseWriter, _ *http.Request) {
	endpoint := "https://" + s.cfg.Hostname
	s.respond(w, http.StatusOK, didDocument{
		Context: []string{"https://www.w3.org/ns/did/v1"},
		ID:      s.cfg.ServiceDID(),
		Service: []didService{
			{ID: "#bsky_appview", Type: "BskyAppView", ServiceEndpoint: endpoint},
			{ID: "#bsky_fg", Type: "BskyFeedGenerator", ServiceEndpoint: endpoint},
		},
	})
}

func (s *Server) handleXRPC(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("nsid")
	handler, ok := s.routes[method]
	if !ok {
		s.respondError(w, &xrpcerr.Error{Status: http.StatusNotImplemented, Name: "MethodNotImplemented", Message: "Method not implemented: " + method})
		return
	}

	req := api.Request{
		Query:    r.URL.Query(),
		Viewer:   r.Header.Get(s.cfg.ViewerHeader),
		Labelers: hydration.ParseLabelersHeader(r.Header.Get(api.HeaderAcceptLabelers)),
	}
	resp, err := handler(r.Context(), req)
	if err != nil {
		xe := xrpcerr.From(err)
		if xe.Status >= http.StatusInternalServerError {
			s.logger.Error("xrpc request failed",
				"method", method,
				"viewer", req.Viewer,
				"request_id", w.Header().Get(HeaderRequestID),
				"error", err,
			)
		}
		s.respondError(w, xe)
		return
	}

	for k, v := range resp.Headers {
		if v != "" {
			w.Header().Set(k, v)
		}
	}
	s.respond(w, http.StatusOK, resp.Body)
}

// respond writes v as the JSON body. Headers must be set before calling.
func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, xe *xrpcerr.Error) {
	s.respond(w, xe.Status, map[string]string{"error": xe.Name, "message": xe.Message})
}

// withAccessLog assigns each request an ID and logs it once served.
func withAccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration", time.Since(start),
			"request_id", id,
		)
	})
}

// recorder captures the status and size of a response.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}
