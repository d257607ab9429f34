package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cwygoda/audiodrop/internal/artifact"
	"github.com/cwygoda/audiodrop/internal/domain"
	"github.com/cwygoda/audiodrop/internal/rangeserve"
)

const maxBodyBytes = 1 << 20

// Searcher selects ranked search results.
type Searcher interface {
	SelectBest(ctx context.Context, query string, maxResults int) ([]domain.SearchResult, error)
}

// Metrics records audio responses and exposes the metrics endpoint.
type Metrics interface {
	AudioServed(code int, bytes int64)
	Handler() http.Handler
}

// Config holds the HTTP listener settings.
type Config struct {
	Addr      string
	StaticDir string
	// RateLimit is requests per second for download and search; <= 0 disables it.
	RateLimit float64
	RateBurst int
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithSearch enables GET /search-song.
func WithSearch(search Searcher) Option {
	return func(s *Server) { s.search = search }
}

// WithMetrics records audio responses and serves GET /metrics.
func WithMetrics(m Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the HTTP adapter for the audio service.
type Server struct {
	svc     *domain.JobService
	store   *artifact.Store
	search  Searcher
	metrics Metrics
	limiter *rate.Limiter
	static  string

	mux     *http.ServeMux
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(svc *domain.JobService, store *artifact.Store, cfg Config, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		store:  store,
		static: cfg.StaticDir,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.routes()
	s.handler = logRequests(s.mux)
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.Handle("POST /download", s.rateLimit(http.HandlerFunc(s.handleDownload)))
	s.mux.HandleFunc("GET /get-audio-list", s.handleAudioList)
	s.mux.HandleFunc("GET /download-status", s.handleDownloadStatus)
	s.mux.HandleFunc("GET /audio/{filename}", s.handleAudio)
	s.mux.Handle("GET /search-song", s.rateLimit(http.HandlerFunc(s.handleSearch)))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.static != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.static)))
	}
}

// downloadRequest is the request body for POST /download.
type downloadRequest struct {
	URL string `json:"url"`
}

// songResponse is one entry of GET /get-audio-list.
type songResponse struct {
	Title           string  `json:"title"`
	Thumbnail       string  `json:"thumbnail"`
	Filename        string  `json:"filename"`
	Basename        string  `json:"basename"`
	PartialFilename *string `json:"partial_filename"`
	Status          string  `json:"status"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if _, err := s.svc.Submit(r.Context(), req.URL); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"success": "Download started"})
}

func (s *Server) handleAudioList(w http.ResponseWriter, r *http.Request) {
	jobs := s.svc.List(r.Context())
	songs := make([]songResponse, 0, len(jobs))
	for _, job := range jobs {
		// Jobs whose metadata never resolved have nothing to show.
		if job.Title == "" {
			continue
		}
		song := songResponse{
			Title:     job.Title,
			Thumbnail: job.Thumbnail,
			Filename:  job.Filename,
			Basename:  job.Basename,
			Status:    string(job.Status),
		}
		if name, ok := s.store.PartialFilename(job.Basename); ok {
			song.PartialFilename = &name
		}
		songs = append(songs, song)
	}
	s.writeJSON(w, http.StatusOK, map[string][]songResponse{"songs": songs})
}

func (s *Server) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	status, err := s.svc.GetStatus(r.Context(), url)
	if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	// A .part file can be renamed between Resolve and open; resolve again once.
	for attempt := 0; attempt < 2; attempt++ {
		path, err := s.store.Resolve(name)
		if err != nil {
			break
		}
		res, err := rangeserve.Serve(w, r, path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			log.Printf("serve audio %s: %v", name, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			s.audioServed(http.StatusInternalServerError, 0)
			return
		}
		s.audioServed(res.Status, res.Bytes)
		return
	}

	http.Error(w, "File not found", http.StatusNotFound)
	s.audioServed(http.StatusNotFound, 0)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("query"))
	if query == "" {
		s.writeDomainError(w, domain.ErrMissingQuery)
		return
	}
	if s.search == nil {
		s.writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}

	maxResults := 0
	if m := q.Get("max"); m != "" {
		n, err := strconv.Atoi(m)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid max")
			return
		}
		maxResults = n
	}

	results, err := s.search.SelectBest(r.Context(), query, maxResults)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) audioServed(code int, bytes int64) {
	if s.metrics != nil {
		s.metrics.AudioServed(code, bytes)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps domain errors to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMissingURL):
		s.writeError(w, http.StatusBadRequest, "Missing URL")
	case errors.Is(err, domain.ErrInvalidURL):
		s.writeError(w, http.StatusBadRequest, "Invalid URL")
	case errors.Is(err, domain.ErrMissingQuery):
		s.writeError(w, http.StatusBadRequest, "Missing query")
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, artifact.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrDuplicateJob):
		s.writeError(w, http.StatusConflict, "Download already submitted")
	case errors.Is(err, domain.ErrQueueFull):
		s.writeError(w, http.StatusServiceUnavailable, "Download queue is full, try again later")
	default:
		log.Printf("request error: %v", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
