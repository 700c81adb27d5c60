// Package devserver implements the docchat wire protocol in memory, for
// local development and end-to-end tests.
//
// Answers are lorem ipsum streamed word by word. A per-file message quota,
// a slow processing phase and malformed frames can be configured to
// exercise the client's failure paths.
package devserver

import (
	"net/http"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	docprom "github.com/fwojciec/docchat/prometheus"
)

const (
	// DefaultQuotaMessage is the 402 body text when the quota is exhausted.
	DefaultQuotaMessage = "Monthly message limit reached"
	// maxPageSize bounds the limit query parameter.
	maxPageSize = 50
)

var _ http.Handler = (*Server)(nil)

// Server is an in-memory docchat backend.
type Server struct {
	logger zerolog.Logger
	router chi.Router

	quota           int
	wordDelay       time.Duration
	malformedEvery  int
	processingPolls int
	registry        *prometheus.Registry
	answer          func(question string) string
	now             func() time.Time
	newID           func() string

	mu    sync.Mutex
	files map[string]*file
	order []string // file ids, oldest first
	lorem *loremgen.Lorem
}

// Option configures a Server.
type Option func(*Server)

// WithQuota limits each file to n questions. Zero means unlimited.
func WithQuota(n int) Option {
	return func(s *Server) { s.quota = n }
}

// WithWordDelay pauses between streamed words.
func WithWordDelay(d time.Duration) Option {
	return func(s *Server) { s.wordDelay = d }
}

// WithMalformedEvery writes an undecodable frame after every n words.
func WithMalformedEvery(n int) Option {
	return func(s *Server) { s.malformedEvery = n }
}

// WithProcessingPolls makes new files report PROCESSING for the first n
// status requests.
func WithProcessingPolls(n int) Option {
	return func(s *Server) { s.processingPolls = n }
}

// WithMetrics records request metrics on reg and serves it at /metrics.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithAnswerFunc replaces the lorem answer generator.
func WithAnswerFunc(fn func(question string) string) Option {
	return func(s *Server) { s.answer = fn }
}

// WithClock sets the time source for message timestamps and quota resets.
func WithClock(fn func() time.Time) Option {
	return func(s *Server) { s.now = fn }
}

// WithIDGenerator sets the id source for files and messages.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

// New creates a Server.
func New(logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
		files:  make(map[string]*file),
		lorem:  loremgen.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.answer == nil {
		s.answer = s.loremAnswer
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	if s.registry != nil {
		r.Use(docprom.NewHTTPMetrics(s.registry).Middleware)
	}
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/message", s.handleMessage)
		r.Get("/files", s.handleListFiles)
		r.Get("/files/{fileID}/status", s.handleStatus)
		r.Get("/files/{fileID}/messages", s.handleMessages)
	})
	return r
}

// requestLogger logs one line per completed request.
func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
