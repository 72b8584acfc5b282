package tokenizer

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// maxRequestBytes caps the body of one tokenize request.
const maxRequestBytes = 1 << 20

// Analyzer splits text into tokens. The concatenated surfaces must equal
// the input.
type Analyzer interface {
	Analyze(text string) ([]Token, error)
}

// Server is the reference HTTP front end for an Analyzer.
type Server struct {
	analyzer Analyzer
	log      *zap.Logger
	router   chi.Router
}

// NewServer builds the router for analyzer.
func NewServer(analyzer Analyzer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{analyzer: analyzer, log: logger}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Pages call the service straight from the browser.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", HeaderSeq, HeaderContext},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/tokenize", s.handleTokenize)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tokens, err := s.analyzer.Analyze(req.Text)
	if err != nil {
		s.log.Error("analyze failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		http.Error(w, "analysis failed", http.StatusInternalServerError)
		return
	}
	if tokens == nil {
		tokens = []Token{}
	}

	s.log.Debug("tokenized",
		zap.String("seq", r.Header.Get(HeaderSeq)),
		zap.String("context", r.Header.Get(HeaderContext)),
		zap.Int("chars", len([]rune(req.Text))),
		zap.Int("tokens", len(tokens)))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tokens); err != nil {
		s.log.Warn("writing response", zap.Error(err))
	}
}

// fillGaps inserts plain tokens for any input the analyser skipped, so the
// surfaces always tile text.
func fillGaps(text string, tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	pos := 0
	for _, t := range tokens {
		if t.Surface == "" {
			continue
		}
		i := strings.Index(text[pos:], t.Surface)
		if i < 0 {
			continue
		}
		if i > 0 {
			out = append(out, Token{Surface: text[pos : pos+i]})
		}
		out = append(out, t)
		pos += i + len(t.Surface)
	}
	if pos < len(text) {
		out = append(out, Token{Surface: text[pos:]})
	}
	return out
}
