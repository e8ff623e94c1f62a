package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"aiworker/internal/hub"
	"aiworker/internal/websocket"
	"aiworker/pkg/interfaces"
	"aiworker/pkg/types"
)

const defaultConnectionsLimit = 50

// Registry is the read side of websocket.Registry used by the HTTP surface
type Registry interface {
	Connections() []websocket.ConnectionInfo
	GetStats() map[string]int
}

// Publisher queues a payload for broadcast to every connection
type Publisher interface {
	Publish(payload []byte) error
}

// Deps are the collaborators served over HTTP. Store, Metrics and
// WebSocket may be nil.
type Deps struct {
	Version     string
	Validator   interfaces.DocumentValidator
	Responder   interfaces.ChatResponder
	Store       interfaces.ConnectionStore
	Registry    Registry
	Publisher   Publisher
	WebSocket   http.Handler
	Metrics     http.Handler
	MetricsPath string
}

// Server is the HTTP layer. It holds no business logic: requests are
// decoded, handed to a collaborator and the result encoded as JSON.
type Server struct {
	deps   Deps
	router chi.Router
}

func NewServer(deps Deps) *Server {
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}
	s := &Server{deps: deps}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Resource not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	if s.deps.WebSocket != nil {
		r.Handle("/ws", s.deps.WebSocket)
	}
	if s.deps.Metrics != nil {
		r.Handle(s.deps.MetricsPath, s.deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(jsonMiddleware)

		r.Get("/", s.root)
		r.Get("/health", s.healthCheck)
		r.Post("/analyze", s.analyze)
		r.Post("/chat", s.chat)

		r.Route("/api", func(r chi.Router) {
			r.Post("/analyze", s.analyze)
			r.Post("/chat", s.chat)
			r.Get("/connections", s.listConnections)
			r.Post("/broadcast", s.broadcast)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type AnalyzeRequest struct {
	Content       string `json:"content"`
	SecurityLevel string `json:"security_level"`
	DocumentType  string `json:"document_type"`
}

type ChatRequest struct {
	Message         string            `json:"message"`
	DocumentContent *string           `json:"document_content"`
	History         []json.RawMessage `json:"history"`
	Context         json.RawMessage   `json:"context"`
}

type ChatResponse struct {
	Reply     string `json:"reply"`
	Timestamp string `json:"timestamp"`
}

type ConnectionsResponse struct {
	Count       int                        `json:"count"`
	Connections []websocket.ConnectionInfo `json:"connections"`
	Recent      []*types.ConnectionRecord  `json:"recent"`
}

type BroadcastResponse struct {
	Status string `json:"status"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   string         `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /
func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "aiworker",
		"version": s.deps.Version,
		"status":  "running",
	})
}

// GET /health - 503 when the audit database does not answer
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: types.Now(),
		Database:  "disabled",
	}
	if s.deps.Registry != nil {
		response.Connections = s.deps.Registry.GetStats()
	}

	if s.deps.Store != nil {
		response.Database = "healthy"
		if err := s.deps.Store.HealthCheck(ctx); err != nil {
			response.Status = "unhealthy"
			response.Database = fmt.Sprintf("error: %v", err)
		}
	}

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

// POST /analyze and /api/analyze
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	level := (&types.Request{SecurityLevel: req.SecurityLevel}).EffectiveSecurityLevel()
	result, err := s.deps.Validator.ValidateDocument(r.Context(), req.Content, level)
	if err != nil || result == nil {
		log.Printf("Analyze request failed: %v", err)
		sendError(w, "Failed to analyze document", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /chat and /api/chat
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		sendError(w, "Message is required", http.StatusBadRequest)
		return
	}

	reply, err := s.deps.Responder.GenerateChatReply(r.Context(), req.Message, req.DocumentContent, req.History)
	if err != nil {
		log.Printf("Chat request failed: %v", err)
		sendError(w, "Failed to generate reply", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Reply: reply, Timestamp: types.Now()})
}

// GET /api/connections?limit=N
func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	limit := defaultConnectionsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	response := ConnectionsResponse{
		Connections: []websocket.ConnectionInfo{},
		Recent:      []*types.ConnectionRecord{},
	}
	if s.deps.Registry != nil {
		response.Connections = s.deps.Registry.Connections()
		response.Count = len(response.Connections)
	}

	if s.deps.Store != nil {
		records, err := s.deps.Store.ListRecentConnections(r.Context(), limit)
		if err != nil {
			log.Printf("Failed to list recent connections: %v", err)
			sendError(w, "Failed to list connections", http.StatusInternalServerError)
			return
		}
		response.Recent = records
	}

	writeJSON(w, http.StatusOK, response)
}

// POST /api/broadcast - the body is sent to every connection verbatim
func (s *Server) broadcast(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, types.MaxBroadcastPayload+1))
	if err != nil {
		sendError(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if err := s.deps.Publisher.Publish(body); err != nil {
		switch {
		case errors.Is(err, types.ErrPayloadTooLarge):
			sendError(w, err.Error(), http.StatusRequestEntityTooLarge)
		case errors.Is(err, types.ErrEmptyPayload), errors.Is(err, types.ErrInvalidPayload):
			sendError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, hub.ErrQueueFull), errors.Is(err, hub.ErrHubNotRunning):
			sendError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			log.Printf("Broadcast publish failed: %v", err)
			sendError(w, "Failed to queue broadcast", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, BroadcastResponse{Status: "queued"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// sendError writes the common error body
func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows any origin and answers preflight requests itself
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
