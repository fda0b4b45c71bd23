package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/teemow/gmailbridge/internal/connection"
	"github.com/teemow/gmailbridge/internal/gmail"
	"github.com/teemow/gmailbridge/internal/instrumentation"
	"github.com/teemow/gmailbridge/internal/logging"
)

const (
	// ResultPagePath is the browser-facing page the OAuth flow redirects
	// to, carrying message/error/client_id query parameters.
	ResultPagePath = "/gmail-auth-result.html"

	defaultReadHeaderTimeout = 10 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
)

// ConnectionService is the operation surface the HTTP layer maps requests
// onto. Implemented by connection.Service.
type ConnectionService interface {
	InitiateConnection(ctx context.Context, clientID string) (string, error)
	CompleteConnection(ctx context.Context, code, state, providerError string) connection.CallbackResult
	Status(ctx context.Context, clientID string) connection.StatusResult
	Disconnect(ctx context.Context, clientID string) bool
	SendMessage(ctx context.Context, clientID string, msg gmail.Message) (gmail.SendResult, error)
}

// Server maps inbound HTTP requests to connection service operations and
// renders JSON or redirect responses.
type Server struct {
	service    ConnectionService
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	health     *HealthChecker
	httpServer *http.Server
}

// Config holds the HTTP server configuration.
type Config struct {
	Addr    string
	Service ConnectionService
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// New creates a Server with all routes registered.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		service: cfg.Service,
		logger:  logger,
		metrics: cfg.Metrics,
		health:  NewHealthChecker(),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /connect", s.instrumented("/connect", s.handleConnect))
	mux.Handle("GET /oauth-callback", s.instrumented("/oauth-callback", s.handleCallback))
	mux.Handle("GET /status", s.instrumented("/status", s.handleStatus))
	mux.Handle("POST /disconnect", s.instrumented("/disconnect", s.handleDisconnect))
	mux.Handle("POST /send", s.instrumented("/send", s.handleSend))
	s.health.RegisterHealthEndpoints(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	return s
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// statusRecorder captures the response status code for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrumented wraps a handler with request metrics.
func (s *Server) instrumented(path string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h(rec, r)

		s.metrics.RecordHTTPRequest(r.Context(), r.Method, path, rec.status, time.Since(start))
	})
}

// handleConnect initiates the OAuth flow and redirects the browser to the
// Google consent screen.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")

	authURL, err := s.service.InitiateConnection(r.Context(), clientID)
	if err != nil {
		var validationErr *connection.ValidationError
		if errors.As(err, &validationErr) {
			s.redirectToResult(w, r, url.Values{"error": {validationErr.Error()}})
			return
		}
		s.redirectToResult(w, r, url.Values{"error": {fmt.Sprintf("Failed to generate authorization URL: %s", err)}})
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback completes the OAuth flow and redirects the browser to
// the result page.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	res := s.service.CompleteConnection(r.Context(), q.Get("code"), q.Get("state"), q.Get("error"))

	params := url.Values{}
	if res.Error != "" {
		params.Set("error", res.Error)
	} else {
		params.Set("message", res.Message)
		params.Set("client_id", res.ClientID)
	}
	s.redirectToResult(w, r, params)
}

// handleStatus reports the connection status of a client as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		writeJSON(w, http.StatusBadRequest, connection.StatusResult{
			Connected: false,
			Error:     "Client ID is required",
		})
		return
	}

	writeJSON(w, http.StatusOK, s.service.Status(r.Context(), clientID))
}

type disconnectRequest struct {
	ClientID string `json:"client_id"`
}

type disconnectResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleDisconnect clears a client's stored Gmail credential.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, disconnectResponse{Success: false, Error: "Invalid request body"})
		return
	}
	if req.ClientID == "" {
		writeJSON(w, http.StatusBadRequest, disconnectResponse{Success: false, Error: "Client ID is required"})
		return
	}

	if s.service.Disconnect(r.Context(), req.ClientID) {
		writeJSON(w, http.StatusOK, disconnectResponse{Success: true, Message: "Gmail disconnected successfully"})
		return
	}
	writeJSON(w, http.StatusOK, disconnectResponse{Success: false, Message: "Failed to disconnect Gmail"})
}

type sendRequest struct {
	ClientID string `json:"client_id"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Cc       string `json:"cc,omitempty"`
	Bcc      string `json:"bcc,omitempty"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	ThreadID  string `json:"threadId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleSend dispatches an email through a client's Gmail account.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sendResponse{Success: false, Error: "Invalid request body"})
		return
	}

	required := []struct {
		field string
		value string
	}{
		{"client_id", req.ClientID},
		{"to", req.To},
		{"subject", req.Subject},
		{"body", req.Body},
	}
	for _, f := range required {
		if f.value == "" {
			writeJSON(w, http.StatusBadRequest, sendResponse{
				Success: false,
				Error:   fmt.Sprintf("Missing required field: %s", f.field),
			})
			return
		}
	}

	res, err := s.service.SendMessage(r.Context(), req.ClientID, gmail.Message{
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
		Cc:      req.Cc,
		Bcc:     req.Bcc,
	})
	if err != nil {
		status := http.StatusInternalServerError
		var dispatchErr *gmail.DispatchError
		if errors.As(err, &dispatchErr) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, sendResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{
		Success:   true,
		ThreadID:  res.ThreadID,
		MessageID: res.MessageID,
	})
}

// redirectToResult sends the browser to the result page with the given
// query parameters.
func (s *Server) redirectToResult(w http.ResponseWriter, r *http.Request, params url.Values) {
	target := ResultPagePath
	if encoded := params.Encode(); encoded != "" {
		target += "?" + encoded
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", logging.Err(err))
	}
}
