package connection

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teemow/gmailbridge/internal/gmail"
	"github.com/teemow/gmailbridge/internal/instrumentation"
	"github.com/teemow/gmailbridge/internal/logging"
	"github.com/teemow/gmailbridge/internal/store"
)

// AuthorizationProvider builds consent URLs and exchanges authorization
// codes for credentials. Implemented by google.Flow; tests substitute
// fakes.
type AuthorizationProvider interface {
	AuthCodeURL(redirectURI, state string) string
	Exchange(ctx context.Context, redirectURI, code string) (store.ClientCredential, error)
}

// MailProvider dispatches mail and verifies credentials against the mail
// provider. Implemented by gmail.Dispatcher; tests substitute fakes.
type MailProvider interface {
	Send(ctx context.Context, cred store.ClientCredential, msg gmail.Message) (gmail.SendResult, error)
	Profile(ctx context.Context, cred store.ClientCredential) (string, error)
}

// ValidationError reports a missing required input field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return e.Field + " is required"
}

// CallbackResult is the outcome of an OAuth callback, rendered by the
// HTTP surface as query parameters on the result page redirect.
type CallbackResult struct {
	ClientID string
	Message  string
	Error    string
}

// StatusResult reports whether a client's Gmail connection is usable.
type StatusResult struct {
	Connected bool     `json:"connected"`
	Email     string   `json:"email,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Service orchestrates the connection lifecycle: initiate, complete,
// status, disconnect, send. Every operation converts internal failures
// into structured results at this boundary.
type Service struct {
	store       store.CredentialStore
	auth        AuthorizationProvider
	mail        MailProvider
	redirectURI string
	scopes      []string
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
}

// Config wires the Service's collaborators.
type Config struct {
	Store store.CredentialStore
	Auth  AuthorizationProvider
	Mail  MailProvider

	// RedirectURI is the OAuth callback URL. It is fixed at construction
	// so the authorization URL and the code exchange always use the
	// byte-identical value Google requires.
	RedirectURI string

	// Scopes are reported in status responses.
	Scopes []string

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       cfg.Store,
		auth:        cfg.Auth,
		mail:        cfg.Mail,
		redirectURI: cfg.RedirectURI,
		scopes:      cfg.Scopes,
		logger:      logger,
		metrics:     cfg.Metrics,
	}
}

// InitiateConnection returns the consent screen URL for a client. The
// client ID rides in the OAuth state parameter and comes back on the
// callback.
func (s *Service) InitiateConnection(ctx context.Context, clientID string) (string, error) {
	ctx, span := instrumentation.StartOperationSpan(ctx, "initiate", clientID)
	defer span.End()

	if clientID == "" {
		s.metrics.RecordConnectInitiated(ctx, instrumentation.StatusError)
		err := &ValidationError{Field: "Client ID"}
		instrumentation.SetSpanError(span, err)
		return "", err
	}

	authURL := s.auth.AuthCodeURL(s.redirectURI, clientID)
	s.logger.Info("generated Gmail auth URL",
		logging.Operation("initiate_connection"),
		logging.ClientID(clientID))
	s.metrics.RecordConnectInitiated(ctx, instrumentation.StatusSuccess)
	instrumentation.SetSpanSuccess(span)
	return authURL, nil
}

// CompleteConnection handles the provider callback: it exchanges the code
// for tokens and persists them under the client ID carried in state.
// Failures never escape as errors; they come back as a CallbackResult
// with a human-readable Error.
func (s *Service) CompleteConnection(ctx context.Context, code, state, providerError string) CallbackResult {
	ctx, span := instrumentation.StartOperationSpan(ctx, "complete", state)
	defer span.End()

	log := logging.WithOperation(s.logger, "complete_connection")

	if providerError != "" {
		// Keep the specific denial reason in the logs even though the
		// user-facing message is generic.
		log.Warn("provider returned an error",
			logging.ClientID(state),
			slog.String("provider_error", providerError))
		s.metrics.RecordExchange(ctx, instrumentation.StatusError)
		instrumentation.SetSpanError(span, errors.New(providerError))
		return CallbackResult{Error: "Authorization was denied"}
	}

	if code == "" {
		log.Error("missing authorization code", logging.ClientID(state))
		s.metrics.RecordExchange(ctx, instrumentation.StatusError)
		return CallbackResult{Error: "Missing authorization code"}
	}
	if state == "" {
		log.Error("missing state parameter")
		s.metrics.RecordExchange(ctx, instrumentation.StatusError)
		return CallbackResult{Error: "Missing state parameter"}
	}

	log.Info("exchanging authorization code for tokens", logging.ClientID(state))
	cred, err := s.auth.Exchange(ctx, s.redirectURI, code)
	if err != nil {
		log.Error("code exchange failed", logging.ClientID(state), logging.Err(err))
		s.metrics.RecordExchange(ctx, instrumentation.StatusError)
		instrumentation.SetSpanError(span, err)
		return CallbackResult{Error: err.Error()}
	}
	s.metrics.RecordExchange(ctx, instrumentation.StatusSuccess)

	if err := s.store.Put(ctx, state, cred); err != nil {
		log.Error("failed to store Gmail tokens", logging.ClientID(state), logging.Err(err))
		instrumentation.SetSpanError(span, err)
		return CallbackResult{Error: "Failed to store tokens"}
	}

	log.Info("Gmail authentication successful", logging.ClientID(state))
	instrumentation.SetSpanSuccess(span)
	return CallbackResult{
		ClientID: state,
		Message:  "Gmail connected successfully",
	}
}

// Status reports whether the client's stored credential is usable,
// confirmed by a live profile fetch. Provider failures are surfaced in
// the result, never raised.
func (s *Service) Status(ctx context.Context, clientID string) StatusResult {
	ctx, span := instrumentation.StartOperationSpan(ctx, "status", clientID)
	defer span.End()

	log := logging.WithOperation(s.logger, "status")

	cred, err := s.store.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNoCredential) {
			log.Warn("no Gmail tokens found", logging.ClientID(clientID))
			return StatusResult{Connected: false, Error: "No Gmail client available"}
		}
		log.Error("failed to load credential", logging.ClientID(clientID), logging.Err(err))
		return StatusResult{Connected: false, Error: err.Error()}
	}

	email, err := s.mail.Profile(ctx, cred)
	if err != nil {
		log.Error("Gmail profile check failed", logging.ClientID(clientID), logging.Err(err))
		instrumentation.SetSpanError(span, err)
		return StatusResult{Connected: false, Error: err.Error()}
	}

	instrumentation.SetSpanSuccess(span)
	return StatusResult{
		Connected: true,
		Email:     email,
		Scopes:    s.scopes,
	}
}

// Disconnect nulls the client's stored tokens. It returns false on any
// failure, including an unknown client ID, and never raises.
func (s *Service) Disconnect(ctx context.Context, clientID string) bool {
	ctx, span := instrumentation.StartOperationSpan(ctx, "disconnect", clientID)
	defer span.End()

	log := logging.WithOperation(s.logger, "disconnect")

	if err := s.store.Clear(ctx, clientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("no client found", logging.ClientID(clientID))
		} else {
			log.Error("failed to clear credential", logging.ClientID(clientID), logging.Err(err))
		}
		instrumentation.SetSpanError(span, err)
		return false
	}

	log.Info("Gmail disconnected", logging.ClientID(clientID))
	instrumentation.SetSpanSuccess(span)
	return true
}

// SendMessage dispatches mail through the client's Gmail account. When no
// credential is stored, it fails without ever touching the provider.
func (s *Service) SendMessage(ctx context.Context, clientID string, msg gmail.Message) (gmail.SendResult, error) {
	ctx, span := instrumentation.StartOperationSpan(ctx, "send", clientID)
	defer span.End()

	log := logging.WithOperation(s.logger, "send_message")

	cred, err := s.store.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNoCredential) {
			log.Warn("no Gmail tokens found", logging.ClientID(clientID))
			dispErr := &gmail.DispatchError{
				Kind:    gmail.KindNoCredential,
				Message: "No Gmail client available. Please connect Gmail first.",
			}
			instrumentation.SetSpanError(span, dispErr)
			return gmail.SendResult{}, dispErr
		}
		log.Error("failed to load credential", logging.ClientID(clientID), logging.Err(err))
		instrumentation.SetSpanError(span, err)
		return gmail.SendResult{}, err
	}

	log.Info("sending email", logging.ClientID(clientID))
	start := time.Now()
	res, err := s.mail.Send(ctx, cred, msg)
	if err != nil {
		log.Error("email send failed", logging.ClientID(clientID), logging.Err(err))
		s.metrics.RecordMailDispatch(ctx, instrumentation.StatusError, time.Since(start))
		instrumentation.SetSpanError(span, err)
		return gmail.SendResult{}, err
	}

	log.Info("email sent",
		logging.ClientID(clientID),
		slog.String("message_id", res.MessageID),
		slog.String("thread_id", res.ThreadID))
	s.metrics.RecordMailDispatch(ctx, instrumentation.StatusSuccess, time.Since(start))
	instrumentation.SetSpanSuccess(span)
	return res, nil
}
