package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/teemow/gmailbridge/internal/connection"
	"github.com/teemow/gmailbridge/internal/gmail"
	"github.com/teemow/gmailbridge/internal/google"
	"github.com/teemow/gmailbridge/internal/instrumentation"
	"github.com/teemow/gmailbridge/internal/server"
	"github.com/teemow/gmailbridge/internal/store"
)

const (
	defaultHTTPAddr      = ":8080"
	defaultMongoDatabase = "gmailbridge"

	// shutdownTimeout bounds the graceful shutdown of all servers.
	shutdownTimeout = 30 * time.Second

	// mongoConnectTimeout bounds the initial connection and ping.
	mongoConnectTimeout = 10 * time.Second
)

// StorageConfig selects and configures the credential store backend.
type StorageConfig struct {
	// Type is the storage backend type: "mongodb" or "memory"
	Type string

	// MongoURI is the MongoDB connection string (used when Type is "mongodb")
	MongoURI string

	// MongoDatabase is the database holding the clients collection
	MongoDatabase string
}

func newServeCmd() *cobra.Command {
	var (
		debugMode          bool
		httpAddr           string
		baseURL            string
		googleClientID     string
		googleClientSecret string
		storageType        string
		mongoURI           string
		mongoDatabase      string
		metricsEnabled     bool
		metricsAddr        string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Long: `Start the gmailbridge HTTP service.

The service exposes five routes: /connect starts the OAuth flow for a
client, /oauth-callback completes it, /status reports whether a client's
Gmail connection is usable, /disconnect clears it, and /send dispatches
HTML email through the connected account.

Google Credentials (required):
  --google-client-id and --google-client-secret flags
  OR GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars

Base URL:
  --base-url https://your-domain.com OR BRIDGE_BASE_URL env var
  Auto-detected for localhost (development only). Google requires the
  OAuth redirect URI derived from it to be registered for the app.

Storage:
  --store mongodb (default) with --mongo-uri OR MONGODB_URI env var
  --store memory keeps credentials in process memory (development only)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Flags win over environment variables
			if googleClientID == "" {
				googleClientID = os.Getenv("GOOGLE_CLIENT_ID")
			}
			if googleClientSecret == "" {
				googleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
			}
			if baseURL == "" {
				baseURL = os.Getenv("BRIDGE_BASE_URL")
			}
			if mongoURI == "" {
				mongoURI = os.Getenv("MONGODB_URI")
			}
			if v := os.Getenv("MONGODB_DATABASE"); mongoDatabase == defaultMongoDatabase && v != "" {
				mongoDatabase = v
			}

			setupLogging(debugMode)

			if baseURL == "" {
				baseURL = fmt.Sprintf("http://%s", httpAddr)
				if strings.HasPrefix(httpAddr, ":") {
					baseURL = fmt.Sprintf("http://localhost%s", httpAddr)
				}
				slog.Info("no base URL configured, using auto-detected value",
					slog.String("base_url", baseURL))
				slog.Info("for deployed instances, set --base-url flag or BRIDGE_BASE_URL env var")
			}

			storage := StorageConfig{
				Type:          storageType,
				MongoURI:      mongoURI,
				MongoDatabase: mongoDatabase,
			}

			return runServe(cmd.Context(), serveOptions{
				httpAddr: httpAddr,
				baseURL:  baseURL,
				google: google.Config{
					ClientID:     googleClientID,
					ClientSecret: googleClientSecret,
				},
				storage:        storage,
				metricsEnabled: metricsEnabled,
				metricsAddr:    metricsAddr,
			})
		},
	}

	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&httpAddr, "http-addr", defaultHTTPAddr, "Address for the HTTP server")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL where this service is reachable (or BRIDGE_BASE_URL env var)")
	cmd.Flags().StringVar(&googleClientID, "google-client-id", "", "Google OAuth client ID (or GOOGLE_CLIENT_ID env var)")
	cmd.Flags().StringVar(&googleClientSecret, "google-client-secret", "", "Google OAuth client secret (or GOOGLE_CLIENT_SECRET env var)")
	cmd.Flags().StringVar(&storageType, "store", "mongodb", "Credential store backend: mongodb or memory")
	cmd.Flags().StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGODB_URI env var)")
	cmd.Flags().StringVar(&mongoDatabase, "mongo-database", defaultMongoDatabase, "MongoDB database name (or MONGODB_DATABASE env var)")
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Enable the Prometheus metrics server")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Address for the metrics server")

	return cmd
}

type serveOptions struct {
	httpAddr       string
	baseURL        string
	google         google.Config
	storage        StorageConfig
	metricsEnabled bool
	metricsAddr    string
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// newCredentialStore builds the configured store backend. The returned
// cleanup function releases backend resources on shutdown.
func newCredentialStore(ctx context.Context, cfg StorageConfig) (store.CredentialStore, func(context.Context) error, error) {
	switch cfg.Type {
	case "memory":
		slog.Warn("using in-memory credential store - credentials are lost on restart, use only for development")
		return store.NewMemoryStore(), func(context.Context) error { return nil }, nil

	case "mongodb":
		if cfg.MongoURI == "" {
			return nil, nil, fmt.Errorf("mongo URI is required for the mongodb store (set --mongo-uri or MONGODB_URI)")
		}

		connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
		defer cancel()

		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("failed to reach MongoDB: %w", err)
		}

		return store.NewMongoStore(client.Database(cfg.MongoDatabase)), client.Disconnect, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store type: %s (supported: mongodb, memory)", cfg.Type)
	}
}

func runServe(ctx context.Context, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Instrumentation
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	if err := instrConfig.Validate(); err != nil {
		return fmt.Errorf("invalid instrumentation configuration: %w", err)
	}
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during instrumentation shutdown", slog.String("error", err.Error()))
		}
	}()

	// Credential store
	credStore, closeStore, err := newCredentialStore(ctx, opts.storage)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := closeStore(shutdownCtx); err != nil {
			slog.Error("error during store shutdown", slog.String("error", err.Error()))
		}
	}()

	// Google OAuth flow and Gmail dispatcher
	flow, err := google.NewFlow(opts.google)
	if err != nil {
		return err
	}
	dispatcher := gmail.NewDispatcher(flow)

	redirectURI := strings.TrimSuffix(opts.baseURL, "/") + "/oauth-callback"
	svc := connection.NewService(connection.Config{
		Store:       credStore,
		Auth:        flow,
		Mail:        dispatcher,
		RedirectURI: redirectURI,
		Scopes:      google.GmailScopes,
		Logger:      slog.Default(),
		Metrics:     provider.Metrics(),
	})

	srv := server.New(server.Config{
		Addr:    opts.httpAddr,
		Service: svc,
		Logger:  slog.Default(),
		Metrics: provider.Metrics(),
	})

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- srv.Start()
	}()

	var metricsServer *server.MetricsServer
	if opts.metricsEnabled && provider.HasPrometheusExporter() {
		metricsServer = server.NewMetricsServer(opts.metricsAddr)
		go func() {
			serverErr <- metricsServer.Start()
		}()
	}

	slog.Info("gmailbridge is ready",
		slog.String("addr", opts.httpAddr),
		slog.String("base_url", opts.baseURL),
		slog.String("store", opts.storage.Type))

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during server shutdown", slog.String("error", err.Error()))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during metrics server shutdown", slog.String("error", err.Error()))
		}
	}

	return nil
}
