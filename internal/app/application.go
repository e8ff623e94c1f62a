package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"aiworker/internal/api"
	"aiworker/internal/assistant"
	"aiworker/internal/config"
	"aiworker/internal/database"
	"aiworker/internal/hub"
	"aiworker/internal/metrics"
	"aiworker/internal/pubsub"
	"aiworker/internal/router"
	"aiworker/internal/session"
	"aiworker/internal/websocket"
	pkgdatabase "aiworker/pkg/database"
	"aiworker/pkg/interfaces"
)

// Version is reported by GET / and the version command
var Version = "dev"

// traceOutput receives exported spans when tracing is enabled
var traceOutput io.Writer = os.Stdout

const (
	rateLimitWindow        = time.Minute
	rateLimitSweepInterval = 5 * time.Minute
	abandonedCloseReason   = "server restart"
)

// Application owns every component and their lifecycle
type Application struct {
	config         *config.Config
	metrics        *metrics.Metrics
	dbManager      *database.Manager
	registry       *websocket.Registry
	limiter        *router.RateLimiter
	messageRouter  *router.Router
	sessionManager *session.Manager
	messageHub     *hub.Hub
	tracerProvider *sdktrace.TracerProvider
	redisClient    *redis.Client
	subscriber     *pubsub.Subscriber
	apiServer      *api.Server
	httpServer     *http.Server

	listener net.Listener
	group    *errgroup.Group
	cancel   context.CancelFunc
	sessions sync.WaitGroup
	mu       sync.Mutex
}

// NewApplication builds every component in dependency order:
// Metrics → Database → Registry → Router → Session → Hub → Redis → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{config: cfg}

	if cfg.Metrics.Enabled {
		app.metrics = metrics.New()
	}

	var store interfaces.ConnectionStore
	if cfg.Database.Enabled {
		dbManager, err := openDatabase(cfg.Database)
		if err != nil {
			return nil, err
		}
		app.dbManager = dbManager
		store = dbManager
	}

	app.registry = websocket.NewRegistry()

	validator := assistant.NewValidator()
	responder := assistant.NewResponder()
	app.limiter = router.NewRateLimiter(cfg.Dispatch.RateLimitPerMinute, rateLimitWindow)
	app.messageRouter = router.NewRouter(validator, responder, app.limiter, app.metrics)

	if cfg.Tracing.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(traceOutput))
		if err != nil {
			app.closeStores()
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		app.tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		app.messageRouter.WithTracerProvider(app.tracerProvider)
	}

	app.sessionManager = session.NewManager(app.registry, app.messageRouter, store, app.metrics)
	app.messageHub = hub.NewHub(app.registry, cfg.Dispatch.BroadcastQueueSize, app.metrics)

	if cfg.Redis.URL != "" {
		client, err := pubsub.NewClient(cfg.Redis.URL)
		if err != nil {
			app.closeStores()
			return nil, err
		}
		app.redisClient = client
		app.subscriber = pubsub.NewSubscriber(client, cfg.Redis.Channel, app.messageHub)
	}

	wsHandler := websocket.NewHandler(app.sessionManager, websocket.Options{
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	})

	deps := api.Deps{
		Version:   Version,
		Validator: validator,
		Responder: responder,
		Registry:  app.registry,
		Store:     store,
		Publisher: app.messageHub,
		WebSocket: app.trackSessions(http.HandlerFunc(wsHandler.HandleWebSocket)),
	}
	if app.metrics != nil {
		deps.Metrics = app.metrics.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}
	app.apiServer = api.NewServer(deps)

	app.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

func openDatabase(cfg *config.DatabaseConfig) (*database.Manager, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Path
	dbConfig.WriteTimeout = cfg.Timeout

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if n, err := dbManager.CloseAbandoned(ctx, abandonedCloseReason); err != nil {
		log.Printf("Failed to close abandoned connection records: %v", err)
	} else if n > 0 {
		log.Printf("Closed %d connection records left open by a previous run", n)
	}

	return dbManager, nil
}

// trackSessions lets Stop wait for hijacked WebSocket handlers, which
// http.Server.Shutdown does not track.
func (app *Application) trackSessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.sessions.Add(1)
		defer app.sessions.Done()
		next.ServeHTTP(w, r)
	})
}

// Start binds the listener and launches the background goroutines. It
// returns once the server accepts connections.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.listener != nil {
		return errors.New("application already started")
	}

	if app.redisClient != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := app.redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	// sessions outlive the request context and end when runCtx is cancelled
	app.httpServer.BaseContext = func(net.Listener) context.Context { return runCtx }

	if err := app.messageHub.Start(runCtx); err != nil {
		cancel()
		listener.Close()
		return fmt.Errorf("failed to start broadcast hub: %w", err)
	}

	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// a failed subscriber or sweeper stops the listener so Wait returns
	group.Go(func() error {
		<-groupCtx.Done()
		_ = app.httpServer.Close()
		return nil
	})

	if app.subscriber != nil {
		group.Go(func() error {
			return app.subscriber.Run(groupCtx)
		})
	}

	if app.limiter != nil {
		group.Go(func() error {
			ticker := time.NewTicker(rateLimitSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-ticker.C:
					app.limiter.Cleanup()
				}
			}
		})
	}

	app.listener = listener
	app.group = group
	app.cancel = cancel

	log.Printf("AI worker listening on %s", listener.Addr())
	return nil
}

// Wait blocks until a background goroutine fails or Stop completes
func (app *Application) Wait() error {
	app.mu.Lock()
	group := app.group
	app.mu.Unlock()

	if group == nil {
		return errors.New("application not started")
	}
	return group.Wait()
}

// Stop shuts down in reverse order: HTTP → Hub → sessions → tracing → Redis → Database.
// ctx bounds how long live sessions get to finish.
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Printf("Shutting down AI worker")

	var errs []error

	if app.listener != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}

		if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("broadcast hub shutdown: %w", err))
		}

		app.cancel()
		app.registry.CloseAll()
		if !waitGroupWithContext(ctx, &app.sessions) {
			log.Printf("Timed out waiting for sessions to finish")
		}

		if err := app.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := app.closeStores(); err != nil {
		errs = append(errs, err)
	}

	log.Printf("AI worker shutdown complete")
	return errors.Join(errs...)
}

func (app *Application) closeStores() error {
	var errs []error
	if app.tracerProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := app.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
		cancel()
		app.tracerProvider = nil
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
		app.redisClient = nil
	}
	if app.dbManager != nil {
		if err := app.dbManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	return errors.Join(errs...)
}

func waitGroupWithContext(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Addr returns the bound listener address, or the configured one before Start
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Registry exposes the live connection set
func (app *Application) Registry() *websocket.Registry {
	return app.registry
}

// Hub exposes the broadcast queue
func (app *Application) Hub() *hub.Hub {
	return app.messageHub
}
