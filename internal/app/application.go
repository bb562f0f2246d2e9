package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"dronelab/internal/api"
	"dronelab/internal/auth"
	"dronelab/internal/channel"
	"dronelab/internal/config"
	"dronelab/internal/database"
	"dronelab/internal/events"
	"dronelab/internal/gateway"
	"dronelab/internal/lecture"
	"dronelab/internal/lifecycle"
	"dronelab/internal/store"
	"dronelab/internal/websocket"
	pkgdatabase "dronelab/pkg/database"
)

// Application owns every component and their start/stop order.
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	lectures   *lecture.Manager
	hashes     store.HashStore
	bus        *events.Bus
	channels   *channel.Manager
	lifecycle  *lifecycle.Controller
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication wires the components in dependency order:
// database, lectures, store, bus, channels, gateways, lifecycle, auth,
// sockets, API, HTTP.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.ConnMaxLifetime = cfg.Database.Timeout
	dbConfig.ConnMaxIdleTime = cfg.Database.Timeout / 3
	dbConfig.WriteTimeout = cfg.Database.Timeout

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	lectures := lecture.NewManager(dbManager, cfg.Lecture.CodeAttempts)
	if err := lectures.LoadActiveLectures(ctx); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to load active lectures: %w", err)
	}

	hashes, err := newHashStore(ctx, cfg)
	if err != nil {
		_ = dbManager.Close()
		return nil, err
	}
	sessions := store.NewSessionStore(hashes, cfg.Store.OperationTimeout)

	bus := events.NewBus(0)
	channels := channel.NewManager()

	validator := auth.NewJWTValidator(cfg.Auth, hashes)

	participants := gateway.NewParticipantGateway(lectures, sessions, channels, bus, cfg.Lecture.CodeTemplate)
	supervisors := gateway.NewSupervisorGateway(lectures, sessions, channels, bus, validator.Enabled())
	if err := gateway.NewNotifier(channels).Register(bus); err != nil {
		_ = hashes.Close()
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to register notifier: %w", err)
	}
	dispatcher := gateway.NewDispatcher(participants, supervisors, gateway.NewRateLimiter(cfg.WebSocket.RateLimit))

	controller := lifecycle.NewController(lectures, sessions, channels)
	wsHandler := websocket.NewHandler(cfg.WebSocket, dispatcher, validator)

	apiServer := api.NewServer(cfg.HTTP.Mode, lectures, controller, wsHandler, validator, channels,
		api.HealthCheck{Name: "database", Check: dbManager.HealthCheck},
		api.HealthCheck{Name: "store", Check: sessions.Ping},
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		lectures:   lectures,
		hashes:     hashes,
		bus:        bus,
		channels:   channels,
		lifecycle:  controller,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

func newHashStore(ctx context.Context, cfg *config.Config) (store.HashStore, error) {
	if cfg.Store.Backend == config.StoreBackendMemory {
		log.Warn().Str("module", "app").Msg("using in-memory session store; state is lost on restart")
		return store.NewMemoryHashStore(), nil
	}
	client, err := store.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return store.NewRedisHashStore(client), nil
}

// Start runs the event bus and then the HTTP server. It returns once the
// listener is up or fails within the startup window.
func (app *Application) Start(ctx context.Context) error {
	log.Info().Str("module", "app").Str("addr", app.httpServer.Addr).Msg("starting dronelab")

	if err := app.bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.bus.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Info().Str("module", "app").Int("lectures", len(app.lectures.ListActive())).Msg("dronelab started")
		return nil
	case <-ctx.Done():
		_ = app.bus.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP, sockets, bus, store,
// database. Errors are logged and the first one is returned.
func (app *Application) Stop(ctx context.Context) error {
	log.Info().Str("module", "app").Msg("shutting down dronelab")

	var errs []error
	record := func(component string, err error) {
		if err == nil {
			return
		}
		log.Error().Str("module", "app").Str("component", component).Err(err).Msg("shutdown error")
		errs = append(errs, fmt.Errorf("%s: %w", component, err))
	}

	record("http", app.httpServer.Shutdown(ctx))
	record("websocket", app.wsHandler.Shutdown(ctx))
	if err := app.bus.Stop(); err != nil && !errors.Is(err, events.ErrBusNotRunning) {
		record("bus", err)
	}
	record("store", app.hashes.Close())
	record("database", app.dbManager.Close())

	log.Info().Str("module", "app").Msg("shutdown complete")
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// Handler exposes the HTTP handler for in-process tests.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Lifecycle exposes the lecture controller.
func (app *Application) Lifecycle() *lifecycle.Controller {
	return app.lifecycle
}
