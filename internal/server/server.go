package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/ButterJack07/Momentmap-web-final/internal/admin"
	"github.com/ButterJack07/Momentmap-web-final/internal/auth"
	"github.com/ButterJack07/Momentmap-web-final/internal/backup"
	"github.com/ButterJack07/Momentmap-web-final/internal/bubble"
	"github.com/ButterJack07/Momentmap-web-final/internal/dispatch"
	"github.com/ButterJack07/Momentmap-web-final/internal/server/middleware"
	"github.com/ButterJack07/Momentmap-web-final/internal/session"
	"github.com/ButterJack07/Momentmap-web-final/internal/stats"
	"github.com/ButterJack07/Momentmap-web-final/pkg/config"
	"github.com/ButterJack07/Momentmap-web-final/pkg/transport"
)

// App wires the hub together: the websocket endpoint for clients, the
// out-of-band admin HTTP API, and the background sweep/backup tasks.
type App struct {
	logger     *slog.Logger
	config     *config.Config
	sessions   *session.Registry
	store      *bubble.Store
	stats      *stats.Stats
	provider   *auth.Provider
	sidecar    *backup.Sidecar
	control    *admin.Control
	dispatcher *dispatch.Dispatcher

	wg        sync.WaitGroup
	wsServer  *http.Server
	apiServer *http.Server

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) (*App, error) {
	provider, err := auth.Open(cfg.Auth.DBPath, cfg.Auth.JWTSecret, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.SeedTestUser {
		if err := provider.SeedTestUser(); err != nil {
			logger.Warn("seeding test user failed", slog.Any("error", err))
		}
	}

	st := stats.New()
	sessions := session.NewRegistry(logger)
	store := bubble.NewStore(st, logger)
	sidecar := backup.NewSidecar(cfg.Backup.Path, store, logger)
	if err := sidecar.Restore(time.Now()); err != nil {
		// Best-effort: a broken backup never blocks startup.
		logger.Warn("restoring bubble backup failed", slog.Any("error", err))
	}
	control := admin.NewControl(store, st, sessions, sidecar, sessions, logger)
	dispatcher := dispatch.New(logger, sessions, store, st, provider, control, dispatch.Config{
		AdminSecret:         cfg.Admin.Secret,
		DefaultRadiusMeters: cfg.Bubbles.DefaultRadiusMeters,
		DefaultTTL:          cfg.Bubbles.DefaultTTL,
	})

	app := &App{
		logger:     logger,
		config:     cfg,
		sessions:   sessions,
		store:      store,
		stats:      st,
		provider:   provider,
		sidecar:    sidecar,
		control:    control,
		dispatcher: dispatcher,
		ctx:        rootCtx,
	}

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", middleware.Chain(
		http.HandlerFunc(app.upgradeHandler),
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(logger),
	))
	app.wsServer = &http.Server{
		Addr:    cfg.Server.WSAddress,
		Handler: wsMux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	router := httprouter.New()
	router.POST("/api/clearBubbles", app.handleClearBubbles)
	router.GET("/api/stats", app.handleStats)
	app.apiServer = &http.Server{
		Addr: cfg.Server.HTTPAddress,
		Handler: middleware.Chain(
			router,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
		),
	}

	return app, nil
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("WebSocket server starting", slog.String("addr", a.wsServer.Addr))
		if err := a.wsServer.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("WebSocket server failed", slog.Any("error", err))
		}
	}()
	go func() {
		a.logger.Info("Admin API server starting", slog.String("addr", a.apiServer.Addr))
		if err := a.apiServer.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("Admin API server failed", slog.Any("error", err))
		}
	}()

	a.startBackgroundTasks()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout:   a.config.Transport.ReadTimeout,
			SendQueueSize: a.config.Transport.SendQueueSize,
		},
		func(ctx context.Context, c *transport.Connection, msg []byte) {
			a.dispatcher.HandleFrame(ctx, c, msg)
		},
		func(id uuid.UUID, err error) {
			a.dispatcher.HandleDisconnect(id)
		},
		a.logger,
	)

	connLogger.Info("client connection established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")

	// Final snapshot before anything else goes away.
	if err := a.sidecar.Save(); err != nil {
		a.logger.Error("final backup failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.wsServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("WebSocket server shutdown", slog.Any("error", err))
	}
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("Admin API server shutdown", slog.Any("error", err))
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, sess := range a.sessions.All() {
		sess.Conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()

	if err := a.provider.Close(); err != nil {
		a.logger.Warn("closing user database failed", slog.Any("error", err))
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}
