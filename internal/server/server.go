// Package server собирает HTTP сервер совместного редактирования:
// хранилище, реестр комнат, шину событий, очередь OCR и маршруты.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/collabnotes/internal/server/events"
	"github.com/iudanet/collabnotes/internal/server/handlers"
	"github.com/iudanet/collabnotes/internal/server/middleware"
	"github.com/iudanet/collabnotes/internal/server/ocr"
	"github.com/iudanet/collabnotes/internal/server/room"
	"github.com/iudanet/collabnotes/internal/server/storage/sqlite"
)

// Config содержит конфигурацию сервера
type Config struct {
	Addr            string
	DatabasePath    string
	OCRQueuePath    string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	ShutdownTimeout time.Duration
	RateLimit       int
	RateWindow      time.Duration
}

// Server владеет всеми долгоживущими компонентами
type Server struct {
	logger   *slog.Logger
	cfg      Config
	storage  *sqlite.Storage
	queue    *ocr.Queue
	bus      *events.Bus
	registry *room.Registry
	httpSrv  *http.Server
}

// New собирает сервер: открывает хранилища и строит маршруты
func New(ctx context.Context, logger *slog.Logger, cfg Config) (*Server, error) {
	store, err := sqlite.New(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	queue, err := ocr.New(ctx, cfg.OCRQueuePath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open ocr queue: %w", err)
	}

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		storage:  store,
		queue:    queue,
		bus:      events.NewBus(logger),
		registry: room.NewRegistry(logger, room.NewAdapter(logger, store), store),
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) router() *mux.Router {
	jwtConfig := handlers.JWTConfig{
		Secret:         []byte(s.cfg.JWTSecret),
		AccessTokenTTL: s.cfg.AccessTokenTTL,
	}

	notesHandler := handlers.NewNotesHandler(s.logger, s.storage, s.storage, s.bus)
	collabHandler := handlers.NewCollabHandler(s.logger, s.registry, s.storage, jwtConfig)
	eventsHandler := handlers.NewEventsHandler(s.logger, s.bus, jwtConfig)
	ocrHandler := handlers.NewOCRHandler(s.logger, s.queue, s.storage)
	healthHandler := handlers.NewHealthHandler(s.logger)

	router := mux.NewRouter()
	router.Use(middleware.RecoveryMiddleware(s.logger))
	router.Use(middleware.LoggingWithSkip(s.logger, []string{"/api/v1/health"}))
	router.Use(middleware.RateLimitMiddleware(s.cfg.RateLimit, s.cfg.RateWindow, s.logger))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", healthHandler.Health).Methods("GET")

	// Websocket endpoints аутентифицируются сами: браузерный WebSocket
	// не умеет ставить Authorization заголовок
	api.HandleFunc("/collab/{room}", collabHandler.HandleCollab).Methods("GET")
	api.HandleFunc("/events", eventsHandler.HandleEvents).Methods("GET")

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.AuthMiddleware(s.logger, jwtConfig))
	authed.HandleFunc("/notes", notesHandler.ListNotes).Methods("GET")
	authed.HandleFunc("/notes", notesHandler.CreateNote).Methods("POST")
	authed.HandleFunc("/notes/{id}", notesHandler.GetNote).Methods("GET")
	authed.HandleFunc("/notes/{id}", notesHandler.UpdateNote).Methods("PATCH")
	authed.HandleFunc("/notes/{id}/items", notesHandler.ReplaceItems).Methods("PUT")
	authed.HandleFunc("/notes/{id}/items/{itemID}", notesHandler.UpdateItem).Methods("PATCH")
	authed.HandleFunc("/notes/{id}/collaborators", notesHandler.ListCollaborators).Methods("GET")
	authed.HandleFunc("/notes/{id}/collaborators", notesHandler.AddCollaborator).Methods("POST")
	authed.HandleFunc("/notes/{id}/collaborators/{collabID}", notesHandler.RemoveCollaborator).Methods("DELETE")
	authed.HandleFunc("/ocr", ocrHandler.EnqueueJob).Methods("POST")
	authed.HandleFunc("/ocr/{jobID}", ocrHandler.GetJob).Methods("GET")

	return router
}

// Run запускает сервер и блокируется до отмены контекста.
// При остановке сначала перестает принимать запросы, затем дожидается
// финальной записи snapshot каждой открытой комнаты.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Server listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP shutdown failed", "error", err)
		}
		if err := s.registry.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Room drain failed", "error", err)
		}
		if err := s.queue.Close(); err != nil {
			s.logger.Error("Failed to close ocr queue", "error", err)
		}
		if err := s.storage.Close(); err != nil {
			s.logger.Error("Failed to close storage", "error", err)
		}
		return nil
	})

	return g.Wait()
}
