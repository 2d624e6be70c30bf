// Package api exposes the wall control surface over HTTP: REST endpoints
// for focus and traversal, and a websocket feed of wall events.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tkardel/camwall/directory"
	"github.com/tkardel/camwall/session"
	"github.com/tkardel/camwall/wall"
)

// Wall is the subset of the wall manager the API drives.
type Wall interface {
	Open(id string) error
	Close()
	Next() (string, error)
	Prev() (string, error)
	SwitchTo(id string) error
	OpenPreview(id string, sink session.Sink) error
	ClosePreview(id string)
	SetFocusNeighbors(ids []string) error
	Snapshot() wall.State
	Subscribe() (<-chan wall.Event, func())
}

// Server is the HTTP control server.
type Server struct {
	router   *gin.Engine
	addr     string
	wall     Wall
	dir      *directory.Directory
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the API server and registers its routes.
func NewServer(addr string, w Wall, dir *directory.Directory, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		router: router,
		addr:   addr,
		wall:   w,
		dir:    dir,
		log:    log.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The wall UI is served from arbitrary origins in development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/state", s.stateHandler)
		v1.GET("/cameras", s.camerasHandler)
		v1.POST("/open/:id", s.openHandler)
		v1.POST("/close", s.closeHandler)
		v1.POST("/next", s.nextHandler)
		v1.POST("/prev", s.prevHandler)
		v1.POST("/switch/:id", s.switchHandler)
		v1.POST("/preview/:id/open", s.previewOpenHandler)
		v1.POST("/preview/:id/close", s.previewCloseHandler)
		v1.POST("/warm", s.warmHandler)
	}
	s.router.GET("/ws", s.wsHandler)
}

// Router returns the gin router, for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
