package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

// ServerParams HTTP server parameters
type ServerParams struct {
	// ListenAddr address to listen on
	ListenAddr string
	// StaticDir directory holding the application shell
	StaticDir string
	// ReadTimeout request read timeout
	ReadTimeout time.Duration
	// WriteTimeout response write timeout
	WriteTimeout time.Duration
	// ShutdownTimeout graceful shutdown timeout
	ShutdownTimeout time.Duration
}

/*
BuildRouter define the notes server routes

	@param handler NotesHandler - the notes REST API handler
	@param staticDir string - directory holding the application shell. Empty skips static serving.
	@returns the router
*/
func BuildRouter(handler NotesHandler, staticDir string) *mux.Router {
	router := mux.NewRouter()

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.
		HandleFunc("/vapidPublicKey", handler.LoggingMiddleware(handler.VAPIDPublicKeyHandler())).
		Methods(http.MethodGet)
	apiRouter.
		HandleFunc("/subscribe", handler.LoggingMiddleware(handler.SubscribeHandler())).
		Methods(http.MethodPost)
	apiRouter.
		HandleFunc("/notes", handler.LoggingMiddleware(handler.StoreNotesHandler())).
		Methods(http.MethodPost)
	apiRouter.
		HandleFunc("/notes", handler.LoggingMiddleware(handler.ListNotesHandler())).
		Methods(http.MethodGet)

	if staticDir != "" {
		router.PathPrefix("/").Handler(shellFileServer(staticDir))
	}

	return router
}

// shellFileServer serve the application shell. index.html is served in place instead of
// being redirected to its directory, so it can be cached under its own name.
func shellFileServer(staticDir string) http.Handler {
	files := http.FileServer(http.Dir(staticDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/index.html") {
			r = r.Clone(r.Context())
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "index.html")
		}
		files.ServeHTTP(w, r)
	})
}

// Server the notes HTTP server
type Server struct {
	params ServerParams
	srv    *http.Server
}

/*
NewServer define the notes HTTP server

	@param params ServerParams - server parameters
	@param handler NotesHandler - the notes REST API handler
	@returns the server
*/
func NewServer(params ServerParams, handler NotesHandler) *Server {
	return &Server{
		params: params,
		srv: &http.Server{
			Addr:         params.ListenAddr,
			Handler:      BuildRouter(handler, params.StaticDir),
			ReadTimeout:  params.ReadTimeout,
			WriteTimeout: params.WriteTimeout,
		},
	}
}

/*
Run serve until the context is cancelled

	@param ctx context.Context - execution context
*/
func (s *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.params.ShutdownTimeout)
		defer cancel()

		return s.srv.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		log.WithField("addr", s.params.ListenAddr).Info("Notes server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen and serve failed [%w]", err)
		}
		return nil
	})

	return eg.Wait()
}
