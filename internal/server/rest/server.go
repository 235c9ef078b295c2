// Package rest exposes the account flows over HTTP.
package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/videotube/internal/logging"
	"github.com/dmitrijs2005/videotube/internal/server/models"
	"github.com/dmitrijs2005/videotube/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxJSONBytes          = 16 << 10
	defaultMaxUploadBytes = 10 << 20
	shutdownTimeout       = 10 * time.Second
)

// AccountService is the set of account flows the HTTP boundary depends on.
type AccountService interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.AccountView, error)
	Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, accountID string) error
	Authenticate(ctx context.Context, accessToken string) (*models.AccountView, error)

	ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error
	CurrentUser(ctx context.Context, id string) (*models.AccountView, error)
	UpdateAccount(ctx context.Context, id, fullName, email string) (*models.AccountView, error)
	UpdateAvatar(ctx context.Context, id, localPath string) (*models.AccountView, error)
	UpdateCoverImage(ctx context.Context, id, localPath string) (*models.AccountView, error)
	ChannelProfile(ctx context.Context, username string) (*models.ChannelProfile, error)
	WatchHistory(ctx context.Context, id string) ([]string, error)
}

// HealthFunc reports whether the backing store is reachable.
type HealthFunc func(ctx context.Context) error

type Options struct {
	Address        string
	UploadDir      string
	MaxUploadBytes int64
	CORSOrigin     string
	Transport      SessionTransport
	Health         HealthFunc
}

type Server struct {
	address        string
	uploadDir      string
	maxUploadBytes int64
	corsOrigin     string
	transport      SessionTransport
	health         HealthFunc
	users          AccountService
	logger         logging.Logger
}

func NewServer(opts Options, us AccountService, l logging.Logger) *Server {
	if l == nil {
		l = logging.Nop{}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Server{
		address:        opts.Address,
		uploadDir:      opts.UploadDir,
		maxUploadBytes: opts.MaxUploadBytes,
		corsOrigin:     opts.CORSOrigin,
		transport:      opts.Transport,
		health:         opts.Health,
		users:          us,
		logger:         l.With("module", "http_server"),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/healthz", s.healthz)

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Post("/login", s.login)
		r.Post("/refresh-token", s.refreshToken)

		r.Group(func(r chi.Router) {
			r.Use(s.Authenticate)

			r.Post("/logout", s.logout)
			r.Post("/change-password", s.changePassword)
			r.Patch("/change-password", s.changePassword)
			r.Get("/current-user", s.currentUser)
			r.Patch("/update-account", s.updateAccount)
			r.Patch("/avatar", s.updateAvatar)
			r.Patch("/coverImage", s.updateCoverImage)
			r.Get("/channel/{username}", s.channelProfile)
			r.Get("/history", s.watchHistory)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "graceful shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
