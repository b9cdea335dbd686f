// Package httpapi exposes the account service over HTTP/JSON: the gin
// router, the handlers and the translation of service errors into status
// codes and response bodies.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/spadeshq/accounts/internal/logging"
	"github.com/spadeshq/accounts/internal/server/config"
	"github.com/spadeshq/accounts/internal/server/models"
	"github.com/spadeshq/accounts/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

// UserService is the account surface the handlers call into.
type UserService interface {
	Login(ctx context.Context, identifier, password string) (string, error)
	Register(ctx context.Context, username, password, email string) (string, error)
	Authorize(ctx context.Context, token string) (*services.Auth, error)
	Confirm(ctx context.Context, token string) error
	Search(ctx context.Context, query string) ([]models.User, error)
	Read(ctx context.Context, id int64) (*models.User, error)
	Update(ctx context.Context, id int64, req services.UpdateRequest, token string) error
	Delete(ctx context.Context, id int64, token string) error
}

// PictureService hands out presigned URLs for profile pictures.
type PictureService interface {
	UploadURL(ctx context.Context, userID int64) (string, string, error)
	DownloadURL(ctx context.Context, userID int64) (string, error)
}

type Server struct {
	config   *config.Config
	logger   logging.Logger
	users    UserService
	pictures PictureService
	router   *gin.Engine
}

func NewServer(cfg *config.Config, logger logging.Logger, users UserService, pictures PictureService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:   cfg,
		logger:   logger,
		users:    users,
		pictures: pictures,
		router:   gin.New(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())

	// Cookie auth over a cross-origin frontend needs credentialed CORS,
	// so the origin list cannot be a wildcard.
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{s.config.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
	}))
}

func (s *Server) setupRoutes() {
	users := s.router.Group("/users")
	{
		users.POST("/login", s.login)
		users.POST("/register", s.register)
		users.POST("/confirm", s.confirm)
		users.GET("/", s.search)
		users.GET("/:id", s.read)
		users.PATCH("/:id", s.update)
		users.DELETE("/:id", s.delete)
		users.POST("/:id/picture/upload-url", s.pictureUploadURL)
		users.GET("/:id/picture", s.pictureDownloadURL)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully. TLS is
// enabled when both cert and key paths are configured.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.EndpointAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
			err = srv.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info(ctx, "http server listening", "addr", s.config.EndpointAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
