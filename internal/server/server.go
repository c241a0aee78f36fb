// Package server is the composition root: it opens the store and the
// throttle counter, builds services and handlers, mounts the routes, and
// runs the HTTP server until a shutdown signal arrives.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → store (sqlite or mongo)     → repository.UserRepository / StrategyRepository
//	  → throttle counter            → throttle.Limiter → middleware.Throttle
//	  → auth.TokenService, auth.PasswordService, optional auth.GitHubProvider
//	  → optional generate.Generator (only with GROQ_API_KEY)
//	  → services → handlers → chi routes
//
// Handlers never touch a store directly and services never touch HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/strategy-hub/internal/auth"
	"github.com/sakif/strategy-hub/internal/config"
	"github.com/sakif/strategy-hub/internal/generate"
	"github.com/sakif/strategy-hub/internal/handler"
	"github.com/sakif/strategy-hub/internal/middleware"
	"github.com/sakif/strategy-hub/internal/repository"
	mongoRepo "github.com/sakif/strategy-hub/internal/repository/mongo"
	sqliteRepo "github.com/sakif/strategy-hub/internal/repository/sqlite"
	"github.com/sakif/strategy-hub/internal/service"
	"github.com/sakif/strategy-hub/internal/throttle"
)

// generatorTimeout bounds one chat-completions call.
const generatorTimeout = 60 * time.Second

// store is whichever backend the configuration selected.
type store struct {
	name       string
	users      repository.UserRepository
	strategies repository.StrategyRepository
	pinger     repository.Pinger
	close      func(ctx context.Context) error
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store and the throttle counter. Close releases both
// and Start calls it after the HTTP server has drained.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	store   *store
	closers []func(ctx context.Context) error
}

// New opens the configured store and counter and mounts every route.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		store:   st,
		closers: []func(context.Context) error{st.close},
	}

	counter, closeCounter, err := openCounter(ctx, cfg, logger)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.closers = append(s.closers, closeCounter)

	if err := s.setupRoutes(throttle.NewLimiter(counter, cfg.ThrottleLimit, cfg.ThrottleWindow)); err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// openStore picks MongoDB when MONGO_URI is set and SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	if cfg.MongoURI != "" {
		m, err := mongoRepo.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("opening mongo store: %w", err)
		}
		logger.Info("using mongo store", slog.String("database", cfg.MongoDB))
		return &store{
			name:       "mongo",
			users:      m.Users(),
			strategies: m.Strategies(),
			pinger:     m,
			close:      m.Close,
		}, nil
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	logger.Info("using sqlite store", slog.String("path", cfg.DBPath))
	return &store{
		name:       "sqlite",
		users:      db.Users(),
		strategies: db.Strategies(),
		pinger:     db,
		close:      func(context.Context) error { return db.Close() },
	}, nil
}

// openCounter picks Redis when REDIS_ADDR is set and an in-process map otherwise.
func openCounter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (throttle.Counter, func(context.Context) error, error) {
	if cfg.RedisAddr != "" {
		rdb, err := throttle.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis throttle counter", slog.String("addr", cfg.RedisAddr))
		return throttle.NewRedisCounter(rdb), func(context.Context) error { return rdb.Close() }, nil
	}

	logger.Info("using in-memory throttle counter")
	m := throttle.NewMemoryCounter()
	return m, func(context.Context) error { m.Close(); return nil }, nil
}

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns a request ID that the logger prints
//  2. RealIP: rewrites RemoteAddr from proxy headers
//  3. Logger
//  4. Recoverer: a panic becomes a 500 instead of killing the process
//  5. CORS for the browser frontend, with credentials
//
// Inside /api, read routes run OptionalAuth and everything else RequireAuth.
// Only strategy creation is throttled.
func (s *Server) setupRoutes(limiter *throttle.Limiter) error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret)
	if err != nil {
		return err
	}

	var github *auth.GitHubProvider
	if s.config.GitHubEnabled() {
		github = auth.NewGitHubProvider(s.config.GitHubClientID, s.config.GitHubClientSecret, s.config.GitHubCallbackURL)
	}

	var generator *generate.Generator
	if s.config.GroqAPIKey != "" {
		client := generate.NewChatClient(s.config.GroqAPIKey, s.config.GroqBaseURL, s.config.GroqModel,
			&http.Client{Timeout: generatorTimeout})
		generator = generate.NewGenerator(client)
	} else {
		s.logger.Warn("GROQ_API_KEY not set; strategy generation is disabled")
	}

	// === Services ===
	users, strategies := s.store.users, s.store.strategies
	accountService := service.NewAccountService(users, tokens, auth.NewPasswordService(), s.config.BaseURL, s.logger)
	strategyService := service.NewStrategyService(strategies, users, s.logger)
	socialService := service.NewSocialService(strategies, users, s.logger)
	generateService := service.NewGenerateService(generator, s.logger)

	// === Handlers ===
	secure := strings.HasPrefix(s.config.BaseURL, "https://")
	authHandler := handler.NewAuthHandler(accountService, github, secure, s.logger)
	strategyHandler := handler.NewStrategyHandler(strategyService, s.logger)
	socialHandler := handler.NewSocialHandler(socialService, s.logger)
	generateHandler := handler.NewGenerateHandler(generateService, s.logger)
	healthHandler := handler.NewHealthHandler(s.store.pinger, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/health", healthHandler.HandleHealth)

	if github != nil {
		s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	}

	s.router.Route("/api", func(r chi.Router) {
		// === Public ===
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/logout", authHandler.HandleLogout)
		r.Post("/auth/verify-email", authHandler.HandleVerifyEmail)
		r.Get("/auth/verify-email", authHandler.HandleVerifyEmailLink)
		r.Post("/auth/reset-password", authHandler.HandleResetPassword)

		// === Reads: anonymous callers see public data only ===
		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(tokens))
			r.Get("/strategies", strategyHandler.HandleList)
			r.Get("/strategies/comments", socialHandler.HandleListComments)
			r.Get("/strategies/ratings", socialHandler.HandleRatingSummary)
			r.Get("/strategies/templates", socialHandler.HandleListTemplates)
			r.Get("/strategies/{id}", strategyHandler.HandleGetByID)
		})

		// === Session required ===
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", authHandler.HandleMe)
			r.Post("/auth/send-verification", authHandler.HandleSendVerification)
			r.Put("/profile", authHandler.HandleUpdateProfile)

			r.With(middleware.Throttle(limiter, s.logger)).Post("/strategies", strategyHandler.HandleCreate)
			r.Put("/strategies", strategyHandler.HandleUpdate)
			r.Delete("/strategies", strategyHandler.HandleDelete)
			r.Get("/strategies/export", strategyHandler.HandleExport)
			r.Post("/strategies/generate", generateHandler.HandleGenerate)

			r.Post("/strategies/comments", socialHandler.HandleAddComment)
			r.Delete("/strategies/comments", socialHandler.HandleDeleteComment)
			r.Post("/strategies/ratings", socialHandler.HandleRate)
			r.Get("/strategies/rating", socialHandler.HandleRatingSummary)
			r.Post("/strategies/rating", socialHandler.HandleRateLegacy)
			r.Get("/strategies/favorite", socialHandler.HandleIsFavorite)
			r.Post("/strategies/favorite", socialHandler.HandleToggleFavorite)
			r.Post("/strategies/copy", socialHandler.HandleCopy)
			r.Post("/strategies/templates", socialHandler.HandleMarkTemplate)
			r.Delete("/strategies/templates", socialHandler.HandleUnmarkTemplate)
			r.Post("/strategies/use-template", socialHandler.HandleUseTemplate)
		})
	})

	return nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Close releases the store and the throttle counter. Errors are joined.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start runs the HTTP server and handles graceful shutdown:
//  1. stop accepting connections on SIGINT/SIGTERM
//  2. give in-flight requests 30s to finish
//  3. close the counter and the store
func (s *Server) Start() error {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Close(ctx); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: generatorTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("store", s.store.name),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
