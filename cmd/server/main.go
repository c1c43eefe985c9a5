package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/segyhp/loan-ledger/internal/app"
	"github.com/segyhp/loan-ledger/internal/config"
	"github.com/segyhp/loan-ledger/internal/handler"
	"github.com/segyhp/loan-ledger/pkg/response"
	"github.com/sirupsen/logrus"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := cfg.NewLogger()

	application, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer application.Close()

	loanHandler := handler.NewLoanHandler(application.Service)
	healthHandler := handler.NewHealthHandler(application.DB, application.Redis, cfg.Business.StorageBackend, cfg.GetHealthTimeout())

	// Setup routes
	router := setupRoutes(loanHandler, healthHandler, log)
	// CORS wraps the router so preflight requests never reach route matching
	root := response.CORSMiddleware(router)

	// Start server
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      root,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}

	// Start server in a goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
		return
	}

	log.Info("server exited")
}

func setupRoutes(loanHandler *handler.LoanHandler, healthHandler *handler.HealthHandler, log logrus.FieldLogger) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware(log))
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	// Health check
	router.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", healthHandler.Ready).Methods(http.MethodGet)

	// API routes
	loanHandler.RegisterRoutes(router.PathPrefix("/api/v1").Subrouter())

	return router
}
