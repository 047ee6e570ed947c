package handlers

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/idgate/idgate/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every route under /api/v1 and wraps the router with CORS.
func NewRouter(
	authHandlers *AuthHandlers,
	userHandlers *UserHandlers,
	authMiddleware *middleware.AuthMiddleware,
	otpLimiter *middleware.IPRateLimiter,
	allowedOrigins []string,
	logger *logrus.Logger,
) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", authHandlers.Register).Methods("POST")
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST")
	auth.Handle("/request-reset", otpLimiter.Limit(http.HandlerFunc(authHandlers.RequestReset))).Methods("POST")
	auth.Handle("/verify-otp", otpLimiter.Limit(http.HandlerFunc(authHandlers.VerifyOTP))).Methods("POST")
	auth.Handle("/reset-password", otpLimiter.Limit(http.HandlerFunc(authHandlers.ResetPassword))).Methods("POST")
	auth.Handle("/me", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.Me))).Methods("GET")

	users := api.PathPrefix("/users").Subrouter()
	users.Use(authMiddleware.RequireAuth)
	users.HandleFunc("", userHandlers.ListUsers).Methods("GET")
	users.HandleFunc("/me", userHandlers.UpdateMe).Methods("PATCH")
	users.HandleFunc("/me/change-password", userHandlers.ChangePassword).Methods("POST")
	users.HandleFunc("/{id}/verify", userHandlers.SetVerification).Methods("PATCH")

	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})(router)
}
