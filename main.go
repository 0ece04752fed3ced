package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"
)

type server struct {
	hub  *hub
	auth *authStore
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	db, err := openDatabase(context.Background(), cfg.DBPath)
	if err != nil {
		slog.Error("open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	auth := newAuthStore(db, cfg.TokenTTL)
	h := newHub(auth, newSQLiteCommentStore(db), logger)
	h.authTimeout = cfg.AuthTimeout

	srv := &server{hub: h, auth: auth}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/signup", srv.handleSignup)
	mux.HandleFunc("/api/login", srv.handleLogin)
	mux.HandleFunc("/ws", srv.handleWS)

	slog.Info("issuecast listening", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, loggingMiddleware(mux)); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func (s *server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		Password    string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.auth.createAccount(r.Context(), req.Email, req.DisplayName, req.Password)
	switch {
	case errors.Is(err, errSignupInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, errAccountExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		slog.Error("create account", "error", err)
		http.Error(w, "failed to create account", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
	}
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, expires, err := s.auth.issueToken(r.Context(), req.Email, req.Password, r.UserAgent())
	switch {
	case errors.Is(err, errBadLogin):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case err != nil:
		slog.Error("issue token", "error", err)
		http.Error(w, "failed to log in", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     token,
			"expiresAt": expires,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
