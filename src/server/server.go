// Package server exposes read-only status endpoints over the running
// sessions: connection state, positions, orders, trade history and P&L.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradeterm/src/model"
	"tradeterm/src/session"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

// sessionFromRequest resolves the profile query parameter into a session.
func sessionFromRequest(m *session.Manager, w http.ResponseWriter, r *http.Request) *session.Context {
	profile := model.ExchangeProfile(r.URL.Query().Get("profile"))
	sess := m.Session(profile)
	if sess == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown profile"})
		return nil
	}
	return sess
}

// NewRouter builds the status routes over the session manager.
func NewRouter(m *session.Manager) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	r.Get("/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		statuses := make([]session.Status, 0)
		for _, sess := range m.Sessions() {
			statuses = append(statuses, sess.Status())
		}
		writeJSON(w, http.StatusOK, statuses)
	})

	r.Get("/v1/positions", func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromRequest(m, w, r)
		if sess == nil {
			return
		}
		writeJSON(w, http.StatusOK, sess.Book().Positions())
	})

	r.Get("/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromRequest(m, w, r)
		if sess == nil {
			return
		}
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol is required"})
			return
		}
		writeJSON(w, http.StatusOK, sess.Orders().Resting(symbol))
	})

	r.Get("/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromRequest(m, w, r)
		if sess == nil {
			return
		}
		writeJSON(w, http.StatusOK, sess.Book().Trades())
	})

	r.Get("/v1/pnl", func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromRequest(m, w, r)
		if sess == nil {
			return
		}
		writeJSON(w, http.StatusOK, sess.Book().Summary())
	})

	return r
}

// StartServer serves the status API until SIGINT/SIGTERM, then shuts down
// gracefully.
func StartServer(port string, m *session.Manager) {
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: NewRouter(m),
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	m.DisconnectAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
