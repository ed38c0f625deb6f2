package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/UbhaSecurity/gr-osmosdr/internal/logging"
)

// WebServer exposes telemetry history and live updates over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer builds an HTTP server serving the history, live and config endpoints.
func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	return &WebServer{
		hub:    hub,
		srv:    &http.Server{Addr: addr, Handler: hub.Handler()},
		logger: logging.For(logger, "telemetry"),
	}
}

// Handler routes the hub's JSON and SSE endpoints.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/live", h.handleLive)
	mux.HandleFunc("/api/config", h.handleGetConfig)
	mux.HandleFunc("/api/config/update", h.handleSetConfig)
	mux.HandleFunc("/api/spectrum", h.handleSpectrum)
	mux.HandleFunc("/api/health", h.handleHealth)
	return mux
}

// Listen binds the listening socket and returns the bound port, so that a
// ":0" address can be announced before serving starts.
func (w *WebServer) Listen() (net.Listener, int, error) {
	ln, err := net.Listen("tcp", w.srv.Addr)
	if err != nil {
		return nil, 0, err
	}
	port := 0
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	return ln, port, nil
}

// Serve handles requests on ln and shuts down when the context is canceled.
func (w *WebServer) Serve(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.Err(err))
		}
	}()

	w.logger.Info("web telemetry listening", logging.F("addr", ln.Addr().String()))
	if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error("web telemetry server error", logging.Err(err))
	}
}
