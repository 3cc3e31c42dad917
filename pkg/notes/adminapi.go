// Copyright 2024-2026 Aiku AI

package notes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxRefreshBodySize is the maximum allowed request body for a refresh (1 MB).
const maxRefreshBodySize = 1 << 20

// RefreshRequest is the optional body of POST /api/refresh.
type RefreshRequest struct {
	// SyncRooms reconciles joined rooms into the store before refreshing.
	SyncRooms bool `json:"sync_rooms"`
}

// RefreshResponse is returned by POST /api/refresh.
type RefreshResponse struct {
	Rooms   int `json:"rooms"`
	Macros  int `json:"macros"`
	Created int `json:"created"`
}

// AdminHandler returns the admin API routes.
func (d *Dispatcher) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/refresh", d.HandleRefresh)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// NewAdminServer creates the admin HTTP server listening on addr.
func (d *Dispatcher) NewAdminServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      d.AdminHandler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ServeAdminAPI runs the admin server until ctx is cancelled.
func (d *Dispatcher) ServeAdminAPI(ctx context.Context, addr string) error {
	server := d.NewAdminServer(addr)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	d.log.Info().Str("addr", addr).Msg("Starting admin API")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// HandleRefresh is an HTTP handler for POST /api/refresh. It accepts an
// optional JSON body; an empty body only rebuilds the cache.
func (d *Dispatcher) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	d.log.Info().
		Str("remote_addr", r.RemoteAddr).
		Str("content_length", r.Header.Get("Content-Length")).
		Msg("Refresh requested")

	var req RefreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxRefreshBodySize)
		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, "invalid JSON", http.StatusBadRequest)
				return
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), d.timeout)
	defer cancel()

	var resp RefreshResponse
	var err error
	if req.SyncRooms {
		resp.Created, err = d.Sync(ctx)
	} else {
		_, err = d.Refresh(ctx)
	}
	if err != nil {
		d.log.Error().Err(err).Msg("Admin refresh failed")
		http.Error(w, "refresh failed", http.StatusInternalServerError)
		return
	}
	cache := d.Cache()
	resp.Rooms = cache.RoomCount()
	resp.Macros = cache.MacroCount()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		d.log.Warn().Err(err).Msg("Failed to write refresh response")
	}
}
