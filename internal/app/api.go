package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/rdiovox/internal/health"
	"github.com/MrWong99/rdiovox/internal/observe"
	"github.com/MrWong99/rdiovox/pkg/audio"
)

// liveInterval is how often /api/live pushes a status snapshot.
const liveInterval = 250 * time.Millisecond

// errorBody is the JSON shape of every non-2xx API response.
type errorBody struct {
	Error string `json:"error"`
}

// controlRequest is the body of POST /api/control.
type controlRequest struct {
	Action string `json:"action"`
}

// controlResponse acknowledges a control action with the resulting state.
type controlResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

// versionResponse is the body of GET /api/version.
type versionResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// routes builds the control surface: the /api endpoints, health probes, and
// the Prometheus scrape endpoint, all wrapped in the observability
// middleware.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/devices", a.handleDevices)
	mux.HandleFunc("GET /api/version", a.handleVersion)
	mux.HandleFunc("POST /api/control", a.handleControl)
	mux.HandleFunc("GET /api/live", a.handleLive)

	health.New(
		health.AudioDevices(a.providers.Host),
		health.UploadConfig(a.cfg.Server.URL, a.cfg.Server.APIKey),
	).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(observe.DefaultMetrics())(mux)
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.monitor.Status())
}

func (a *App) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := a.monitor.ListDevices()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if devices == nil {
		devices = []audio.DeviceInfo{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{Name: "rdiovox", Version: Version})
}

func (a *App) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}

	switch req.Action {
	case "start":
		if err := a.monitor.Start(r.Context()); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
	case "stop":
		if err := a.monitor.Stop(); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("unknown action %q", req.Action)})
		return
	}

	writeJSON(w, http.StatusOK, controlResponse{
		Status: "ok",
		State:  a.monitor.State().String(),
	})
}

// handleLive upgrades to a WebSocket and pushes status snapshots every
// [liveInterval] until the client disconnects or the server shuts down.
func (a *App) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// The stream is write-only; CloseRead reaps control frames and cancels
	// the context when the client goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(liveInterval)
	defer ticker.Stop()

	if err := a.writeStatus(ctx, conn); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "closing")
			return
		case <-ticker.C:
			if err := a.writeStatus(ctx, conn); err != nil {
				slog.Debug("live status stream ended", "err", err)
				return
			}
		}
	}
}

func (a *App) writeStatus(ctx context.Context, conn *websocket.Conn) error {
	data, err := json.Marshal(a.monitor.Status())
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "err", err)
	}
}
