package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vovakirdan/ddpchat-sdk-go/ddpchat"
)

// chatClient is the part of *ddpchat.Client the HTTP surface uses.
type chatClient interface {
	Snapshot() *ddpchat.Snapshot
	State() ddpchat.ConnectionState
	OpenRoom(ctx context.Context, roomID string) error
	RoomStatus(ctx context.Context, roomID string) (ddpchat.RoomStatus, error)
}

func newRouter(client chatClient, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		state := client.State()
		code := http.StatusOK
		if state != ddpchat.StateReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"state": state.String()}, logger)
	})

	r.Get("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, client.Snapshot(), logger)
	})

	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, client.Snapshot().Rooms, logger)
		})
		r.Get("/{roomID}", func(w http.ResponseWriter, r *http.Request) {
			room, ok := client.Snapshot().Room(chi.URLParam(r, "roomID"))
			if !ok {
				writeJSON(w, http.StatusNotFound, errorBody("unknown room"), logger)
				return
			}
			writeJSON(w, http.StatusOK, room, logger)
		})
		r.Get("/{roomID}/messages", func(w http.ResponseWriter, r *http.Request) {
			msgs, ok := client.Snapshot().Messages[chi.URLParam(r, "roomID")]
			if !ok {
				writeJSON(w, http.StatusNotFound, errorBody("no history for room"), logger)
				return
			}
			writeJSON(w, http.StatusOK, msgs, logger)
		})
		r.Get("/{roomID}/status", func(w http.ResponseWriter, r *http.Request) {
			st, err := client.RoomStatus(r.Context(), chi.URLParam(r, "roomID"))
			if err != nil {
				writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()), logger)
				return
			}
			body := map[string]any{
				"room":    st.RoomID,
				"state":   st.State.String(),
				"live":    st.Live,
				"stalled": st.Stalled,
			}
			if st.Err != nil {
				body["error"] = st.Err.Error()
			}
			writeJSON(w, http.StatusOK, body, logger)
		})
		r.Post("/{roomID}/open", func(w http.ResponseWriter, r *http.Request) {
			roomID := chi.URLParam(r, "roomID")
			err := client.OpenRoom(r.Context(), roomID)
			switch {
			case err == nil:
				writeJSON(w, http.StatusAccepted, map[string]string{"room": roomID}, logger)
			case errors.Is(err, ddpchat.ErrNotReady), errors.Is(err, ddpchat.ErrNotConnected):
				writeJSON(w, http.StatusConflict, errorBody(err.Error()), logger)
			default:
				writeJSON(w, http.StatusBadGateway, errorBody(err.Error()), logger)
			}
		})
	})

	return r
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response failed", "error", err)
	}
}
