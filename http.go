package main

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"time"

	"gametable/server/internal/net/ws"
	"gametable/server/internal/observability"
	"gametable/server/internal/room"
	"gametable/server/internal/rules"
	"gametable/server/logging"
)

type httpDeps struct {
	wsHandler     *ws.Handler
	rules         *rules.Registry
	rooms         *room.Registry
	metrics       *telemetry
	router        *logging.Router
	observability observability.Config
}

func newHTTPHandler(deps httpDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		stats := deps.router.Stats()
		payload := struct {
			Status     string            `json:"status"`
			ServerTime int64             `json:"serverTime"`
			Rooms      int               `json:"rooms"`
			Telemetry  telemetrySnapshot `json:"telemetry"`
			Logging    struct {
				Events  uint64 `json:"events"`
				Dropped uint64 `json:"dropped"`
			} `json:"logging"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Rooms:      deps.rooms.Rooms(),
			Telemetry:  deps.metrics.Snapshot(),
		}
		payload.Logging.Events = stats.EventsTotal
		payload.Logging.Dropped = stats.DroppedTotal

		data, err := json.Marshal(payload)
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/titles", func(w http.ResponseWriter, r *http.Request) {
		payload := struct {
			Titles []string `json:"titles"`
		}{Titles: deps.rules.Titles()}

		data, err := json.Marshal(payload)
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/ws", deps.wsHandler.Handle)

	if deps.observability.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}
