package hostlist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/springfiles/spring-hostlist/common"
)

// infoResponse is the JSON response to the /info HTTP method
type infoResponse struct {
	Software string `json:"software"`
	Version  string `json:"version"`
}

// WebServer is the optional HTTP observability endpoint: /info returns the
// software identity, /stats the statistics counters. Read-only, no
// authentication, meant for the same trusted network as the query server.
type WebServer struct {
	router *mux.Router
	stats  *Stats
	server *http.Server
}

// NewWebServer builds the router.
func NewWebServer(stats *Stats) *WebServer {
	server := &WebServer{stats: stats}

	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/info", server.handleInfo).Methods("GET")
	router.HandleFunc("/stats", server.handleStats).Methods("GET")
	server.router = router

	return server
}

// Handler exposes the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves HTTP on the given port on its own goroutine.
func (ws *WebServer) Start(port int) {
	ws.server = &http.Server{Addr: ":" + strconv.Itoa(port), Handler: ws.router}
	log.WithField("port", port).Info("Starting statistics HTTP server...")

	go func() {
		err := ws.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("Statistics HTTP server stopped.")
		} else {
			log.WithError(err).WithField("port", port).Error("Statistics HTTP server failed.")
		}
	}()
}

// Shutdown stops the HTTP server, waiting a bounded time for in-flight
// requests.
func (ws *WebServer) Shutdown() {
	if ws.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := ws.server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Failed to shut down statistics HTTP server.")
	}
}

func (ws *WebServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, infoResponse{common.SoftwareName, common.SoftwareVersion})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ws.stats.Snapshot())
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		log.WithError(err).Error("Failed to encode HTTP response json.")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
