// Package ingest holds the entry points that feed the raw stream: the
// HTTP gateway for live device submissions and the backup replayer.
// Both are thin wrappers with no state machine of their own; the
// pipeline picks up from the raw stream.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/smsflow/smsflow/internal/core/domain"
	"github.com/smsflow/smsflow/internal/infra/broker"
)

// Pinger checks broker liveness for the gateway health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Gateway accepts raw SMS submissions over HTTP and publishes them to
// the raw stream.
type Gateway struct {
	publisher broker.Publisher
	pinger    Pinger
	server    *http.Server
	log       *slog.Logger
}

// NewGateway creates the ingest HTTP server.
func NewGateway(publisher broker.Publisher, pinger Pinger, port int) *Gateway {
	mux := http.NewServeMux()
	g := &Gateway{
		publisher: publisher,
		pinger:    pinger,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: slog.With("component", "ingest_gateway"),
	}

	mux.HandleFunc("POST /sms/raw", g.handleSubmit)
	mux.HandleFunc("GET /healthz", g.handleHealth)

	return g
}

// Start starts the HTTP server.
func (g *Gateway) Start() error {
	return g.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

func (g *Gateway) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var msg domain.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	if err := msg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	payload, err := json.Marshal(&msg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encode failed"})
		return
	}
	if err := g.publisher.Publish(r.Context(), broker.SubjectRaw, payload); err != nil {
		g.log.Error("publish raw failed", "sender", msg.Sender, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "broker unavailable"})
		return
	}

	g.log.Info("raw message accepted", "sender", msg.Sender, "source", msg.Source)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"fingerprint": msg.Fingerprint(),
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := g.pinger.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
