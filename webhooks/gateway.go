package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
)

const defaultMaxBodyBytes = 1 << 20

// Gateway serves the webhook receiver and the polling endpoint.
type Gateway struct {
	processor      *Processor
	allowedOrigins []string
	version        string
	maxBodyBytes   int64
}

func NewGateway(cfg core.SyncConfig, processor *Processor) *Gateway {
	version := strings.TrimSpace(cfg.Gateway.Version)
	if version == "" {
		version = core.DefaultConfig().Gateway.Version
	}
	origins := make([]string, 0, len(cfg.Gateway.AllowedOrigins))
	for _, origin := range cfg.Gateway.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return &Gateway{
		processor:      processor,
		allowedOrigins: origins,
		version:        version,
		maxBodyBytes:   defaultMaxBodyBytes,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.setCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch {
	case r.URL.Path == "/webhook" && r.Method == http.MethodPost:
		g.handleWebhook(w, r)
	case r.URL.Path == "/events" && r.Method == http.MethodGet:
		g.handleEvents(w, r)
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": g.processor.Clock.Time().Format(time.RFC3339Nano),
			"version":   g.version,
		})
	default:
		writeText(w, http.StatusNotFound, "Not Found")
	}
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"success": false, "error": "body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "could not read body"})
		return
	}
	result, err := g.processor.Ingest(r.Context(), Delivery{
		Headers: HeadersFrom(r.Header),
		Body:    body,
	})
	switch {
	case result.StatusCode == http.StatusUnauthorized:
		writeText(w, http.StatusUnauthorized, "Unauthorized")
	case result.StatusCode == http.StatusOK && !result.Supported:
		writeText(w, http.StatusOK, result.Message)
	case err != nil:
		status := result.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"eventId":   result.Event.ID,
			"processed": result.Processed,
		})
	}
}

func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var since int64
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "since must be a non-negative sequence"})
			return
		}
		since = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	events, err := g.processor.Poll(r.Context(), since, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if events == nil {
		events = []core.CanonicalEvent{}
	}
	last := since
	for _, event := range events {
		if event.Sequence > last {
			last = event.Sequence
		}
	}
	writeJSON(w, http.StatusOK, EventsPage{Events: events, LastEventID: last})
}

// EventsPage is the body of GET /events.
type EventsPage struct {
	Events      []core.CanonicalEvent `json:"events"`
	LastEventID int64                 `json:"lastEventId"`
}

func (g *Gateway) setCORS(w http.ResponseWriter, r *http.Request) {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || !slices.Contains(g.allowedOrigins, origin) {
		return
	}
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, "+g.signatureHeader())
	header.Set("Access-Control-Max-Age", "86400")
	header.Add("Vary", "Origin")
}

func (g *Gateway) signatureHeader() string {
	if verifier, ok := g.processor.Verifier.(HMACVerifier); ok {
		return verifier.headerName()
	}
	return DefaultSignatureHeader
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}
