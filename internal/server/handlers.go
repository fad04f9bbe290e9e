package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/pseudonym"
	"github.com/UtrechtUniversity/anonymouus/internal/websocket"
)

// anonymizeRequest is the body of POST /v1/anonymize.
type anonymizeRequest struct {
	Text string `json:"text"`
}

// anonymizeResponse carries the rewritten text and the substitution count.
type anonymizeResponse struct {
	Text          string `json:"text"`
	Substitutions int    `json:"substitutions"`
}

// handleAnonymize runs one piece of text through the rewriter chain.
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithRequestID(getRequestID(r.Context()))

	if s.config.Server.MaxTextBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxTextBytes)
	}

	var req anonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	out, count, err := s.rewrite.Apply(req.Text)
	if err != nil {
		logger.Error("Rewrite failed", zap.Error(err))
		http.Error(w, "anonymization failed", http.StatusInternalServerError)
		return
	}

	if s.stats != nil {
		s.stats.StartUnit()
		s.stats.AddReplacements(count)
	}
	s.metrics.Substitutions.Add(float64(count))

	if count > 0 {
		s.hub.BroadcastEvent(websocket.Event{
			Type: websocket.EventTypeSubstitutionBatch,
			Data: websocket.SubstitutionBatchEvent{Source: "api", Substitutions: count},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(anonymizeResponse{Text: out, Substitutions: count}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// flushResponse reports where the translation table landed.
type flushResponse struct {
	Path    string `json:"path"`
	Records int    `json:"records"`
}

// handleTableFlush exports the translation table to its configured path.
// Long-running servers with a shared registry use this to snapshot the
// table without a restart.
func (s *Server) handleTableFlush(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithRequestID(getRequestID(r.Context()))

	if s.registry == nil {
		http.Error(w, "no registry configured", http.StatusConflict)
		return
	}

	records, err := s.registry.Count(r.Context())
	if err != nil {
		logger.Error("Registry count failed", zap.Error(err))
		http.Error(w, "table flush failed", http.StatusInternalServerError)
		return
	}

	path := pseudonym.TablePath(s.config.Registry)
	var delimiter rune
	if s.config.Mapping.Delimiter != "" {
		delimiter = rune(s.config.Mapping.Delimiter[0])
	}
	if err := s.registry.Flush(r.Context(), path, delimiter); err != nil {
		logger.Error("Table flush failed", zap.Error(err))
		http.Error(w, "table flush failed", http.StatusInternalServerError)
		return
	}

	s.hub.BroadcastEvent(websocket.Event{
		Type: websocket.EventTypeTableWritten,
		Data: websocket.TableWrittenEvent{Path: path, Records: records},
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(flushResponse{Path: path, Records: records}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// handleHealth answers liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// infoResponse summarizes the running engine.
type infoResponse struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	RegistryEnabled   bool   `json:"registry_enabled"`
	DatesEnabled      bool   `json:"dates_enabled"`
	FilesProcessed    int    `json:"files_processed"`
	TotalReplacements int    `json:"total_replacements"`
	ConnectedClients  int    `json:"connected_clients"`
	Uptime            string `json:"uptime"`
}

// handleInfo reports engine configuration and run counters.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := infoResponse{
		Name:             "anonymouus",
		Version:          Version,
		RegistryEnabled:  s.config.Registry.Enabled,
		DatesEnabled:     s.config.Dates.Enabled,
		ConnectedClients: s.hub.ClientCount(),
		Uptime:           time.Since(s.started).Round(time.Second).String(),
	}
	if s.stats != nil {
		snap := s.stats.Snapshot()
		info.FilesProcessed = snap.Files
		info.TotalReplacements = snap.TotalReplacements
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.logger.Error("Failed to write info response", zap.Error(err))
	}
}
