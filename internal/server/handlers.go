package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/pii"
	"github.com/madhavanrx18/soc-challenge/internal/policy"
	"github.com/madhavanrx18/soc-challenge/internal/registry"
	"github.com/madhavanrx18/soc-challenge/internal/websocket"
)

// handleProcess redacts one payload and returns the sanitized bytes.
// The tenant comes from X-Tenant-ID, the payload structure from
// Content-Type.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())

	tenant := r.Header.Get("X-Tenant-ID")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "missing X-Tenant-ID header")
		return
	}

	declaredType := r.Header.Get("Content-Type")
	contentType := pii.ContentTypeFromMIME(declaredType)

	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	output, result, err := s.engine.Process(r.Context(), tenant, body, contentType)
	if err != nil {
		s.logger.WithRequestID(requestID).Error("Processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	if result.SpanCount() > 0 || result.TimedOut {
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeDetection,
			Timestamp: time.Now(),
			RequestID: requestID,
			Data: websocket.DetectionEvent{
				RequestID:    requestID,
				TenantID:     tenant,
				ContentType:  string(contentType),
				Categories:   result.Categories,
				TotalSpans:   result.SpanCount(),
				UnitCount:    result.UnitCount,
				TimedOut:     result.TimedOut,
				CacheHit:     result.CacheHit,
				ProcessingMS: float64(result.Latency.Microseconds()) / 1000.0,
			},
		})
	}

	if declaredType != "" {
		w.Header().Set("Content-Type", declaredType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("X-Redaction-Count", strconv.Itoa(result.SpanCount()))
	if result.TimedOut {
		w.Header().Set("X-Redaction-Failsafe", "true")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(output)
}

// handleRegistryGet describes the active detector snapshot.
func (s *Server) handleRegistryGet(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Registry().Snapshot()

	type detectorInfo struct {
		Name     string `json:"name"`
		Category string `json:"category"`
		Priority int    `json:"priority"`
		Pattern  string `json:"pattern"`
	}
	detectors := snap.Detectors()
	infos := make([]detectorInfo, 0, len(detectors))
	for _, d := range detectors {
		infos = append(infos, detectorInfo{
			Name:     d.Name,
			Category: string(d.Category),
			Priority: d.Priority,
			Pattern:  d.Pattern.String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
		"detectors": infos,
	})
}

// handleRegistryLoad replaces the detector snapshot from a JSON
// definition set. A rejected set leaves the current snapshot active.
func (s *Server) handleRegistryLoad(w http.ResponseWriter, r *http.Request) {
	var set registry.DefinitionSet
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		writeError(w, http.StatusBadRequest, "invalid definition set")
		return
	}

	if err := s.engine.Registry().Load(set); err != nil {
		s.metrics.RegistryLoads.WithLabelValues("error").Inc()
		var patternErr *pii.InvalidPatternError
		if errors.As(err, &patternErr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":      "invalid pattern",
				"definition": patternErr.Definition,
				"reason":     patternErr.Reason,
			})
			return
		}
		s.logger.Error("Registry load failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registry load failed")
		return
	}

	snap := s.engine.Registry().Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":   snap.Version,
		"detectors": len(snap.Detectors()),
	})
}

// handlePolicyList lists tenants with explicit policy entries.
func (s *Server) handlePolicyList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": s.engine.Policies().Version(),
		"tenants": s.engine.Policies().Tenants(),
	})
}

// handlePolicyGet returns one tenant's policy entry.
func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	doc, ok := s.engine.Policies().Tenant(tenant)
	if !ok {
		writeError(w, http.StatusNotFound, "no policy entry for tenant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant": tenant,
		"policy": doc,
	})
}

// handlePolicyUpdate replaces one tenant's policy entry atomically.
func (s *Server) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]

	var doc policy.TenantDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy document")
		return
	}

	if err := s.engine.Policies().UpdateTenant(tenant, doc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "invalid policy",
			"reason": err.Error(),
		})
		return
	}

	stored, _ := s.engine.Policies().Tenant(tenant)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant":  tenant,
		"version": s.engine.Policies().Version(),
		"policy":  stored,
	})
}

// handleAuditExport summarizes ingested audit records with latency
// percentiles. A tenant query parameter narrows the summary to that
// tenant's retained records.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if tenant := r.URL.Query().Get("tenant"); tenant != "" {
		writeJSON(w, http.StatusOK, s.engine.Sink().ExportTenant(tenant))
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Sink().Export())
}

// handleAuditParquet streams the retained record window as a Parquet
// file.
func (s *Server) handleAuditParquet(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("audit-%s.parquet", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := s.engine.Sink().WriteParquet(w); err != nil {
		// Headers are gone; all we can do is log
		s.logger.Error("Audit parquet export failed", zap.Error(err))
	}
}

// handleCacheStats reports result cache statistics.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	rc := s.engine.Cache()
	if rc == nil {
		writeError(w, http.StatusNotFound, "result cache disabled")
		return
	}
	stats, err := rc.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Cache stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleCacheClear drops all cached results.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	rc := s.engine.Cache()
	if rc == nil {
		writeError(w, http.StatusNotFound, "result cache disabled")
		return
	}
	if err := rc.Clear(r.Context()); err != nil {
		s.logger.Error("Cache clear failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Registry().Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":             "redactd",
		"version":          "0.1.0",
		"registry_version": snap.Version,
		"detectors_count":  len(snap.Detectors()),
		"policy_version":   s.engine.Policies().Version(),
		"uptime":           time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Too late for an error status; the payload is already partial
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
