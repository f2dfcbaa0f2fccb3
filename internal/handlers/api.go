package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
)

// APIHandler handles system-level HTTP requests
type APIHandler struct {
	generation interfaces.GenerationProvider
	storage    interfaces.StorageManager
	logger     arbor.ILogger
}

func NewAPIHandler(generation interfaces.GenerationProvider, storage interfaces.StorageManager, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		generation: generation,
		storage:    storage,
		logger:     logger,
	}
}

// VersionHandler handles GET /api/version requests
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetFullVersion(),
	})
}

// HealthHandler handles GET /api/health requests. Provider failures degrade
// the response rather than erroring, so orchestrators can tell "up but
// provider down" from "down".
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := "healthy"
	providerStatus := "ok"
	if err := h.generation.HealthCheck(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Provider health check failed")
		status = "degraded"
		providerStatus = err.Error()
	}

	sourceCount := 0
	if sources, err := h.storage.SourceStorage().ListSources(); err == nil {
		sourceCount = len(sources)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"provider": providerStatus,
		"mode":     string(h.generation.GetMode()),
		"sources":  sourceCount,
		"version":  common.GetVersion(),
	})
}
