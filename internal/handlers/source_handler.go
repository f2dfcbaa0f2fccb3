package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

// maxUploadBytes caps a single document upload at 64 MiB.
const maxUploadBytes = 64 << 20

// SourceHandler handles source ingestion and lifecycle HTTP requests
type SourceHandler struct {
	ingestService interfaces.IngestService
	sourceStorage interfaces.SourceStorage
	validate      *validator.Validate
	logger        arbor.ILogger
}

func NewSourceHandler(ingestService interfaces.IngestService, sourceStorage interfaces.SourceStorage, logger arbor.ILogger) *SourceHandler {
	return &SourceHandler{
		ingestService: ingestService,
		sourceStorage: sourceStorage,
		validate:      validator.New(),
		logger:        logger,
	}
}

// ingestRequest is the JSON upload form: descriptor fields plus the document
// bytes, base64-encoded. Multipart uploads carry the same descriptor fields
// as form values with the document in the "file" part.
type ingestRequest struct {
	models.SourceDescriptor
	Content string `json:"content" validate:"required"`
}

// IngestHandler handles POST /api/sources requests
func (h *SourceHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	desc, data, err := h.parseIngestRequest(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.validate.Struct(desc); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	src, err := h.ingestService.Ingest(r.Context(), desc, data)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrIngestionInFlight):
			WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, models.ErrClassificationRejected):
			// The source record carries the FAILED status and the reason.
			WriteJSON(w, http.StatusUnprocessableEntity, src)
		case errors.Is(err, models.ErrParseFailed):
			WriteError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error().Err(err).Msg("Ingestion failed")
			WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	WriteJSON(w, http.StatusCreated, src)
}

// parseIngestRequest accepts either a multipart upload or a JSON body with
// base64 content.
func (h *SourceHandler) parseIngestRequest(r *http.Request) (*models.SourceDescriptor, []byte, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, nil, err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, nil, errors.New("multipart upload requires a \"file\" part")
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			return nil, nil, err
		}

		desc := &models.SourceDescriptor{
			Name:        r.FormValue("name"),
			GameID:      r.FormValue("game_id"),
			Tier:        models.SourceTier(strings.ToUpper(r.FormValue("tier"))),
			Official:    r.FormValue("official") == "true",
			ContentType: r.FormValue("content_type"),
			TTL:         r.FormValue("ttl"),
		}
		if desc.ContentType == "" {
			desc.ContentType = header.Header.Get("Content-Type")
		}
		return desc, data, nil
	}

	var req ingestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		return nil, nil, err
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		return nil, nil, errors.New("content must be base64-encoded")
	}
	desc := req.SourceDescriptor
	return &desc, data, nil
}

// ListHandler handles GET /api/sources requests, optionally filtered by game.
func (h *SourceHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	var (
		sources []*models.Source
		err     error
	)
	if gameID := r.URL.Query().Get("game_id"); gameID != "" {
		sources, err = h.sourceStorage.ListSourcesByGame(gameID)
	} else {
		sources, err = h.sourceStorage.ListSources()
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sources")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sources": sources,
		"count":   len(sources),
	})
}

// GetHandler handles GET /api/sources/{id} requests
func (h *SourceHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	id := sourceID(r)
	if id == "" {
		WriteError(w, http.StatusBadRequest, "source id required")
		return
	}

	src, err := h.ingestService.Status(id)
	if err != nil {
		if errors.Is(err, models.ErrSourceNotFound) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, src)
}

// DeleteHandler handles DELETE /api/sources/{id} requests
func (h *SourceHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	id := sourceID(r)
	if id == "" {
		WriteError(w, http.StatusBadRequest, "source id required")
		return
	}

	if err := h.ingestService.Remove(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrSourceNotFound) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("source_id", id).Msg("Failed to remove source")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteSuccess(w, "source removed")
}

func sourceID(r *http.Request) string {
	return strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sources/"), "/")
}
