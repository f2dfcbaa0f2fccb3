package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

// JudgeHandler handles rules-question HTTP requests
type JudgeHandler struct {
	judgeService interfaces.JudgeService
	logger       arbor.ILogger
}

func NewJudgeHandler(judgeService interfaces.JudgeService, logger arbor.ILogger) *JudgeHandler {
	return &JudgeHandler{
		judgeService: judgeService,
		logger:       logger,
	}
}

type judgeRequest struct {
	Question string        `json:"question"`
	Scope    []string      `json:"scope"`
	History  []models.Turn `json:"history,omitempty"`
}

type judgeResponse struct {
	Verdict   *models.Verdict `json:"verdict"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// JudgeHandler handles POST /api/judge requests
func (h *JudgeHandler) JudgeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req judgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Question == "" {
		WriteError(w, http.StatusBadRequest, "question is required")
		return
	}

	started := time.Now()
	verdict, err := h.judgeService.Judge(r.Context(), &models.Question{
		Text:    req.Question,
		Scope:   req.Scope,
		History: req.History,
	})
	if err != nil {
		if errors.Is(err, models.ErrScopeEmpty) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Judge request failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, judgeResponse{
		Verdict:   verdict,
		ElapsedMs: time.Since(started).Milliseconds(),
	})
}
