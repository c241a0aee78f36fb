package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/strategy-hub/internal/repository"
	"github.com/sakif/strategy-hub/internal/service"
)

// GenerateHandler drafts strategies through the LLM.
type GenerateHandler struct {
	generator *service.GenerateService
	logger    *slog.Logger
}

func NewGenerateHandler(generator *service.GenerateService, logger *slog.Logger) *GenerateHandler {
	return &GenerateHandler{generator: generator, logger: logger}
}

// HandleGenerate returns an unsaved draft; nothing is stored.
//
// HTTP: POST /api/strategies/generate   {"prompt": "...", "assetClass": "", "riskLevel": ""}
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var in service.GenerateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	draft, err := h.generator.Generate(r.Context(), callerID(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, draft, "")
}

// HealthHandler reports whether the store answers.
type HealthHandler struct {
	store  repository.Pinger
	logger *slog.Logger
}

func NewHealthHandler(store repository.Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, logger: logger}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Database: "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "connected"})
}
