package handler

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/strategy-hub/internal/service"
)

// StrategyHandler serves the strategy CRUD and export routes.
//
// The handler only translates HTTP to service calls: it reads the caller
// from the request context, decodes the body or query, and passes both to
// StrategyService. Ownership and validation live in the service.
type StrategyHandler struct {
	strategies *service.StrategyService
	logger     *slog.Logger
}

func NewStrategyHandler(strategies *service.StrategyService, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{strategies: strategies, logger: logger}
}

// updateRequest is the PUT body: the patch plus the target's _id.
type updateRequest struct {
	ID string `json:"_id"`
	service.StrategyPatch
}

// HandleList returns strategies visible to the caller.
//
// HTTP: GET /api/strategies?public=true&favorites=true
func (h *StrategyHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.strategies.List(r.Context(), callerID(r), service.ListFilter{
		PublicOnly:    q.Get("public") == "true",
		FavoritesOnly: q.Get("favorites") == "true",
	})
	if err != nil {
		h.logger.Error("failed to list strategies", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, list, "")
}

// HandleGetByID returns one strategy.
//
// HTTP: GET /api/strategies/{id}
func (h *StrategyHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	st, err := h.strategies.Get(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, st, "")
}

// HandleCreate stores a new strategy owned by the caller.
//
// HTTP: POST /api/strategies (throttled)
func (h *StrategyHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.StrategyInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	st, err := h.strategies.Create(r.Context(), callerID(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, st, "")
}

// HandleUpdate applies a partial update. The target ID travels in the body.
//
// HTTP: PUT /api/strategies   {"_id": "...", "name": "..."}
func (h *StrategyHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	st, err := h.strategies.Update(r.Context(), callerID(r), req.ID, req.StrategyPatch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, st, "")
}

// HandleDelete removes a strategy permanently.
//
// HTTP: DELETE /api/strategies?id=...
func (h *StrategyHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.strategies.Delete(r.Context(), callerID(r), r.URL.Query().Get("id")); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil, "Strategy deleted")
}

// HandleExport streams a strategy as a JSON or CSV attachment.
//
// HTTP: GET /api/strategies/export?id=...&format=json|csv
func (h *StrategyHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	file, err := h.strategies.Export(r.Context(), callerID(r), q.Get("id"), q.Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": file.Filename})
	if disposition == "" {
		// The name has characters FormatMediaType refuses; fall back to a plain one.
		disposition = fmt.Sprintf(`attachment; filename="strategy.%s"`, extension(file.ContentType))
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.Body); err != nil {
		h.logger.Warn("export write failed", slog.String("error", err.Error()))
	}
}

func extension(contentType string) string {
	if contentType == "text/csv" {
		return "csv"
	}
	return "json"
}
