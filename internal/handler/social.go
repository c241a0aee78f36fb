package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/strategy-hub/internal/service"
)

// SocialHandler serves comments, ratings, favorites, templates and copies.
type SocialHandler struct {
	social *service.SocialService
	logger *slog.Logger
}

func NewSocialHandler(social *service.SocialService, logger *slog.Logger) *SocialHandler {
	return &SocialHandler{social: social, logger: logger}
}

type strategyRef struct {
	StrategyID string `json:"strategyId"`
}

type commentRequest struct {
	StrategyID string `json:"strategyId"`
	Text       string `json:"text"`
}

type ratingRequest struct {
	StrategyID string `json:"strategyId"`
	Rating     int    `json:"rating"`
}

type useTemplateRequest struct {
	TemplateID string  `json:"templateId"`
	Name       *string `json:"name"`
}

type favoriteResponse struct {
	Success   bool `json:"success"`
	Favorited bool `json:"favorited"`
}

// =========================================================================
// COMMENTS
// =========================================================================

// HTTP: GET /api/strategies/comments?strategyId=...
func (h *SocialHandler) HandleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.social.ListComments(r.Context(), r.URL.Query().Get("strategyId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, comments, "")
}

// HTTP: POST /api/strategies/comments   {"strategyId": "...", "text": "..."}
func (h *SocialHandler) HandleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	comments, err := h.social.AddComment(r.Context(), callerID(r), req.StrategyID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, comments, "Comment added successfully")
}

// HTTP: DELETE /api/strategies/comments?strategyId=...&commentId=...
func (h *SocialHandler) HandleDeleteComment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := h.social.DeleteComment(r.Context(), callerID(r), q.Get("strategyId"), q.Get("commentId")); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil, "Comment deleted successfully")
}

// =========================================================================
// RATINGS
// =========================================================================

// HandleRatingSummary works anonymously; userRating is then null.
//
// HTTP: GET /api/strategies/ratings?strategyId=...
// HTTP: GET /api/strategies/rating?strategyId=...  (session required)
func (h *SocialHandler) HandleRatingSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.social.RatingSummary(r.Context(), callerID(r), r.URL.Query().Get("strategyId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, sum, "")
}

// HTTP: POST /api/strategies/ratings   {"strategyId": "...", "rating": 4}
func (h *SocialHandler) HandleRate(w http.ResponseWriter, r *http.Request) {
	h.rate(w, r, h.social.Rate)
}

// HandleRateLegacy answers 403 rather than 400 for a private strategy.
//
// HTTP: POST /api/strategies/rating
func (h *SocialHandler) HandleRateLegacy(w http.ResponseWriter, r *http.Request) {
	h.rate(w, r, h.social.RateLegacy)
}

type rateFunc func(ctx context.Context, callerID, strategyID string, value int) (*service.RatingSummary, error)

func (h *SocialHandler) rate(w http.ResponseWriter, r *http.Request, rate rateFunc) {
	var req ratingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	sum, err := rate(r.Context(), callerID(r), req.StrategyID, req.Rating)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, sum, "Rating saved successfully")
}

// =========================================================================
// FAVORITES
// =========================================================================

// HTTP: GET /api/strategies/favorite?strategyId=...
func (h *SocialHandler) HandleIsFavorite(w http.ResponseWriter, r *http.Request) {
	ok, err := h.social.IsFavorite(r.Context(), callerID(r), r.URL.Query().Get("strategyId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{Success: true, Favorited: ok})
}

// HTTP: POST /api/strategies/favorite   {"strategyId": "..."}
func (h *SocialHandler) HandleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	var req strategyRef
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	on, err := h.social.ToggleFavorite(r.Context(), callerID(r), req.StrategyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{Success: true, Favorited: on})
}

// =========================================================================
// COPY
// =========================================================================

// HTTP: POST /api/strategies/copy   {"strategyId": "..."}
func (h *SocialHandler) HandleCopy(w http.ResponseWriter, r *http.Request) {
	var req strategyRef
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.social.Copy(r.Context(), callerID(r), req.StrategyID)
	if err != nil {
		writeError(w, err)
		return
	}

	msg := "Strategy copied successfully"
	if res.AlreadyCopied {
		msg = "Strategy already copied"
	}
	writeSuccess(w, http.StatusOK, res.Strategy, msg)
}

// =========================================================================
// TEMPLATES
// =========================================================================

// HTTP: GET /api/strategies/templates
func (h *SocialHandler) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.social.ListTemplates(r.Context())
	if err != nil {
		h.logger.Error("failed to list templates", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, list, "")
}

// HTTP: POST /api/strategies/templates   {"strategyId": "..."}
func (h *SocialHandler) HandleMarkTemplate(w http.ResponseWriter, r *http.Request) {
	var req strategyRef
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.social.MarkTemplate(r.Context(), callerID(r), req.StrategyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, st, "Strategy marked as template")
}

// HTTP: DELETE /api/strategies/templates?id=...
func (h *SocialHandler) HandleUnmarkTemplate(w http.ResponseWriter, r *http.Request) {
	if _, err := h.social.UnmarkTemplate(r.Context(), callerID(r), r.URL.Query().Get("id")); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil, "Template status removed")
}

// HTTP: POST /api/strategies/use-template   {"templateId": "...", "name": "optional"}
func (h *SocialHandler) HandleUseTemplate(w http.ResponseWriter, r *http.Request) {
	var req useTemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.social.UseTemplate(r.Context(), callerID(r), req.TemplateID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, st, "Strategy created from template")
}
