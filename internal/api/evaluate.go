package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/ashureev/inkwell/internal/domain"
	"github.com/ashureev/inkwell/internal/grading"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the stateless evaluation and reference routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.Me)
	r.Get("/api/history", h.ListHistory)
	r.Get("/api/bands", h.Bands)
	r.Post("/api/evaluate/batch", h.EvaluateBatch)
}

type batchPrompt struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"required"`
}

type batchItemRequest struct {
	ID     string       `json:"id" validate:"required,max=64"`
	Prompt *batchPrompt `json:"prompt,omitempty"`
	Text   string       `json:"text"`
}

type batchRequest struct {
	CallType string             `json:"call_type" validate:"required,oneof=batch_feedback batch_revisions batch_writing"`
	Items    []batchItemRequest `json:"items" validate:"required,min=1,unique=ID,dive"`
}

type batchItemResponse struct {
	ID     string                `json:"id"`
	Result *domain.GradingResult `json:"result,omitempty"`
	Band   *domain.Band          `json:"band,omitempty"`
	Error  string                `json:"error,omitempty"`
	Kind   string                `json:"kind,omitempty"`
}

type batchResponse struct {
	CallType string              `json:"call_type"`
	Budget   int                 `json:"budget"`
	Items    []batchItemResponse `json:"items"`
}

// EvaluateBatch grades several drafts outside any session. Per-item
// failures are reported inline; the request itself succeeds.
func (h *Handler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ct, err := grading.ParseCallType(req.CallType)
	if err != nil {
		h.writeError(w, r, &domain.ValidationError{Field: "call_type", Reason: err.Error()})
		return
	}
	if len(req.Items) > grading.MaxBatchItems {
		h.writeError(w, r, &domain.ValidationError{Field: "items", Reason: "too many items"})
		return
	}

	items := make([]grading.BatchItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = grading.BatchItem{ID: it.ID, Text: it.Text}
		if it.Prompt != nil {
			items[i].Prompt = &domain.Prompt{ID: it.ID, Title: it.Prompt.Title, Body: it.Prompt.Body}
		}
	}

	outcomes := grading.EvaluateBatch(r.Context(), h.grader, h.budgets, ct, items)

	resp := batchResponse{CallType: string(ct), Budget: h.budgets.For(ct), Items: make([]batchItemResponse, len(outcomes))}
	failed := 0
	for i, out := range outcomes {
		item := batchItemResponse{ID: out.ID}
		if out.Err != nil {
			failed++
			kind, _ := grading.KindOf(out.Err)
			item.Kind = string(kind)
			item.Error = failureMessage(kind)
		} else {
			band := out.Result.Band()
			item.Result = out.Result
			item.Band = &band
		}
		resp.Items[i] = item
	}
	h.logger.Info("Batch evaluated", "call_type", ct, "items", len(items), "failed", failed)
	JSON(w, http.StatusOK, resp)
}

// Bands classifies a score, or lists every band when no score is given.
func (h *Handler) Bands(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("score")
	if raw == "" {
		JSON(w, http.StatusOK, map[string]any{"bands": []domain.Band{
			domain.BandExcellent, domain.BandGood, domain.BandFair, domain.BandNeedsWork,
		}})
		return
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(score) || score < 0 || score > 100 {
		h.writeError(w, r, &domain.ValidationError{Field: "score", Reason: "must be a number between 0 and 100"})
		return
	}
	JSON(w, http.StatusOK, domain.BandFor(score))
}
