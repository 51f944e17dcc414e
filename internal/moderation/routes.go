package moderation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/AleeDevp/italihub-moderation/internal/auth"
)

// RegisterRoutes mounts the moderation surface under /api/moderation. The
// router must already authenticate requests and require the moderator role.
func RegisterRoutes(r chi.Router, engine *Engine) {
	r.Route("/api/moderation", func(r chi.Router) {
		r.Get("/ads/{id}", handleGetAd(engine))
		r.Get("/ads/{id}/actions", handleAdActions(engine))
		r.Patch("/ads/{id}", handleAdDecision(engine))
		r.Post("/ads/bulk", handleAdBulk(engine))

		r.Get("/verifications/{id}", handleGetVerification(engine))
		r.Patch("/verifications/{id}", handleVerificationDecision(engine))
		r.Post("/verifications/bulk", handleVerificationBulk(engine))
	})
}

type decisionRequest struct {
	Action     string `json:"action"`
	Status     string `json:"status,omitempty"`
	ReasonCode string `json:"reason_code,omitempty"`
	ReasonText string `json:"reason_text,omitempty"`
}

type bulkRequest struct {
	Action     string  `json:"action"`
	IDs        []int64 `json:"ids"`
	ReasonCode string  `json:"reason_code,omitempty"`
	ReasonText string  `json:"reason_text,omitempty"`
}

func handleGetAd(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		ad, err := engine.Store().GetAd(r.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, &NotFoundError{Target: TargetAd, ID: id})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ad)
	}
}

func handleAdActions(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		actions, err := engine.Store().ListActions(r.Context(), TargetAd, id)
		if err != nil {
			writeError(w, err)
			return
		}
		if actions == nil {
			actions = []Action{}
		}
		writeJSON(w, http.StatusOK, actions)
	}
}

func handleAdDecision(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		var (
			ad  *Ad
			err error
		)
		switch req.Action {
		case "approve":
			ad, err = engine.ApproveAd(r.Context(), actor, id)
		case "reject":
			ad, err = engine.RejectAd(r.Context(), actor, id, req.ReasonCode, req.ReasonText)
		case "change_status":
			if actor.Role != auth.RoleAdmin {
				http.Error(w, "admin role required", http.StatusForbidden)
				return
			}
			ad, err = engine.ChangeAdStatus(r.Context(), actor, id, AdStatus(req.Status), req.ReasonCode, req.ReasonText)
		default:
			http.Error(w, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ad)
	}
}

func handleAdBulk(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		req, ok := decodeBulk(w, r)
		if !ok {
			return
		}

		switch req.Action {
		case "approve":
			writeJSON(w, http.StatusOK, engine.BulkApproveAds(r.Context(), actor, req.IDs))
		case "reject":
			res, err := engine.BulkRejectAds(r.Context(), actor, req.IDs, req.ReasonCode, req.ReasonText)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		default:
			http.Error(w, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
		}
	}
}

func handleGetVerification(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		req, err := engine.Store().GetVerification(r.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, &NotFoundError{Target: TargetVerification, ID: id})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func handleVerificationDecision(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		var (
			vr  *VerificationRequest
			err error
		)
		switch req.Action {
		case "approve":
			vr, err = engine.ApproveVerification(r.Context(), actor, id)
		case "reject":
			vr, err = engine.RejectVerification(r.Context(), actor, id, req.ReasonCode, req.ReasonText)
		default:
			http.Error(w, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, vr)
	}
}

func handleVerificationBulk(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		req, ok := decodeBulk(w, r)
		if !ok {
			return
		}

		switch req.Action {
		case "approve":
			writeJSON(w, http.StatusOK, engine.BulkApproveVerifications(r.Context(), actor, req.IDs))
		case "reject":
			res, err := engine.BulkRejectVerifications(r.Context(), actor, req.IDs, req.ReasonCode, req.ReasonText)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		default:
			http.Error(w, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
		}
	}
}

func decodeBulk(w http.ResponseWriter, r *http.Request) (bulkRequest, bool) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if len(req.IDs) == 0 {
		http.Error(w, "ids is required", http.StatusBadRequest)
		return req, false
	}
	if len(req.IDs) > MaxBulkSize {
		http.Error(w, fmt.Sprintf("at most %d ids per request", MaxBulkSize), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	var (
		notFound   *NotFoundError
		transition *InvalidTransitionError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &validation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &transition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
