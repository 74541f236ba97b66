/**
 * @description
 * HTTP handlers for the prize service.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quicklifts/prize-service/internal/app"
	"github.com/quicklifts/prize-service/internal/domain"
)

// HostConfirmationSender sends host confirmation emails.
type HostConfirmationSender interface {
	SendHostConfirmation(ctx context.Context, req app.HostConfirmationRequest) (*app.HostConfirmationResult, error)
}

// DistributionConfirmer consumes confirmation links.
type DistributionConfirmer interface {
	ConfirmDistribution(ctx context.Context, prizeID, token string) (*domain.PrizeAssignment, error)
}

// RunSummaryLister lists retry pass audit entries.
type RunSummaryLister interface {
	ListRecentRunSummaries(ctx context.Context, limit int) ([]domain.RunSummary, error)
}

// Handler holds the application services that handlers interact with.
type Handler struct {
	retry     app.RetryRunner
	notifier  HostConfirmationSender
	confirmer DistributionConfirmer
	runs      RunSummaryLister
	logger    *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(retry app.RetryRunner, notifier HostConfirmationSender, confirmer DistributionConfirmer, runs RunSummaryLister, logger *slog.Logger) *Handler {
	return &Handler{
		retry:     retry,
		notifier:  notifier,
		confirmer: confirmer,
		runs:      runs,
		logger:    logger,
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type confirmResponse struct {
	Success            bool                      `json:"success"`
	PrizeID            string                    `json:"prizeId"`
	ChallengeTitle     string                    `json:"challengeTitle"`
	DistributionStatus domain.DistributionStatus `json:"distributionStatus"`
	Message            string                    `json:"message"`
}

func (h *Handler) handleRetryPrizeDistributions(w http.ResponseWriter, r *http.Request) {
	result, err := h.retry.RunRetryPass(r.Context())
	if err != nil {
		h.logger.Error("retry pass failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRetryPreflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSendHostConfirmation(w http.ResponseWriter, r *http.Request) {
	var req app.HostConfirmationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequestedBy == "" {
		if userID, ok := UserFromContext(r.Context()); ok {
			req.RequestedBy = userID
		}
	}

	h.sendHostConfirmation(w, r, req)
}

func (h *Handler) handleSendHostConfirmationInternal(w http.ResponseWriter, r *http.Request) {
	var req app.HostConfirmationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.sendHostConfirmation(w, r, req)
}

func (h *Handler) sendHostConfirmation(w http.ResponseWriter, r *http.Request, req app.HostConfirmationRequest) {
	result, err := h.notifier.SendHostConfirmation(r.Context(), req)
	if err != nil {
		status := domain.HTTPStatus(err)
		h.logger.Error("host confirmation failed", "prize_id", req.PrizeAssignmentID, "status", status, "error", err)
		respondWithError(w, status, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleConfirmDistribution(w http.ResponseWriter, r *http.Request) {
	prizeID := r.URL.Query().Get("prizeId")
	token := r.URL.Query().Get("token")

	assignment, err := h.confirmer.ConfirmDistribution(r.Context(), prizeID, token)
	if err != nil {
		status := domain.HTTPStatus(err)
		message := err.Error()
		if errors.Is(err, domain.ErrValidation) {
			message = "This confirmation link is invalid or has expired"
		}
		respondWithError(w, status, message)
		return
	}

	respondWithJSON(w, http.StatusOK, confirmResponse{
		Success:            true,
		PrizeID:            assignment.ID,
		ChallengeTitle:     assignment.ChallengeTitle,
		DistributionStatus: assignment.DistributionStatus,
		Message:            "Prize distribution confirmed",
	})
}

func (h *Handler) handleListRetryRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			respondWithError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	runs, err := h.runs.ListRecentRunSummaries(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list retry runs", "error", err)
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.RunSummary{}
	}

	respondWithJSON(w, http.StatusOK, runs)
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Success: false, Error: message})
}
