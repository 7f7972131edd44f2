package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"watt-rewards/internal/audit"
	"watt-rewards/internal/auth"
	rewardapp "watt-rewards/internal/rewards/application"
	rewards "watt-rewards/internal/rewards/domain"
	"watt-rewards/internal/rewards/interfaces"
)

// EntryReader reads the reward ledger for history and receipts.
type EntryReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]rewards.Entry, error)
	ListByClaimID(ctx context.Context, claimID string) ([]rewards.Entry, error)
}

// Handler serves reward endpoints.
type Handler struct {
	claims      *rewardapp.ClaimService
	pending     *rewardapp.PendingService
	entries     EntryReader
	auditLogger audit.Logger
}

// NewHandler constructs a Handler.
func NewHandler(claims *rewardapp.ClaimService, pending *rewardapp.PendingService, entries EntryReader, auditLogger audit.Logger) (*Handler, error) {
	if claims == nil {
		return nil, errors.New("rewards handler: nil claim service")
	}
	if pending == nil {
		return nil, errors.New("rewards handler: nil pending service")
	}
	if entries == nil {
		return nil, errors.New("rewards handler: nil entry reader")
	}
	return &Handler{claims: claims, pending: pending, entries: entries, auditLogger: auditLogger}, nil
}

// ServeHTTP routes reward requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/api/v1/rewards/pending" && r.Method == http.MethodGet:
		h.handlePending(w, r, userID)
	case r.URL.Path == "/api/v1/rewards/claim" && r.Method == http.MethodPost:
		h.handleClaim(w, r, userID)
	case r.URL.Path == "/api/v1/rewards/history" && r.Method == http.MethodGet:
		h.handleHistory(w, r, userID)
	case strings.HasPrefix(r.URL.Path, "/api/v1/rewards/claims/") && r.Method == http.MethodGet:
		h.handleReceipt(w, r, userID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request, userID string) {
	result, err := h.pending.Pending(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request, userID string) {
	result, err := h.claims.Claim(r.Context(), userID)
	if err != nil {
		if errors.Is(err, rewards.ErrConcurrentClaim) {
			http.Error(w, "claim already in progress", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
	h.logAudit(r, userID, result.ClaimID, "rewards.claimed", map[string]any{
		"tokens_claimed":  result.TokensClaimed,
		"devices_skipped": len(result.SkippedDevices),
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 0
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	list, err := h.entries.ListByUser(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"entries": list})
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/rewards/claims/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "receipt.pdf" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	claimID := parts[0]
	entries, err := h.entries.ListByClaimID(r.Context(), claimID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 || entries[0].UserID != userID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	payload, err := interfaces.BuildClaimReceiptPDF(claimID, userID, entries[0].ClaimedAt, entries)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="receipt-`+claimID+`.pdf"`)
	_, _ = w.Write(payload)
}

func (h *Handler) logAudit(r *http.Request, userID, claimID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		UserID:       userID,
		Actor:        userID,
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "claim",
		ResourceID:   claimID,
		ClaimID:      claimID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
