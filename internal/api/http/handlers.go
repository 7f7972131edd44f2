package apihttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	deviceapp "watt-rewards/internal/devices/application"
	rewards "watt-rewards/internal/rewards/domain"
	"watt-rewards/internal/rewards/interfaces"
)

const timeLayout = time.RFC3339

// EntryLister reads reward entries across users for admin views.
type EntryLister interface {
	ListSince(ctx context.Context, from, to time.Time, limit int) ([]rewards.Entry, error)
}

// AdminEntriesHandler serves cross-user reward entry queries.
type AdminEntriesHandler struct {
	entries EntryLister
}

// NewAdminEntriesHandler constructs an AdminEntriesHandler.
func NewAdminEntriesHandler(entries EntryLister) *AdminEntriesHandler {
	return &AdminEntriesHandler{entries: entries}
}

// ServeHTTP handles GET /api/v1/admin/entries.
func (h *AdminEntriesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.entries == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	list, err := queryEntriesRange(r, h.entries)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"entries": list})
}

// FlaggedDevicesHandler serves the manual-review queue.
type FlaggedDevicesHandler struct {
	devices *deviceapp.Service
}

// NewFlaggedDevicesHandler constructs a FlaggedDevicesHandler.
func NewFlaggedDevicesHandler(devices *deviceapp.Service) *FlaggedDevicesHandler {
	return &FlaggedDevicesHandler{devices: devices}
}

// ServeHTTP handles GET /api/v1/admin/devices/flagged and
// POST /api/v1/admin/devices/flagged/resolve.
func (h *FlaggedDevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.devices == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/admin/devices/flagged" && r.Method == http.MethodGet:
		limit := 0
		if value := r.URL.Query().Get("limit"); value != "" {
			parsed, err := strconv.Atoi(value)
			if err != nil || parsed < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		list, err := h.devices.ListFlagged(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"devices": list})
	case r.URL.Path == "/api/v1/admin/devices/flagged/resolve" && r.Method == http.MethodPost:
		var req struct {
			UserID   string `json:"user_id"`
			Provider string `json:"provider"`
			DeviceID string `json:"device_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := h.devices.ResolveFlag(r.Context(), req.UserID, req.Provider, req.DeviceID); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ExportRewardsCSVHandler serves reward ledger CSV exports.
type ExportRewardsCSVHandler struct {
	entries EntryLister
}

// NewExportRewardsCSVHandler constructs an ExportRewardsCSVHandler.
func NewExportRewardsCSVHandler(entries EntryLister) *ExportRewardsCSVHandler {
	return &ExportRewardsCSVHandler{entries: entries}
}

// ServeHTTP handles GET /api/v1/exports/rewards.csv.
func (h *ExportRewardsCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.entries == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	list, err := queryEntriesRange(r, h.entries)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"entry_id",
		"claim_id",
		"user_id",
		"provider",
		"device_id",
		"category",
		"activity_basis",
		"tokens_amount",
		"claimed",
		"claimed_at",
		"created_at",
	})
	for _, entry := range list {
		_ = writer.Write([]string{
			entry.ID,
			entry.ClaimID,
			entry.UserID,
			entry.Provider,
			entry.DeviceID,
			string(entry.Category),
			formatFloat(entry.ActivityBasis),
			strconv.FormatInt(entry.TokensAmount, 10),
			strconv.FormatBool(entry.Claimed),
			formatTime(entry.ClaimedAt),
			formatTime(entry.CreatedAt),
		})
	}
	writer.Flush()
}

// ExportRewardsXLSXHandler serves reward ledger XLSX exports.
type ExportRewardsXLSXHandler struct {
	entries EntryLister
}

// NewExportRewardsXLSXHandler constructs an ExportRewardsXLSXHandler.
func NewExportRewardsXLSXHandler(entries EntryLister) *ExportRewardsXLSXHandler {
	return &ExportRewardsXLSXHandler{entries: entries}
}

// ServeHTTP handles GET /api/v1/exports/rewards.xlsx.
func (h *ExportRewardsXLSXHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.entries == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	list, err := queryEntriesRange(r, h.entries)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payload, err := interfaces.BuildEntriesXLSX(list)
	if err != nil {
		http.Error(w, "build xlsx error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="rewards.xlsx"`)
	_, _ = w.Write(payload)
}

func queryEntriesRange(r *http.Request, entries EntryLister) ([]rewards.Entry, error) {
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		return nil, err
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, errors.New("to must be after from")
	}
	limit := 0
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return nil, errors.New("limit must be a non-negative integer")
		}
		limit = parsed
	}
	return entries.ListSince(r.Context(), from, to, limit)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
