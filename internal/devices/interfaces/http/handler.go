package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"watt-rewards/internal/audit"
	"watt-rewards/internal/auth"
	deviceapp "watt-rewards/internal/devices/application"
	devices "watt-rewards/internal/devices/domain"
)

// Handler serves device link/unlink endpoints.
type Handler struct {
	service     *deviceapp.Service
	auditLogger audit.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *deviceapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("device handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP routes device requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if r.URL.Path == "/api/v1/devices" {
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r, userID)
		case http.MethodPost:
			h.handleLink(w, r, userID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	provider, deviceID := parts[0], parts[1]

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, userID, provider, deviceID)
	case http.MethodDelete:
		h.handleUnlink(w, r, userID, provider, deviceID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := h.service.List(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"devices": list})
}

func (h *Handler) handleLink(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Provider   string `json:"provider"`
		DeviceID   string `json:"device_id"`
		DeviceType string `json:"device_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	device, err := h.service.Link(r.Context(), userID, req.Provider, req.DeviceID, devices.DeviceType(req.DeviceType))
	if err != nil {
		if errors.Is(err, devices.ErrDeviceAlreadyLinked) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(device)
	h.logAudit(r, userID, "device.linked", req.Provider+"|"+req.DeviceID, map[string]any{
		"provider":    req.Provider,
		"device_id":   req.DeviceID,
		"device_type": req.DeviceType,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, userID, provider, deviceID string) {
	device, err := h.service.Get(r.Context(), userID, provider, deviceID)
	if err != nil {
		if errors.Is(err, devices.ErrDeviceNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(device)
}

func (h *Handler) handleUnlink(w http.ResponseWriter, r *http.Request, userID, provider, deviceID string) {
	if err := h.service.Unlink(r.Context(), userID, provider, deviceID); err != nil {
		if errors.Is(err, devices.ErrDeviceNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.logAudit(r, userID, "device.unlinked", provider+"|"+deviceID, map[string]any{
		"provider":  provider,
		"device_id": deviceID,
	})
}

func (h *Handler) logAudit(r *http.Request, userID, action, resourceID string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		UserID:       userID,
		Actor:        userID,
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "device",
		ResourceID:   resourceID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
