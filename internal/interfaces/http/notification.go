package http

import (
	"net/http"

	"finsight/internal/domain/notification"
	"finsight/internal/domain/user"

	"github.com/goccy/go-json"
)

const maxNotificationBodySize = 4 << 10

type NotificationHandler struct {
	Responder
	notificationService *notification.Service
	userService         *user.Service
}

func NewNotificationHandler(notificationService *notification.Service, userService *user.Service, responder Responder) *NotificationHandler {
	return &NotificationHandler{
		Responder:           responder,
		notificationService: notificationService,
		userService:         userService,
	}
}

// --- Request/Response types ---

type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// HandleRegisterDevice handles POST /api/notifications/devices
func (h *NotificationHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxNotificationBodySize)
	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.BadRequest(w, "Invalid request body")
		return
	}

	u, err := h.userService.Resolve(r.Context(), email, "")
	if err != nil {
		h.Error(w, r, err)
		return
	}

	token, err := h.notificationService.RegisterDevice(r.Context(), notification.RegisterDeviceParams{
		UserID:   u.ID,
		Token:    req.Token,
		Platform: req.Platform,
	})
	if err != nil {
		h.Error(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"token":    token.Token,
		"platform": token.Platform,
	})
}
